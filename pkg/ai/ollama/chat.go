package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ai"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
)

const (
	defaultContext = 4096
	// promptReserve leaves room for the system prompts and the answer.
	promptReserve = 200
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

// countTokens uses the o200k encoding, or four characters per token when
// the encoding cannot be loaded.
func countTokens(text string) int {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding("o200k_base")
	})
	if encErr != nil {
		return len(text)/4 + 1
	}
	return len(enc.Encode(text, nil, nil))
}

// contextWindow estimates the num_ctx a request needs. Zero means the
// server default is large enough.
func contextWindow(options ai.GenerateOptions, prompt string) int {
	tokens := promptReserve + options.MaxTokens + countTokens(prompt)
	for _, sp := range options.SystemPrompts {
		tokens += countTokens(sp)
	}
	if tokens <= defaultContext {
		return 0
	}
	return tokens
}

func (c *Client) newChatRequest(prompt string, options ai.GenerateOptions) *api.ChatRequest {
	msgs := make([]api.Message, 0, len(options.SystemPrompts)+1)
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sp})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Stream:   &stream,
		Options:  map[string]any{"temperature": options.Temperature},
	}
	if options.MaxTokens > 0 {
		req.Options["num_predict"] = options.MaxTokens
	}

	if numCtx := contextWindow(options, prompt); numCtx > 0 {
		req.Options["num_ctx"] = numCtx
	}
	return req
}

func (c *Client) chat(ctx context.Context, op string, req *api.ChatRequest) (string, error) {
	rCtx, release, err := c.acquire(ctx)
	if err != nil {
		return "", ai.Wrap(op, err)
	}
	defer release()

	var final api.ChatResponse
	if err := c.API.Chat(rCtx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		if cr.Done {
			final.Done = true
			final.Metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return "", ai.Wrap(op, err)
	}

	c.Record(ai.ModelMetrics{
		InputTokens:  final.Metrics.PromptEvalCount,
		OutputTokens: final.Metrics.EvalCount,
		TotalTokens:  final.Metrics.PromptEvalCount + final.Metrics.EvalCount,
		DurationMs:   final.Metrics.TotalDuration.Milliseconds(),
	})

	if strings.TrimSpace(final.Message.Content) == "" {
		return "", ai.Fail(ai.FailureEmpty, op, nil)
	}
	return final.Message.Content, nil
}

// GenerateCompletion sends a single-turn prompt and returns assistant text.
func (c *Client) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.chatModel,
		Temperature: 0.3,
	}, opts...)

	return c.chat(ctx, "ollama completion", c.newChatRequest(prompt, options))
}

// GenerateCompletionWithFormat enforces a JSON schema and unmarshals into out.
func (c *Client) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	if out == nil {
		return errors.New("out must be a non-nil pointer")
	}
	if rv := reflect.ValueOf(out); rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("out must be a non-nil pointer")
	}

	op := "ollama structured " + name
	format, err := json.Marshal(ai.GenerateSchema(out))
	if err != nil {
		return ai.Fail(ai.FailureConfig, op, err)
	}

	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.chatModel,
		Temperature: 0.1,
	}, opts...)
	if description != "" {
		options.SystemPrompts = append([]string{description}, options.SystemPrompts...)
	}

	req := c.newChatRequest(prompt, options)
	req.Format = json.RawMessage(format)

	content, err := c.chat(ctx, op, req)
	if err != nil {
		return err
	}
	return ai.UnmarshalFlexible(content, out)
}
