package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
)

func (c *Client) newChatParams(prompt string, options ai.GenerateOptions) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(options.SystemPrompts)+1)
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, openai.SystemMessage(sp))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	body := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(options.Model),
		Messages:    msgs,
		Temperature: openai.Float(options.Temperature),
	}
	if options.MaxTokens > 0 {
		body.MaxTokens = openai.Int(int64(options.MaxTokens))
	}
	return body
}

func (c *Client) complete(ctx context.Context, op string, body openai.ChatCompletionNewParams) (string, error) {
	rCtx, release, err := c.acquire(ctx)
	if err != nil {
		return "", ai.Wrap(op, err)
	}
	defer release()

	start := time.Now()
	response, err := c.ChatClient.Chat.Completions.New(rCtx, body)
	if err != nil {
		return "", ai.Wrap(op, err)
	}

	c.Record(ai.ModelMetrics{
		InputTokens:  int(response.Usage.PromptTokens),
		OutputTokens: int(response.Usage.CompletionTokens),
		TotalTokens:  int(response.Usage.TotalTokens),
		DurationMs:   time.Since(start).Milliseconds(),
	})

	if len(response.Choices) == 0 {
		return "", ai.Fail(ai.FailureEmpty, op, fmt.Errorf("no choices in response"))
	}
	message := response.Choices[0].Message.Content
	if strings.TrimSpace(message) == "" {
		return "", ai.Fail(ai.FailureEmpty, op, fmt.Errorf("finish_reason: %s", response.Choices[0].FinishReason))
	}
	return message, nil
}

// GenerateCompletion sends a single-turn prompt to the chat model and
// returns the generated completion as plain text.
//
// Example:
//
//	answer, err := client.GenerateCompletion(ctx, question,
//		ai.WithSystemPrompts(ai.AnswerSystemPrompt),
//		ai.WithMaxTokens(512),
//	)
func (c *Client) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.chatModel,
		Temperature: 0.3,
	}, opts...)

	return c.complete(ctx, "openai completion", c.newChatParams(prompt, options))
}

// GenerateCompletionWithFormat sends a prompt with a strict JSON schema
// derived from out and decodes the answer into out.
func (c *Client) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.chatModel,
		Temperature: 0.1,
	}, opts...)

	body := c.newChatParams(prompt, options)
	body.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
			JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:        name,
				Description: openai.String(description),
				Schema:      ai.GenerateSchema(out),
				Strict:      openai.Bool(true),
			},
		},
	}

	message, err := c.complete(ctx, "openai structured "+name, body)
	if err != nil {
		return err
	}
	return ai.UnmarshalFlexible(message, out)
}
