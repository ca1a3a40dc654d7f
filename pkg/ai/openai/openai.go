package openai

import (
	"context"
	"errors"
	"time"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// Client talks to an OpenAI compatible API for chat completions
// and embeddings. Chat and embedding endpoints may point at different hosts.
//
// A Client should be created using NewClient.
type Client struct {
	chatModel      string
	embeddingModel string
	embeddingDim   int
	chatURL        string
	timeout        time.Duration

	reqLock *semaphore.Weighted

	ai.MetricsRecorder

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// ClientParams configures NewClient.
//
// ChatKey is required. EmbeddingURL and EmbeddingKey fall back to the chat
// values when empty. EmbeddingDim truncates or pads vectors when set.
type ClientParams struct {
	ChatModel      string
	EmbeddingModel string
	EmbeddingDim   int

	ChatURL      string
	ChatKey      string
	EmbeddingURL string
	EmbeddingKey string

	// Timeout bounds every single request; zero disables it.
	Timeout               time.Duration
	MaxConcurrentRequests int64
}

// NewClient validates params and builds the underlying clients.
// A missing API key is a FailureConfig error.
//
// Example:
//
//	client, err := openai.NewClient(openai.ClientParams{
//		ChatModel:      "gpt-3.5-turbo",
//		EmbeddingModel: "text-embedding-3-small",
//		ChatKey:        os.Getenv("OPENAI_API_KEY"),
//	})
func NewClient(params ClientParams) (*Client, error) {
	if params.ChatKey == "" {
		return nil, ai.Fail(ai.FailureConfig, "openai", errors.New("missing API key"))
	}
	if params.EmbeddingURL == "" {
		params.EmbeddingURL = params.ChatURL
	}
	if params.EmbeddingKey == "" {
		params.EmbeddingKey = params.ChatKey
	}
	if params.MaxConcurrentRequests <= 0 {
		params.MaxConcurrentRequests = 4
	}

	return &Client{
		chatModel:      params.ChatModel,
		embeddingModel: params.EmbeddingModel,
		embeddingDim:   params.EmbeddingDim,
		chatURL:        params.ChatURL,
		timeout:        params.Timeout,

		reqLock: semaphore.NewWeighted(params.MaxConcurrentRequests),

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey),
	}, nil
}

func newOpenaiClient(baseURL string, apiKey string) *openai.Client {
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(2),
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)
	return &client
}

// acquire applies the per-request timeout and the concurrency limit.
// The returned release func must always be called.
func (c *Client) acquire(ctx context.Context) (context.Context, func(), error) {
	rCtx, cancel := ctx, func() {}
	if c.timeout > 0 {
		rCtx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		cancel()
		return nil, func() {}, err
	}
	return rCtx, func() {
		c.reqLock.Release(1)
		cancel()
	}, nil
}
