package ollama

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

// Client implements ai.Client against a (possibly remote) Ollama
// server.
type Client struct {
	chatModel      string
	embeddingModel string
	embeddingDim   int
	timeout        time.Duration

	reqLock *semaphore.Weighted

	ai.MetricsRecorder

	API *api.Client
}

// ClientParams contains configuration options for creating a new Client.
type ClientParams struct {
	ChatModel      string
	EmbeddingModel string
	EmbeddingDim   int

	BaseURL string
	ApiKey  string

	Timeout               time.Duration
	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewClient connects to the Ollama server at BaseURL, or to the
// OLLAMA_HOST default when BaseURL is empty. The bearer header is only sent
// when ApiKey is set.
func NewClient(params ClientParams) (*Client, error) {
	var cli *api.Client
	if params.BaseURL == "" {
		var err error
		cli, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, ai.Fail(ai.FailureConfig, "ollama", err)
		}
	} else {
		u, err := url.Parse(params.BaseURL)
		if err != nil {
			return nil, ai.Fail(ai.FailureConfig, "ollama", err)
		}
		var rt http.RoundTripper = http.DefaultTransport
		if params.ApiKey != "" {
			rt = &headerTransport{
				headers: map[string]string{"Authorization": "Bearer " + params.ApiKey},
				rt:      rt,
			}
		}
		cli = api.NewClient(u, &http.Client{Transport: rt})
	}

	if params.MaxConcurrentRequests <= 0 {
		params.MaxConcurrentRequests = 1
	}

	return &Client{
		chatModel:      params.ChatModel,
		embeddingModel: params.EmbeddingModel,
		embeddingDim:   params.EmbeddingDim,
		timeout:        params.Timeout,
		reqLock:        semaphore.NewWeighted(params.MaxConcurrentRequests),
		API:            cli,
	}, nil
}

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
