// Package aitest provides a scriptable ai.Client for tests.
package aitest

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ai"
)

// Call records one request made against the fake.
type Call struct {
	Method  string // "completion", "structured" or "embedding"
	Name    string // schema name for structured calls
	Prompt  string
	Options ai.GenerateOptions
}

// Client is a fake ai.Client. Nil hooks fall back to defaults: completions
// echo "ok", structured calls return "{}" and embeddings are hashed
// bag-of-words vectors of size Dim (default 64).
type Client struct {
	Completion func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error)
	// Structured returns raw model text for schema name; it is decoded with
	// ai.UnmarshalFlexible like a real provider would.
	Structured func(ctx context.Context, name string, prompt string) (string, error)
	Embed      func(ctx context.Context, text string) ([]float32, error)
	Dim        int

	mu    sync.Mutex
	calls []Call
}

var _ ai.Client = (*Client)(nil)

func (c *Client) record(call Call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

// Calls returns a copy of all recorded calls.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Count returns how many calls of method were made.
func (c *Client) Count(method string) int {
	n := 0
	for _, call := range c.Calls() {
		if call.Method == method {
			n++
		}
	}
	return n
}

func (c *Client) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	options := ai.ApplyOptions(ai.GenerateOptions{}, opts...)
	c.record(Call{Method: "completion", Prompt: prompt, Options: options})
	if c.Completion == nil {
		return "ok", nil
	}
	return c.Completion(ctx, prompt, options)
}

func (c *Client) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	options := ai.ApplyOptions(ai.GenerateOptions{}, opts...)
	c.record(Call{Method: "structured", Name: name, Prompt: prompt, Options: options})
	raw := "{}"
	if c.Structured != nil {
		var err error
		raw, err = c.Structured(ctx, name, prompt)
		if err != nil {
			return err
		}
	}
	return ai.UnmarshalFlexible(raw, out)
}

func (c *Client) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	c.record(Call{Method: "embedding", Prompt: string(input)})
	if c.Embed != nil {
		return c.Embed(ctx, string(input))
	}
	if strings.TrimSpace(string(input)) == "" {
		return nil, ai.Fail(ai.FailureEmpty, "aitest embedding", errors.New("blank input"))
	}
	dim := c.Dim
	if dim <= 0 {
		dim = 64
	}
	return HashEmbedding(string(input), dim), nil
}

func (c *Client) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

func (c *Client) GetMetrics() ai.ModelMetrics {
	return ai.ModelMetrics{Requests: len(c.Calls())}
}

// HashEmbedding maps lower-cased words into dim buckets and L2-normalises the
// result, so texts sharing words have a small cosine distance.
func HashEmbedding(text string, dim int) []float32 {
	vec := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[int(h.Sum32())%dim]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
