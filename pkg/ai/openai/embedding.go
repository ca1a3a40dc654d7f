package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
)

// GenerateEmbedding creates a vector embedding for the given input text
// using the configured embedding model. Blank input is an empty-output error.
func (c *Client) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	res, err := c.GenerateEmbeddings(ctx, [][]byte{input})
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// GenerateEmbeddings embeds several inputs with one request, preserving order.
func (c *Client) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	texts := make([]string, len(inputs))
	for i, in := range inputs {
		texts[i] = string(in)
		if strings.TrimSpace(texts[i]) == "" {
			return nil, ai.Fail(ai.FailureEmpty, "openai embedding", fmt.Errorf("input %d is blank", i))
		}
	}

	rCtx, release, err := c.acquire(ctx)
	if err != nil {
		return nil, ai.Wrap("openai embedding", err)
	}
	defer release()

	body := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: c.embeddingModel,
	}
	if c.embeddingDim > 0 {
		body.Dimensions = openai.Int(int64(c.embeddingDim))
	}

	start := time.Now()
	response, err := c.EmbeddingClient.Embeddings.New(rCtx, body)
	if err != nil {
		return nil, ai.Wrap("openai embedding", err)
	}
	c.Record(ai.ModelMetrics{
		InputTokens: int(response.Usage.PromptTokens),
		TotalTokens: int(response.Usage.TotalTokens),
		DurationMs:  time.Since(start).Milliseconds(),
	})

	if len(response.Data) != len(texts) {
		return nil, ai.Fail(ai.FailureMalformed, "openai embedding",
			fmt.Errorf("response size mismatch: got %d want %d", len(response.Data), len(texts)))
	}

	out := make([][]float32, len(texts))
	for _, embedding := range response.Data {
		idx := int(embedding.Index)
		if idx < 0 || idx >= len(texts) {
			return nil, ai.Fail(ai.FailureMalformed, "openai embedding", fmt.Errorf("index out of range: %d", idx))
		}
		out[idx] = fitDimensions(embedding.Embedding, c.embeddingDim)
	}
	for i := range out {
		if out[i] == nil {
			return nil, ai.Fail(ai.FailureMalformed, "openai embedding", fmt.Errorf("missing embedding for input %d", i))
		}
	}
	return out, nil
}

// fitDimensions converts to float32 and truncates or zero-pads to dim.
// dim <= 0 keeps the model's native size.
func fitDimensions(values []float64, dim int) []float32 {
	if dim <= 0 {
		dim = len(values)
	}
	vec := make([]float32, dim)
	for i := 0; i < dim && i < len(values); i++ {
		vec[i] = float32(values[i])
	}
	return vec
}
