package ollama

import (
	"context"
	"strings"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ai"

	"github.com/ollama/ollama/api"
)

// GenerateEmbedding creates a vector embedding for the given input text
// using the configured embedding model on Ollama.
func (c *Client) GenerateEmbedding(
	ctx context.Context,
	input []byte,
) ([]float32, error) {
	const op = "ollama embedding"
	if len(strings.TrimSpace(string(input))) == 0 {
		return nil, ai.Fail(ai.FailureEmpty, op, nil)
	}

	rCtx, release, err := c.acquire(ctx)
	if err != nil {
		return nil, ai.Wrap(op, err)
	}
	defer release()

	res, err := c.API.Embed(rCtx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: string(input),
	})
	if err != nil {
		return nil, ai.Wrap(op, err)
	}

	c.Record(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		DurationMs:  res.TotalDuration.Milliseconds(),
	})

	if len(res.Embeddings) == 0 || len(res.Embeddings[0]) == 0 {
		return nil, ai.Fail(ai.FailureEmpty, op, nil)
	}

	vec := res.Embeddings[0]
	dim := c.embeddingDim
	if dim <= 0 {
		dim = len(vec)
	}
	out := make([]float32, dim)
	copy(out, vec)
	return out, nil
}
