// Package vector defines the chunk vector index and shared helpers for its
// backends (memory, sqlite, pgvector).
package vector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ai"
)

// ErrDimensionMismatch is returned when vectors of different length meet.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Metadata is stored next to every indexed chunk.
type Metadata struct {
	File    string `json:"file"`
	ChunkID int    `json:"chunk_id"`
}

// Record is one indexed chunk.
type Record struct {
	ID        string
	Text      string
	Metadata  Metadata
	Embedding []float32
}

// QueryResult holds the k nearest chunks, closest first. All slices have the
// same length. Distances are cosine distances in [0, 2].
type QueryResult struct {
	IDs       []string
	Documents []string
	Metadatas []Metadata
	Distances []float64
}

func (r QueryResult) Len() int { return len(r.Documents) }

// Index stores chunk embeddings and answers nearest-neighbour queries.
// Query embeds the query text itself with the index's embedder.
type Index interface {
	Upsert(ctx context.Context, id string, text string, meta Metadata, embedding []float32) error
	Query(ctx context.Context, text string, k int) (QueryResult, error)
	// ListIDs returns every stored id in ascending order.
	ListIDs(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// ChunkID builds the index key of a chunk.
func ChunkID(doc string, index int) string {
	return fmt.Sprintf("%s_%d", doc, index)
}

// EmbedQuery embeds a query text, rejecting blank input.
func EmbedQuery(ctx context.Context, embedder ai.Embedder, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ai.Fail(ai.FailureEmpty, "embed query", errors.New("blank query"))
	}
	vec, err := embedder.GenerateEmbedding(ctx, []byte(text))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vec, nil
}

// CosineDistance returns 1 - cos(a, b). A zero vector is at distance 1 from
// everything.
func CosineDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1, nil
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb)), nil
}

type scored struct {
	rec  Record
	dist float64
}

// Nearest ranks candidates by cosine distance to query and keeps the k
// closest. Ties are broken by id so results are deterministic.
func Nearest(query []float32, candidates []Record, k int) (QueryResult, error) {
	if k <= 0 {
		return QueryResult{}, nil
	}
	ranked := make([]scored, 0, len(candidates))
	for _, rec := range candidates {
		d, err := CosineDistance(query, rec.Embedding)
		if err != nil {
			return QueryResult{}, fmt.Errorf("rank %s: %w", rec.ID, err)
		}
		ranked = append(ranked, scored{rec: rec, dist: d})
	}
	slices.SortFunc(ranked, func(a, b scored) int {
		if a.dist < b.dist {
			return -1
		}
		if a.dist > b.dist {
			return 1
		}
		return strings.Compare(a.rec.ID, b.rec.ID)
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	res := QueryResult{
		IDs:       make([]string, len(ranked)),
		Documents: make([]string, len(ranked)),
		Metadatas: make([]Metadata, len(ranked)),
		Distances: make([]float64, len(ranked)),
	}
	for i, s := range ranked {
		res.IDs[i] = s.rec.ID
		res.Documents[i] = s.rec.Text
		res.Metadatas[i] = s.rec.Metadata
		res.Distances[i] = s.dist
	}
	return res, nil
}
