// Package memory is an in-process vector.Index with exact search.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/vector"
)

// Index keeps all records in a map. Contents are lost on exit.
type Index struct {
	embedder ai.Embedder

	mu      sync.RWMutex
	records map[string]vector.Record
}

var _ vector.Index = (*Index)(nil)

func New(embedder ai.Embedder) *Index {
	return &Index{
		embedder: embedder,
		records:  make(map[string]vector.Record),
	}
}

func (x *Index) Upsert(_ context.Context, id string, text string, meta vector.Metadata, embedding []float32) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.records[id] = vector.Record{
		ID:        id,
		Text:      text,
		Metadata:  meta,
		Embedding: slices.Clone(embedding),
	}
	return nil
}

func (x *Index) Query(ctx context.Context, text string, k int) (vector.QueryResult, error) {
	x.mu.RLock()
	empty := len(x.records) == 0
	x.mu.RUnlock()
	if empty {
		return vector.QueryResult{}, nil
	}

	q, err := vector.EmbedQuery(ctx, x.embedder, text)
	if err != nil {
		return vector.QueryResult{}, err
	}

	x.mu.RLock()
	candidates := make([]vector.Record, 0, len(x.records))
	for _, rec := range x.records {
		candidates = append(candidates, rec)
	}
	x.mu.RUnlock()

	return vector.Nearest(q, candidates, k)
}

func (x *Index) ListIDs(context.Context) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ids := make([]string, 0, len(x.records))
	for id := range x.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (x *Index) Delete(_ context.Context, ids []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, id := range ids {
		delete(x.records, id)
	}
	return nil
}

func (x *Index) Count(context.Context) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records), nil
}

func (x *Index) Close() error { return nil }
