package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ai/aitest"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/vector"
)

func TestIndexLifecycle(t *testing.T) {
	ctx := context.Background()
	fake := &aitest.Client{}
	idx := New(fake)

	chunks := []struct {
		file  string
		index int
		text  string
	}{
		{"returns.pdf", 0, "Returns are accepted within 30 days of delivery."},
		{"shipping.pdf", 0, "Shipping is free for orders above 50 EUR."},
		{"shipping.pdf", 1, "Express shipping arrives the next business day."},
	}
	for _, c := range chunks {
		emb, err := fake.GenerateEmbedding(ctx, []byte(c.text))
		require.NoError(t, err)
		meta := vector.Metadata{File: c.file, ChunkID: c.index}
		require.NoError(t, idx.Upsert(ctx, vector.ChunkID(c.file, c.index), c.text, meta, emb))
	}

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ids, err := idx.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"returns.pdf_0", "shipping.pdf_0", "shipping.pdf_1"}, ids)

	res, err := idx.Query(ctx, "Shipping is free for orders above 50 EUR.", 2)
	require.NoError(t, err)
	require.Equal(t, 2, res.Len())
	assert.Equal(t, "shipping.pdf_0", res.IDs[0])
	assert.Equal(t, "shipping.pdf", res.Metadatas[0].File)
	assert.InDelta(t, 0, res.Distances[0], 1e-6)

	require.NoError(t, idx.Delete(ctx, []string{"shipping.pdf_0", "missing"}))
	n, err = idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	idx := New(&aitest.Client{})

	require.NoError(t, idx.Upsert(ctx, "a_0", "old", vector.Metadata{File: "a"}, []float32{1, 0}))
	require.NoError(t, idx.Upsert(ctx, "a_0", "new", vector.Metadata{File: "a"}, []float32{0, 1}))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueryEmptyIndexSkipsEmbedding(t *testing.T) {
	fake := &aitest.Client{}
	res, err := New(fake).Query(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.Zero(t, res.Len())
	assert.Zero(t, fake.Count("embedding"))
}
