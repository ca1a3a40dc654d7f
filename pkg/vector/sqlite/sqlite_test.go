package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ai/aitest"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/vector"
)

func setupTestIndex(t *testing.T, collection string) (*Index, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vectors.db")
	idx, err := Open(path, collection, &aitest.Client{Dim: 32})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, idx.Close()) })
	return idx, path
}

func upsertText(t *testing.T, idx *Index, file string, i int, text string) {
	t.Helper()
	emb := aitest.HashEmbedding(text, 32)
	require.NoError(t, idx.Upsert(context.Background(), vector.ChunkID(file, i), text, vector.Metadata{File: file, ChunkID: i}, emb))
}

func TestIndexRoundTrip(t *testing.T) {
	ctx := context.Background()
	idx, _ := setupTestIndex(t, "")

	upsertText(t, idx, "warranty.pdf", 0, "The warranty covers two years of repairs.")
	upsertText(t, idx, "warranty.pdf", 1, "Accidental damage is not covered.")
	upsertText(t, idx, "contact.pdf", 0, "Call support on weekdays from 9 to 17.")

	ids, err := idx.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"contact.pdf_0", "warranty.pdf_0", "warranty.pdf_1"}, ids)

	res, err := idx.Query(ctx, "The warranty covers two years of repairs.", 2)
	require.NoError(t, err)
	require.Equal(t, 2, res.Len())
	assert.Equal(t, "warranty.pdf_0", res.IDs[0])
	assert.Equal(t, vector.Metadata{File: "warranty.pdf", ChunkID: 0}, res.Metadatas[0])
	assert.InDelta(t, 0, res.Distances[0], 1e-5)

	require.NoError(t, idx.Delete(ctx, []string{"warranty.pdf_1"}))
	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestIndexPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	idx, path := setupTestIndex(t, "docs")
	upsertText(t, idx, "faq.pdf", 0, "Passwords can be reset from the login page.")

	reopened, err := Open(path, "docs", &aitest.Client{Dim: 32})
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	other, err := Open(path, "other", &aitest.Client{Dim: 32})
	require.NoError(t, err)
	defer other.Close()
	n, err = other.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "collections must be isolated")
}

func TestUpsertReplacesExisting(t *testing.T) {
	ctx := context.Background()
	idx, _ := setupTestIndex(t, "")
	upsertText(t, idx, "a", 0, "first version")
	upsertText(t, idx, "a", 0, "second version")

	res, err := idx.Query(ctx, "second version", 5)
	require.NoError(t, err)
	require.Equal(t, 1, res.Len())
	assert.Equal(t, "second version", res.Documents[0])
}

func TestFloatEncoding(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3.125}
	assert.Equal(t, in, bytesToFloat32Slice(float32SliceToBytes(in)))
}
