package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/loader"
	loaderio "github.com/OFFIS-RIT/kiwi-support/backend/pkg/loader/io"
)

func textRegistry() *loader.Registry {
	return loader.NewRegistry().
		Register(loader.FileTypeText, loaderio.NewTextFileLoader(loaderio.NewIOFileLoader()))
}

func TestDirCorpusDocuments(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"b.txt":         "b",
		"a/notes.md":    "a",
		".hidden/x.txt": "x",
		".secret.txt":   "s",
		"image.png":     "png",
		"a/deep/c.txt":  "c",
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	docs, err := NewDirCorpus(dir, textRegistry()).Documents(context.Background())
	require.NoError(t, err)

	var ids []string
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"a/deep/c.txt", "a/notes.md", "b.txt"}, ids)
}

func TestDirCorpusMissing(t *testing.T) {
	_, err := NewDirCorpus(filepath.Join(t.TempDir(), "missing"), textRegistry()).Documents(context.Background())
	assert.ErrorIs(t, err, ErrCorpusNotFound)

	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = NewDirCorpus(file, textRegistry()).Documents(context.Background())
	assert.ErrorIs(t, err, ErrCorpusNotFound)
}

type fakeBucket struct {
	keys []string
}

func (b fakeBucket) List(context.Context, string) ([]string, error) { return b.keys, nil }
func (b fakeBucket) Name() string                                   { return "kb" }

func TestBucketCorpusDocuments(t *testing.T) {
	c := NewBucketCorpus(fakeBucket{keys: []string{"docs/", "docs/z.pdf", "docs/a.txt", "docs/x.bin"}}, "docs/", loader.NewRegistry().
		Register(loader.FileTypeText, loaderio.NewIOFileLoader()).
		Register(loader.FileTypePDF, loaderio.NewIOFileLoader()))

	docs, err := c.Documents(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a.txt", docs[0].ID)
	assert.Equal(t, "docs/a.txt", docs[0].FilePath)
	assert.Equal(t, "z.pdf", docs[1].ID)
	assert.Equal(t, "s3://kb/docs/", c.Location())

	_, err = NewBucketCorpus(fakeBucket{}, "docs/", loader.NewRegistry()).Documents(context.Background())
	assert.ErrorIs(t, err, ErrCorpusNotFound)
}

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("a.txt", "alpha")
	write("b.txt", "beta")

	fp := func() string {
		raw := loaderio.NewIOFileLoader()
		reg := loader.NewRegistry().Register(loader.FileTypeText, raw)
		docs, err := NewDirCorpus(dir, reg).Documents(context.Background())
		require.NoError(t, err)
		sum, err := Fingerprint(context.Background(), docs)
		require.NoError(t, err)
		return sum
	}

	first := fp()
	assert.Len(t, first, 64)
	assert.Equal(t, first, fp(), "fingerprint must be stable")

	write("b.txt", "beta changed")
	assert.NotEqual(t, first, fp())
}
