package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ai/aitest"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/chunk"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/graph"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/loader"
	loaderio "github.com/OFFIS-RIT/kiwi-support/backend/pkg/loader/io"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/vector/memory"
)

const acmeTriples = `{
  "nodes": [
    {"id": "Acme Corp", "type": "ORGANIZATION"},
    {"id": "Globex Inc", "type": "ORGANIZATION"}
  ],
  "edges": [
    {"source": "Acme Corp", "target": "Globex Inc", "relation": "partners with"}
  ]
}`

type fixture struct {
	dir      string
	client   *aitest.Client
	index    *memory.Index
	graph    *graph.Store
	raw      *loaderio.IOFileLoader
	pipeline *Pipeline
}

func newFixture(t *testing.T, opts Options, splitter *chunk.Splitter) *fixture {
	t.Helper()
	dir := t.TempDir()
	corpus := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(corpus, 0o755))

	client := &aitest.Client{
		Structured: func(_ context.Context, name string, prompt string) (string, error) {
			if strings.Contains(prompt, "Acme Corp") {
				return acmeTriples, nil
			}
			return `{"nodes": [], "edges": []}`, nil
		},
	}
	raw := loaderio.NewIOFileLoader()
	registry := loader.NewRegistry().Register(loader.FileTypeText, loaderio.NewTextFileLoader(raw))
	store := graph.NewStore(graph.NewFileSnapshots(filepath.Join(dir, "graph.json")))
	index := memory.New(client)

	if opts.MaxRetries == 0 {
		opts.MaxRetries = 1
	}
	p := NewPipeline(PipelineParams{
		Index:     index,
		Graph:     store,
		Embedder:  client,
		Extractor: graph.NewExtractor(client, 0),
		Splitter:  splitter,
		Registry:  registry,
		Options:   opts,
	})
	return &fixture{dir: corpus, client: client, index: index, graph: store, raw: raw, pipeline: p}
}

func (f *fixture) write(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	f.raw.Invalidate()
}

func (f *fixture) ids(t *testing.T) []string {
	t.Helper()
	ids, err := f.index.ListIDs(context.Background())
	require.NoError(t, err)
	return ids
}

func TestIngestAcmeScenario(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	f.write(t, "acme.txt", "Acme Corp partners with Globex Inc.")

	summary, err := f.pipeline.Ingest(context.Background(), f.dir, false)
	require.NoError(t, err)

	assert.False(t, summary.Skipped)
	assert.Equal(t, 1, summary.Documents)
	assert.Equal(t, 1, summary.ChunksAdded)
	assert.Equal(t, 2, summary.NodesAdded)
	assert.Equal(t, 1, summary.EdgesAdded)
	assert.Empty(t, summary.Failed)

	assert.Equal(t, []string{"acme.txt_0"}, f.ids(t))
	assert.ElementsMatch(t, []string{"Acme Corp", "Globex Inc"}, f.graph.Nodes())
	assert.Equal(t, []string{"Globex Inc"}, f.graph.Neighbors("Acme Corp"))

	restored := graph.NewStore(graph.NewFileSnapshots(filepath.Join(filepath.Dir(f.dir), "graph.json")))
	require.True(t, restored.Load(context.Background()))
	assert.Equal(t, 2, restored.NodeCount())
	assert.Equal(t, "completed", f.pipeline.Progress().Step)
	assert.Equal(t, int32(100), f.pipeline.Progress().Percentage)
}

func TestIngestSkipsPopulatedIndex(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	f.write(t, "acme.txt", "Acme Corp partners with Globex Inc.")

	_, err := f.pipeline.Ingest(context.Background(), f.dir, false)
	require.NoError(t, err)
	embeds := f.client.Count("embedding")

	f.write(t, "more.txt", "Initech sells staplers.")
	summary, err := f.pipeline.Ingest(context.Background(), f.dir, false)
	require.NoError(t, err)

	assert.True(t, summary.Skipped)
	assert.Equal(t, "already initialized", summary.Reason)
	assert.Equal(t, embeds, f.client.Count("embedding"))
	assert.Equal(t, []string{"acme.txt_0"}, f.ids(t))
}

func TestIngestForceRebuilds(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	f.write(t, "acme.txt", "Acme Corp partners with Globex Inc.")
	_, err := f.pipeline.Ingest(context.Background(), f.dir, false)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(f.dir, "acme.txt")))
	f.write(t, "sub/initech.md", "Initech sells staplers.")

	summary, err := f.pipeline.Ingest(context.Background(), f.dir, true)
	require.NoError(t, err)
	assert.False(t, summary.Skipped)
	assert.Equal(t, []string{"sub/initech.md_0"}, f.ids(t))
	assert.Zero(t, f.graph.NodeCount(), "graph must be rebuilt from scratch")
}

func TestIngestSkipsFailedDocuments(t *testing.T) {
	f := newFixture(t, Options{}, chunk.New(chunk.WithChunkSize(40), chunk.WithOverlap(0)))
	f.client.Embed = func(_ context.Context, text string) ([]float32, error) {
		if strings.Contains(text, "POISON") {
			return nil, ai.Fail(ai.FailureUnavailable, "embed", errors.New("provider down"))
		}
		return aitest.HashEmbedding(text, 64), nil
	}

	f.write(t, "acme.txt", "Acme Corp partners with Globex Inc.")
	f.write(t, "bad.txt", strings.Repeat("safe words here ", 4)+"POISON tail")
	f.write(t, "empty.txt", "   \n\t ")
	f.write(t, "picture.png", "not a document")

	summary, err := f.pipeline.Ingest(context.Background(), f.dir, false)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Documents, "acme and the empty document count as processed")
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, "bad.txt", summary.Failed[0].Document)
	assert.Equal(t, StageEmbed, summary.Failed[0].Stage)
	assert.Equal(t, ai.FailureUnavailable, summary.Failed[0].Kind)

	for _, id := range f.ids(t) {
		assert.False(t, strings.HasPrefix(id, "bad.txt_"), "chunk %s was not rolled back", id)
	}
	assert.Equal(t, []string{"acme.txt_0"}, f.ids(t))
}

func TestIngestUnreadableDocument(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	f.write(t, "acme.txt", "Acme Corp partners with Globex Inc.")
	f.write(t, "locked.txt", "secret")

	failing := loaderFunc(func(ctx context.Context, file loader.SourceFile) ([]byte, error) {
		if file.ID == "locked.txt" {
			return nil, os.ErrPermission
		}
		return os.ReadFile(file.FilePath)
	})
	f.pipeline.registry.Register(loader.FileTypeText, failing)

	summary, err := f.pipeline.Ingest(context.Background(), f.dir, false)
	require.NoError(t, err)
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, StageRead, summary.Failed[0].Stage)
	assert.Equal(t, 1, summary.Documents)
}

func TestIngestMissingCorpus(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	_, err := f.pipeline.Ingest(context.Background(), filepath.Join(f.dir, "nope"), false)
	assert.ErrorIs(t, err, ErrCorpusNotFound)
	assert.Equal(t, "failed", f.pipeline.Progress().Step)
}

func TestIngestFingerprintPolicy(t *testing.T) {
	f := newFixture(t, Options{Policy: PolicyFingerprint}, nil)
	f.write(t, "acme.txt", "Acme Corp partners with Globex Inc.")

	first, err := f.pipeline.Ingest(context.Background(), f.dir, false)
	require.NoError(t, err)
	require.NotEmpty(t, first.Fingerprint)
	assert.Equal(t, first.Fingerprint, f.graph.Meta(FingerprintMetaKey))

	again, err := f.pipeline.Ingest(context.Background(), f.dir, false)
	require.NoError(t, err)
	assert.True(t, again.Skipped)

	f.write(t, "more.txt", "Initech sells staplers.")
	changed, err := f.pipeline.Ingest(context.Background(), f.dir, false)
	require.NoError(t, err)
	assert.False(t, changed.Skipped)
	assert.NotEqual(t, first.Fingerprint, changed.Fingerprint)
	assert.Equal(t, []string{"acme.txt_0", "more.txt_0"}, f.ids(t))
}

func TestIngestParallelFiles(t *testing.T) {
	f := newFixture(t, Options{ParallelFiles: 4}, nil)
	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt"} {
		f.write(t, name, "Document "+name+" mentions Acme Corp and Globex Inc.")
	}

	summary, err := f.pipeline.Ingest(context.Background(), f.dir, false)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Documents)
	assert.Equal(t, 2, summary.NodesAdded)
	assert.Equal(t, 1, summary.EdgesAdded)
	assert.Len(t, f.ids(t), 5)
}

func TestIngestBusy(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	lock := leaselock.NewLocal()
	f.pipeline.locker = lock

	err := lock.WithLease(context.Background(), "ingest", func(ctx context.Context) error {
		summary, err := f.pipeline.Ingest(ctx, f.dir, false)
		assert.True(t, summary.Skipped)
		return err
	})
	assert.ErrorIs(t, err, leaselock.ErrBusy)
}

func TestIngestAbortDiscardsPartialRun(t *testing.T) {
	f := newFixture(t, Options{ParallelFiles: 1}, nil)
	f.write(t, "a.txt", "Acme Corp partners with Globex Inc.")
	f.write(t, "b.txt", "Bravo ships widgets.")
	f.write(t, "c.txt", "Charlie repairs widgets.")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	interrupt := true
	f.client.Embed = func(ctx context.Context, text string) ([]float32, error) {
		if interrupt && strings.Contains(text, "Bravo") {
			cancel()
			return nil, ctx.Err()
		}
		return []float32{1, 0, 0}, nil
	}

	_, err := f.pipeline.Ingest(ctx, f.dir, false)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.ids(t))
	assert.Zero(t, f.graph.NodeCount())
	assert.NoFileExists(t, filepath.Join(filepath.Dir(f.dir), "graph.json"))

	interrupt = false
	summary, err := f.pipeline.Ingest(context.Background(), f.dir, false)
	require.NoError(t, err)
	assert.False(t, summary.Skipped)
	assert.ElementsMatch(t, []string{"a.txt_0", "b.txt_0", "c.txt_0"}, f.ids(t))
	assert.Equal(t, 2, f.graph.NodeCount())
}

func TestIngestPersistFailureDiscardsRun(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	f.write(t, "acme.txt", "Acme Corp partners with Globex Inc.")
	// a directory in place of the snapshot file makes every save fail
	require.NoError(t, os.MkdirAll(filepath.Join(filepath.Dir(f.dir), "graph.json", "blocked"), 0o755))

	_, err := f.pipeline.Ingest(context.Background(), f.dir, false)
	require.Error(t, err)
	assert.Empty(t, f.ids(t))
	assert.Zero(t, f.graph.NodeCount())

	summary, err := f.pipeline.Ingest(context.Background(), f.dir, false)
	require.Error(t, err)
	assert.False(t, summary.Skipped)
}

type loaderFunc func(ctx context.Context, file loader.SourceFile) ([]byte, error)

func (fn loaderFunc) GetFileText(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	return fn(ctx, file)
}
