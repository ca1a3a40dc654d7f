// Package app wires configuration into the long-lived components shared by
// the server, the worker and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/OFFIS-RIT/kiwi-support/backend/internal/config"
	"github.com/OFFIS-RIT/kiwi-support/backend/internal/storage"
	"github.com/OFFIS-RIT/kiwi-support/backend/internal/util"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ai"
	oai "github.com/OFFIS-RIT/kiwi-support/backend/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/kiwi-support/backend/pkg/ai/openai"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/chunk"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/graph"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ingest"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/loader"
	csvloader "github.com/OFFIS-RIT/kiwi-support/backend/pkg/loader/csv"
	ioloader "github.com/OFFIS-RIT/kiwi-support/backend/pkg/loader/io"
	pdfloader "github.com/OFFIS-RIT/kiwi-support/backend/pkg/loader/pdf"
	s3loader "github.com/OFFIS-RIT/kiwi-support/backend/pkg/loader/s3"
	webloader "github.com/OFFIS-RIT/kiwi-support/backend/pkg/loader/web"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/query"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/vector"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/vector/memory"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/vector/pgvector"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/vector/sqlite"
)

// App is the context object handed to every entry point. Ingestion holds the
// write side of mu so that queries never observe a half-built index;
// queries share the read side.
type App struct {
	Config   config.Config
	AI       ai.Client
	Index    vector.Index
	Graph    *graph.Store
	Registry *loader.Registry
	Bucket   *storage.Bucket
	Pipeline *ingest.Pipeline
	Engine   *query.Engine

	mu          sync.RWMutex
	invalidate  []func()
	closeIndex  bool
	corpus      ingest.Corpus
	onIngested  []func(ingest.Summary)
	onIngestedM sync.Mutex
}

// Components lets callers supply prebuilt parts. Nil fields are built from
// the config.
type Components struct {
	AI       ai.Client
	Index    vector.Index
	Graph    *graph.Store
	Registry *loader.Registry
	Locker   leaselock.Locker
	Bucket   *storage.Bucket
}

// New builds every component named by cfg and loads the persisted graph.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	return Assemble(ctx, cfg, Components{})
}

func Assemble(ctx context.Context, cfg config.Config, c Components) (*App, error) {
	a := &App{Config: cfg}

	if c.Bucket == nil && cfg.UsesS3() {
		bucket, err := storage.OpenBucket(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("open bucket: %w", err)
		}
		c.Bucket = bucket
	}
	a.Bucket = c.Bucket

	if c.AI == nil {
		client, err := NewAIClient(cfg.AI)
		if err != nil {
			return nil, err
		}
		c.AI = client
	}
	a.AI = c.AI

	if c.Index == nil {
		index, locker, err := openIndex(ctx, cfg, c.AI)
		if err != nil {
			return nil, err
		}
		c.Index = index
		a.closeIndex = true
		if c.Locker == nil {
			c.Locker = locker
		}
	}
	a.Index = c.Index

	if c.Graph == nil {
		c.Graph = graph.NewStore(a.snapshots())
		if !c.Graph.Load(ctx) {
			logger.Info("No graph snapshot loaded, starting empty", "location", c.Graph.Location())
		}
	}
	a.Graph = c.Graph

	if c.Registry == nil {
		c.Registry = a.registry()
	}
	a.Registry = c.Registry

	if cfg.Corpus.Remote() {
		if a.Bucket == nil {
			return nil, errors.New("s3 corpus configured without a bucket")
		}
		a.corpus = ingest.NewBucketCorpus(a.Bucket, cfg.Corpus.Prefix, a.Registry)
	} else {
		a.corpus = ingest.NewDirCorpus(cfg.Corpus.Dir, a.Registry)
	}

	a.Pipeline = ingest.NewPipeline(ingest.PipelineParams{
		Index:     a.Index,
		Graph:     a.Graph,
		Embedder:  a.AI,
		Extractor: graph.NewExtractor(a.AI, cfg.Ingest.ExtractMaxChars),
		Splitter: chunk.New(
			chunk.WithChunkSize(cfg.Ingest.ChunkSize),
			chunk.WithOverlap(cfg.Ingest.ChunkOverlap),
		),
		Registry: a.Registry,
		Locker:   c.Locker,
		Options: ingest.Options{
			Policy:          ingest.Policy(cfg.Ingest.Policy),
			ParallelFiles:   cfg.Ingest.ParallelFiles,
			MaxRetries:      cfg.Ingest.MaxRetries,
			CallTimeout:     cfg.AI.Timeout,
			ExtractMaxChars: cfg.Ingest.ExtractMaxChars,
		},
	})

	a.Engine = query.NewEngine(query.EngineParams{
		Index:   a.Index,
		Graph:   a.Graph,
		Client:  a.AI,
		Timeout: cfg.Query.Timeout,
	})

	return a, nil
}

// NewAIClient builds the provider selected by AI_ADAPTER.
func NewAIClient(cfg config.AIConfig) (ai.Client, error) {
	switch cfg.Adapter {
	case config.AdapterOllama:
		client, err := oai.NewClient(oai.ClientParams{
			ChatModel:      cfg.ChatModel,
			EmbeddingModel: cfg.EmbedModel,
			EmbeddingDim:   cfg.EmbedDim,

			BaseURL: cfg.ChatURL,
			ApiKey:  cfg.ChatKey,

			Timeout:               cfg.Timeout,
			MaxConcurrentRequests: int64(cfg.ParallelRequests),
		})
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		return client, nil
	default:
		client, err := gai.NewClient(gai.ClientParams{
			ChatModel:      cfg.ChatModel,
			EmbeddingModel: cfg.EmbedModel,
			EmbeddingDim:   cfg.EmbedDim,

			ChatURL:      cfg.ChatURL,
			ChatKey:      cfg.ChatKey,
			EmbeddingURL: cfg.EmbedURL,
			EmbeddingKey: cfg.EmbedKey,

			Timeout:               cfg.Timeout,
			MaxConcurrentRequests: int64(cfg.ParallelRequests),
		})
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		return client, nil
	}
}

// openIndex opens the configured vector backend. With pgvector the same
// database also carries the ingestion lease.
func openIndex(ctx context.Context, cfg config.Config, embedder ai.Embedder) (vector.Index, leaselock.Locker, error) {
	switch cfg.Vector.Backend {
	case config.VectorSQLite:
		index, err := sqlite.Open(cfg.Vector.SQLitePath, cfg.Vector.Collection, embedder)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite index: %w", err)
		}
		return index, nil, nil
	case config.VectorPgvector:
		if err := pgvector.Migrate(cfg.Vector.DatabaseURL); err != nil {
			return nil, nil, fmt.Errorf("migrate pgvector: %w", err)
		}
		index, err := pgvector.Open(ctx, cfg.Vector.DatabaseURL, cfg.Vector.Collection, embedder)
		if err != nil {
			return nil, nil, fmt.Errorf("open pgvector index: %w", err)
		}
		return index, leaselock.New(index.Pool(), leaselock.Options{}), nil
	default:
		return memory.New(embedder), nil, nil
	}
}

func (a *App) snapshots() graph.SnapshotStore {
	if a.Config.Graph.Snapshot == config.SnapshotS3 && a.Bucket != nil {
		return graph.NewObjectSnapshots(a.Bucket, a.Config.Graph.S3Key)
	}
	return graph.NewFileSnapshots(a.Config.Graph.Path)
}

// registry maps every supported file type to a loader reading from the
// corpus source. Web pages are always fetched over HTTP.
func (a *App) registry() *loader.Registry {
	var base loader.FileLoader
	if a.Config.Corpus.Remote() && a.Bucket != nil {
		l := s3loader.NewS3FileLoader(a.Bucket)
		a.invalidate = append(a.invalidate, l.Invalidate)
		base = l
	} else {
		l := ioloader.NewIOFileLoader()
		a.invalidate = append(a.invalidate, l.Invalidate)
		base = l
	}

	return loader.NewRegistry().
		Register(loader.FileTypeText, ioloader.NewTextFileLoader(base)).
		Register(loader.FileTypePDF, pdfloader.NewPDFFileLoader(base)).
		Register(loader.FileTypeCSV, csvloader.NewCSVFileLoader(base)).
		Register(loader.FileTypeWeb, webloader.NewWebFileLoader())
}

// Corpus is the configured document source.
func (a *App) Corpus() ingest.Corpus { return a.corpus }

// Ingest builds the indexes from dir, or from the configured corpus when dir
// is empty. Queries wait until it returns.
func (a *App) Ingest(ctx context.Context, dir string, force bool) (ingest.Summary, error) {
	corpus := a.corpus
	if dir != "" {
		corpus = ingest.NewDirCorpus(dir, a.Registry)
	}

	a.mu.Lock()
	if force {
		for _, fn := range a.invalidate {
			fn()
		}
	}
	summary, err := a.Pipeline.IngestCorpus(ctx, corpus, force)
	a.mu.Unlock()

	if err == nil && !summary.Skipped {
		a.notifyIngested(summary)
	}
	return summary, err
}

// OnIngested registers fn to run after every ingestion that rebuilt the
// indexes.
func (a *App) OnIngested(fn func(ingest.Summary)) {
	a.onIngestedM.Lock()
	defer a.onIngestedM.Unlock()
	a.onIngested = append(a.onIngested, fn)
}

func (a *App) notifyIngested(summary ingest.Summary) {
	a.onIngestedM.Lock()
	fns := append([]func(ingest.Summary)(nil), a.onIngested...)
	a.onIngestedM.Unlock()
	for _, fn := range fns {
		fn(summary)
	}
}

// Query answers question; it never fails, degraded answers carry zero
// confidence.
func (a *App) Query(ctx context.Context, question string, topK int) query.Result {
	return a.QueryWithTrace(ctx, question, topK, nil)
}

func (a *App) QueryWithTrace(ctx context.Context, question string, topK int, tracer query.Tracer) query.Result {
	if topK <= 0 {
		topK = a.Config.Query.TopK
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.Engine.QueryWithTrace(ctx, question, topK, tracer)
}

func (a *App) SuggestFollowUps(ctx context.Context, answer string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.Engine.SuggestFollowUps(ctx, answer)
}

// ReloadGraph replaces the in-memory graph with the persisted snapshot, for
// processes that did not run the ingestion themselves.
func (a *App) ReloadGraph(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Graph.Load(ctx)
}

// GraphStats and GraphExport read the live graph without waiting for a
// running ingestion.
func (a *App) GraphStats() graph.Stats {
	return a.Graph.Stats()
}

func (a *App) GraphExport() graph.Snapshot {
	return a.Graph.Export()
}

func (a *App) Progress() util.IngestProgress {
	return a.Pipeline.Progress()
}

// Close releases the vector index if App opened it.
func (a *App) Close() error {
	if a.closeIndex && a.Index != nil {
		return a.Index.Close()
	}
	return nil
}
