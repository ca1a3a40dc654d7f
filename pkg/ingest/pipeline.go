// Package ingest builds the dual index: every corpus document is chunked,
// embedded into the vector index and mined for entity relations that are
// merged into the knowledge graph.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OFFIS-RIT/kiwi-support/backend/internal/timing"
	"github.com/OFFIS-RIT/kiwi-support/backend/internal/util"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/chunk"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/graph"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/loader"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/vector"
)

// Policy decides whether an already populated index is reused.
type Policy string

const (
	// PolicyNonEmpty reuses any non-empty index.
	PolicyNonEmpty Policy = "nonempty"
	// PolicyFingerprint reuses a non-empty index only while the corpus
	// fingerprint stored with the graph matches the corpus on disk.
	PolicyFingerprint Policy = "fingerprint"
)

// FingerprintMetaKey is the graph meta key holding the corpus fingerprint.
const FingerprintMetaKey = "corpus_fingerprint"

// Failure stages.
const (
	StageRead  = "read"
	StageEmbed = "embed"
	StageIndex = "index"
)

// Failure describes a document that was skipped.
type Failure struct {
	Document string         `json:"document"`
	Stage    string         `json:"stage"`
	Kind     ai.FailureKind `json:"kind"`
	Error    string         `json:"error"`
}

// Summary reports one ingestion run.
type Summary struct {
	Corpus      string        `json:"corpus"`
	Documents   int           `json:"documents"`
	ChunksAdded int           `json:"chunks_added"`
	NodesAdded  int           `json:"nodes_added"`
	EdgesAdded  int           `json:"edges_added"`
	Failed      []Failure     `json:"failed"`
	Skipped     bool          `json:"skipped"`
	Reason      string        `json:"reason,omitempty"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	Duration    time.Duration `json:"duration"`
}

type Options struct {
	Policy Policy
	// ParallelFiles bounds how many documents are processed at once.
	ParallelFiles int
	// MaxRetries is the number of attempts per embedding call.
	MaxRetries int
	// CallTimeout bounds every embedding call.
	CallTimeout     time.Duration
	ExtractMaxChars int
	// LockKey names the ingestion lease.
	LockKey string
}

type PipelineParams struct {
	Index     vector.Index
	Graph     *graph.Store
	Embedder  ai.Embedder
	Extractor *graph.Extractor
	Splitter  *chunk.Splitter
	Registry  *loader.Registry
	// Locker serializes ingestion runs. Defaults to an in-process lock.
	Locker  leaselock.Locker
	Options Options
}

// Pipeline runs ingestion. A Pipeline may be reused across runs; runs are
// serialized through its Locker.
type Pipeline struct {
	index     vector.Index
	graph     *graph.Store
	embedder  ai.Embedder
	extractor *graph.Extractor
	splitter  *chunk.Splitter
	registry  *loader.Registry
	locker    leaselock.Locker
	opts      Options

	timing *timing.Tracker

	progressMu sync.Mutex
	progress   util.ProgressCounts
	started    time.Time
}

func NewPipeline(params PipelineParams) *Pipeline {
	opts := params.Options
	if opts.Policy == "" {
		opts.Policy = PolicyNonEmpty
	}
	if opts.ParallelFiles <= 0 {
		opts.ParallelFiles = 1
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 60 * time.Second
	}
	if opts.LockKey == "" {
		opts.LockKey = "ingest"
	}
	splitter := params.Splitter
	if splitter == nil {
		splitter = chunk.New()
	}
	registry := params.Registry
	if registry == nil {
		registry = loader.NewRegistry()
	}
	locker := params.Locker
	if locker == nil {
		locker = leaselock.NewLocal()
	}

	return &Pipeline{
		index:     params.Index,
		graph:     params.Graph,
		embedder:  params.Embedder,
		extractor: params.Extractor,
		splitter:  splitter,
		registry:  registry,
		locker:    locker,
		opts:      opts,
		timing:    timing.NewTracker(),
	}
}

// Ingest builds the indexes from the documents below corpusDir.
func (p *Pipeline) Ingest(ctx context.Context, corpusDir string, force bool) (Summary, error) {
	return p.IngestCorpus(ctx, NewDirCorpus(corpusDir, p.registry), force)
}

// IngestCorpus builds the indexes from corpus. A populated index is left
// alone unless force is set or the policy finds it stale; a rebuild starts
// from an empty index and graph. Documents that cannot be read or indexed are
// rolled back, recorded in Summary.Failed and skipped. The graph is persisted
// once all documents are done.
func (p *Pipeline) IngestCorpus(ctx context.Context, corpus Corpus, force bool) (Summary, error) {
	var summary Summary
	err := p.locker.WithLease(ctx, p.opts.LockKey, func(ctx context.Context) error {
		var err error
		summary, err = p.run(ctx, corpus, force)
		return err
	})
	if errors.Is(err, leaselock.ErrBusy) {
		return Summary{Corpus: corpus.Location(), Skipped: true, Reason: "ingestion already running"}, err
	}
	return summary, err
}

func (p *Pipeline) run(ctx context.Context, corpus Corpus, force bool) (Summary, error) {
	start := time.Now()
	summary := Summary{Corpus: corpus.Location(), Failed: []Failure{}}
	p.resetProgress()

	p.setStep(util.StepScanning)
	docs, err := corpus.Documents(ctx)
	if err != nil {
		p.setStep(util.StepFailed)
		return summary, err
	}

	if p.opts.Policy == PolicyFingerprint {
		summary.Fingerprint, err = Fingerprint(ctx, docs)
		if err != nil {
			p.setStep(util.StepFailed)
			return summary, fmt.Errorf("fingerprint corpus: %w", err)
		}
	}

	count, err := p.index.Count(ctx)
	if err != nil {
		p.setStep(util.StepFailed)
		return summary, fmt.Errorf("count vector index: %w", err)
	}
	if count > 0 && !force {
		stored := p.graph.Meta(FingerprintMetaKey)
		if p.opts.Policy != PolicyFingerprint || stored == summary.Fingerprint {
			summary.Skipped = true
			summary.Reason = "already initialized"
			summary.Duration = time.Since(start)
			p.setStep(util.StepCompleted)
			logger.Info("Vector index already initialized, skipping ingestion", "corpus", summary.Corpus, "chunks", count)
			return summary, nil
		}
		logger.Info("Corpus changed since last ingestion, rebuilding", "corpus", summary.Corpus, "stored", stored, "current", summary.Fingerprint)
	}

	p.setStep(util.StepResetting)
	if err := p.reset(ctx, count); err != nil {
		p.setStep(util.StepFailed)
		return summary, err
	}

	p.setTotal(len(docs))
	p.setStep(util.StepIndexing)
	logger.Info("Ingesting corpus", "corpus", summary.Corpus, "documents", len(docs), "parallel", p.opts.ParallelFiles)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.ParallelFiles)
	for _, doc := range docs {
		g.Go(func() error {
			docStart := time.Now()
			res, failure := p.processDocument(gctx, doc)
			if err := gctx.Err(); err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if failure != nil {
				summary.Failed = append(summary.Failed, *failure)
				p.markFailed()
				logger.Warn("Skipping document", "document", doc.ID, "stage", failure.Stage, "kind", failure.Kind, "err", failure.Error)
				return nil
			}
			summary.Documents++
			summary.ChunksAdded += res.chunks
			summary.NodesAdded += res.merged.NodesAdded
			summary.EdgesAdded += res.merged.EdgesAdded
			p.timing.AddProcessingTime(timing.StatDocument, 1, time.Since(docStart))
			p.markCompleted()
			logger.Debug("Ingested document", "document", doc.ID, "chunks", res.chunks, "nodes", res.merged.NodesAdded, "edges", res.merged.EdgesAdded)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.setStep(util.StepFailed)
		p.discard(ctx)
		return summary, fmt.Errorf("ingestion aborted: %w", err)
	}

	p.setStep(util.StepPersist)
	if summary.Fingerprint != "" {
		p.graph.SetMeta(FingerprintMetaKey, summary.Fingerprint)
	}
	if err := p.graph.Persist(ctx); err != nil {
		p.setStep(util.StepFailed)
		p.discard(ctx)
		return summary, err
	}

	summary.Duration = time.Since(start)
	p.setStep(util.StepCompleted)
	logger.Info(
		"Ingestion finished",
		"corpus", summary.Corpus,
		"documents", summary.Documents,
		"failed", len(summary.Failed),
		"chunks", summary.ChunksAdded,
		"nodes", summary.NodesAdded,
		"edges", summary.EdgesAdded,
		"duration", summary.Duration,
	)
	return summary, nil
}

// discard drops everything an unfinished run wrote. The index was emptied
// before the run started, so every id in it belongs to this run. Leaving the
// index empty makes the next run rebuild instead of skipping.
func (p *Pipeline) discard(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.CallTimeout)
	defer cancel()

	count, err := p.index.Count(ctx)
	if err == nil {
		err = p.reset(ctx, count)
	}
	if err != nil {
		logger.Error("Failed to discard partial ingestion", "err", err)
		return
	}
	logger.Warn("Discarded partial ingestion", "chunks", count)
}

// reset empties the vector index and the graph before a rebuild.
func (p *Pipeline) reset(ctx context.Context, count int) error {
	if count > 0 {
		ids, err := p.index.ListIDs(ctx)
		if err != nil {
			return fmt.Errorf("list vector ids: %w", err)
		}
		if err := p.index.Delete(ctx, ids); err != nil {
			return fmt.Errorf("clear vector index: %w", err)
		}
		logger.Info("Cleared vector index", "chunks", len(ids))
	}
	p.graph.Reset()
	return nil
}

type documentResult struct {
	chunks int
	merged graph.MergeResult
}

// processDocument indexes doc chunk by chunk. Any read, embed or index
// failure removes the chunks already upserted for doc, and its relations are
// only merged into the graph once every chunk is indexed.
func (p *Pipeline) processDocument(ctx context.Context, doc loader.SourceFile) (documentResult, *Failure) {
	fail := func(stage string, err error) *Failure {
		return &Failure{Document: doc.ID, Stage: stage, Kind: ai.KindOf(err), Error: err.Error()}
	}

	text, err := doc.GetText(ctx)
	if err != nil {
		return documentResult{}, fail(StageRead, err)
	}

	var upserted []string
	var extractions []graph.Extraction
	rollback := func() {
		if len(upserted) == 0 {
			return
		}
		if err := p.index.Delete(context.WithoutCancel(ctx), upserted); err != nil {
			logger.Error("Failed to roll back document chunks", "document", doc.ID, "chunks", len(upserted), "err", err)
		}
	}

	i := 0
	for piece := range p.splitter.Split(string(text)) {
		id := vector.ChunkID(doc.ID, i)
		chunkStart := time.Now()

		embedding, err := util.RetryWithContext(ctx, p.opts.MaxRetries, util.ExponentialBackoff(500*time.Millisecond, 8*time.Second),
			func(ctx context.Context) ([]float32, error) {
				callCtx, cancel := context.WithTimeout(ctx, p.opts.CallTimeout)
				defer cancel()
				vec, err := p.embedder.GenerateEmbedding(callCtx, []byte(piece))
				if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
					// a per-call timeout is retryable, the run's deadline is not
					return nil, ai.Fail(ai.FailureTimeout, "embed chunk", fmt.Errorf("no response within %s", p.opts.CallTimeout))
				}
				return vec, ai.Wrap("embed chunk", err)
			},
		)
		if err != nil {
			rollback()
			return documentResult{}, fail(StageEmbed, err)
		}

		meta := vector.Metadata{File: doc.ID, ChunkID: i}
		if err := p.index.Upsert(ctx, id, piece, meta, embedding); err != nil {
			rollback()
			return documentResult{}, fail(StageIndex, err)
		}
		upserted = append(upserted, id)

		if p.extractor != nil {
			extractions = append(extractions, p.extractor.Extract(ctx, piece, p.opts.ExtractMaxChars))
		}
		p.timing.AddProcessingTime(timing.StatChunk, 1, time.Since(chunkStart))
		i++
	}

	res := documentResult{chunks: i}
	attrs := map[string]any{"file": doc.ID}
	for _, ext := range extractions {
		m := ext.Merge(p.graph, attrs)
		res.merged.NodesAdded += m.NodesAdded
		res.merged.EdgesAdded += m.EdgesAdded
	}
	return res, nil
}

// Progress reports the state of the current or last run.
func (p *Pipeline) Progress() util.IngestProgress {
	p.progressMu.Lock()
	counts := p.progress
	started := p.started
	p.progressMu.Unlock()

	if counts.Step == util.StepIndexing && counts.Total > 0 {
		remaining := int64(counts.Total - counts.Completed - counts.Failed)
		if d, ok := p.timing.PredictProcessingTime(timing.StatDocument, remaining); ok {
			counts.RemainingDuration = d.Milliseconds()
			counts.EstimatedDuration = time.Since(started).Milliseconds() + counts.RemainingDuration
		}
	}
	return util.BuildIngestProgress(counts)
}

func (p *Pipeline) resetProgress() {
	p.progressMu.Lock()
	defer p.progressMu.Unlock()
	p.progress = util.ProgressCounts{}
	p.started = time.Now()
}

func (p *Pipeline) setStep(step string) {
	p.progressMu.Lock()
	defer p.progressMu.Unlock()
	p.progress.Step = step
}

func (p *Pipeline) setTotal(n int) {
	p.progressMu.Lock()
	defer p.progressMu.Unlock()
	p.progress.Total = n
}

func (p *Pipeline) markCompleted() {
	p.progressMu.Lock()
	defer p.progressMu.Unlock()
	p.progress.Completed++
}

func (p *Pipeline) markFailed() {
	p.progressMu.Lock()
	defer p.progressMu.Unlock()
	p.progress.Failed++
}
