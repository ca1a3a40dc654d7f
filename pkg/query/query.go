// Package query answers questions from the vector index and the knowledge
// graph. Retrieval and synthesis failures never escape Engine.Query; they
// turn into fixed fallback answers with zero confidence.
package query

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/graph"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/vector"
)

const (
	InvalidQuestionAnswer = "Please enter a valid question."
	NoEvidenceAnswer      = "I apologize, but I don't have enough information to answer that question. Is there something else I can help you with?"
	FailureAnswer         = "I apologize, but I'm having trouble processing your question. Please try again or rephrase your question."
)

const (
	DefaultTopK = 3
	// GraphOnlyConfidence is reported when only the graph produced evidence.
	GraphOnlyConfidence = 0.5
	// MaxGraphEntities caps the graph hits put into the context and result.
	MaxGraphEntities = 5
	// MaxRelationsPerEntity caps the relations listed per graph hit.
	MaxRelationsPerEntity = 3
	// ChunkSeparator joins retrieved chunk texts in the context.
	ChunkSeparator = "\n\n---\n\n"
	unknownSource  = "unknown"
)

// Result is the answer to one question.
type Result struct {
	Answer        string   `json:"answer"`
	Sources       []string `json:"sources"`
	Confidence    float64  `json:"confidence"`
	GraphEntities []string `json:"graph_entities"`
}

func fixed(answer string) Result {
	return Result{Answer: answer, Sources: []string{}, Confidence: 0, GraphEntities: []string{}}
}

type EngineParams struct {
	Index  vector.Index
	Graph  *graph.Store
	Client ai.Generator
	// Timeout bounds retrieval and synthesis together. Zero disables it.
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// Engine fuses vector and graph retrieval into one grounded answer. It only
// reads the index and graph, so concurrent queries are safe.
type Engine struct {
	index    vector.Index
	graph    *graph.Store
	searcher *graph.Searcher
	client   ai.Generator

	timeout     time.Duration
	maxTokens   int
	temperature float64
}

func NewEngine(params EngineParams) *Engine {
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	temperature := params.Temperature
	if temperature <= 0 {
		temperature = 0.3
	}
	return &Engine{
		index:       params.Index,
		graph:       params.Graph,
		searcher:    graph.NewSearcher(params.Graph, params.Client),
		client:      params.Client,
		timeout:     params.Timeout,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// Query answers question from the topK nearest chunks (DefaultTopK when
// topK <= 0) and the graph entities it mentions.
func (e *Engine) Query(ctx context.Context, question string, topK int) Result {
	return e.QueryWithTrace(ctx, question, topK, nil)
}

// QueryWithTrace is Query that reports the chunks, documents and entities
// it looked at to tracer.
func (e *Engine) QueryWithTrace(ctx context.Context, question string, topK int, tracer Tracer) (res Result) {
	if strings.TrimSpace(question) == "" {
		return fixed(InvalidQuestionAnswer)
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Query panicked", "panic", r, "stack", string(debug.Stack()))
			res = fixed(FailureAnswer)
		}
	}()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	res, err := e.answer(ctx, question, topK, tracer)
	if err != nil {
		logger.Warn("Query failed, returning fallback answer", "kind", ai.KindOf(err), "err", err)
		return fixed(FailureAnswer)
	}
	return res
}

func (e *Engine) answer(ctx context.Context, question string, topK int, tracer Tracer) (Result, error) {
	var chunks vector.QueryResult
	var hits []string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(recovered("vector search", func() error {
		var err error
		chunks, err = e.index.Query(gctx, question, topK)
		if err != nil {
			return fmt.Errorf("vector search: %w", err)
		}
		return nil
	}))
	g.Go(recovered("graph search", func() error {
		hits = e.searcher.Search(gctx, question)
		return nil
	}))
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, ai.Wrap("retrieve", err)
	}

	RecordConsideredChunkIDs(tracer, chunks.IDs...)
	RecordQueriedEntityIDs(tracer, hits...)

	if chunks.Len() == 0 && len(hits) == 0 {
		return fixed(NoEvidenceAnswer), nil
	}

	if len(hits) > MaxGraphEntities {
		hits = hits[:MaxGraphEntities]
	}
	prompt := fmt.Sprintf(ai.AnswerUserPrompt, e.buildContext(chunks, hits), question)

	text, err := e.client.GenerateCompletion(
		ctx,
		prompt,
		ai.WithSystemPrompts(ai.AnswerSystemPrompt),
		ai.WithMaxTokens(e.maxTokens),
		ai.WithTemperature(e.temperature),
	)
	if err != nil {
		return Result{}, fmt.Errorf("synthesize answer: %w", err)
	}
	answer := strings.TrimSpace(text)
	if answer == "" {
		return Result{}, ai.Fail(ai.FailureEmpty, "synthesize answer", nil)
	}

	sources := Sources(chunks.Metadatas)
	RecordUsedSourceIDs(tracer, sources...)

	confidence := GraphOnlyConfidence
	if chunks.Len() > 0 {
		confidence = Confidence(chunks.Distances)
	}

	return Result{
		Answer:        answer,
		Sources:       sources,
		Confidence:    confidence,
		GraphEntities: slices.Clone(hits),
	}, nil
}

// recovered turns a panic in fn into an error. errgroup does not carry
// panics of its goroutines back to Wait.
func recovered(op string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Retrieval panicked", "op", op, "panic", r, "stack", string(debug.Stack()))
				err = ai.Fail(ai.FailureUnavailable, op, fmt.Errorf("panic: %v", r))
			}
		}()
		return fn()
	}
}

// buildContext joins the chunk texts and appends the graph block. Empty
// sections are left out.
func (e *Engine) buildContext(chunks vector.QueryResult, hits []string) string {
	var sections []string
	if chunks.Len() > 0 {
		sections = append(sections, strings.Join(chunks.Documents, ChunkSeparator))
	}
	if block := e.graphBlock(hits); block != "" {
		sections = append(sections, block)
	}
	return strings.Join(sections, "\n\n")
}

func (e *Engine) graphBlock(hits []string) string {
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Knowledge graph entities:")
	for _, id := range hits {
		label := id
		if n, ok := e.graph.Node(id); ok && n.Type != "" {
			label = fmt.Sprintf("%s (%s)", id, n.Type)
		}
		edges := e.graph.OutEdges(id)
		if len(edges) == 0 {
			fmt.Fprintf(&b, "\n- %s", label)
			continue
		}
		if len(edges) > MaxRelationsPerEntity {
			edges = edges[:MaxRelationsPerEntity]
		}
		for _, edge := range edges {
			fmt.Fprintf(&b, "\n- %s: %s -> %s", label, edge.Relation, edge.Target)
		}
	}
	return b.String()
}

// Confidence is 1 minus the mean distance, clamped to [0, 1] and rounded to
// two decimals. No distances means no confidence.
func Confidence(distances []float64) float64 {
	if len(distances) == 0 {
		return 0
	}
	var sum float64
	for _, d := range distances {
		sum += d
	}
	c := 1 - sum/float64(len(distances))
	if math.IsNaN(c) {
		return 0
	}
	c = min(max(c, 0), 1)
	return math.Round(c*100) / 100
}

// Sources returns the sorted, distinct files of the retrieved chunks.
func Sources(metas []vector.Metadata) []string {
	out := make([]string, 0, len(metas))
	for _, m := range metas {
		file := strings.TrimSpace(m.File)
		if file == "" {
			file = unknownSource
		}
		out = append(out, file)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
