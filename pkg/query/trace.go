package query

import (
	"slices"
	"sync"
)

type TraceEventKind string

const (
	TraceEventConsideredChunkIDs TraceEventKind = "considered_chunk_ids"
	TraceEventUsedSourceIDs      TraceEventKind = "used_source_ids"
	TraceEventQueriedEntityIDs   TraceEventKind = "queried_entity_ids"
)

// TraceEvent is an extensible event envelope for query tracing.
type TraceEvent struct {
	Kind TraceEventKind
	IDs  []string
}

// Tracer is a sink for query tracing events.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fans events out to several tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

func RecordConsideredChunkIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventConsideredChunkIDs, IDs: ids})
}

func RecordUsedSourceIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventUsedSourceIDs, IDs: ids})
}

func RecordQueriedEntityIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventQueriedEntityIDs, IDs: ids})
}

// QueryTrace collects what a query run looked at. It is safe for concurrent
// use.
type QueryTrace struct {
	mu sync.Mutex

	consideredChunkIDs map[string]struct{}
	usedSourceIDs      map[string]struct{}
	queriedEntityIDs   map[string]struct{}
}

type QueryTraceSnapshot struct {
	ConsideredChunkIDs []string `json:"considered_chunk_ids"`
	UsedSourceIDs      []string `json:"used_source_ids"`
	QueriedEntityIDs   []string `json:"queried_entity_ids"`
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		consideredChunkIDs: make(map[string]struct{}),
		usedSourceIDs:      make(map[string]struct{}),
		queriedEntityIDs:   make(map[string]struct{}),
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	var set map[string]struct{}
	switch event.Kind {
	case TraceEventConsideredChunkIDs:
		set = t.consideredChunkIDs
	case TraceEventUsedSourceIDs:
		set = t.usedSourceIDs
	case TraceEventQueriedEntityIDs:
		set = t.queriedEntityIDs
	default:
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range event.IDs {
		if id != "" {
			set[id] = struct{}{}
		}
	}
}

// Snapshot returns the recorded ids, each list sorted.
func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return QueryTraceSnapshot{
		ConsideredChunkIDs: sortedKeys(t.consideredChunkIDs),
		UsedSourceIDs:      sortedKeys(t.usedSourceIDs),
		QueriedEntityIDs:   sortedKeys(t.queriedEntityIDs),
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
