package graph

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kiwi-support/backend/internal/util"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/logger"
)

// DefaultMaxInputChars bounds how much of a chunk is sent for extraction.
const DefaultMaxInputChars = 2000

type ExtractedNode struct {
	ID   string `json:"id" jsonschema_description:"Entity name exactly as written in the passage"`
	Type string `json:"type" jsonschema_description:"Upper-case entity type, e.g. ORGANIZATION, PRODUCT, PERSON"`
}

type ExtractedEdge struct {
	Source   string `json:"source" jsonschema_description:"Id of the source entity from the nodes list"`
	Target   string `json:"target" jsonschema_description:"Id of the target entity from the nodes list"`
	Relation string `json:"relation" jsonschema_description:"Short lower-case verb phrase describing the relation"`
}

// Extraction is the set of triples found in one chunk. Nodes and Edges are
// never nil.
type Extraction struct {
	Nodes []ExtractedNode `json:"nodes" jsonschema_description:"Entities mentioned in the passage"`
	Edges []ExtractedEdge `json:"edges" jsonschema_description:"Directed relations between the entities"`
}

// Empty reports whether nothing was extracted.
func (e Extraction) Empty() bool {
	return len(e.Nodes) == 0 && len(e.Edges) == 0
}

// MergeResult counts what Merge added.
type MergeResult struct {
	NodesAdded int
	EdgesAdded int
}

// Merge upserts the extraction into store, nodes first. attrs are attached to
// every node and edge, e.g. the chunk the triple came from.
func (e Extraction) Merge(store *Store, attrs map[string]any) MergeResult {
	var res MergeResult
	for _, n := range e.Nodes {
		if store.AddNode(n.ID, n.Type, attrs) {
			res.NodesAdded++
		}
	}
	for _, edge := range e.Edges {
		added, created := store.addEdge(edge.Source, edge.Target, edge.Relation, attrs)
		if added {
			res.EdgesAdded++
		}
		res.NodesAdded += created
	}
	return res
}

// Extractor derives entity/relation triples from text with a structured
// output request.
type Extractor struct {
	client        ai.Generator
	maxInputChars int
}

func NewExtractor(client ai.Generator, maxInputChars int) *Extractor {
	if maxInputChars <= 0 {
		maxInputChars = DefaultMaxInputChars
	}
	return &Extractor{client: client, maxInputChars: maxInputChars}
}

// Extract returns the triples in the first maxInputChars characters of text
// (the extractor default when maxInputChars <= 0). Failures of any kind yield
// an empty Extraction; the failure kind is logged.
func (x *Extractor) Extract(ctx context.Context, text string, maxInputChars int) Extraction {
	if maxInputChars <= 0 {
		maxInputChars = x.maxInputChars
	}
	empty := Extraction{Nodes: []ExtractedNode{}, Edges: []ExtractedEdge{}}

	passage := util.Truncate(text, maxInputChars)
	if passage == "" {
		return empty
	}

	var res Extraction
	err := x.client.GenerateCompletionWithFormat(
		ctx,
		"extract_relations",
		"Extract entities and the relations between them from a document passage.",
		fmt.Sprintf(ai.ExtractRelationsPrompt, passage),
		&res,
		ai.WithTemperature(0),
	)
	if err != nil {
		logger.Warn("Relation extraction failed, skipping chunk", "kind", ai.KindOf(err), "err", err)
		return empty
	}

	if res.Nodes == nil {
		res.Nodes = []ExtractedNode{}
	}
	if res.Edges == nil {
		res.Edges = []ExtractedEdge{}
	}
	return res
}
