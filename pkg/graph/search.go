package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/logger"
)

const (
	// MaxSearchResults caps the ids Search returns.
	MaxSearchResults = 10
	// NeighborsPerMatch is how many outgoing neighbours a match pulls in.
	NeighborsPerMatch = 3
)

type entityMentions struct {
	Entities []string `json:"entities" jsonschema_description:"Entity names mentioned in the question"`
}

// Searcher finds graph nodes relevant to a question.
type Searcher struct {
	store  *Store
	client ai.Generator
}

func NewSearcher(store *Store, client ai.Generator) *Searcher {
	return &Searcher{store: store, client: client}
}

// Search returns at most MaxSearchResults distinct node ids. Entity mentions
// are extracted from the question and matched case-insensitively against
// node ids, in both substring directions. Every match contributes itself and
// up to NeighborsPerMatch outgoing neighbours. An empty graph returns nil
// without calling the model.
func (s *Searcher) Search(ctx context.Context, question string) []string {
	if s.store.NodeCount() == 0 || strings.TrimSpace(question) == "" {
		return nil
	}

	mentions := s.mentions(ctx, question)
	if len(mentions) == 0 {
		return nil
	}
	return s.match(mentions)
}

func (s *Searcher) mentions(ctx context.Context, question string) []string {
	var res entityMentions
	err := s.client.GenerateCompletionWithFormat(
		ctx,
		"query_entities",
		"List the entities a question refers to.",
		fmt.Sprintf(ai.QueryEntitiesPrompt, question),
		&res,
		ai.WithTemperature(0),
	)
	if err != nil {
		logger.Warn("Entity extraction for graph search failed", "kind", ai.KindOf(err), "err", err)
		return nil
	}

	out := make([]string, 0, len(res.Entities))
	for _, e := range res.Entities {
		if e = strings.ToLower(NormalizeID(e)); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// match scans node ids in sorted order so results are deterministic.
func (s *Searcher) match(mentions []string) []string {
	nodes := s.store.Nodes()
	lowered := make([]string, len(nodes))
	for i, id := range nodes {
		lowered[i] = strings.ToLower(id)
	}

	hits := make([]string, 0, MaxSearchResults)
	seen := make(map[string]struct{}, MaxSearchResults)
	add := func(id string) bool {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			hits = append(hits, id)
		}
		return len(hits) >= MaxSearchResults
	}

	for _, m := range mentions {
		for i, id := range nodes {
			if !strings.Contains(lowered[i], m) && !strings.Contains(m, lowered[i]) {
				continue
			}
			if add(id) {
				return hits
			}
			neighbors := s.store.Neighbors(id)
			if len(neighbors) > NeighborsPerMatch {
				neighbors = neighbors[:NeighborsPerMatch]
			}
			for _, n := range neighbors {
				if add(n) {
					return hits
				}
			}
		}
	}
	return hits
}
