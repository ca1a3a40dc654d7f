// Package graph holds the knowledge graph of entities and relations derived
// from the corpus: the in-memory store, its snapshot persistence, the LLM
// relation extractor and entity search over the graph.
package graph

import (
	"maps"
	"slices"
	"strings"
	"sync"
)

// DefaultRelation labels edges whose relation came back blank.
const DefaultRelation = "related_to"

// Node is an entity. ID is the normalized entity name.
type Node struct {
	ID         string         `json:"id"`
	Type       string         `json:"type,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Edge is a directed, labelled relation between two node ids.
type Edge struct {
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Relation   string         `json:"relation"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Store is the knowledge graph: an arena of nodes keyed by id plus an
// adjacency list of outgoing edges per node. Edges reference nodes by id.
// It is safe for concurrent use.
type Store struct {
	snapshots SnapshotStore

	mu    sync.RWMutex
	nodes map[string]*Node
	out   map[string][]*Edge
	edges int
	meta  map[string]string
}

// NewStore creates an empty graph persisted through snapshots. A nil
// SnapshotStore keeps the graph in memory only.
func NewStore(snapshots SnapshotStore) *Store {
	s := &Store{snapshots: snapshots}
	s.resetLocked()
	return s
}

func (s *Store) resetLocked() {
	s.nodes = make(map[string]*Node)
	s.out = make(map[string][]*Edge)
	s.edges = 0
	s.meta = make(map[string]string)
}

// NormalizeID trims an entity name and collapses inner whitespace runs to a
// single space.
func NormalizeID(id string) string {
	return strings.Join(strings.Fields(id), " ")
}

func mergeAttrs(dst map[string]any, src map[string]any) map[string]any {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	maps.Copy(dst, src)
	return dst
}

func (s *Store) upsertNodeLocked(id, typ string, attrs map[string]any) bool {
	if n, ok := s.nodes[id]; ok {
		if typ != "" {
			n.Type = typ
		}
		n.Attributes = mergeAttrs(n.Attributes, attrs)
		return false
	}
	s.nodes[id] = &Node{ID: id, Type: typ, Attributes: mergeAttrs(nil, attrs)}
	return true
}

// AddNode upserts a node and reports whether it was new. A non-empty type
// replaces the stored one and attrs are merged over existing attributes.
// Blank ids are ignored.
func (s *Store) AddNode(id, typ string, attrs map[string]any) bool {
	id = NormalizeID(id)
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertNodeLocked(id, strings.TrimSpace(typ), attrs)
}

// AddEdge upserts the edge source -relation-> target and reports whether it
// was new. Edges are identified by (source, target, relation); missing
// endpoints are created as untyped nodes. Blank endpoints are ignored and a
// blank relation becomes DefaultRelation.
func (s *Store) AddEdge(source, target, relation string, attrs map[string]any) bool {
	added, _ := s.addEdge(source, target, relation, attrs)
	return added
}

// addEdge is AddEdge that also reports how many endpoint nodes it created.
func (s *Store) addEdge(source, target, relation string, attrs map[string]any) (bool, int) {
	source, target = NormalizeID(source), NormalizeID(target)
	if source == "" || target == "" {
		return false, 0
	}
	relation = NormalizeID(relation)
	if relation == "" {
		relation = DefaultRelation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created := 0
	if s.upsertNodeLocked(source, "", nil) {
		created++
	}
	if s.upsertNodeLocked(target, "", nil) {
		created++
	}

	for _, e := range s.out[source] {
		if e.Target == target && e.Relation == relation {
			e.Attributes = mergeAttrs(e.Attributes, attrs)
			return false, created
		}
	}
	s.out[source] = append(s.out[source], &Edge{
		Source:     source,
		Target:     target,
		Relation:   relation,
		Attributes: mergeAttrs(nil, attrs),
	})
	s.edges++
	return true, created
}

// Node returns a copy of the node with the given id.
func (s *Store) Node(id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[NormalizeID(id)]
	if !ok {
		return Node{}, false
	}
	return copyNode(n), true
}

// Nodes returns all node ids in ascending order.
func (s *Store) Nodes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.nodes))
}

// Neighbors returns the distinct targets of id's outgoing edges in the order
// the edges were added.
func (s *Store) Neighbors(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	edges := s.out[NormalizeID(id)]
	seen := make(map[string]struct{}, len(edges))
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		if _, ok := seen[e.Target]; ok {
			continue
		}
		seen[e.Target] = struct{}{}
		out = append(out, e.Target)
	}
	return out
}

// OutEdges returns copies of id's outgoing edges in insertion order.
func (s *Store) OutEdges(id string) []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	edges := s.out[NormalizeID(id)]
	out := make([]Edge, len(edges))
	for i, e := range edges {
		out[i] = copyEdge(e)
	}
	return out
}

// NodeCount returns the number of entities in the graph.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// EdgeCount returns the number of relations in the graph.
func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.edges
}

// SetMeta records a value that travels with the snapshot.
func (s *Store) SetMeta(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[key] = value
}

// Meta returns the metadata value stored under key, or "" when unset.
func (s *Store) Meta(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta[key]
}

// Reset drops every node, edge and meta value.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// Location describes where snapshots are written.
func (s *Store) Location() string {
	if s.snapshots == nil {
		return "memory"
	}
	return s.snapshots.Location()
}

func copyNode(n *Node) Node {
	return Node{ID: n.ID, Type: n.Type, Attributes: maps.Clone(n.Attributes)}
}

func copyEdge(e *Edge) Edge {
	return Edge{Source: e.Source, Target: e.Target, Relation: e.Relation, Attributes: maps.Clone(e.Attributes)}
}

// Stats is a cheap summary of the graph.
type Stats struct {
	Nodes    int    `json:"nodes"`
	Edges    int    `json:"edges"`
	Location string `json:"location"`
}

// Stats reports the node and edge counts with the snapshot location.
func (s *Store) Stats() Stats {
	return Stats{Nodes: s.NodeCount(), Edges: s.EdgeCount(), Location: s.Location()}
}
