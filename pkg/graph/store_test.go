package graph

import (
	"reflect"
	"sync"
	"testing"
)

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Acme Corp", want: "Acme Corp"},
		{in: "  Acme   Corp \n", want: "Acme Corp"},
		{in: "\t", want: ""},
		{in: "", want: ""},
	}
	for _, tc := range tests {
		if got := NormalizeID(tc.in); got != tc.want {
			t.Fatalf("NormalizeID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAddNodeIsIdempotent(t *testing.T) {
	s := NewStore(nil)

	if !s.AddNode("Acme Corp", "ORGANIZATION", map[string]any{"source": "a_0"}) {
		t.Fatal("first insert should report a new node")
	}
	if s.AddNode(" Acme  Corp ", "", map[string]any{"country": "DE"}) {
		t.Fatal("re-insert should not report a new node")
	}
	if s.NodeCount() != 1 {
		t.Fatalf("NodeCount() = %d, want 1", s.NodeCount())
	}

	n, ok := s.Node("Acme Corp")
	if !ok {
		t.Fatal("node missing")
	}
	if n.Type != "ORGANIZATION" {
		t.Fatalf("blank type must not overwrite, got %q", n.Type)
	}
	want := map[string]any{"source": "a_0", "country": "DE"}
	if !reflect.DeepEqual(n.Attributes, want) {
		t.Fatalf("attributes = %v, want %v", n.Attributes, want)
	}

	s.AddNode("Acme Corp", "COMPANY", nil)
	if n, _ := s.Node("Acme Corp"); n.Type != "COMPANY" {
		t.Fatalf("type = %q, want COMPANY", n.Type)
	}
}

func TestAddNodeRejectsBlankIDs(t *testing.T) {
	s := NewStore(nil)
	for _, id := range []string{"", "   ", "\n\t"} {
		if s.AddNode(id, "X", nil) {
			t.Fatalf("AddNode(%q) reported a new node", id)
		}
	}
	if s.AddEdge("", "B", "knows", nil) || s.AddEdge("A", " ", "knows", nil) {
		t.Fatal("edges with blank endpoints must be ignored")
	}
	if s.NodeCount() != 0 || s.EdgeCount() != 0 {
		t.Fatalf("graph should be empty, got %d nodes %d edges", s.NodeCount(), s.EdgeCount())
	}
}

func TestAddEdgeSemantics(t *testing.T) {
	s := NewStore(nil)

	if !s.AddEdge("Acme Corp", "Globex Inc", "partners with", map[string]any{"weight": 1}) {
		t.Fatal("first edge should be new")
	}
	if s.NodeCount() != 2 {
		t.Fatalf("endpoints should be created, NodeCount() = %d", s.NodeCount())
	}
	if s.AddEdge("Acme Corp", "Globex Inc", "partners with", map[string]any{"weight": 2}) {
		t.Fatal("same triple must merge, not duplicate")
	}
	if !s.AddEdge("Acme Corp", "Globex Inc", "competes with", nil) {
		t.Fatal("different relation must be a distinct edge")
	}
	if !s.AddEdge("Globex Inc", "Acme Corp", "partners with", nil) {
		t.Fatal("reverse direction must be a distinct edge")
	}
	if s.EdgeCount() != 3 {
		t.Fatalf("EdgeCount() = %d, want 3", s.EdgeCount())
	}

	edges := s.OutEdges("Acme Corp")
	if len(edges) != 2 || edges[0].Attributes["weight"] != 2 {
		t.Fatalf("unexpected out edges %+v", edges)
	}

	s.AddEdge("Acme Corp", "Initech", "", nil)
	edges = s.OutEdges("Acme Corp")
	if edges[len(edges)-1].Relation != DefaultRelation {
		t.Fatalf("blank relation = %q, want %q", edges[len(edges)-1].Relation, DefaultRelation)
	}
}

func TestNeighborsAndNodes(t *testing.T) {
	s := NewStore(nil)
	s.AddEdge("Hub", "C", "r1", nil)
	s.AddEdge("Hub", "A", "r1", nil)
	s.AddEdge("Hub", "C", "r2", nil)
	s.AddEdge("Hub", "B", "r1", nil)
	s.AddNode("Lonely", "", nil)

	if got, want := s.Neighbors("Hub"), []string{"C", "A", "B"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Neighbors() = %v, want %v", got, want)
	}
	if got := s.Neighbors("Lonely"); len(got) != 0 {
		t.Fatalf("Neighbors(Lonely) = %v, want empty", got)
	}
	if got := s.Neighbors("missing"); len(got) != 0 {
		t.Fatalf("Neighbors(missing) = %v, want empty", got)
	}
	if got, want := s.Nodes(), []string{"A", "B", "C", "Hub", "Lonely"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Nodes() = %v, want %v", got, want)
	}
}

func TestNodeReturnsCopy(t *testing.T) {
	s := NewStore(nil)
	s.AddNode("A", "", map[string]any{"k": "v"})
	n, _ := s.Node("A")
	n.Attributes["k"] = "changed"
	if again, _ := s.Node("A"); again.Attributes["k"] != "v" {
		t.Fatal("Node() leaked internal attributes map")
	}
}

func TestResetClearsEverything(t *testing.T) {
	s := NewStore(nil)
	s.AddEdge("A", "B", "r", nil)
	s.SetMeta("fingerprint", "abc")
	s.Reset()
	if s.NodeCount() != 0 || s.EdgeCount() != 0 || s.Meta("fingerprint") != "" {
		t.Fatal("Reset() left data behind")
	}
}

func TestStats(t *testing.T) {
	s := NewStore(nil)
	s.AddEdge("Acme Corp", "Globex Inc", "partners with", nil)
	s.AddEdge("Acme Corp", "Initech", "supplies", nil)

	got := s.Stats()
	want := Stats{Nodes: 3, Edges: 2, Location: "memory"}
	if got != want {
		t.Fatalf("Stats() = %+v, want %+v", got, want)
	}
}

func TestConcurrentWrites(t *testing.T) {
	s := NewStore(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.AddEdge("Acme Corp", "Globex Inc", "partners with", nil)
				_ = s.Neighbors("Acme Corp")
			}
		}()
	}
	wg.Wait()
	if s.NodeCount() != 2 || s.EdgeCount() != 1 {
		t.Fatalf("got %d nodes %d edges, want 2 and 1", s.NodeCount(), s.EdgeCount())
	}
}
