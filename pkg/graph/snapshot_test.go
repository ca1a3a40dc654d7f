package graph

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
)

func TestFileSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "graph.json")

	s := NewStore(NewFileSnapshots(path))
	s.AddNode("Acme Corp", "ORGANIZATION", map[string]any{"source": "a.pdf_0"})
	s.AddEdge("Acme Corp", "Globex Inc", "partners with", nil)
	s.AddEdge("Globex Inc", "Initech", "supplies", nil)
	s.SetMeta("fingerprint", "f00")

	if err := s.Persist(ctx); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	loaded := NewStore(NewFileSnapshots(path))
	if !loaded.Load(ctx) {
		t.Fatal("Load() did not restore the snapshot")
	}
	if loaded.NodeCount() != 3 || loaded.EdgeCount() != 2 {
		t.Fatalf("got %d nodes %d edges", loaded.NodeCount(), loaded.EdgeCount())
	}
	if n, _ := loaded.Node("Acme Corp"); n.Type != "ORGANIZATION" || n.Attributes["source"] != "a.pdf_0" {
		t.Fatalf("node not restored: %+v", n)
	}
	if loaded.Meta("fingerprint") != "f00" {
		t.Fatal("meta not restored")
	}
	if !reflect.DeepEqual(loaded.Neighbors("Acme Corp"), []string{"Globex Inc"}) {
		t.Fatalf("Neighbors() = %v", loaded.Neighbors("Acme Corp"))
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestLoadFallsBackToEmpty(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	corrupt := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	wrongVersion := filepath.Join(dir, "v99.json")
	if err := os.WriteFile(wrongVersion, []byte(`{"version":99,"nodes":[],"edges":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
	}{
		{name: "missing file", path: filepath.Join(dir, "missing.json")},
		{name: "corrupt file", path: corrupt},
		{name: "unknown version", path: wrongVersion},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewStore(NewFileSnapshots(tc.path))
			s.AddNode("stale", "", nil)
			if s.Load(ctx) {
				t.Fatal("Load() should report failure")
			}
			if s.NodeCount() != 0 {
				t.Fatalf("graph should be empty after failed load, has %d nodes", s.NodeCount())
			}
		})
	}
}

type memObjects struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memObjects) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return b, nil
}

func (m *memObjects) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

func (m *memObjects) Name() string { return "kb" }

func TestObjectSnapshots(t *testing.T) {
	ctx := context.Background()
	objects := &memObjects{data: map[string][]byte{}}
	snaps := NewObjectSnapshots(objects, "graph/graph.json")

	if snaps.Location() != "s3://kb/graph/graph.json" {
		t.Fatalf("Location() = %q", snaps.Location())
	}
	if _, err := snaps.Load(ctx); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}

	s := NewStore(snaps)
	s.AddEdge("A", "B", "r", nil)
	if err := s.Persist(ctx); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	restored := NewStore(snaps)
	if !restored.Load(ctx) || restored.EdgeCount() != 1 {
		t.Fatal("object snapshot not restored")
	}
}

func TestExportOrdering(t *testing.T) {
	s := NewStore(nil)
	s.AddEdge("b", "a", "r1", nil)
	s.AddEdge("a", "c", "r1", nil)
	s.AddEdge("a", "b", "r2", nil)

	snap := s.Export()
	var ids []string
	for _, n := range snap.Nodes {
		ids = append(ids, n.ID)
	}
	if !reflect.DeepEqual(ids, []string{"a", "b", "c"}) {
		t.Fatalf("node order = %v", ids)
	}
	if snap.Edges[0].Target != "c" || snap.Edges[1].Target != "b" || snap.Edges[2].Source != "b" {
		t.Fatalf("edge order = %+v", snap.Edges)
	}
	if err := NewStore(nil).Import(snap); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
}
