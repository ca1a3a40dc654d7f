package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/logger"
)

// SnapshotVersion is written into every snapshot; other versions are
// rejected on load.
const SnapshotVersion = 1

// Snapshot is the serialized form of the whole graph.
type Snapshot struct {
	Version int               `json:"version"`
	SavedAt time.Time         `json:"saved_at"`
	Meta    map[string]string `json:"meta,omitempty"`
	Nodes   []Node            `json:"nodes"`
	Edges   []Edge            `json:"edges"`
}

// SnapshotStore reads and writes one opaque snapshot blob. Load reports a
// missing snapshot with an error matching fs.ErrNotExist.
type SnapshotStore interface {
	Save(ctx context.Context, data []byte) error
	Load(ctx context.Context) ([]byte, error)
	Location() string
}

// Export copies the graph into a Snapshot. Nodes are ordered by id and edges
// by source id, then insertion order.
func (s *Store) Export() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Version: SnapshotVersion,
		SavedAt: time.Now().UTC(),
		Meta:    maps.Clone(s.meta),
		Nodes:   make([]Node, 0, len(s.nodes)),
		Edges:   make([]Edge, 0, s.edges),
	}
	for _, id := range slices.Sorted(maps.Keys(s.nodes)) {
		snap.Nodes = append(snap.Nodes, copyNode(s.nodes[id]))
		for _, e := range s.out[id] {
			snap.Edges = append(snap.Edges, copyEdge(e))
		}
	}
	return snap
}

// Import replaces the graph with the contents of snap. Invalid ids are
// dropped the same way AddNode and AddEdge drop them.
func (s *Store) Import(snap Snapshot) error {
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	fresh := NewStore(nil)
	for _, n := range snap.Nodes {
		fresh.AddNode(n.ID, n.Type, n.Attributes)
	}
	for _, e := range snap.Edges {
		fresh.AddEdge(e.Source, e.Target, e.Relation, e.Attributes)
	}
	for k, v := range snap.Meta {
		fresh.meta[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes, s.out, s.edges, s.meta = fresh.nodes, fresh.out, fresh.edges, fresh.meta
	return nil
}

// Persist overwrites the stored snapshot with the current graph.
func (s *Store) Persist(ctx context.Context) error {
	if s.snapshots == nil {
		return nil
	}
	data, err := json.Marshal(s.Export())
	if err != nil {
		return fmt.Errorf("encode graph snapshot: %w", err)
	}
	if err := s.snapshots.Save(ctx, data); err != nil {
		return fmt.Errorf("save graph snapshot to %s: %w", s.snapshots.Location(), err)
	}
	logger.Debug("Persisted knowledge graph", "location", s.snapshots.Location(), "nodes", s.NodeCount(), "edges", s.EdgeCount())
	return nil
}

// Load replaces the graph with the stored snapshot and reports whether one
// was restored. A missing, unreadable or corrupt snapshot leaves an empty
// graph; the condition is logged and never returned.
func (s *Store) Load(ctx context.Context) bool {
	if s.snapshots == nil {
		return false
	}
	loc := s.snapshots.Location()

	data, err := s.snapshots.Load(ctx)
	if err != nil {
		s.Reset()
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info("No knowledge graph snapshot, starting empty", "location", loc)
		} else {
			logger.Warn("Knowledge graph snapshot unreadable, starting empty", "location", loc, "err", err)
		}
		return false
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.Reset()
		logger.Warn("Knowledge graph snapshot corrupt, starting empty", "location", loc, "err", err)
		return false
	}
	if err := s.Import(snap); err != nil {
		s.Reset()
		logger.Warn("Knowledge graph snapshot rejected, starting empty", "location", loc, "err", err)
		return false
	}

	logger.Info("Loaded knowledge graph", "location", loc, "nodes", s.NodeCount(), "edges", s.EdgeCount())
	return true
}

// FileSnapshots keeps the snapshot in a single file. Writes go to a temp file
// in the same directory that is renamed over the target.
type FileSnapshots struct {
	Path string
}

func NewFileSnapshots(path string) *FileSnapshots {
	return &FileSnapshots{Path: path}
}

func (f *FileSnapshots) Location() string { return f.Path }

func (f *FileSnapshots) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(f.Path)
}

func (f *FileSnapshots) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.Path)
}

// ObjectStore is the subset of an object storage bucket snapshots need.
// Get must wrap fs.ErrNotExist when the key is absent.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Name() string
}

// ObjectSnapshots keeps the snapshot under one key of an object store.
type ObjectSnapshots struct {
	Store ObjectStore
	Key   string
}

func NewObjectSnapshots(store ObjectStore, key string) *ObjectSnapshots {
	return &ObjectSnapshots{Store: store, Key: key}
}

func (o *ObjectSnapshots) Location() string {
	return fmt.Sprintf("s3://%s/%s", o.Store.Name(), o.Key)
}

func (o *ObjectSnapshots) Load(ctx context.Context) ([]byte, error) {
	return o.Store.Get(ctx, o.Key)
}

func (o *ObjectSnapshots) Save(ctx context.Context, data []byte) error {
	return o.Store.Put(ctx, o.Key, data, "application/json")
}
