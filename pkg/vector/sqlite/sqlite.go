// Package sqlite persists the vector index in a local SQLite file and ranks
// chunks with an exact cosine scan.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/vector"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/vector/sqlite/migrations"
)

// DefaultCollection is used when no collection name is given.
const DefaultCollection = "company_docs"

// Index is a vector.Index backed by SQLite.
type Index struct {
	db         *sql.DB
	path       string
	collection string
	embedder   ai.Embedder
}

var _ vector.Index = (*Index)(nil)

// Open opens (or creates) the database at path and applies pending migrations.
func Open(path string, collection string, embedder ai.Embedder) (*Index, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	x := &Index{db: db, path: path, collection: collection, embedder: embedder}
	if err := x.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return x, nil
}

// Path returns the database file path.
func (x *Index) Path() string { return x.path }

func (x *Index) Close() error { return x.db.Close() }

func (x *Index) migrate(fsys fs.FS) error {
	_, err := x.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := x.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := x.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := x.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

func (x *Index) Upsert(ctx context.Context, id string, text string, meta vector.Metadata, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("upsert %s: empty embedding", id)
	}
	_, err := x.db.ExecContext(ctx, `
		INSERT INTO chunks (collection, id, text, file, chunk_id, dim, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			text = excluded.text,
			file = excluded.file,
			chunk_id = excluded.chunk_id,
			dim = excluded.dim,
			embedding = excluded.embedding,
			updated_at = CURRENT_TIMESTAMP
	`, x.collection, id, text, meta.File, meta.ChunkID, len(embedding), float32SliceToBytes(embedding))
	if err != nil {
		return fmt.Errorf("upsert %s: %w", id, err)
	}
	return nil
}

func (x *Index) Query(ctx context.Context, text string, k int) (vector.QueryResult, error) {
	n, err := x.Count(ctx)
	if err != nil || n == 0 {
		return vector.QueryResult{}, err
	}

	q, err := vector.EmbedQuery(ctx, x.embedder, text)
	if err != nil {
		return vector.QueryResult{}, err
	}

	rows, err := x.db.QueryContext(ctx, `
		SELECT id, text, file, chunk_id, embedding FROM chunks
		WHERE collection = ? AND dim = ?
	`, x.collection, len(q))
	if err != nil {
		return vector.QueryResult{}, fmt.Errorf("scanning chunks: %w", err)
	}
	defer rows.Close()

	candidates := make([]vector.Record, 0, n)
	for rows.Next() {
		var rec vector.Record
		var blob []byte
		if err := rows.Scan(&rec.ID, &rec.Text, &rec.Metadata.File, &rec.Metadata.ChunkID, &blob); err != nil {
			return vector.QueryResult{}, fmt.Errorf("reading chunk: %w", err)
		}
		rec.Embedding = bytesToFloat32Slice(blob)
		candidates = append(candidates, rec)
	}
	if err := rows.Err(); err != nil {
		return vector.QueryResult{}, err
	}
	if len(candidates) == 0 {
		return vector.QueryResult{}, fmt.Errorf("%w: no chunks with %d dimensions", vector.ErrDimensionMismatch, len(q))
	}

	return vector.Nearest(q, candidates, k)
}

func (x *Index) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := x.db.QueryContext(ctx, "SELECT id FROM chunks WHERE collection = ? ORDER BY id", x.collection)
	if err != nil {
		return nil, fmt.Errorf("listing ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (x *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, "DELETE FROM chunks WHERE collection = ? AND id = ?")
	if err != nil {
		return errors.Join(err, tx.Rollback())
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, x.collection, id); err != nil {
			return errors.Join(fmt.Errorf("delete %s: %w", id, err), tx.Rollback())
		}
	}
	return tx.Commit()
}

func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := x.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE collection = ?", x.collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

func float32SliceToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32Slice(data []byte) []float32 {
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
