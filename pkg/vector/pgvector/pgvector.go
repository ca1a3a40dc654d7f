// Package pgvector stores chunk embeddings in Postgres using the pgvector
// extension and lets the database rank them by cosine distance.
package pgvector

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/OFFIS-RIT/kiwi-support/backend/internal/util"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/vector"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/vector/pgvector/migrations"
)

const DefaultCollection = "company_docs"

// Index is a vector.Index backed by a pgxpool.
type Index struct {
	pool       *pgxpool.Pool
	collection string
	embedder   ai.Embedder
	ownsPool   bool
}

var _ vector.Index = (*Index)(nil)

// Migrate applies the embedded schema to the database at databaseURL.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("initialising migrate: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	version, dirty, _ := m.Version()
	logger.Debug("Database schema ready", "version", version, "dirty", dirty)
	return nil
}

// NewPool opens a pool whose connections know the vector type.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// New wraps an existing pool. The caller keeps ownership of pool.
func New(pool *pgxpool.Pool, collection string, embedder ai.Embedder) *Index {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Index{pool: pool, collection: collection, embedder: embedder}
}

// Open migrates the schema, connects and returns an index that closes its
// pool on Close.
func Open(ctx context.Context, databaseURL string, collection string, embedder ai.Embedder) (*Index, error) {
	if err := Migrate(databaseURL); err != nil {
		return nil, err
	}
	pool, err := NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	x := New(pool, collection, embedder)
	x.ownsPool = true
	return x, nil
}

// Pool exposes the connection pool, e.g. for lease locks.
func (x *Index) Pool() *pgxpool.Pool { return x.pool }

func (x *Index) Close() error {
	if x.ownsPool {
		x.pool.Close()
	}
	return nil
}

const upsertSQL = `
INSERT INTO kb_chunks (collection, id, text, file, chunk_id, embedding)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (collection, id) DO UPDATE
SET text = EXCLUDED.text,
    file = EXCLUDED.file,
    chunk_id = EXCLUDED.chunk_id,
    embedding = EXCLUDED.embedding,
    updated_at = now();
`

const querySQL = `
SELECT id, text, file, chunk_id, embedding <=> $2 AS distance
FROM kb_chunks
WHERE collection = $1 AND vector_dims(embedding) = $4
ORDER BY distance, id
LIMIT $3;
`

func (x *Index) Upsert(ctx context.Context, id string, text string, meta vector.Metadata, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("upsert %s: empty embedding", id)
	}
	_, err := x.pool.Exec(ctx, upsertSQL,
		x.collection,
		id,
		util.SanitizePostgresText(text),
		util.SanitizePostgresText(meta.File),
		meta.ChunkID,
		pgv.NewVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", id, err)
	}
	return nil
}

func (x *Index) Query(ctx context.Context, text string, k int) (vector.QueryResult, error) {
	if k <= 0 {
		return vector.QueryResult{}, nil
	}
	n, err := x.Count(ctx)
	if err != nil || n == 0 {
		return vector.QueryResult{}, err
	}

	q, err := vector.EmbedQuery(ctx, x.embedder, text)
	if err != nil {
		return vector.QueryResult{}, err
	}

	rows, err := x.pool.Query(ctx, querySQL, x.collection, pgv.NewVector(q), k, len(q))
	if err != nil {
		return vector.QueryResult{}, fmt.Errorf("nearest chunks: %w", err)
	}
	defer rows.Close()

	var res vector.QueryResult
	for rows.Next() {
		var (
			id, doc string
			meta    vector.Metadata
			dist    float64
		)
		if err := rows.Scan(&id, &doc, &meta.File, &meta.ChunkID, &dist); err != nil {
			return vector.QueryResult{}, fmt.Errorf("reading chunk: %w", err)
		}
		res.IDs = append(res.IDs, id)
		res.Documents = append(res.Documents, doc)
		res.Metadatas = append(res.Metadatas, meta)
		res.Distances = append(res.Distances, dist)
	}
	return res, rows.Err()
}

func (x *Index) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := x.pool.Query(ctx, "SELECT id FROM kb_chunks WHERE collection = $1 ORDER BY id", x.collection)
	if err != nil {
		return nil, fmt.Errorf("listing ids: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (x *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := x.pool.Exec(ctx, "DELETE FROM kb_chunks WHERE collection = $1 AND id = ANY($2)", x.collection, ids)
	if err != nil {
		return fmt.Errorf("deleting %d chunks: %w", len(ids), err)
	}
	return nil
}

func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.pool.QueryRow(ctx, "SELECT COUNT(*) FROM kb_chunks WHERE collection = $1", x.collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}
