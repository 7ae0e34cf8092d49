package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Compile-time check that PostgresStore implements VectorStore.
var _ VectorStore = (*PostgresStore)(nil)

const pgSchema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS chunk_vectors (
	id          TEXT PRIMARY KEY,
	entity_id   TEXT NOT NULL,
	category    TEXT NOT NULL,
	filename    TEXT NOT NULL DEFAULT '',
	doc_index   INTEGER NOT NULL DEFAULT 0,
	chunk_index INTEGER NOT NULL DEFAULT 0,
	text_chunk  TEXT NOT NULL,
	embedding   vector NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_chunk_vectors_entity ON chunk_vectors (entity_id, category);
`

// PostgresStore keeps chunks in Postgres and ranks them with pgvector's
// cosine distance operator.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, registers the pgvector types on every
// connection and ensures the chunk_vectors table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating chunk_vectors schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Upsert writes records in one batched transaction.
func (s *PostgresStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, r := range records {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		batch.Queue(`
			INSERT INTO chunk_vectors (id, entity_id, category, filename, doc_index, chunk_index, text_chunk, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				entity_id = EXCLUDED.entity_id, category = EXCLUDED.category, filename = EXCLUDED.filename,
				doc_index = EXCLUDED.doc_index, chunk_index = EXCLUDED.chunk_index,
				text_chunk = EXCLUDED.text_chunk, embedding = EXCLUDED.embedding
		`, r.ID, r.EntityID, r.Category, r.Filename, r.DocIndex, r.ChunkIndex, r.TextChunk,
			pgvector.NewVector(r.Embedding), createdAt)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("batch exec %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("closing batch: %w", err)
	}

	return tx.Commit(ctx)
}

// Query ranks matching chunks by cosine similarity (1 - cosine distance).
func (s *PostgresStore) Query(ctx context.Context, vector []float32, filter Filter, topK int) ([]ScoredRecord, error) {
	terms, err := filter.clauses()
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	args := []any{pgvector.NewVector(vector)}
	where := pgWhere(terms, &args)
	args = append(args, topK)

	rows, err := s.pool.Query(ctx, `
		SELECT id, entity_id, category, filename, doc_index, chunk_index, text_chunk, embedding, created_at,
			1 - (embedding <=> $1) AS score
		FROM chunk_vectors`+where+`
		ORDER BY embedding <=> $1
		LIMIT $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var results []ScoredRecord
	for rows.Next() {
		var r ScoredRecord
		var emb pgvector.Vector
		var score float64
		if err := rows.Scan(&r.ID, &r.EntityID, &r.Category, &r.Filename, &r.DocIndex, &r.ChunkIndex,
			&r.TextChunk, &emb, &r.CreatedAt, &score); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		r.Embedding = emb.Slice()
		r.Score = float32(score)
		results = append(results, r)
	}
	return results, rows.Err()
}

// DeleteByEntity removes all chunks belonging to the entity.
func (s *PostgresStore) DeleteByEntity(ctx context.Context, entityID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chunk_vectors WHERE entity_id = $1`, entityID)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks for %s: %w", entityID, err)
	}
	return int(tag.RowsAffected()), nil
}

// Count returns the number of chunks matching filter.
func (s *PostgresStore) Count(ctx context.Context, filter Filter) (int, error) {
	terms, err := filter.clauses()
	if err != nil {
		return 0, err
	}
	var args []any
	where := pgWhere(terms, &args)

	var count int
	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunk_vectors`+where, args...).Scan(&count)
	return count, err
}

// pgWhere appends the term values to args and returns a WHERE clause using
// numbered placeholders that continue after any existing args.
func pgWhere(terms []filterTerm, args *[]any) string {
	if len(terms) == 0 {
		return ""
	}
	parts := make([]string, len(terms))
	for i, t := range terms {
		*args = append(*args, t.value)
		parts[i] = fmt.Sprintf("%s = $%d", t.column, len(*args))
	}
	return " WHERE " + strings.Join(parts, " AND ")
}
