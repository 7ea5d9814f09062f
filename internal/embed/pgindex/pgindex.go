// Package pgindex is a Postgres+pgvector-backed embedding index, an
// alternative to the on-disk sessions/<id>/embeddings.json index. No other
// package in this module imports it, and the search.backend config value
// does not select it.
package pgindex

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/oraculovoz/oraculo/pkg/types"
)

const ddl = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS session_embeddings (
    session_id   TEXT        PRIMARY KEY,
    chat_id      BIGINT      NOT NULL,
    model        TEXT        NOT NULL,
    source_hash  TEXT        NOT NULL,
    embedding    vector(%d)  NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_session_embeddings_chat_id
    ON session_embeddings (chat_id);

CREATE INDEX IF NOT EXISTS idx_session_embeddings_vector
    ON session_embeddings USING hnsw (embedding vector_cosine_ops);
`

// Index is a Postgres-backed EmbeddingRecord store with pgvector HNSW
// nearest-neighbour search.
type Index struct {
	pool       *pgxpool.Pool
	dimensions int
}

// Open connects to dsn and ensures the schema exists for the given vector
// dimensionality. dimensions must match the configured embedding model;
// changing it later requires a manual schema migration, since Migrate only
// creates a table and indexes that do not exist yet.
func Open(ctx context.Context, dsn string, dimensions int) (*Index, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgindex: connect: %w", err)
	}
	idx := &Index{pool: pool, dimensions: dimensions}
	if err := idx.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

// Migrate creates the session_embeddings table and its indexes if they do
// not already exist. Idempotent and safe to call on every startup.
func (idx *Index) Migrate(ctx context.Context) error {
	if _, err := idx.pool.Exec(ctx, fmt.Sprintf(ddl, idx.dimensions)); err != nil {
		return fmt.Errorf("pgindex: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (idx *Index) Close() {
	idx.pool.Close()
}

// Upsert persists (or replaces) one session's embedding record.
func (idx *Index) Upsert(ctx context.Context, chatID int64, record types.EmbeddingRecord) error {
	const q = `
		INSERT INTO session_embeddings (session_id, chat_id, model, source_hash, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE SET
		    chat_id     = EXCLUDED.chat_id,
		    model       = EXCLUDED.model,
		    source_hash = EXCLUDED.source_hash,
		    embedding   = EXCLUDED.embedding,
		    created_at  = EXCLUDED.created_at`

	vec := pgvector.NewVector(record.Vector)
	_, err := idx.pool.Exec(ctx, q, record.SessionID, chatID, record.Model, record.SourceTextHash, vec, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("pgindex: upsert: %w", err)
	}
	return nil
}

// Match is one nearest-neighbour hit from Search, carrying the raw cosine
// distance alongside the session id so the caller can derive a [0,1]
// relevance score.
type Match struct {
	SessionID string
	Distance  float64
	CreatedAt string
}

// Search returns the topK sessions for chatID whose embeddings are closest
// (cosine distance) to queryVector, ordered by ascending distance.
func (idx *Index) Search(ctx context.Context, chatID int64, queryVector []float32, topK int) ([]Match, error) {
	const q = `
		SELECT session_id, embedding <=> $1 AS distance, created_at
		FROM   session_embeddings
		WHERE  chat_id = $2
		ORDER  BY distance
		LIMIT  $3`

	rows, err := idx.pool.Query(ctx, q, pgvector.NewVector(queryVector), chatID, topK)
	if err != nil {
		return nil, fmt.Errorf("pgindex: search: %w", err)
	}
	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Match, error) {
		var m Match
		var createdAt any
		if err := row.Scan(&m.SessionID, &m.Distance, &createdAt); err != nil {
			return Match{}, err
		}
		m.CreatedAt = fmt.Sprint(createdAt)
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pgindex: scan rows: %w", err)
	}
	return matches, nil
}

// Delete removes a session's embedding record.
func (idx *Index) Delete(ctx context.Context, sessionID string) error {
	if _, err := idx.pool.Exec(ctx, `DELETE FROM session_embeddings WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("pgindex: delete: %w", err)
	}
	return nil
}
