// Package vectorstore persists frame embeddings in PostgreSQL with pgvector
// and answers similarity queries over them. The vector index is optional
// infrastructure: jobs complete without it, they just lose semantic search.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/clipsight/clipsight/internal/config"
)

// FrameVector is one frame embedding with its retrieval payload.
type FrameVector struct {
	FrameID     string
	JobID       string
	FrameNumber int
	Timestamp   float64
	Description string
	Embedding   []float32
}

// Match is one similarity search hit, most similar first.
type Match struct {
	FrameVector
	// Distance is the cosine distance to the query vector, in [0,2].
	Distance float64
}

// Store is the pgvector-backed frame embedding index.
// All methods are safe for concurrent use.
type Store struct {
	pool      *pgxpool.Pool
	dimension int
	logger    *slog.Logger
}

// New connects to the vector database, registers pgvector types on every
// connection, and ensures the schema exists.
func New(ctx context.Context, cfg config.VectorConfig, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: parse dsn: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("vectorstore: ping: %w", err)
	}

	s := &Store{pool: pool, dimension: cfg.Dimension, logger: log.With(slog.String("component", "vectorstore"))}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("vector store ready", slog.Int("dimension", cfg.Dimension))
	return s, nil
}

// EnsureSchema creates the extension, table, and indexes. Idempotent and
// safe to run on every start. The embedding dimension is baked into the
// column type; changing it later needs a manual migration.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS frame_vectors (
    frame_id     TEXT         PRIMARY KEY,
    job_id       TEXT         NOT NULL,
    frame_number INTEGER      NOT NULL,
    timestamp    DOUBLE PRECISION NOT NULL DEFAULT 0,
    description  TEXT         NOT NULL DEFAULT '',
    embedding    vector(%d),
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_frame_vectors_job_id
    ON frame_vectors (job_id);

CREATE INDEX IF NOT EXISTS idx_frame_vectors_embedding
    ON frame_vectors USING hnsw (embedding vector_cosine_ops);
`, s.dimension)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("vectorstore: ensure schema: %w", err)
	}
	return nil
}

// UpsertFrameVectors writes a batch of frame embeddings, replacing any
// existing row with the same frame id. Vectors whose length does not match
// the configured dimension are rejected before touching the database.
func (s *Store) UpsertFrameVectors(ctx context.Context, vectors []FrameVector) error {
	if len(vectors) == 0 {
		return nil
	}
	for _, v := range vectors {
		if len(v.Embedding) != s.dimension {
			return fmt.Errorf("vectorstore: frame %s: embedding has %d dimensions, want %d",
				v.FrameID, len(v.Embedding), s.dimension)
		}
	}

	const q = `
		INSERT INTO frame_vectors
		    (frame_id, job_id, frame_number, timestamp, description, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (frame_id) DO UPDATE SET
		    job_id       = EXCLUDED.job_id,
		    frame_number = EXCLUDED.frame_number,
		    timestamp    = EXCLUDED.timestamp,
		    description  = EXCLUDED.description,
		    embedding    = EXCLUDED.embedding`

	batch := &pgx.Batch{}
	for _, v := range vectors {
		batch.Queue(q, v.FrameID, v.JobID, v.FrameNumber, v.Timestamp, v.Description,
			pgvector.NewVector(v.Embedding))
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range vectors {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("vectorstore: upsert frame vectors: %w", err)
		}
	}
	return nil
}

// SearchSimilar returns the topK frames closest to the query embedding by
// cosine distance. When jobID is non-empty, the search is scoped to that
// job's frames.
func (s *Store) SearchSimilar(ctx context.Context, embedding []float32, topK int, jobID string) ([]Match, error) {
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("vectorstore: query embedding has %d dimensions, want %d",
			len(embedding), s.dimension)
	}
	if topK <= 0 {
		topK = 10
	}

	args := []any{pgvector.NewVector(embedding)}
	where := ""
	if jobID != "" {
		args = append(args, jobID)
		where = "WHERE job_id = $2"
	}
	args = append(args, topK)

	q := fmt.Sprintf(`
		SELECT frame_id, job_id, frame_number, timestamp, description, embedding,
		       embedding <=> $1 AS distance
		FROM   frame_vectors
		%s
		ORDER  BY distance
		LIMIT  $%d`, where, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Match, error) {
		var (
			m   Match
			vec pgvector.Vector
		)
		if err := row.Scan(&m.FrameID, &m.JobID, &m.FrameNumber, &m.Timestamp,
			&m.Description, &vec, &m.Distance); err != nil {
			return Match{}, err
		}
		m.Embedding = vec.Slice()
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: scan rows: %w", err)
	}
	if matches == nil {
		matches = []Match{}
	}
	return matches, nil
}

// DeleteByJobID removes all vectors belonging to a job.
func (s *Store) DeleteByJobID(ctx context.Context, jobID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM frame_vectors WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("vectorstore: delete job vectors: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
