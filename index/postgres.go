package index

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore keeps records in a pgvector-backed table. Persistence is
// the database itself, so the whole-directory save/load cycle of the
// local store does not apply.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	return pool, nil
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the pgvector extension, the chunk table, and the
// ivfflat search index.
func (s *PostgresStore) EnsureSchema(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS quarry_chunks (
			id UUID PRIMARY KEY,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			inserted_at BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, dimension),
		"CREATE INDEX IF NOT EXISTS idx_quarry_chunks_embedding ON quarry_chunks USING ivfflat (embedding vector_l2_ops)",
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, records []Record) error {
	if s.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	var next int64
	if err := s.pool.QueryRow(ctx, "SELECT COALESCE(MAX(inserted_at), 0) FROM quarry_chunks").Scan(&next); err != nil {
		return fmt.Errorf("query insertion counter: %w", err)
	}

	for _, rec := range records {
		next++
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO quarry_chunks (id, source, content, embedding, inserted_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				source = EXCLUDED.source,
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding
		`, rec.ID, rec.Chunk.Source, rec.Chunk.Text, pgvector.NewVector(rec.Vector), next); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}

	return nil
}

func (s *PostgresStore) Search(ctx context.Context, vector []float32, k int) ([]Chunk, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	if k <= 0 {
		return nil, nil
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	probes := k * 10
	if probes < 10 {
		probes = 10
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET ivfflat.probes = %d", probes)); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}

	// inserted_at breaks distance ties, keeping repeated identical
	// queries stable.
	rows, err := conn.Query(ctx, `
        SELECT content, source
        FROM quarry_chunks
        ORDER BY embedding <-> $1::vector, inserted_at
        LIMIT $2
    `, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	results := make([]Chunk, 0, k)
	for rows.Next() {
		var ch Chunk
		if err := rows.Scan(&ch.Text, &ch.Source); err != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", err)
		}
		results = append(results, ch)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return results, nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if _, err := s.pool.Exec(ctx, "TRUNCATE quarry_chunks"); err != nil {
		return fmt.Errorf("truncate quarry_chunks: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
