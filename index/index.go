// Package index builds, persists, and queries the vector index. A build
// always starts from an empty store; there is no incremental mode, which
// is the documented scaling ceiling of this design. The Store interface
// nonetheless exposes Upsert so a delta mode can be added without
// changing callers.
package index

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/quarrydocs/quarry/embeddings"
)

// ErrNoChunks is returned by Build when the corpus produced nothing to
// index. Callers treat it as "nothing to index", not a failure.
var ErrNoChunks = errors.New("no chunks to index")

// ErrNotFound is returned when a persisted index directory does not
// exist at query time.
var ErrNotFound = errors.New("index not found")

// Chunk is the unit of retrieval: a piece of text and the document it
// came from.
type Chunk struct {
	Text   string
	Source string
}

// Record is a chunk with its embedding, owned by the store once
// upserted.
type Record struct {
	ID     uuid.UUID
	Chunk  Chunk
	Vector []float32
}

// Store persists records and answers nearest-neighbor queries. Search
// returns at most k chunks ranked by descending similarity; ties are
// stable in insertion order.
type Store interface {
	Upsert(ctx context.Context, records []Record) error
	Search(ctx context.Context, vector []float32, k int) ([]Chunk, error)
	Clear(ctx context.Context) error
}

// Manager drives index construction: it embeds chunk texts and hands the
// records to the configured store.
type Manager struct {
	embedder embeddings.Embedder
	store    Store
	logger   *log.Logger
}

func NewManager(embedder embeddings.Embedder, store Store, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{embedder: embedder, store: store, logger: logger}
}

// Build embeds every chunk and replaces the store's contents wholesale.
// An empty chunk list yields ErrNoChunks.
func (m *Manager) Build(ctx context.Context, chunks []Chunk) error {
	if m.embedder == nil {
		return fmt.Errorf("embedder not configured")
	}
	if m.store == nil {
		return fmt.Errorf("store not configured")
	}
	if len(chunks) == 0 {
		return ErrNoChunks
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	vectors, err := m.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: have %d chunks, %d vectors", len(chunks), len(vectors))
	}

	records := make([]Record, len(chunks))
	for i := range chunks {
		records[i] = Record{ID: uuid.New(), Chunk: chunks[i], Vector: vectors[i]}
	}

	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	if err := m.store.Upsert(ctx, records); err != nil {
		return fmt.Errorf("upsert records: %w", err)
	}

	m.logger.Printf("indexed %d chunks with %s", len(records), m.embedder.Identity())
	return nil
}
