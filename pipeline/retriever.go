package pipeline

import (
	"context"
	"fmt"

	"github.com/quarrydocs/quarry/embeddings"
	"github.com/quarrydocs/quarry/index"
)

// Retriever embeds a query and fetches the closest chunks from the
// index. It never mutates index contents. The caller is responsible for
// querying with the same embedding provider the index was built with.
type Retriever struct {
	embedder embeddings.Embedder
	store    index.Store
}

func NewRetriever(embedder embeddings.Embedder, store index.Store) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve returns up to k chunks ranked by descending similarity to
// query. An index holding fewer than k chunks is not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]index.Chunk, error) {
	if r.embedder == nil {
		return nil, fmt.Errorf("embedder is not configured")
	}
	if r.store == nil {
		return nil, fmt.Errorf("index store is not configured")
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}

	chunks, err := r.store.Search(ctx, vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return chunks, nil
}
