package index

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/quarrydocs/quarry/embeddings"
)

type stubEmbedder struct {
	vectors [][]float32
	err     error
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.vectors != nil {
		return s.vectors, nil
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1, 0}
	}
	return out, nil
}

func (s *stubEmbedder) Identity() embeddings.Identity {
	return embeddings.Identity{Provider: "stub", Model: "stub-3d", Dimension: 3}
}

var _ embeddings.Embedder = (*stubEmbedder)(nil)

func discard() *log.Logger { return log.New(io.Discard, "", 0) }

func TestBuildEmptyCorpusReturnsSentinel(t *testing.T) {
	store := NewLocalStore(embeddings.Identity{Dimension: 3})
	mgr := NewManager(&stubEmbedder{}, store, discard())

	err := mgr.Build(context.Background(), nil)
	if !errors.Is(err, ErrNoChunks) {
		t.Fatalf("expected ErrNoChunks, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d records", store.Len())
	}
}

func TestBuildPopulatesStore(t *testing.T) {
	store := NewLocalStore(embeddings.Identity{Dimension: 3})
	mgr := NewManager(&stubEmbedder{}, store, discard())

	chunks := []Chunk{
		{Text: "alpha", Source: "a.txt"},
		{Text: "beta", Source: "b.txt"},
	}
	if err := mgr.Build(context.Background(), chunks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", store.Len())
	}
}

func TestBuildReplacesExistingRecords(t *testing.T) {
	store := NewLocalStore(embeddings.Identity{Dimension: 3})
	mgr := NewManager(&stubEmbedder{}, store, discard())

	first := []Chunk{{Text: "one", Source: "a.txt"}, {Text: "two", Source: "a.txt"}}
	if err := mgr.Build(context.Background(), first); err != nil {
		t.Fatalf("first build: %v", err)
	}
	second := []Chunk{{Text: "three", Source: "b.txt"}}
	if err := mgr.Build(context.Background(), second); err != nil {
		t.Fatalf("second build: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("rebuild should replace contents wholesale, got %d records", store.Len())
	}
}

func TestSearchRanksAndLimits(t *testing.T) {
	store := NewLocalStore(embeddings.Identity{Dimension: 2})
	records := []Record{
		{Chunk: Chunk{Text: "east", Source: "d1"}, Vector: []float32{1, 0}},
		{Chunk: Chunk{Text: "north", Source: "d2"}, Vector: []float32{0, 1}},
		{Chunk: Chunk{Text: "northeast", Source: "d3"}, Vector: []float32{1, 1}},
	}
	if err := store.Upsert(context.Background(), records); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	results, err := store.Search(context.Background(), []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Text != "east" {
		t.Fatalf("expected best match 'east', got %q", results[0].Text)
	}

	// Asking for more than the store holds is not an error.
	results, err = store.Search(context.Background(), []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("search with oversized k: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected all 3 results, got %d", len(results))
	}
}

func TestSearchTiesStableInInsertionOrder(t *testing.T) {
	store := NewLocalStore(embeddings.Identity{Dimension: 2})
	records := []Record{
		{Chunk: Chunk{Text: "first", Source: "d1"}, Vector: []float32{1, 0}},
		{Chunk: Chunk{Text: "second", Source: "d2"}, Vector: []float32{2, 0}},
		{Chunk: Chunk{Text: "third", Source: "d3"}, Vector: []float32{3, 0}},
	}
	if err := store.Upsert(context.Background(), records); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// All three vectors are colinear with the query, so every score
	// ties; insertion order must decide.
	for run := 0; run < 3; run++ {
		results, err := store.Search(context.Background(), []float32{1, 0}, 3)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if results[0].Text != "first" || results[1].Text != "second" || results[2].Text != "third" {
			t.Fatalf("run %d: unstable tie order: %v", run, results)
		}
	}
}

func TestSaveOpenRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vector_store")
	identity := embeddings.Identity{Provider: "stub", Model: "stub-3d", Dimension: 3}

	store := NewLocalStore(identity)
	mgr := NewManager(&stubEmbedder{}, store, discard())
	chunks := []Chunk{
		{Text: "alpha paragraph", Source: "a.txt"},
		{Text: "beta paragraph", Source: "b.txt"},
	}
	if err := mgr.Build(context.Background(), chunks); err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := store.Save(dir); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := OpenLocal(dir, identity, discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("expected 2 records after load, got %d", loaded.Len())
	}

	results, err := loaded.Search(context.Background(), []float32{15, 1, 0}, 1)
	if err != nil {
		t.Fatalf("search after load: %v", err)
	}
	if len(results) != 1 || results[0].Source == "" {
		t.Fatalf("unexpected search results after load: %v", results)
	}
}

func TestOpenMissingDirectory(t *testing.T) {
	_, err := OpenLocal(filepath.Join(t.TempDir(), "nope"), embeddings.Identity{}, discard())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenDimensionMismatch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vector_store")
	store := NewLocalStore(embeddings.Identity{Provider: "stub", Model: "stub-3d", Dimension: 3})
	rec := Record{Chunk: Chunk{Text: "x", Source: "a"}, Vector: []float32{1, 2, 3}}
	if err := store.Upsert(context.Background(), []Record{rec}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.Save(dir); err != nil {
		t.Fatalf("save: %v", err)
	}

	_, err := OpenLocal(dir, embeddings.Identity{Provider: "stub", Model: "stub-8d", Dimension: 8}, discard())
	if err == nil {
		t.Fatal("expected error for dimension mismatch")
	}
}
