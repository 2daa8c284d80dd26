package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quarrydocs/quarry/embeddings"
)

const (
	manifestFile = "manifest.json"
	recordsFile  = "records.json"
)

// manifest tags a persisted index with the embedder it was built with so
// a build/query mismatch can be caught at load time.
type manifest struct {
	Embedder  embeddings.Identity `json:"embedder"`
	Count     int                 `json:"count"`
	CreatedAt time.Time           `json:"created_at"`
}

type storedRecord struct {
	ID     uuid.UUID `json:"id"`
	Source string    `json:"source"`
	Text   string    `json:"text"`
	Vector []float32 `json:"vector"`
}

// LocalStore is a file-persisted vector store using brute-force cosine
// similarity. Reads are safe for concurrent use.
type LocalStore struct {
	mu       sync.RWMutex
	identity embeddings.Identity
	records  []storedRecord
}

func NewLocalStore(identity embeddings.Identity) *LocalStore {
	return &LocalStore{identity: identity}
}

func (s *LocalStore) Upsert(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if s.identity.Dimension > 0 && len(rec.Vector) != s.identity.Dimension {
			return fmt.Errorf("vector dimension mismatch: expected %d, got %d", s.identity.Dimension, len(rec.Vector))
		}
		s.records = append(s.records, storedRecord{
			ID:     rec.ID,
			Source: rec.Chunk.Source,
			Text:   rec.Chunk.Text,
			Vector: rec.Vector,
		})
	}
	return nil
}

func (s *LocalStore) Search(_ context.Context, vector []float32, k int) ([]Chunk, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	scores := make([]float64, len(s.records))
	order := make([]int, len(s.records))
	for i := range s.records {
		scores[i] = cosine(vector, s.records[i].Vector)
		order[i] = i
	}

	// Stable sort keeps ties in insertion order, so repeated identical
	// queries always return the same ranking.
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	if k > len(order) {
		k = len(order)
	}
	results := make([]Chunk, 0, k)
	for _, idx := range order[:k] {
		rec := s.records[idx]
		results = append(results, Chunk{Text: rec.Text, Source: rec.Source})
	}
	return results, nil
}

func (s *LocalStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	return nil
}

// Len reports how many records the store holds.
func (s *LocalStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Save serializes the whole store into dir. The write goes to a
// temporary sibling directory first and is swapped in with a rename, so
// a crash mid-save never leaves a half-written index behind.
func (s *LocalStore) Save(dir string) error {
	s.mu.RLock()
	m := manifest{Embedder: s.identity, Count: len(s.records), CreatedAt: time.Now().UTC()}
	manifestData, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		s.mu.RUnlock()
		return fmt.Errorf("marshal manifest: %w", err)
	}
	recordsData, err := json.Marshal(s.records)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}

	tmp := dir + ".tmp"
	if err := os.RemoveAll(tmp); err != nil {
		return fmt.Errorf("clean temp dir: %w", err)
	}
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, manifestFile), manifestData, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, recordsFile), recordsData, 0o644); err != nil {
		return fmt.Errorf("write records: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("replace index dir: %w", err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		return fmt.Errorf("swap index dir: %w", err)
	}
	return nil
}

// OpenLocal loads a persisted index from dir. A missing directory yields
// ErrNotFound; corrupt contents are fatal for the call. The manifest's
// embedder identity is checked against active: a dimension mismatch is
// an error, while a differing provider or model only logs a warning,
// since users may legitimately re-point at an API-compatible host.
func OpenLocal(dir string, active embeddings.Identity, logger *log.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = log.Default()
	}

	manifestData, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(manifestData, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	if active.Dimension > 0 && m.Embedder.Dimension > 0 && active.Dimension != m.Embedder.Dimension {
		return nil, fmt.Errorf("index built with dimension %d but embedder produces %d", m.Embedder.Dimension, active.Dimension)
	}
	if active.Provider != "" && (active.Provider != m.Embedder.Provider || active.Model != m.Embedder.Model) {
		logger.Printf("warning: index built with %s, querying with %s", m.Embedder, active)
	}

	recordsData, err := os.ReadFile(filepath.Join(dir, recordsFile))
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}

	store := NewLocalStore(m.Embedder)
	if err := json.Unmarshal(recordsData, &store.records); err != nil {
		return nil, fmt.Errorf("parse records: %w", err)
	}

	if m.Count != len(store.records) {
		return nil, fmt.Errorf("index corrupt: manifest says %d records, found %d", m.Count, len(store.records))
	}

	return store, nil
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var _ Store = (*LocalStore)(nil)
