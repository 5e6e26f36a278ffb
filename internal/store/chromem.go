package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

const chromemCollection = "chunks"

// ChromemStore implements VectorStore using chromem-go. Embeddings are
// precomputed by the caller, so the collection's embedding func is never
// invoked and is a stub that fails loudly if it ever is.
type ChromemStore struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	config     VectorStoreConfig
	closed     bool
}

// Verify interface implementation at compile time
var _ VectorStore = (*ChromemStore)(nil)

func noEmbedFunc(_ context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embedding func called for %q; embeddings must be precomputed", text)
}

// NewChromemStore creates an in-memory chromem-go vector store.
func NewChromemStore(cfg VectorStoreConfig) (*ChromemStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", cfg.Dimensions)
	}

	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection(chromemCollection, nil, noEmbedFunc)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &ChromemStore{
		db:         db,
		collection: col,
		config:     cfg,
	}, nil
}

// Add inserts vectors with their IDs. chromem-go upserts by document ID.
func (s *ChromemStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	docs := make([]chromem.Document, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(vectors[i])}
		}
		docs[i] = chromem.Document{
			ID:        id,
			Content:   id, // content lives in the chunk store, not here
			Embedding: vectors[i],
		}
	}

	return s.collection.AddDocuments(ctx, docs, 1)
}

// Search finds the k nearest neighbors to the query vector.
func (s *ChromemStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}

	// chromem-go requires nResults <= collection size.
	count := s.collection.Count()
	if count == 0 {
		return []*VectorResult{}, nil
	}
	if k > count {
		k = count
	}

	results, err := s.collection.QueryEmbedding(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	out := make([]*VectorResult, len(results))
	for i, r := range results {
		// chromem reports cosine similarity in [-1, 1].
		out[i] = &VectorResult{
			ID:       r.ID,
			Distance: 1.0 - r.Similarity,
			Score:    (r.Similarity + 1.0) / 2.0,
		}
	}
	return out, nil
}

// Delete removes vectors by ID.
func (s *ChromemStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	return s.collection.Delete(ctx, nil, nil, ids...)
}

// Count returns the number of vectors.
func (s *ChromemStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	return s.collection.Count()
}

// Save exports the database to a compressed gob file.
func (s *ChromemStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	return s.db.ExportToFile(path, true, "")
}

// Load imports the database from a compressed gob file.
func (s *ChromemStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if err := s.db.ImportFromFile(path, ""); err != nil {
		return fmt.Errorf("import from file: %w", err)
	}

	// Re-acquire collection reference after import.
	col := s.db.GetCollection(chromemCollection, noEmbedFunc)
	if col == nil {
		return fmt.Errorf("collection %q not found after import", chromemCollection)
	}
	s.collection = col
	return nil
}

// Close releases resources.
func (s *ChromemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
