// Package store provides the index backends: a BM25 keyword index (Bleve)
// and vector stores (coder/hnsw, chromem-go). Stores hold index entries by
// chunk ID; they never own the chunk lifecycle.
package store

import (
	"context"
	"fmt"
)

// Document is a unit to be indexed in the keyword index.
type Document struct {
	ID   string // chunk ID
	Text string // chunk text
}

// BM25Result is a single keyword search result.
type BM25Result struct {
	ID           string
	Score        float64
	MatchedTerms []string
}

// BM25Config parameterizes keyword scoring.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.2).
	K1 float64

	// B is the length normalization parameter (default: 0.75).
	B float64
}

// DefaultBM25Config returns default BM25 parameters.
func DefaultBM25Config() BM25Config {
	return BM25Config{K1: 1.2, B: 0.75}
}

// BM25Index provides keyword search over chunk text.
type BM25Index interface {
	// Index adds documents to the index.
	Index(ctx context.Context, docs []*Document) error

	// Search returns documents matching query, scored by BM25.
	// An empty query yields an empty result list, not an error.
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)

	// Delete removes documents from the index.
	Delete(ctx context.Context, ids []string) error

	// DocCount returns the number of indexed documents.
	DocCount() int

	// Close releases resources.
	Close() error
}

// VectorResult is a single vector search result.
type VectorResult struct {
	ID       string  // chunk ID
	Distance float32 // cosine distance, 0 (identical) to 2 (opposite)
	Score    float32 // normalized similarity, 0-1
}

// VectorStoreConfig configures a vector store.
type VectorStoreConfig struct {
	// Dimensions is the fixed vector dimension D.
	Dimensions int

	// M is HNSW max connections per layer (hnsw backend only).
	M int

	// EfSearch is HNSW query-time search width (hnsw backend only).
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   32,
	}
}

// VectorStore provides nearest-neighbor search by cosine similarity.
// Vectors must be L2-normalized by the caller before Add and Search; the
// stores additionally normalize defensively where cheap.
type VectorStore interface {
	// Add inserts vectors with their IDs. An existing ID is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds the k nearest neighbors to the query vector, in
	// descending similarity order.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by ID.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of vectors.
	Count() int

	// Save persists the index to path. Backends that persist writes
	// continuously treat this as a flush.
	Save(path string) error

	// Load restores the index from path.
	Load(path string) error

	// Close releases resources.
	Close() error
}

// ErrDimensionMismatch indicates a vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
