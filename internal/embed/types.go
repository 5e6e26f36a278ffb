// Package embed generates dense vector embeddings for chunk text.
// Backends are external services behind the Embedder interface; the static
// backend exists for tests and offline operation.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants.
const (
	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion).
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultTimeout is the default timeout for an embedding request.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3

	// DefaultDimensions matches nomic-embed-text.
	DefaultDimensions = 768

	// StaticDimensions is the dimension of the static hash embedder.
	StaticDimensions = 256
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// NormalizeVector normalizes a vector to unit length so that inner product
// equals cosine similarity. Query vectors and stored vectors must both pass
// through this.
func NormalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
