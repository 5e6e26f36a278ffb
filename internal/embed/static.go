package embed

import (
	"context"
	"hash/fnv"
	"strings"
)

// StaticEmbedder produces deterministic embeddings by hashing tokens into a
// fixed-dimension bag-of-words vector. No external service, no model files.
// It exists for tests and fully offline operation; recall quality is far
// below a real model.
type StaticEmbedder struct {
	dims int
}

// Verify interface implementation at compile time
var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a static embedder with the given dimension.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed hashes each lowercase token into a dimension bucket and normalizes.
// Identical text always yields an identical vector.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)

	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()

		// Sign bit from the hash keeps buckets from only accumulating
		// positive mass, which would make all vectors point the same way.
		idx := int(sum % uint32(e.dims))
		if sum&0x80000000 != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}

	return NormalizeVector(vec), nil
}

// EmbedBatch embeds each text independently.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string {
	return "static-hash"
}

// Available always returns true.
func (e *StaticEmbedder) Available(_ context.Context) bool {
	return true
}

// Close is a no-op.
func (e *StaticEmbedder) Close() error {
	return nil
}
