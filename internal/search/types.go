// Package search provides hybrid retrieval combining keyword (BM25) and
// semantic (vector) search, fused with weighted Reciprocal Rank Fusion.
package search

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/freshkb/freshkb/internal/chunk"
	"github.com/freshkb/freshkb/internal/store"
)

// Weights controls the contribution of each retrieval leg to fusion.
type Weights struct {
	Keyword  float64 // BM25 leg weight
	Semantic float64 // vector leg weight
}

// DefaultWeights favors semantic retrieval, matching the default config.
func DefaultWeights() Weights {
	return Weights{Keyword: 0.3, Semantic: 0.7}
}

// SearchOptions parameterizes a single query.
type SearchOptions struct {
	// Limit is the maximum number of results (top_k). Zero means the
	// engine default.
	Limit int

	// Filters restricts results by chunk metadata. Each key must match
	// one of its allowed values. Applied after fusion.
	Filters map[string][]string

	// Weights overrides the engine's configured weights when non-nil.
	Weights *Weights

	// DisableRerank skips the reranker for this query.
	DisableRerank bool
}

// RetrievalResult is a single ranked result returned to callers.
type RetrievalResult struct {
	ChunkID      string            `json:"chunk_id"`
	SourceID     string            `json:"source_id"`
	Text         string            `json:"text"`
	Score        float64           `json:"score"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	MatchedTerms []string          `json:"matched_terms,omitempty"`
	Reranked     bool              `json:"reranked"`
}

// Generation is one immutable build of both indexes plus the chunk table.
// Readers obtain the current generation through an atomic pointer; a rebuild
// produces a fresh Generation and swaps it in whole, so a reader never sees
// a half-built index pair.
//
// A superseded generation is reference-counted: queries Acquire it for the
// duration of a search, and Retire defers teardown until the last reader
// has Released.
type Generation struct {
	Seq     uint64
	BuiltAt time.Time
	Keyword store.BM25Index
	Vector  store.VectorStore
	Chunks  map[string]*chunk.Chunk

	refs      atomic.Int64
	retired   atomic.Bool
	closeOnce sync.Once
	closeFn   func()
}

// ChunkCount returns the number of chunks in this generation.
func (g *Generation) ChunkCount() int {
	if g == nil {
		return 0
	}
	return len(g.Chunks)
}

// Acquire registers an in-flight reader. Every Acquire must be paired with
// a Release.
func (g *Generation) Acquire() {
	if g == nil {
		return
	}
	g.refs.Add(1)
}

// Release drops a reader reference. The last reader of a retired
// generation tears it down.
func (g *Generation) Release() {
	if g == nil {
		return
	}
	if g.refs.Add(-1) == 0 && g.retired.Load() {
		g.close()
	}
}

// Retire marks the generation superseded and arranges for closeFn to run
// once no readers remain. With no readers in flight it runs immediately.
func (g *Generation) Retire(closeFn func()) {
	if g == nil {
		if closeFn != nil {
			closeFn()
		}
		return
	}
	g.closeFn = closeFn
	g.retired.Store(true)
	if g.refs.Load() == 0 {
		g.close()
	}
}

func (g *Generation) close() {
	g.closeOnce.Do(func() {
		if g.closeFn != nil {
			g.closeFn()
		}
	})
}

// GenerationHolder hands the current generation to readers atomically.
type GenerationHolder struct {
	current atomic.Pointer[Generation]
}

// Load returns the current generation, or nil before the first build.
func (h *GenerationHolder) Load() *Generation {
	return h.current.Load()
}

// Swap installs gen as the current generation and returns the previous one
// so the caller can close its indexes once readers drain.
func (h *GenerationHolder) Swap(gen *Generation) *Generation {
	return h.current.Swap(gen)
}
