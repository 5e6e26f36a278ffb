package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshkb/freshkb/internal/store"
)

func kwResult(id string, score float64) *store.BM25Result {
	return &store.BM25Result{ID: id, Score: score}
}

func vecResult(id string, score float32) *store.VectorResult {
	return &store.VectorResult{ID: id, Score: score}
}

func TestFuse_WeightedContributions(t *testing.T) {
	// Vector list [A, B] at weight 0.7, keyword list [B, C] at weight 0.3.
	// B appears in both legs and must win:
	//   A: 0.7/61            = 0.011475
	//   B: 0.7/62 + 0.3/61   = 0.016208
	//   C: 0.3/62            = 0.004839
	f := NewRRFFusion(60)
	weights := Weights{Keyword: 0.3, Semantic: 0.7}

	fused := f.Fuse(
		[]*store.BM25Result{kwResult("B", 2.0), kwResult("C", 1.0)},
		[]*store.VectorResult{vecResult("A", 0.9), vecResult("B", 0.8)},
		weights,
	)

	require.Len(t, fused, 3)
	assert.Equal(t, "B", fused[0].ChunkID)
	assert.Equal(t, "A", fused[1].ChunkID)
	assert.Equal(t, "C", fused[2].ChunkID)

	assert.InDelta(t, 0.7/62+0.3/61, fused[0].RRFScore, 1e-9)
	assert.InDelta(t, 0.7/61, fused[1].RRFScore, 1e-9)
	assert.InDelta(t, 0.3/62, fused[2].RRFScore, 1e-9)
}

func TestFuse_MergesDuplicatesIntoOneResult(t *testing.T) {
	f := NewRRFFusion(60)

	fused := f.Fuse(
		[]*store.BM25Result{{ID: "X", Score: 3.0, MatchedTerms: []string{"stale"}}},
		[]*store.VectorResult{vecResult("X", 0.95)},
		Weights{Keyword: 0.5, Semantic: 0.5},
	)

	require.Len(t, fused, 1)
	r := fused[0]
	assert.True(t, r.InBothLists)
	assert.Equal(t, 1, r.KeywordRank)
	assert.Equal(t, 1, r.VecRank)
	assert.Equal(t, 3.0, r.KeywordScore)
	assert.InDelta(t, 0.95, r.VecScore, 1e-6)
	assert.Equal(t, []string{"stale"}, r.MatchedTerms)
}

func TestFuse_NoMissingRankPenalty(t *testing.T) {
	// A chunk absent from one leg gets no contribution from it at all.
	f := NewRRFFusion(60)

	fused := f.Fuse(
		[]*store.BM25Result{kwResult("only-kw", 1.0)},
		nil,
		Weights{Keyword: 1.0, Semantic: 1.0},
	)

	require.Len(t, fused, 1)
	assert.InDelta(t, 1.0/61, fused[0].RRFScore, 1e-9)
}

func TestFuse_EmptyInputs(t *testing.T) {
	f := NewRRFFusion(60)
	fused := f.Fuse(nil, nil, DefaultWeights())
	assert.NotNil(t, fused)
	assert.Empty(t, fused)
}

func TestFuse_DeterministicTieBreak(t *testing.T) {
	f := NewRRFFusion(60)
	weights := Weights{Keyword: 0.0, Semantic: 1.0}

	// Both chunks score identically from the keyword leg (weight 0), so
	// the tie falls through to chunk ID ordering.
	for i := 0; i < 5; i++ {
		fused := f.Fuse(
			[]*store.BM25Result{kwResult("zz", 1.0), kwResult("aa", 1.0)},
			nil,
			weights,
		)
		require.Len(t, fused, 2)
		assert.Equal(t, "aa", fused[0].ChunkID)
		assert.Equal(t, "zz", fused[1].ChunkID)
	}
}

func TestFuse_DefaultKWhenInvalid(t *testing.T) {
	assert.Equal(t, DefaultRRFConstant, NewRRFFusion(0).K)
	assert.Equal(t, DefaultRRFConstant, NewRRFFusion(-5).K)
	assert.Equal(t, 10, NewRRFFusion(10).K)
}
