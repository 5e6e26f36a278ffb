package search

import (
	"sort"

	"github.com/freshkb/freshkb/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter. k=60 is
// empirically validated across domains (Azure AI Search, OpenSearch, etc.).
const DefaultRRFConstant = 60

// FusedResult is a single result after RRF fusion.
type FusedResult struct {
	ChunkID      string
	RRFScore     float64  // combined weighted RRF score
	KeywordScore float64  // original BM25 score (preserved)
	KeywordRank  int      // 1-indexed position in the keyword list, 0 if absent
	VecScore     float64  // original vector similarity (preserved)
	VecRank      int      // 1-indexed position in the vector list, 0 if absent
	InBothLists  bool     // chunk appeared in both legs and was merged
	MatchedTerms []string // keyword matched terms, for highlighting
}

// RRFFusion combines keyword and vector results using weighted
// Reciprocal Rank Fusion:
//
//	score(d) = Σ weight_i / (k + rank_i)
//
// Only lists the chunk actually appears in contribute; there is no
// synthetic rank for the missing leg, and scores are not normalized, so
// a chunk ranked first in both legs at weights 0.7/0.3 scores exactly
// 0.7/(k+1) + 0.3/(k+1).
type RRFFusion struct {
	K int // smoothing constant
}

// NewRRFFusion creates a fusion instance. k <= 0 defaults to 60.
func NewRRFFusion(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse merges the two ranked lists. A chunk present in both legs is a
// single result with summed contributions. Results are sorted by RRFScore
// descending with deterministic tie-breaking.
func (f *RRFFusion) Fuse(keyword []*store.BM25Result, vec []*store.VectorResult, weights Weights) []*FusedResult {
	if len(keyword) == 0 && len(vec) == 0 {
		return []*FusedResult{}
	}

	scores := make(map[string]*FusedResult, len(keyword)+len(vec))

	for rank, r := range keyword {
		result := f.getOrCreate(scores, r.ID)
		result.KeywordScore = r.Score
		result.KeywordRank = rank + 1
		result.MatchedTerms = r.MatchedTerms
		result.RRFScore += weights.Keyword / float64(f.K+rank+1)
	}

	for rank, r := range vec {
		result := f.getOrCreate(scores, r.ID)
		result.VecScore = float64(r.Score)
		result.VecRank = rank + 1
		result.RRFScore += weights.Semantic / float64(f.K+rank+1)

		if result.KeywordRank > 0 {
			result.InBothLists = true
		}
	}

	results := make([]*FusedResult, 0, len(scores))
	for _, r := range scores {
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		return f.compare(results[i], results[j])
	})

	return results
}

func (f *RRFFusion) getOrCreate(m map[string]*FusedResult, id string) *FusedResult {
	if r, ok := m[id]; ok {
		return r
	}
	r := &FusedResult{ChunkID: id}
	m[id] = r
	return r
}

// compare returns true if a ranks before b.
//
// Priority: higher RRF score, then in-both-lists, then higher keyword
// score, then lexicographically smaller chunk ID.
func (f *RRFFusion) compare(a, b *FusedResult) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	if a.InBothLists != b.InBothLists {
		return a.InBothLists
	}
	if a.KeywordScore != b.KeywordScore {
		return a.KeywordScore > b.KeywordScore
	}
	return a.ChunkID < b.ChunkID
}
