package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/freshkb/freshkb/internal/embed"
	kberrors "github.com/freshkb/freshkb/internal/errors"
	"github.com/freshkb/freshkb/internal/store"
	"github.com/freshkb/freshkb/internal/telemetry"
)

// EngineConfig tunes the hybrid engine.
type EngineConfig struct {
	DefaultLimit int     // limit when SearchOptions.Limit is 0
	MaxLimit     int     // hard cap on SearchOptions.Limit
	RRFConstant  int     // RRF smoothing constant k
	Weights      Weights // default leg weights
}

// DefaultEngineConfig returns the stock configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultLimit: 10,
		MaxLimit:     100,
		RRFConstant:  DefaultRRFConstant,
		Weights:      DefaultWeights(),
	}
}

// Engine executes hybrid queries against the current index generation.
// Both legs run in parallel; if one leg fails the other still serves,
// and before the first generation is built every query returns empty.
type Engine struct {
	holder   *GenerationHolder
	embedder embed.Embedder
	config   EngineConfig
	fusion   *RRFFusion
	reranker Reranker
	metrics  *telemetry.QueryMetrics
	logger   *slog.Logger
}

// EngineOption configures optional engine collaborators.
type EngineOption func(*Engine)

// WithReranker sets a cross-encoder reranker applied after fusion. Rerank
// failures fall back silently to fusion order.
func WithReranker(r Reranker) EngineOption {
	return func(e *Engine) { e.reranker = r }
}

// WithMetrics sets a query telemetry collector.
func WithMetrics(m *telemetry.QueryMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a hybrid search engine.
func NewEngine(holder *GenerationHolder, embedder embed.Embedder, cfg EngineConfig, logger *slog.Logger, opts ...EngineOption) (*Engine, error) {
	if holder == nil {
		return nil, kberrors.New(kberrors.ErrCodeInternal, "generation holder is required", nil)
	}
	if embedder == nil {
		return nil, kberrors.New(kberrors.ErrCodeInternal, "embedder is required", nil)
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		holder:   holder,
		embedder: embedder,
		config:   cfg,
		fusion:   NewRRFFusion(cfg.RRFConstant),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Search runs a hybrid query. An empty query or an unbuilt index yields an
// empty result list, never an error.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) ([]*RetrievalResult, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return []*RetrievalResult{}, nil
	}

	limit := e.clampLimit(opts.Limit)
	weights := e.config.Weights
	if opts.Weights != nil {
		weights = *opts.Weights
	}

	gen := e.holder.Load()
	if gen == nil || gen.ChunkCount() == 0 {
		e.logger.Debug("search_index_unavailable", slog.String("query", query))
		e.record(query, limit, opts, 0, 0, nil, false, start)
		return []*RetrievalResult{}, nil
	}
	// Hold a reference for the whole query so a rebuild that supersedes
	// this generation cannot close its indexes underneath us.
	gen.Acquire()
	defer gen.Release()

	// Each leg fetches 2x the requested limit so fusion has enough
	// candidates to promote chunks ranked well by only one leg.
	fetchN := limit * 2

	var (
		keywordResults []*store.BM25Result
		vectorResults  []*store.VectorResult
		keywordErr     error
		vectorErr      error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		keywordResults, keywordErr = gen.Keyword.Search(gctx, query, fetchN)
		return nil
	})
	g.Go(func() error {
		vectorResults, vectorErr = e.vectorSearch(gctx, gen, query, fetchN)
		return nil
	})
	_ = g.Wait()

	if keywordErr != nil && vectorErr != nil {
		return nil, kberrors.New(kberrors.ErrCodeIndexUnavailable, "both retrieval legs failed", keywordErr).
			WithDetail("vector_error", vectorErr.Error())
	}
	if keywordErr != nil {
		e.logger.Warn("keyword_leg_failed", slog.String("error", keywordErr.Error()))
		keywordResults = nil
	}
	if vectorErr != nil {
		e.logger.Warn("vector_leg_failed", slog.String("error", vectorErr.Error()))
		vectorResults = nil
	}

	fused := e.fusion.Fuse(keywordResults, vectorResults, weights)
	fused = e.applyFilters(gen, fused, opts.Filters)
	if len(fused) > limit {
		fused = fused[:limit]
	}

	results := e.materialize(gen, fused)
	reranked := false
	if e.reranker != nil && !opts.DisableRerank && len(results) > 1 {
		results, reranked = e.rerank(ctx, query, results)
	}

	e.record(query, limit, opts, len(keywordResults), len(vectorResults), results, reranked, start)

	e.logger.Debug("search_completed",
		slog.String("query", query),
		slog.Int("keyword_candidates", len(keywordResults)),
		slog.Int("vector_candidates", len(vectorResults)),
		slog.Int("results", len(results)),
		slog.Bool("reranked", reranked),
		slog.Duration("duration", time.Since(start)))

	return results, nil
}

func (e *Engine) clampLimit(limit int) int {
	if limit <= 0 {
		return e.config.DefaultLimit
	}
	if limit > e.config.MaxLimit {
		return e.config.MaxLimit
	}
	return limit
}

func (e *Engine) vectorSearch(ctx context.Context, gen *Generation, query string, k int) ([]*store.VectorResult, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return gen.Vector.Search(ctx, vec, k)
}

// applyFilters drops fused results whose chunk metadata does not satisfy
// every filter key. Unknown chunk IDs are dropped as well; they belong to
// a generation that has since been swapped out.
func (e *Engine) applyFilters(gen *Generation, fused []*FusedResult, filters map[string][]string) []*FusedResult {
	if len(filters) == 0 {
		return fused
	}

	kept := fused[:0]
	for _, r := range fused {
		c, ok := gen.Chunks[r.ChunkID]
		if !ok {
			continue
		}
		if matchesFilters(c.Metadata, c.SourceID, filters) {
			kept = append(kept, r)
		}
	}
	return kept
}

func matchesFilters(metadata map[string]string, sourceID string, filters map[string][]string) bool {
	for key, allowed := range filters {
		var value string
		if key == "source_id" {
			value = sourceID
		} else {
			value = metadata[key]
		}

		found := false
		for _, a := range allowed {
			if value == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (e *Engine) materialize(gen *Generation, fused []*FusedResult) []*RetrievalResult {
	results := make([]*RetrievalResult, 0, len(fused))
	for _, f := range fused {
		c, ok := gen.Chunks[f.ChunkID]
		if !ok {
			continue
		}
		results = append(results, &RetrievalResult{
			ChunkID:      f.ChunkID,
			SourceID:     c.SourceID,
			Text:         c.Text,
			Score:        f.RRFScore,
			Metadata:     c.Metadata,
			MatchedTerms: f.MatchedTerms,
		})
	}
	return results
}

// rerank reorders results via the cross-encoder. Any failure falls back to
// fusion order without surfacing an error to the caller.
func (e *Engine) rerank(ctx context.Context, query string, results []*RetrievalResult) ([]*RetrievalResult, bool) {
	documents := make([]string, len(results))
	for i, r := range results {
		documents[i] = r.Text
	}

	scored, err := e.reranker.Rerank(ctx, query, documents, 0)
	if err != nil {
		e.logger.Warn("rerank_failed", slog.String("error", err.Error()))
		return results, false
	}

	reordered := make([]*RetrievalResult, 0, len(scored))
	for _, s := range scored {
		if s.Index < 0 || s.Index >= len(results) {
			continue
		}
		r := results[s.Index]
		r.Score = s.Score
		r.Reranked = true
		reordered = append(reordered, r)
	}
	return reordered, true
}

func (e *Engine) record(query string, limit int, opts SearchOptions, keywordN, vectorN int, results []*RetrievalResult, reranked bool, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.Record(telemetry.QueryRecord{
		QueryID:           uuid.NewString(),
		Query:             query,
		Limit:             limit,
		KeywordCandidates: keywordN,
		VectorCandidates:  vectorN,
		FusedCount:        len(results),
		ResultCount:       len(results),
		Reranked:          reranked,
		Filters:           opts.Filters,
		Latency:           time.Since(start),
		Timestamp:         start,
	})
}
