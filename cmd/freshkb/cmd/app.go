package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/freshkb/freshkb/internal/chunk"
	"github.com/freshkb/freshkb/internal/config"
	"github.com/freshkb/freshkb/internal/embed"
	"github.com/freshkb/freshkb/internal/freshness"
	"github.com/freshkb/freshkb/internal/index"
	"github.com/freshkb/freshkb/internal/refresh"
	"github.com/freshkb/freshkb/internal/registry"
	"github.com/freshkb/freshkb/internal/search"
	"github.com/freshkb/freshkb/internal/telemetry"
)

// loadConfig resolves the --config flag, falling back to the default
// location under the data directory.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(config.DefaultDataDir(), "config.yaml")
	}
	return config.Load(path)
}

// openRegistryFromConfig opens just the source registry for commands
// that do not need the full pipeline.
func openRegistryFromConfig(cfg *config.Config) (*registry.Registry, error) {
	dataDir := cfg.Paths.DataDir
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	return registry.Open(filepath.Join(dataDir, "registry.db"))
}

// app holds the assembled retrieval pipeline shared by the CLI commands.
type app struct {
	cfg      *config.Config
	registry *registry.Registry
	embedder embed.Embedder
	holder   *search.GenerationHolder
	builder  *index.Builder
	fetcher  *freshness.ContentFetcher
	coord    *refresh.Coordinator
	monitor  *freshness.Monitor
	metrics  *telemetry.QueryMetrics
	engine   *search.Engine
	logger   *slog.Logger
}

// newApp wires the full pipeline from configuration: registry, embedder,
// chunker, index builder, refresh coordinator, freshness monitor, and
// search engine. Call Close when done.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dataDir := cfg.Paths.DataDir
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}

	reg, err := registry.Open(filepath.Join(dataDir, "registry.db"))
	if err != nil {
		return nil, err
	}

	embedder, err := embed.NewFromConfig(cfg.Embeddings)
	if err != nil {
		_ = reg.Close()
		return nil, err
	}

	chunker, err := chunk.New(chunk.Config{
		Strategy:          chunk.Strategy(cfg.Chunking.Strategy),
		ChunkSize:         cfg.Chunking.ChunkSize,
		Overlap:           cfg.Chunking.Overlap,
		MinChunkSize:      cfg.Chunking.MinChunkSize,
		MaxChunkSize:      cfg.Chunking.MaxChunkSize,
		PreserveSentences: cfg.Chunking.PreserveSentences,
	})
	if err != nil {
		_ = embedder.Close()
		_ = reg.Close()
		return nil, err
	}

	holder := &search.GenerationHolder{}
	builder, err := index.NewBuilder(holder, chunker, embedder, index.Config{
		DataDir:        filepath.Join(dataDir, "index"),
		VectorBackend:  cfg.Search.VectorBackend,
		Dimensions:     cfg.Embeddings.Dimensions,
		EmbedBatchSize: cfg.Embeddings.BatchSize,
	}, logger)
	if err != nil {
		_ = embedder.Close()
		_ = reg.Close()
		return nil, err
	}

	fetcher := freshness.NewContentFetcher(cfg.Freshness.ProbeTimeout)
	coord, err := refresh.NewCoordinator(reg, fetcher, builder, refresh.Config{
		Cooldown: cfg.Refresh.Cooldown,
	}, nil, logger)
	if err != nil {
		_ = embedder.Close()
		_ = reg.Close()
		return nil, err
	}

	metrics, err := telemetry.NewQueryMetrics(telemetry.DefaultConfig())
	if err != nil {
		_ = embedder.Close()
		_ = reg.Close()
		return nil, err
	}

	opts := []search.EngineOption{search.WithMetrics(metrics)}
	if cfg.Search.RerankerEndpoint != "" {
		opts = append(opts, search.WithReranker(
			search.NewHTTPReranker(cfg.Search.RerankerEndpoint, cfg.Search.RerankerTimeout)))
	}
	engine, err := search.NewEngine(holder, embedder, search.EngineConfig{
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxLimit:     cfg.Search.MaxLimit,
		RRFConstant:  cfg.Search.RRFConstant,
		Weights: search.Weights{
			Keyword:  cfg.Search.BM25Weight,
			Semantic: cfg.Search.SemanticWeight,
		},
	}, logger, opts...)
	if err != nil {
		_ = embedder.Close()
		_ = reg.Close()
		return nil, err
	}

	// Stale sources found by the monitor flow straight into the refresh
	// coordinator; cooldown and in-flight rejections are expected there.
	onStale := func(ctx context.Context, src *registry.SourceMetadata, _ freshness.StalenessResult) {
		if _, err := coord.Refresh(ctx, src.SourceID, false); err != nil {
			logger.Debug("auto_refresh_skipped",
				slog.String("source_id", src.SourceID),
				slog.String("error", err.Error()))
		}
	}
	monitor := freshness.NewMonitor(reg, freshness.NewChecker(nil), freshness.NewProber(cfg.Freshness.ProbeTimeout),
		freshness.MonitorConfig{
			Interval:        cfg.Freshness.CheckInterval,
			ProbesPerSecond: cfg.Freshness.ProbesPerSecond,
			WatchFilesystem: true,
		}, onStale, logger)

	return &app{
		cfg:      cfg,
		registry: reg,
		embedder: embedder,
		holder:   holder,
		builder:  builder,
		fetcher:  fetcher,
		coord:    coord,
		monitor:  monitor,
		metrics:  metrics,
		engine:   engine,
		logger:   logger,
	}, nil
}

// bootstrap re-ingests every enabled source so the in-memory generation
// reflects the registry after a restart. Unreachable sources are logged
// and skipped; the index is built from whatever could be fetched.
func (a *app) bootstrap(ctx context.Context) error {
	sources, err := a.registry.List(ctx)
	if err != nil {
		return err
	}

	loaded := 0
	for _, src := range sources {
		if !src.Enabled || src.CurrentVersion == 0 {
			continue
		}
		result, err := a.fetcher.Fetch(ctx, src)
		if err != nil {
			a.logger.Warn("bootstrap_fetch_failed",
				slog.String("source_id", src.SourceID),
				slog.String("error", err.Error()))
			continue
		}
		a.builder.UpsertSource(index.SourceContent{
			SourceID:    src.SourceID,
			Text:        string(result.Content),
			ContentType: contentTypeFor(src.SourceType),
			Metadata: map[string]string{
				"source_type": string(src.SourceType),
				"location":    src.Location,
				"tags":        strings.Join(src.Tags, ","),
			},
		})
		loaded++
	}

	if loaded == 0 {
		a.logger.Info("bootstrap_empty_index", slog.Int("sources", len(sources)))
		return nil
	}
	if _, err := a.builder.Rebuild(ctx); err != nil {
		return err
	}
	a.logger.Info("bootstrap_complete", slog.Int("sources_indexed", loaded))
	return nil
}

func contentTypeFor(srcType registry.SourceType) chunk.ContentType {
	if srcType == registry.SourceTypeURL {
		return chunk.ContentTypeHTML
	}
	return chunk.ContentTypeText
}

// Close releases the pipeline's resources.
func (a *app) Close() {
	_ = a.embedder.Close()
	_ = a.registry.Close()
}
