package freshness

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/freshkb/freshkb/internal/registry"
)

// DefaultCheckInterval is how often the monitor sweeps all sources.
const DefaultCheckInterval = time.Hour

// StaleHandler is invoked for each source that needs a refresh.
type StaleHandler func(ctx context.Context, src *registry.SourceMetadata, result StalenessResult)

// MonitorConfig tunes the background freshness monitor.
type MonitorConfig struct {
	Interval        time.Duration // sweep interval (default: 1h)
	ProbesPerSecond float64       // reachability probe rate limit (default: 4)
	WatchFilesystem bool          // react to fsnotify events on file sources
}

// Monitor periodically evaluates every enabled source's freshness and
// hands stale sources to the configured handler. Filesystem sources can
// additionally be checked immediately when fsnotify reports a change.
type Monitor struct {
	registry *registry.Registry
	checker  *Checker
	prober   *Prober
	config   MonitorConfig
	onStale  StaleHandler
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewMonitor creates a monitor. The handler may be nil, in which case
// checks still update registry timestamps and counters.
func NewMonitor(reg *registry.Registry, checker *Checker, prober *Prober, cfg MonitorConfig, onStale StaleHandler, logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultCheckInterval
	}
	if cfg.ProbesPerSecond <= 0 {
		cfg.ProbesPerSecond = 4
	}
	if checker == nil {
		checker = NewChecker(nil)
	}
	if prober == nil {
		prober = NewProber(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		registry: reg,
		checker:  checker,
		prober:   prober,
		config:   cfg,
		onStale:  onStale,
		limiter:  rate.NewLimiter(rate.Limit(cfg.ProbesPerSecond), 1),
		logger:   logger,
	}
}

// Run sweeps immediately, then on every tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	var watcher *fsnotify.Watcher
	var fsEvents <-chan fsnotify.Event
	if m.config.WatchFilesystem {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			m.logger.Warn("fsnotify_unavailable", slog.String("error", err.Error()))
		} else {
			watcher = w
			fsEvents = w.Events
			defer func() { _ = w.Close() }()
		}
	}

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.sweep(ctx, watcher)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sweep(ctx, watcher)
		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				m.checkPath(ctx, ev.Name)
			}
		}
	}
}

// CheckAll evaluates every enabled source once and returns the results.
// Reachability failures count against the source's error counter and
// report the source as fresh, never as stale.
func (m *Monitor) CheckAll(ctx context.Context) ([]StalenessResult, error) {
	sources, err := m.registry.List(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]StalenessResult, 0, len(sources))
	for _, src := range sources {
		if !src.Enabled {
			continue
		}
		results = append(results, m.checkOne(ctx, src))
	}
	return results, nil
}

// CheckSource evaluates a single source by ID.
func (m *Monitor) CheckSource(ctx context.Context, sourceID string) (StalenessResult, error) {
	src, err := m.registry.Get(ctx, sourceID)
	if err != nil {
		return StalenessResult{}, err
	}
	return m.checkOne(ctx, src), nil
}

func (m *Monitor) sweep(ctx context.Context, watcher *fsnotify.Watcher) {
	results, err := m.CheckAll(ctx)
	if err != nil {
		m.logger.Error("freshness_sweep_failed", slog.String("error", err.Error()))
		return
	}

	stale := 0
	for _, r := range results {
		if r.IsStale {
			stale++
		}
	}
	m.logger.Info("freshness_sweep_completed",
		slog.Int("checked", len(results)),
		slog.Int("stale", stale))

	if watcher != nil {
		m.syncWatches(ctx, watcher)
	}
}

func (m *Monitor) checkOne(ctx context.Context, src *registry.SourceMetadata) StalenessResult {
	result := m.checker.Check(src)

	if err := m.registry.TouchChecked(ctx, src.SourceID, result.CheckedAt); err != nil {
		m.logger.Warn("touch_checked_failed",
			slog.String("source_id", src.SourceID),
			slog.String("error", err.Error()))
	}

	if result.IsStale {
		if err := m.limiter.Wait(ctx); err != nil {
			return result
		}
		status, err := m.prober.Probe(ctx, src)
		switch status {
		case ProbeUnreachable:
			// Unreachable sources are reported fresh so a dead endpoint
			// cannot trigger a refresh loop.
			m.logger.Warn("source_unreachable",
				slog.String("source_id", src.SourceID),
				slog.String("error", err.Error()))
			m.bumpErrorCount(ctx, src.SourceID)
			result.Reachable = false
			result.IsStale = false
			result.NeedsRefresh = false
			return result
		case ProbeInvalid:
			// The location is gone. Staleness stands, but refreshing a
			// dead resource would only ingest an error page.
			m.logger.Warn("source_invalid",
				slog.String("source_id", src.SourceID),
				slog.String("error", err.Error()))
			m.bumpErrorCount(ctx, src.SourceID)
			result.Invalid = true
			result.NeedsRefresh = false
			return result
		}
	}

	if result.NeedsRefresh && m.onStale != nil {
		m.onStale(ctx, src, result)
	}
	return result
}

func (m *Monitor) bumpErrorCount(ctx context.Context, sourceID string) {
	if err := m.registry.IncrementErrorCount(ctx, sourceID); err != nil {
		m.logger.Warn("error_count_update_failed",
			slog.String("source_id", sourceID),
			slog.String("error", err.Error()))
	}
}

// checkPath re-checks filesystem sources whose location covers path.
func (m *Monitor) checkPath(ctx context.Context, path string) {
	sources, err := m.registry.List(ctx)
	if err != nil {
		return
	}
	for _, src := range sources {
		if !src.Enabled {
			continue
		}
		if src.SourceType != registry.SourceTypeFile && src.SourceType != registry.SourceTypeDirectory {
			continue
		}
		if src.Location == path || isUnder(src.Location, path) {
			m.logger.Debug("fsnotify_hint",
				slog.String("source_id", src.SourceID),
				slog.String("path", path))
			m.checkOne(ctx, src)
		}
	}
}

func (m *Monitor) syncWatches(ctx context.Context, watcher *fsnotify.Watcher) {
	sources, err := m.registry.List(ctx)
	if err != nil {
		return
	}

	watched := make(map[string]bool)
	for _, p := range watcher.WatchList() {
		watched[p] = true
	}

	for _, src := range sources {
		if !src.Enabled {
			continue
		}
		if src.SourceType != registry.SourceTypeFile && src.SourceType != registry.SourceTypeDirectory {
			continue
		}
		if !watched[src.Location] {
			if err := watcher.Add(src.Location); err != nil {
				m.logger.Debug("fsnotify_watch_failed",
					slog.String("path", src.Location),
					slog.String("error", err.Error()))
			}
		}
	}
}

func isUnder(root, path string) bool {
	return len(path) > len(root) && path[:len(root)] == root && path[len(root)] == '/'
}
