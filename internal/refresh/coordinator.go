// Package refresh coordinates source refreshes: it detects content
// changes, records new versions in the registry, and drives index
// rebuilds. Refreshes are serialized per source with a cooldown between
// attempts so a flapping source cannot monopolize the pipeline.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/freshkb/freshkb/internal/chunk"
	kberrors "github.com/freshkb/freshkb/internal/errors"
	"github.com/freshkb/freshkb/internal/freshness"
	"github.com/freshkb/freshkb/internal/index"
	"github.com/freshkb/freshkb/internal/registry"
)

// State is a source's position in the refresh lifecycle.
type State string

const (
	StateIdle       State = "IDLE"
	StateChecking   State = "CHECKING"
	StateRefreshing State = "REFRESHING"
	StateFailed     State = "FAILED"
)

// DefaultCooldown is the minimum gap between refresh attempts per source.
const DefaultCooldown = 5 * time.Minute

// Config tunes the coordinator.
type Config struct {
	Cooldown time.Duration
}

// RefreshResult reports one refresh attempt.
type RefreshResult struct {
	SourceID    string                  `json:"source_id"`
	Refreshed   bool                    `json:"refreshed"` // false when content was unchanged
	Version     *registry.SourceVersion `json:"version,omitempty"`
	ContentHash string                  `json:"content_hash"`
	Duration    time.Duration           `json:"duration_ns"`
}

// ChangeReport is the outcome of a non-ingesting change check.
type ChangeReport struct {
	SourceID    string `json:"source_id"`
	Changed     bool   `json:"changed"`
	CurrentHash string `json:"current_hash,omitempty"`
	LiveHash    string `json:"live_hash,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RefreshSummary aggregates one sweep over all enabled sources.
type RefreshSummary struct {
	Checked   int              `json:"checked"`
	Refreshed int              `json:"refreshed"`
	Failed    int              `json:"failed"`
	Results   []*RefreshResult `json:"results"`
}

// RollbackResult reports a completed rollback.
type RollbackResult struct {
	SourceID    string `json:"source_id"`
	FromVersion int    `json:"from_version"`
	ToVersion   int    `json:"to_version"`
	Reingested  bool   `json:"reingested"` // live content was re-indexed
}

type sourceState struct {
	state       State
	inFlight    bool
	lastAttempt time.Time
	lastError   string
}

// Coordinator drives refresh and rollback operations.
type Coordinator struct {
	registry *registry.Registry
	fetcher  freshness.Fetcher
	builder  *index.Builder
	clock    freshness.Clock
	config   Config
	logger   *slog.Logger

	mu     sync.Mutex
	states map[string]*sourceState
}

// NewCoordinator creates a coordinator. A nil clock uses the system clock.
func NewCoordinator(reg *registry.Registry, fetcher freshness.Fetcher, builder *index.Builder, cfg Config, clock freshness.Clock, logger *slog.Logger) (*Coordinator, error) {
	if reg == nil || fetcher == nil || builder == nil {
		return nil, kberrors.New(kberrors.ErrCodeInternal, "registry, fetcher and builder are required", nil)
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if clock == nil {
		clock = freshness.SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		registry: reg,
		fetcher:  fetcher,
		builder:  builder,
		clock:    clock,
		config:   cfg,
		logger:   logger,
		states:   make(map[string]*sourceState),
	}, nil
}

// StateOf returns a source's current refresh state.
func (c *Coordinator) StateOf(sourceID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[sourceID]; ok {
		return st.state
	}
	return StateIdle
}

// begin claims the source for a refresh attempt, enforcing the in-flight
// exclusion and the cooldown. force bypasses the cooldown only.
func (c *Coordinator) begin(sourceID string, force bool) (*sourceState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[sourceID]
	if !ok {
		st = &sourceState{state: StateIdle}
		c.states[sourceID] = st
	}

	if st.inFlight {
		return nil, kberrors.New(kberrors.ErrCodeRefreshInFlight,
			fmt.Sprintf("refresh of %q already in progress", sourceID), nil)
	}

	now := c.clock.Now()
	if !force && !st.lastAttempt.IsZero() {
		if elapsed := now.Sub(st.lastAttempt); elapsed < c.config.Cooldown {
			return nil, kberrors.New(kberrors.ErrCodeRefreshCooldown,
				fmt.Sprintf("source %q refreshed %s ago, cooldown is %s", sourceID, elapsed.Round(time.Second), c.config.Cooldown), nil)
		}
	}

	st.inFlight = true
	st.lastAttempt = now
	st.state = StateChecking
	return st, nil
}

func (c *Coordinator) finish(st *sourceState, final State, errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st.inFlight = false
	st.state = final
	st.lastError = errMsg
}

// Refresh re-ingests one source if its content changed. An unchanged
// source is a successful no-op: no version is recorded and no rebuild
// runs. force re-ingests even when the hash is unchanged and bypasses
// the cooldown.
func (c *Coordinator) Refresh(ctx context.Context, sourceID string, force bool) (*RefreshResult, error) {
	src, err := c.registry.Get(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if !src.Enabled && !force {
		return nil, kberrors.New(kberrors.ErrCodeInvalidInput,
			fmt.Sprintf("source %q is disabled", sourceID), nil)
	}

	st, err := c.begin(sourceID, force)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := c.refreshLocked(ctx, src, st, force)
	if err != nil {
		c.finish(st, StateFailed, err.Error())
		return nil, err
	}
	result.Duration = time.Since(start)
	c.finish(st, StateIdle, "")
	return result, nil
}

func (c *Coordinator) refreshLocked(ctx context.Context, src *registry.SourceMetadata, st *sourceState, force bool) (*RefreshResult, error) {
	fetched, err := c.fetcher.Fetch(ctx, src)
	if err != nil {
		if incErr := c.registry.IncrementErrorCount(ctx, src.SourceID); incErr != nil {
			c.logger.Warn("error_count_update_failed",
				slog.String("source_id", src.SourceID),
				slog.String("error", incErr.Error()))
		}
		return nil, kberrors.RefreshError(fmt.Sprintf("fetch source %q", src.SourceID), err)
	}

	currentHash := ""
	if src.CurrentVersion > 0 {
		if v, err := c.registry.GetVersion(ctx, src.SourceID, src.CurrentVersion); err == nil {
			currentHash = v.ContentHash
		}
	}

	if fetched.ContentHash == currentHash && !force {
		c.logger.Debug("refresh_noop",
			slog.String("source_id", src.SourceID),
			slog.String("content_hash", fetched.ContentHash))
		return &RefreshResult{
			SourceID:    src.SourceID,
			Refreshed:   false,
			ContentHash: fetched.ContentHash,
		}, nil
	}

	c.setState(st, StateRefreshing)

	summary := "content changed"
	if currentHash == "" {
		summary = "initial ingest"
	} else if fetched.ContentHash == currentHash {
		summary = "forced re-ingest"
	}

	// Rebuild before recording the version. A failed rebuild must leave
	// the history untouched: if the new hash were already committed, every
	// later refresh would see it as current and no-op, leaving the source
	// unindexed until its content changed again.
	if err := c.reindex(ctx, src, fetched.Content); err != nil {
		return nil, err
	}

	version, err := c.registry.AddVersion(ctx, src.SourceID, fetched.ContentHash, fetched.SizeBytes, summary)
	if err != nil {
		return nil, kberrors.RefreshError(fmt.Sprintf("record version for %q", src.SourceID), err)
	}

	c.logger.Info("source_refreshed",
		slog.String("source_id", src.SourceID),
		slog.Int("version", version.VersionNumber),
		slog.Int64("size_bytes", fetched.SizeBytes))

	return &RefreshResult{
		SourceID:    src.SourceID,
		Refreshed:   true,
		Version:     version,
		ContentHash: fetched.ContentHash,
	}, nil
}

func (c *Coordinator) setState(st *sourceState, s State) {
	c.mu.Lock()
	st.state = s
	c.mu.Unlock()
}

// reindex installs the source's new content and rebuilds the generation.
// A failed rebuild leaves the previous generation serving.
func (c *Coordinator) reindex(ctx context.Context, src *registry.SourceMetadata, content []byte) error {
	c.builder.UpsertSource(index.SourceContent{
		SourceID:    src.SourceID,
		Text:        string(content),
		ContentType: contentTypeFor(src),
		Metadata:    sourceMetadataTags(src),
	})
	if _, err := c.builder.Rebuild(ctx); err != nil {
		return kberrors.RefreshError(fmt.Sprintf("rebuild index for %q", src.SourceID), err)
	}
	return nil
}

// CheckForChanges fetches every enabled source and compares hashes
// without ingesting anything. Fetch failures count against the source's
// error counter and report the source as unchanged.
func (c *Coordinator) CheckForChanges(ctx context.Context) ([]ChangeReport, error) {
	sources, err := c.registry.List(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]ChangeReport, 0, len(sources))
	for _, src := range sources {
		if !src.Enabled {
			continue
		}
		reports = append(reports, c.checkOne(ctx, src))
	}
	return reports, nil
}

func (c *Coordinator) checkOne(ctx context.Context, src *registry.SourceMetadata) ChangeReport {
	report := ChangeReport{SourceID: src.SourceID}

	if src.CurrentVersion > 0 {
		if v, err := c.registry.GetVersion(ctx, src.SourceID, src.CurrentVersion); err == nil {
			report.CurrentHash = v.ContentHash
		}
	}

	fetched, err := c.fetcher.Fetch(ctx, src)
	if err != nil {
		report.Error = err.Error()
		if incErr := c.registry.IncrementErrorCount(ctx, src.SourceID); incErr != nil {
			c.logger.Warn("error_count_update_failed",
				slog.String("source_id", src.SourceID),
				slog.String("error", incErr.Error()))
		}
		return report
	}

	report.LiveHash = fetched.ContentHash
	report.Changed = fetched.ContentHash != report.CurrentHash
	return report
}

// RefreshAllChanged refreshes every enabled source whose live content
// differs from its current version. Sources inside their cooldown are
// skipped, not failed; fetch and rebuild failures count toward Failed.
func (c *Coordinator) RefreshAllChanged(ctx context.Context) (*RefreshSummary, error) {
	reports, err := c.CheckForChanges(ctx)
	if err != nil {
		return nil, err
	}

	summary := &RefreshSummary{
		Checked: len(reports),
		Results: []*RefreshResult{},
	}
	for _, report := range reports {
		if report.Error != "" {
			summary.Failed++
			continue
		}
		if !report.Changed {
			continue
		}
		result, err := c.Refresh(ctx, report.SourceID, false)
		if err != nil {
			if kberrors.HasCode(err, kberrors.ErrCodeRefreshCooldown) ||
				kberrors.HasCode(err, kberrors.ErrCodeRefreshInFlight) {
				c.logger.Debug("refresh_skipped",
					slog.String("source_id", report.SourceID),
					slog.String("reason", err.Error()))
				continue
			}
			summary.Failed++
			c.logger.Warn("refresh_failed",
				slog.String("source_id", report.SourceID),
				slog.String("error", err.Error()))
			continue
		}
		summary.Refreshed++
		summary.Results = append(summary.Results, result)
	}
	return summary, nil
}

// Rollback points a source at an earlier retained version. targetVersion
// 0 selects the version immediately before the current one. Content
// snapshots are not kept, so the index is re-ingested from the live
// source afterwards; if that fetch fails the registry pointer still
// moves and the index keeps serving the previous build.
func (c *Coordinator) Rollback(ctx context.Context, sourceID string, targetVersion int) (*RollbackResult, error) {
	src, err := c.registry.Get(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if src.CurrentVersion == 0 {
		return nil, kberrors.RollbackError(fmt.Sprintf("source %q has no versions", sourceID))
	}

	if targetVersion == 0 {
		targetVersion = src.CurrentVersion - 1
	}
	if targetVersion < 1 {
		return nil, kberrors.RollbackError(
			fmt.Sprintf("source %q has no version before %d", sourceID, src.CurrentVersion))
	}
	if targetVersion >= src.CurrentVersion {
		return nil, kberrors.RollbackError(
			fmt.Sprintf("rollback target %d is not before current version %d", targetVersion, src.CurrentVersion))
	}

	if _, err := c.registry.GetVersion(ctx, sourceID, targetVersion); err != nil {
		return nil, kberrors.RollbackError(
			fmt.Sprintf("version %d of source %q is not retained", targetVersion, sourceID))
	}

	st, err := c.begin(sourceID, true)
	if err != nil {
		return nil, err
	}

	if err := c.registry.SetCurrentVersion(ctx, sourceID, targetVersion); err != nil {
		c.finish(st, StateFailed, err.Error())
		return nil, err
	}

	result := &RollbackResult{
		SourceID:    sourceID,
		FromVersion: src.CurrentVersion,
		ToVersion:   targetVersion,
	}

	c.setState(st, StateRefreshing)
	if fetched, err := c.fetcher.Fetch(ctx, src); err != nil {
		c.logger.Warn("rollback_reingest_failed",
			slog.String("source_id", sourceID),
			slog.String("error", err.Error()))
	} else if err := c.reindex(ctx, src, fetched.Content); err != nil {
		c.logger.Warn("rollback_reindex_failed",
			slog.String("source_id", sourceID),
			slog.String("error", err.Error()))
	} else {
		result.Reingested = true
	}

	c.finish(st, StateIdle, "")
	c.logger.Info("source_rolled_back",
		slog.String("source_id", sourceID),
		slog.Int("from_version", result.FromVersion),
		slog.Int("to_version", result.ToVersion))

	return result, nil
}

func contentTypeFor(src *registry.SourceMetadata) chunk.ContentType {
	switch src.SourceType {
	case registry.SourceTypeURL:
		return chunk.ContentTypeHTML
	default:
		return chunk.ContentTypeText
	}
}

func sourceMetadataTags(src *registry.SourceMetadata) map[string]string {
	md := map[string]string{
		"source_type": string(src.SourceType),
		"location":    src.Location,
	}
	for i, tag := range src.Tags {
		if i == 0 {
			md["tags"] = tag
		} else {
			md["tags"] += "," + tag
		}
	}
	return md
}
