package freshness

import (
	"time"

	"github.com/freshkb/freshkb/internal/registry"
)

// StalenessResult is the outcome of a TTL check for one source.
// Reachable and Invalid report the probe outcome separately from
// staleness: an unreachable source is never marked stale, and a source
// whose location is gone (404, missing file) keeps its staleness but is
// flagged Invalid and never auto-refreshed.
type StalenessResult struct {
	SourceID     string    `json:"source_id"`
	IsStale      bool      `json:"is_stale"`
	AgeDays      float64   `json:"age_days"`
	TTLDays      int       `json:"ttl_days"`
	NeedsRefresh bool      `json:"needs_refresh"`
	Reachable    bool      `json:"reachable"`
	Invalid      bool      `json:"invalid,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}

// Checker performs TTL staleness checks.
type Checker struct {
	clock Clock
}

// NewChecker creates a checker. A nil clock uses the system clock.
func NewChecker(clock Clock) *Checker {
	if clock == nil {
		clock = SystemClock()
	}
	return &Checker{clock: clock}
}

// Check computes a source's staleness from its TTL. Age counts from the
// last successful refresh, or from registration for sources never yet
// ingested. A source is stale strictly beyond its TTL; needs_refresh
// additionally requires auto-refresh and the source being enabled.
func (c *Checker) Check(src *registry.SourceMetadata) StalenessResult {
	now := c.clock.Now()

	ref := src.LastRefreshed
	if ref.IsZero() {
		ref = src.CreatedAt
	}

	ageDays := now.Sub(ref).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}

	isStale := ageDays > float64(src.TTLDays)
	return StalenessResult{
		SourceID:     src.SourceID,
		IsStale:      isStale,
		AgeDays:      ageDays,
		TTLDays:      src.TTLDays,
		NeedsRefresh: isStale && src.AutoRefresh && src.Enabled,
		Reachable:    true,
		CheckedAt:    now,
	}
}
