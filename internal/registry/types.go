// Package registry tracks knowledge sources and their version history in
// SQLite. The registry is the durable source of truth: version counters
// survive restarts, and index generations are rebuilt from it.
package registry

import (
	"time"
)

// SourceType classifies where a source's content comes from.
type SourceType string

const (
	SourceTypeURL       SourceType = "url"
	SourceTypeFile      SourceType = "file"
	SourceTypeDirectory SourceType = "directory"
	SourceTypeAPI       SourceType = "api"
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	switch t {
	case SourceTypeURL, SourceTypeFile, SourceTypeDirectory, SourceTypeAPI:
		return true
	}
	return false
}

// DefaultTTLDays returns the default freshness TTL for a source type.
func (t SourceType) DefaultTTLDays() int {
	switch t {
	case SourceTypeURL:
		return 7
	case SourceTypeFile, SourceTypeDirectory:
		return 14
	case SourceTypeAPI:
		return 90
	default:
		return 14
	}
}

// MaxVersionsPerSource bounds the retained version history. Adding a
// version beyond this evicts the oldest.
const MaxVersionsPerSource = 10

// SourceVersion is one recorded snapshot of a source's content.
type SourceVersion struct {
	SourceID      string    `json:"source_id"`
	VersionNumber int       `json:"version_number"` // monotonic from 1, never reused
	ContentHash   string    `json:"content_hash"`   // SHA-256 of the raw bytes
	Timestamp     time.Time `json:"timestamp"`
	SizeBytes     int64     `json:"size_bytes"`
	ChangeSummary string    `json:"change_summary,omitempty"`
}

// SourceMetadata is the registry record for one source.
type SourceMetadata struct {
	SourceID       string     `json:"source_id"`
	SourceType     SourceType `json:"source_type"`
	Location       string     `json:"location"` // URL, path, or endpoint
	CurrentVersion int        `json:"current_version"` // 0 before first ingest
	TTLDays        int        `json:"ttl_days"`
	Enabled        bool       `json:"enabled"`
	AutoRefresh    bool       `json:"auto_refresh"`
	Priority       int        `json:"priority"`
	Tags           []string   `json:"tags,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastChecked    time.Time  `json:"last_checked,omitzero"`
	LastRefreshed  time.Time  `json:"last_refreshed,omitzero"`
	RefreshCount   int        `json:"refresh_count"`
	ErrorCount     int        `json:"error_count"`
}
