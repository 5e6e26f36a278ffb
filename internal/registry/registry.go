package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	kberrors "github.com/freshkb/freshkb/internal/errors"
)

// Registry is the SQLite-backed source registry.
type Registry struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

const schema = `
CREATE TABLE IF NOT EXISTS sources (
	source_id       TEXT PRIMARY KEY,
	source_type     TEXT NOT NULL,
	location        TEXT NOT NULL,
	current_version INTEGER NOT NULL DEFAULT 0,
	version_seq     INTEGER NOT NULL DEFAULT 0,
	ttl_days        INTEGER NOT NULL,
	enabled         INTEGER NOT NULL DEFAULT 1,
	auto_refresh    INTEGER NOT NULL DEFAULT 1,
	priority        INTEGER NOT NULL DEFAULT 0,
	tags            TEXT NOT NULL DEFAULT '[]',
	created_at      TEXT NOT NULL,
	last_checked    TEXT,
	last_refreshed  TEXT,
	refresh_count   INTEGER NOT NULL DEFAULT 0,
	error_count     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS source_versions (
	source_id      TEXT NOT NULL,
	version_number INTEGER NOT NULL,
	content_hash   TEXT NOT NULL,
	timestamp      TEXT NOT NULL,
	size_bytes     INTEGER NOT NULL,
	change_summary TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (source_id, version_number),
	FOREIGN KEY (source_id) REFERENCES sources(source_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_versions_source ON source_versions(source_id, version_number DESC);
`

// Open opens (or creates) the registry database at path. An empty path
// opens an in-memory database, for tests.
func Open(path string) (*Registry, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create registry dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}

	// modernc.org/sqlite serializes per connection; a single connection
	// avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create registry schema: %w", err)
	}

	return &Registry{db: db}, nil
}

// Register adds a new source. The source ID must be unused.
func (r *Registry) Register(ctx context.Context, src *SourceMetadata) error {
	if src.SourceID == "" {
		return kberrors.New(kberrors.ErrCodeInvalidInput, "source_id is required", nil)
	}
	if !src.SourceType.Valid() {
		return kberrors.New(kberrors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown source type %q", src.SourceType), nil)
	}
	if src.Location == "" {
		return kberrors.New(kberrors.ErrCodeInvalidInput, "location is required", nil)
	}
	if src.TTLDays <= 0 {
		src.TTLDays = src.SourceType.DefaultTTLDays()
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now().UTC()
	}

	tags, err := json.Marshal(src.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sources (source_id, source_type, location, ttl_days, enabled, auto_refresh, priority, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, src.SourceID, string(src.SourceType), src.Location, src.TTLDays,
		boolToInt(src.Enabled), boolToInt(src.AutoRefresh), src.Priority, string(tags),
		src.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return kberrors.New(kberrors.ErrCodeSourceExists,
				fmt.Sprintf("source %q already registered", src.SourceID), err)
		}
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

// Unregister removes a source and, via cascade, its version history.
func (r *Registry) Unregister(ctx context.Context, sourceID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sources WHERE source_id = ?`, sourceID)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return notFound(sourceID)
	}
	return nil
}

// Get returns one source's metadata.
func (r *Registry) Get(ctx context.Context, sourceID string) (*SourceMetadata, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT source_id, source_type, location, current_version, ttl_days,
		       enabled, auto_refresh, priority, tags, created_at,
		       last_checked, last_refreshed, refresh_count, error_count
		FROM sources WHERE source_id = ?
	`, sourceID)

	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, notFound(sourceID)
	}
	return src, err
}

// List returns all sources ordered by priority descending, then ID.
func (r *Registry) List(ctx context.Context) ([]*SourceMetadata, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT source_id, source_type, location, current_version, ttl_days,
		       enabled, auto_refresh, priority, tags, created_at,
		       last_checked, last_refreshed, refresh_count, error_count
		FROM sources ORDER BY priority DESC, source_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []*SourceMetadata
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// SetEnabled toggles a source on or off.
func (r *Registry) SetEnabled(ctx context.Context, sourceID string, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sources SET enabled = ? WHERE source_id = ?`,
		boolToInt(enabled), sourceID)
	if err != nil {
		return fmt.Errorf("update enabled: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return notFound(sourceID)
	}
	return nil
}

// AddVersion records a new content version and makes it current. The
// version number comes from a persisted per-source counter, so numbers
// stay monotonic across restarts and evictions. History beyond
// MaxVersionsPerSource is trimmed oldest-first.
func (r *Registry) AddVersion(ctx context.Context, sourceID, contentHash string, sizeBytes int64, changeSummary string) (*SourceVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int
	err = tx.QueryRowContext(ctx,
		`SELECT version_seq FROM sources WHERE source_id = ?`, sourceID).Scan(&seq)
	if err == sql.ErrNoRows {
		return nil, notFound(sourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("read version counter: %w", err)
	}

	version := &SourceVersion{
		SourceID:      sourceID,
		VersionNumber: seq + 1,
		ContentHash:   contentHash,
		Timestamp:     time.Now().UTC(),
		SizeBytes:     sizeBytes,
		ChangeSummary: changeSummary,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO source_versions (source_id, version_number, content_hash, timestamp, size_bytes, change_summary)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sourceID, version.VersionNumber, contentHash,
		version.Timestamp.Format(time.RFC3339Nano), sizeBytes, changeSummary)
	if err != nil {
		return nil, fmt.Errorf("insert version: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sources SET
			version_seq = ?,
			current_version = ?,
			last_refreshed = ?,
			refresh_count = refresh_count + 1
		WHERE source_id = ?
	`, version.VersionNumber, version.VersionNumber,
		version.Timestamp.Format(time.RFC3339Nano), sourceID)
	if err != nil {
		return nil, fmt.Errorf("update source counters: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM source_versions
		WHERE source_id = ? AND version_number NOT IN (
			SELECT version_number FROM source_versions
			WHERE source_id = ?
			ORDER BY version_number DESC
			LIMIT ?
		)
	`, sourceID, sourceID, MaxVersionsPerSource)
	if err != nil {
		return nil, fmt.Errorf("trim version history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit version: %w", err)
	}
	return version, nil
}

// Versions returns a source's retained history, newest first.
func (r *Registry) Versions(ctx context.Context, sourceID string) ([]*SourceVersion, error) {
	if _, err := r.Get(ctx, sourceID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT source_id, version_number, content_hash, timestamp, size_bytes, change_summary
		FROM source_versions
		WHERE source_id = ?
		ORDER BY version_number DESC
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []*SourceVersion
	for rows.Next() {
		v := &SourceVersion{}
		var ts string
		if err := rows.Scan(&v.SourceID, &v.VersionNumber, &v.ContentHash, &ts, &v.SizeBytes, &v.ChangeSummary); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		v.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// GetVersion returns one retained version, or a not-found error if it was
// never recorded or has been evicted.
func (r *Registry) GetVersion(ctx context.Context, sourceID string, versionNumber int) (*SourceVersion, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT source_id, version_number, content_hash, timestamp, size_bytes, change_summary
		FROM source_versions
		WHERE source_id = ? AND version_number = ?
	`, sourceID, versionNumber)

	v := &SourceVersion{}
	var ts string
	err := row.Scan(&v.SourceID, &v.VersionNumber, &v.ContentHash, &ts, &v.SizeBytes, &v.ChangeSummary)
	if err == sql.ErrNoRows {
		return nil, kberrors.New(kberrors.ErrCodeSourceNotFound,
			fmt.Sprintf("source %q has no version %d", sourceID, versionNumber), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("scan version: %w", err)
	}
	v.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	return v, nil
}

// SetCurrentVersion points a source at an already-retained version. Used
// by rollback; the version counter is untouched.
func (r *Registry) SetCurrentVersion(ctx context.Context, sourceID string, versionNumber int) error {
	if _, err := r.GetVersion(ctx, sourceID, versionNumber); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE sources SET current_version = ? WHERE source_id = ?`, versionNumber, sourceID)
	if err != nil {
		return fmt.Errorf("update current version: %w", err)
	}
	return nil
}

// TouchChecked records a freshness check timestamp.
func (r *Registry) TouchChecked(ctx context.Context, sourceID string, t time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sources SET last_checked = ? WHERE source_id = ?`,
		t.UTC().Format(time.RFC3339Nano), sourceID)
	if err != nil {
		return fmt.Errorf("update last_checked: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return notFound(sourceID)
	}
	return nil
}

// IncrementErrorCount bumps a source's error counter.
func (r *Registry) IncrementErrorCount(ctx context.Context, sourceID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sources SET error_count = error_count + 1 WHERE source_id = ?`, sourceID)
	if err != nil {
		return fmt.Errorf("update error_count: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return notFound(sourceID)
	}
	return nil
}

// Close closes the database.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*SourceMetadata, error) {
	src := &SourceMetadata{}
	var (
		srcType, tags, createdAt   string
		enabled, autoRefresh       int
		lastChecked, lastRefreshed sql.NullString
	)

	err := row.Scan(&src.SourceID, &srcType, &src.Location, &src.CurrentVersion, &src.TTLDays,
		&enabled, &autoRefresh, &src.Priority, &tags, &createdAt,
		&lastChecked, &lastRefreshed, &src.RefreshCount, &src.ErrorCount)
	if err != nil {
		return nil, err
	}

	src.SourceType = SourceType(srcType)
	src.Enabled = enabled != 0
	src.AutoRefresh = autoRefresh != 0
	if err := json.Unmarshal([]byte(tags), &src.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	src.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if lastChecked.Valid {
		src.LastChecked, _ = time.Parse(time.RFC3339Nano, lastChecked.String)
	}
	if lastRefreshed.Valid {
		src.LastRefreshed, _ = time.Parse(time.RFC3339Nano, lastRefreshed.String)
	}
	return src, nil
}

func notFound(sourceID string) error {
	return kberrors.New(kberrors.ErrCodeSourceNotFound,
		fmt.Sprintf("source %q not found", sourceID), nil)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint violations in the message.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
