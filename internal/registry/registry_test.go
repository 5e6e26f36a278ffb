package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/freshkb/freshkb/internal/errors"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func testSource(id string) *SourceMetadata {
	return &SourceMetadata{
		SourceID:    id,
		SourceType:  SourceTypeURL,
		Location:    "https://example.com/docs",
		Enabled:     true,
		AutoRefresh: true,
		Priority:    5,
		Tags:        []string{"docs", "external"},
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, testSource("src-a")))

	got, err := r.Get(ctx, "src-a")
	require.NoError(t, err)
	assert.Equal(t, "src-a", got.SourceID)
	assert.Equal(t, SourceTypeURL, got.SourceType)
	assert.Equal(t, 7, got.TTLDays, "url sources default to 7 day TTL")
	assert.Equal(t, 0, got.CurrentVersion)
	assert.True(t, got.Enabled)
	assert.True(t, got.AutoRefresh)
	assert.Equal(t, []string{"docs", "external"}, got.Tags)
	assert.False(t, got.CreatedAt.IsZero())
	assert.True(t, got.LastChecked.IsZero())
	assert.True(t, got.LastRefreshed.IsZero())
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	err := r.Register(ctx, &SourceMetadata{SourceType: SourceTypeURL, Location: "x"})
	assert.True(t, kberrors.HasCode(err, kberrors.ErrCodeInvalidInput))

	err = r.Register(ctx, &SourceMetadata{SourceID: "a", SourceType: "ftp", Location: "x"})
	assert.True(t, kberrors.HasCode(err, kberrors.ErrCodeInvalidInput))

	err = r.Register(ctx, &SourceMetadata{SourceID: "a", SourceType: SourceTypeFile})
	assert.True(t, kberrors.HasCode(err, kberrors.ErrCodeInvalidInput))
}

func TestRegistry_DuplicateRegistrationRejected(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, testSource("src-a")))
	err := r.Register(ctx, testSource("src-a"))
	assert.True(t, kberrors.HasCode(err, kberrors.ErrCodeSourceExists))
}

func TestRegistry_UnregisterCascadesVersions(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, testSource("src-a")))
	_, err := r.AddVersion(ctx, "src-a", "hash1", 100, "initial")
	require.NoError(t, err)

	require.NoError(t, r.Unregister(ctx, "src-a"))

	_, err = r.Get(ctx, "src-a")
	assert.True(t, kberrors.HasCode(err, kberrors.ErrCodeSourceNotFound))

	err = r.Unregister(ctx, "src-a")
	assert.True(t, kberrors.HasCode(err, kberrors.ErrCodeSourceNotFound))
}

func TestRegistry_ListOrderedByPriority(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	low := testSource("src-low")
	low.Priority = 1
	high := testSource("src-high")
	high.Priority = 9

	require.NoError(t, r.Register(ctx, low))
	require.NoError(t, r.Register(ctx, high))

	sources, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "src-high", sources[0].SourceID)
	assert.Equal(t, "src-low", sources[1].SourceID)
}

func TestRegistry_AddVersionMonotonic(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, testSource("src-a")))

	v1, err := r.AddVersion(ctx, "src-a", "hash1", 100, "initial")
	require.NoError(t, err)
	assert.Equal(t, 1, v1.VersionNumber)

	v2, err := r.AddVersion(ctx, "src-a", "hash2", 120, "updated")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.VersionNumber)

	src, err := r.Get(ctx, "src-a")
	require.NoError(t, err)
	assert.Equal(t, 2, src.CurrentVersion)
	assert.Equal(t, 2, src.RefreshCount)
	assert.False(t, src.LastRefreshed.IsZero())
}

func TestRegistry_VersionCounterSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	ctx := context.Background()

	r, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, r.Register(ctx, testSource("src-a")))
	for i := 0; i < 3; i++ {
		_, err := r.AddVersion(ctx, "src-a", fmt.Sprintf("hash%d", i), 100, "")
		require.NoError(t, err)
	}
	require.NoError(t, r.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	v, err := reopened.AddVersion(ctx, "src-a", "hash-after-restart", 100, "")
	require.NoError(t, err)
	assert.Equal(t, 4, v.VersionNumber)
}

func TestRegistry_VersionHistoryEviction(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, testSource("src-a")))
	for i := 1; i <= MaxVersionsPerSource+3; i++ {
		_, err := r.AddVersion(ctx, "src-a", fmt.Sprintf("hash%d", i), int64(i), "")
		require.NoError(t, err)
	}

	versions, err := r.Versions(ctx, "src-a")
	require.NoError(t, err)
	require.Len(t, versions, MaxVersionsPerSource)

	// Newest first; the oldest retained version is 4.
	assert.Equal(t, MaxVersionsPerSource+3, versions[0].VersionNumber)
	assert.Equal(t, 4, versions[len(versions)-1].VersionNumber)

	// Evicted versions are gone for good.
	_, err = r.GetVersion(ctx, "src-a", 1)
	assert.True(t, kberrors.HasCode(err, kberrors.ErrCodeSourceNotFound))
}

func TestRegistry_RollbackDoesNotAdvanceCounter(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, testSource("src-a")))
	_, err := r.AddVersion(ctx, "src-a", "hash1", 100, "")
	require.NoError(t, err)
	_, err = r.AddVersion(ctx, "src-a", "hash2", 100, "")
	require.NoError(t, err)

	require.NoError(t, r.SetCurrentVersion(ctx, "src-a", 1))

	src, err := r.Get(ctx, "src-a")
	require.NoError(t, err)
	assert.Equal(t, 1, src.CurrentVersion)

	// Next ingest continues the monotonic sequence.
	v, err := r.AddVersion(ctx, "src-a", "hash3", 100, "")
	require.NoError(t, err)
	assert.Equal(t, 3, v.VersionNumber)
}

func TestRegistry_SetCurrentVersionRejectsUnknown(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, testSource("src-a")))
	_, err := r.AddVersion(ctx, "src-a", "hash1", 100, "")
	require.NoError(t, err)

	err = r.SetCurrentVersion(ctx, "src-a", 99)
	assert.True(t, kberrors.HasCode(err, kberrors.ErrCodeSourceNotFound))
}

func TestRegistry_CountersAndTimestamps(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, testSource("src-a")))

	checked := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.TouchChecked(ctx, "src-a", checked))
	require.NoError(t, r.IncrementErrorCount(ctx, "src-a"))
	require.NoError(t, r.IncrementErrorCount(ctx, "src-a"))

	src, err := r.Get(ctx, "src-a")
	require.NoError(t, err)
	assert.True(t, src.LastChecked.Equal(checked))
	assert.Equal(t, 2, src.ErrorCount)
}

func TestRegistry_SetEnabled(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, testSource("src-a")))
	require.NoError(t, r.SetEnabled(ctx, "src-a", false))

	src, err := r.Get(ctx, "src-a")
	require.NoError(t, err)
	assert.False(t, src.Enabled)

	err = r.SetEnabled(ctx, "missing", true)
	assert.True(t, kberrors.HasCode(err, kberrors.ErrCodeSourceNotFound))
}
