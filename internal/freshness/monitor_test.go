package freshness

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freshkb/freshkb/internal/registry"
)

// seedSource registers a source and backdates its last refresh so its
// staleness is fully determined by the fake clock.
func seedSource(t *testing.T, reg *registry.Registry, id string, srcType registry.SourceType, location string, ttlDays int, staleFor time.Duration, clock *fakeClock) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, &registry.SourceMetadata{
		SourceID:    id,
		SourceType:  srcType,
		Location:    location,
		TTLDays:     ttlDays,
		Enabled:     true,
		AutoRefresh: true,
		CreatedAt:   clock.now.Add(-time.Duration(ttlDays)*24*time.Hour - staleFor),
	}))
}

func openRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := registry.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestMonitor_StaleSourceTriggersHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	reg := openRegistry(t)
	clock := &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	seedSource(t, reg, "src-stale", registry.SourceTypeURL, srv.URL, 7, 24*time.Hour, clock)

	var handled []string
	m := NewMonitor(reg, NewChecker(clock), NewProber(time.Second), MonitorConfig{ProbesPerSecond: 100},
		func(_ context.Context, src *registry.SourceMetadata, result StalenessResult) {
			handled = append(handled, src.SourceID)
			assert.True(t, result.NeedsRefresh)
		}, nil)

	results, err := m.CheckAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].IsStale)
	assert.Equal(t, []string{"src-stale"}, handled)

	src, err := reg.Get(context.Background(), "src-stale")
	require.NoError(t, err)
	assert.False(t, src.LastChecked.IsZero())
	assert.Equal(t, 0, src.ErrorCount)
}

func TestMonitor_UnreachableSourceFailsSafe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // endpoint is down

	reg := openRegistry(t)
	clock := &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	seedSource(t, reg, "src-down", registry.SourceTypeURL, url, 7, 24*time.Hour, clock)

	handled := 0
	m := NewMonitor(reg, NewChecker(clock), NewProber(time.Second), MonitorConfig{ProbesPerSecond: 100},
		func(context.Context, *registry.SourceMetadata, StalenessResult) { handled++ }, nil)

	results, err := m.CheckAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)

	// TTL elapsed, but the endpoint is unreachable: reported fresh and
	// the handler never fires.
	assert.False(t, results[0].IsStale)
	assert.False(t, results[0].NeedsRefresh)
	assert.False(t, results[0].Reachable)
	assert.False(t, results[0].Invalid)
	assert.Equal(t, 0, handled)

	src, err := reg.Get(context.Background(), "src-down")
	require.NoError(t, err)
	assert.Equal(t, 1, src.ErrorCount)
}

func TestMonitor_GoneSourceReportedInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	reg := openRegistry(t)
	clock := &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	seedSource(t, reg, "src-gone", registry.SourceTypeURL, srv.URL, 7, 24*time.Hour, clock)

	handled := 0
	m := NewMonitor(reg, NewChecker(clock), NewProber(time.Second), MonitorConfig{ProbesPerSecond: 100},
		func(context.Context, *registry.SourceMetadata, StalenessResult) { handled++ }, nil)

	results, err := m.CheckAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)

	// The endpoint answers but the resource is gone: staleness stands,
	// the source is flagged invalid, and no refresh is triggered.
	assert.True(t, results[0].IsStale)
	assert.True(t, results[0].Invalid)
	assert.True(t, results[0].Reachable)
	assert.False(t, results[0].NeedsRefresh)
	assert.Equal(t, 0, handled)

	src, err := reg.Get(context.Background(), "src-gone")
	require.NoError(t, err)
	assert.Equal(t, 1, src.ErrorCount)
}

func TestMonitor_FreshSourceSkipsProbe(t *testing.T) {
	probes := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { probes++ }))
	defer srv.Close()

	reg := openRegistry(t)
	clock := &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}

	require.NoError(t, reg.Register(context.Background(), &registry.SourceMetadata{
		SourceID:    "src-fresh",
		SourceType:  registry.SourceTypeURL,
		Location:    srv.URL,
		TTLDays:     7,
		Enabled:     true,
		AutoRefresh: true,
		CreatedAt:   clock.now.Add(-24 * time.Hour),
	}))

	m := NewMonitor(reg, NewChecker(clock), NewProber(time.Second), MonitorConfig{ProbesPerSecond: 100}, nil, nil)

	results, err := m.CheckAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].IsStale)
	assert.Equal(t, 0, probes)
}

func TestMonitor_DisabledSourcesSkipped(t *testing.T) {
	reg := openRegistry(t)
	clock := &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, &registry.SourceMetadata{
		SourceID:   "src-off",
		SourceType: registry.SourceTypeURL,
		Location:   "https://example.com",
		TTLDays:    7,
		Enabled:    false,
		CreatedAt:  clock.now.Add(-30 * 24 * time.Hour),
	}))

	m := NewMonitor(reg, NewChecker(clock), NewProber(time.Second), MonitorConfig{}, nil, nil)
	results, err := m.CheckAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMonitor_CheckSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	reg := openRegistry(t)
	clock := &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	seedSource(t, reg, "src-a", registry.SourceTypeURL, srv.URL, 7, 24*time.Hour, clock)

	m := NewMonitor(reg, NewChecker(clock), NewProber(time.Second), MonitorConfig{ProbesPerSecond: 100}, nil, nil)

	result, err := m.CheckSource(context.Background(), "src-a")
	require.NoError(t, err)
	assert.True(t, result.IsStale)

	_, err = m.CheckSource(context.Background(), "missing")
	assert.Error(t, err)
}
