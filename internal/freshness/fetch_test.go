package freshness

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/freshkb/freshkb/internal/errors"
	"github.com/freshkb/freshkb/internal/registry"
)

func TestFetch_URL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("remote document body"))
	}))
	defer srv.Close()

	f := NewContentFetcher(time.Second)
	result, err := f.Fetch(context.Background(), &registry.SourceMetadata{
		SourceID:   "src-a",
		SourceType: registry.SourceTypeURL,
		Location:   srv.URL,
	})
	require.NoError(t, err)

	assert.Equal(t, []byte("remote document body"), result.Content)
	assert.Equal(t, HashBytes([]byte("remote document body")), result.ContentHash)
	assert.Equal(t, int64(len("remote document body")), result.SizeBytes)
}

func TestFetch_URLServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewContentFetcher(time.Second)
	_, err := f.Fetch(context.Background(), &registry.SourceMetadata{
		SourceType: registry.SourceTypeURL,
		Location:   srv.URL,
	})
	assert.True(t, kberrors.HasCode(err, kberrors.ErrCodeNetworkUnavailable))
}

func TestFetch_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.md")
	require.NoError(t, os.WriteFile(path, []byte("# Local doc"), 0o644))

	f := NewContentFetcher(time.Second)
	result, err := f.Fetch(context.Background(), &registry.SourceMetadata{
		SourceType: registry.SourceTypeFile,
		Location:   path,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("# Local doc"), result.Content)
}

func TestFetch_FileMissing(t *testing.T) {
	f := NewContentFetcher(time.Second)
	_, err := f.Fetch(context.Background(), &registry.SourceMetadata{
		SourceType: registry.SourceTypeFile,
		Location:   "/nonexistent/doc.md",
	})
	assert.True(t, kberrors.HasCode(err, kberrors.ErrCodeFileNotFound))
}

func TestFetch_DirectoryDeterministicHash(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("second"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("first"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.bin"), []byte{0x00, 0x01}, 0o644))

	f := NewContentFetcher(time.Second)
	src := &registry.SourceMetadata{SourceType: registry.SourceTypeDirectory, Location: dir}

	first, err := f.Fetch(context.Background(), src)
	require.NoError(t, err)
	second, err := f.Fetch(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, first.ContentHash, second.ContentHash)
	assert.Contains(t, string(first.Content), "first")
	assert.Contains(t, string(first.Content), "second")
	assert.NotContains(t, string(first.Content), "ignored.bin")

	// Changing any file changes the combined hash.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("first, edited"), 0o644))
	third, err := f.Fetch(context.Background(), src)
	require.NoError(t, err)
	assert.NotEqual(t, first.ContentHash, third.ContentHash)
}

func TestHashBytes_Stable(t *testing.T) {
	assert.Equal(t, HashBytes([]byte("abc")), HashBytes([]byte("abc")))
	assert.NotEqual(t, HashBytes([]byte("abc")), HashBytes([]byte("abd")))
	assert.Len(t, HashBytes(nil), 64)
}

func TestProbe_HTTPReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	p := NewProber(time.Second)
	status, err := p.Probe(context.Background(), &registry.SourceMetadata{
		SourceType: registry.SourceTypeURL,
		Location:   srv.URL,
	})
	assert.NoError(t, err)
	assert.Equal(t, ProbeReachable, status)
}

func TestProbe_HTTPDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // immediately unreachable

	p := NewProber(time.Second)
	status, err := p.Probe(context.Background(), &registry.SourceMetadata{
		SourceType: registry.SourceTypeURL,
		Location:   srv.URL,
	})
	assert.True(t, kberrors.HasCode(err, kberrors.ErrCodeNetworkUnavailable))
	assert.Equal(t, ProbeUnreachable, status)
}

func TestProbe_HTTPStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		status ProbeStatus
	}{
		{"ok", http.StatusOK, ProbeReachable},
		{"head_rejected", http.StatusMethodNotAllowed, ProbeReachable},
		{"not_found", http.StatusNotFound, ProbeInvalid},
		{"gone", http.StatusGone, ProbeInvalid},
		{"server_error", http.StatusInternalServerError, ProbeUnreachable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			}))
			defer srv.Close()

			p := NewProber(time.Second)
			status, err := p.Probe(context.Background(), &registry.SourceMetadata{
				SourceType: registry.SourceTypeURL,
				Location:   srv.URL,
			})
			assert.Equal(t, tt.status, status)
			if tt.status == ProbeReachable {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestProbe_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.md")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	p := NewProber(time.Second)
	status, err := p.Probe(context.Background(), &registry.SourceMetadata{
		SourceType: registry.SourceTypeFile,
		Location:   path,
	})
	assert.NoError(t, err)
	assert.Equal(t, ProbeReachable, status)

	status, err = p.Probe(context.Background(), &registry.SourceMetadata{
		SourceType: registry.SourceTypeFile,
		Location:   path + ".missing",
	})
	assert.True(t, kberrors.HasCode(err, kberrors.ErrCodeFileNotFound))
	assert.Equal(t, ProbeInvalid, status)
}
