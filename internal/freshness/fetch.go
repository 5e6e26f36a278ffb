// Package freshness decides when sources have gone stale and fetches
// their current content. Staleness is TTL-based and fails safe: a source
// that cannot be reached is reported fresh rather than triggering a
// refresh loop against a dead endpoint.
package freshness

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	kberrors "github.com/freshkb/freshkb/internal/errors"
	"github.com/freshkb/freshkb/internal/registry"
)

// FetchResult is the outcome of pulling a source's current content.
type FetchResult struct {
	Content     []byte
	ContentHash string // SHA-256 hex of Content
	SizeBytes   int64
}

// Fetcher retrieves the live content of a source.
type Fetcher interface {
	Fetch(ctx context.Context, src *registry.SourceMetadata) (*FetchResult, error)
}

// HashBytes returns the SHA-256 hex digest of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// maxFetchBytes caps a single fetch at 32 MiB.
const maxFetchBytes = 32 << 20

// ContentFetcher dispatches on source type: HTTP for url and api sources,
// the filesystem for file and directory sources.
type ContentFetcher struct {
	client *http.Client
}

var _ Fetcher = (*ContentFetcher)(nil)

// NewContentFetcher creates a fetcher with the given HTTP timeout.
func NewContentFetcher(timeout time.Duration) *ContentFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ContentFetcher{
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch pulls the source's current bytes and hashes them.
func (f *ContentFetcher) Fetch(ctx context.Context, src *registry.SourceMetadata) (*FetchResult, error) {
	var (
		content []byte
		err     error
	)

	switch src.SourceType {
	case registry.SourceTypeURL, registry.SourceTypeAPI:
		content, err = f.fetchHTTP(ctx, src.Location)
	case registry.SourceTypeFile:
		content, err = fetchFile(src.Location)
	case registry.SourceTypeDirectory:
		content, err = fetchDirectory(src.Location)
	default:
		return nil, kberrors.New(kberrors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown source type %q", src.SourceType), nil)
	}
	if err != nil {
		return nil, err
	}

	return &FetchResult{
		Content:     content,
		ContentHash: HashBytes(content),
		SizeBytes:   int64(len(content)),
	}, nil
}

func (f *ContentFetcher) fetchHTTP(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeInvalidInput,
			fmt.Sprintf("invalid source location %q", url), err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeNetworkUnavailable,
			fmt.Sprintf("fetch %s", url), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, kberrors.New(kberrors.ErrCodeNetworkUnavailable,
			fmt.Sprintf("fetch %s returned %d", url, resp.StatusCode), nil)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeNetworkUnavailable,
			fmt.Sprintf("read body of %s", url), err)
	}
	return content, nil
}

func fetchFile(path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeFileNotFound,
			fmt.Sprintf("read %s", path), err)
	}
	return content, nil
}

// fetchDirectory concatenates the directory's text files in path order,
// so the combined hash changes whenever any file changes.
func fetchDirectory(root string) ([]byte, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if isTextFile(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeFileNotFound,
			fmt.Sprintf("walk %s", root), err)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, kberrors.New(kberrors.ErrCodeFileNotFound,
				fmt.Sprintf("read %s", path), err)
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		fmt.Fprintf(&b, "# %s\n\n", filepath.ToSlash(rel))
		b.Write(content)
		b.WriteString("\n\n")
	}
	return []byte(b.String()), nil
}

func isTextFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".txt", ".rst", ".html", ".htm", ".json", ".yaml", ".yml":
		return true
	}
	return false
}
