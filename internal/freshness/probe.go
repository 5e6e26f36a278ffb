package freshness

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	kberrors "github.com/freshkb/freshkb/internal/errors"
	"github.com/freshkb/freshkb/internal/registry"
)

// DefaultProbeTimeout bounds a single reachability probe.
const DefaultProbeTimeout = 10 * time.Second

// ProbeStatus classifies the outcome of a reachability probe.
type ProbeStatus string

const (
	// ProbeReachable means the location answered and the resource exists.
	ProbeReachable ProbeStatus = "reachable"

	// ProbeInvalid means the location answered but the resource is gone
	// (HTTP 404/410, missing file). The source itself is broken, not the
	// network.
	ProbeInvalid ProbeStatus = "invalid"

	// ProbeUnreachable means the probe could not get an answer: network
	// failure, timeout, or a server error.
	ProbeUnreachable ProbeStatus = "unreachable"
)

// Prober checks whether a source's location is reachable without pulling
// its content. Reachability is advisory; staleness never depends on it.
type Prober struct {
	client  *http.Client
	timeout time.Duration
}

// NewProber creates a prober with the given per-probe timeout.
func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Probe classifies a source location. HTTP sources are probed with HEAD,
// filesystem sources with a stat. The error carries detail for any status
// other than ProbeReachable.
func (p *Prober) Probe(ctx context.Context, src *registry.SourceMetadata) (ProbeStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	switch src.SourceType {
	case registry.SourceTypeURL, registry.SourceTypeAPI:
		return p.probeHTTP(ctx, src.Location)
	case registry.SourceTypeFile, registry.SourceTypeDirectory:
		if _, err := os.Stat(src.Location); err != nil {
			if os.IsNotExist(err) {
				return ProbeInvalid, kberrors.New(kberrors.ErrCodeFileNotFound,
					fmt.Sprintf("probe %s", src.Location), err)
			}
			return ProbeUnreachable, kberrors.New(kberrors.ErrCodeFileNotFound,
				fmt.Sprintf("probe %s", src.Location), err)
		}
		return ProbeReachable, nil
	default:
		return ProbeInvalid, kberrors.New(kberrors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown source type %q", src.SourceType), nil)
	}
}

func (p *Prober) probeHTTP(ctx context.Context, url string) (ProbeStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return ProbeInvalid, kberrors.New(kberrors.ErrCodeInvalidInput,
			fmt.Sprintf("invalid source location %q", url), err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return ProbeUnreachable, kberrors.New(kberrors.ErrCodeNetworkUnavailable,
			fmt.Sprintf("probe %s", url), err)
	}
	_ = resp.Body.Close()

	switch {
	// Some origins reject HEAD; any response at all proves reachability.
	case resp.StatusCode == http.StatusMethodNotAllowed:
		return ProbeReachable, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ProbeInvalid, kberrors.New(kberrors.ErrCodeFileNotFound,
			fmt.Sprintf("probe %s returned %d", url, resp.StatusCode), nil)
	case resp.StatusCode >= http.StatusInternalServerError:
		return ProbeUnreachable, kberrors.New(kberrors.ErrCodeNetworkUnavailable,
			fmt.Sprintf("probe %s returned %d", url, resp.StatusCode), nil)
	default:
		return ProbeReachable, nil
	}
}
