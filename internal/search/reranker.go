package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// RerankResult is a single reranked document.
type RerankResult struct {
	// Index is the original position in the input documents slice.
	Index int
	// Score is the relevance score (0.0 to 1.0).
	Score float64
}

// Reranker reorders candidate documents by relevance to the query using a
// cross-encoder. Cross-encoders jointly encode query-document pairs, which
// scores relevance better than bi-encoders at higher latency.
type Reranker interface {
	// Rerank scores documents against the query and returns results
	// sorted by score descending. topK of 0 returns all.
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)

	// Available checks whether the reranker can serve requests.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// NoOpReranker preserves the original order. Used when reranking is
// disabled or the endpoint is unreachable.
type NoOpReranker struct{}

var _ Reranker = (*NoOpReranker)(nil)

// Rerank returns documents in original order with decreasing scores.
func (n *NoOpReranker) Rerank(_ context.Context, _ string, documents []string, topK int) ([]RerankResult, error) {
	results := make([]RerankResult, len(documents))
	for i := range documents {
		results[i] = RerankResult{Index: i, Score: 1.0 - float64(i)*0.01}
	}
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (n *NoOpReranker) Available(_ context.Context) bool { return true }
func (n *NoOpReranker) Close() error                     { return nil }

// HTTPReranker calls an external cross-encoder scoring service.
type HTTPReranker struct {
	endpoint string
	client   *http.Client
}

var _ Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker creates a reranker against the given scoring endpoint.
func NewHTTPReranker(endpoint string, timeout time.Duration) *HTTPReranker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPReranker{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// Rerank posts the query and documents for scoring.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error) {
	if len(documents) == 0 {
		return []RerankResult{}, nil
	}

	body, err := json.Marshal(rerankRequest{Query: query, Documents: documents})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank service returned %d", resp.StatusCode)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	if len(parsed.Scores) != len(documents) {
		return nil, fmt.Errorf("rerank service returned %d scores for %d documents", len(parsed.Scores), len(documents))
	}

	results := make([]RerankResult, len(documents))
	for i, score := range parsed.Scores {
		results[i] = RerankResult{Index: i, Score: score}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// Available probes the endpoint with a HEAD request.
func (r *HTTPReranker) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

func (r *HTTPReranker) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
