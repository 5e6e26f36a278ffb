// Package telemetry collects local query metrics for retrieval tuning.
// Nothing is reported externally.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryRecord captures a single retrieval query.
type QueryRecord struct {
	QueryID          string              `json:"query_id"`
	Query            string              `json:"query"`
	Limit            int                 `json:"limit"`
	KeywordCandidates int                `json:"keyword_candidates"`
	VectorCandidates  int                `json:"vector_candidates"`
	FusedCount        int                `json:"fused_count"`
	ResultCount       int                `json:"result_count"`
	Reranked          bool                `json:"reranked"`
	Filters           map[string][]string `json:"filters,omitempty"`
	Latency           time.Duration       `json:"latency_ns"`
	Timestamp         time.Time           `json:"timestamp"`
}

// IsZeroResult reports whether the query returned nothing.
func (r QueryRecord) IsZeroResult() bool {
	return r.ResultCount == 0
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int // next write position
	size     int
	capacity int
}

// NewCircularBuffer creates a buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends an item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffer contents oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return []T{}
	}

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// TermCount pairs a query term with its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is an immutable view of collected metrics.
type Snapshot struct {
	TotalQueries      int64                   `json:"total_queries"`
	ZeroResultCount   int64                   `json:"zero_result_count"`
	RerankedCount     int64                   `json:"reranked_count"`
	ExactRepeatCount  int64                   `json:"exact_repeat_count"`
	TopTerms          []TermCount             `json:"top_terms"`
	ZeroResultQueries []string                `json:"zero_result_queries"`
	Latency           map[LatencyBucket]int64 `json:"latency_distribution"`
	Recent            []QueryRecord           `json:"recent"`
	Since             time.Time               `json:"since"`
}

// ZeroResultPercentage returns the share of zero-result queries.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// Config tunes the collector's buffer sizes.
type Config struct {
	RecentCapacity      int // queries kept verbatim (default: 200)
	ZeroResultsCapacity int // zero-result queries kept (default: 100)
	SeenQueriesCapacity int // query hashes tracked for repeat rate (default: 500)
	TopTermsLimit       int // terms reported in snapshots (default: 20)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RecentCapacity:      200,
		ZeroResultsCapacity: 100,
		SeenQueriesCapacity: 500,
		TopTermsLimit:       20,
	}
}

// QueryMetrics collects query records in memory.
type QueryMetrics struct {
	mu sync.RWMutex

	config      Config
	recent      *CircularBuffer[QueryRecord]
	zeroResults *CircularBuffer[string]
	seenQueries *lru.Cache[string, struct{}]
	termCounts  map[string]int64
	latency     map[LatencyBucket]int64

	totalQueries int64
	zeroCount    int64
	rerankCount  int64
	repeatCount  int64
	since        time.Time
}

// NewQueryMetrics creates a collector.
func NewQueryMetrics(cfg Config) (*QueryMetrics, error) {
	if cfg.RecentCapacity <= 0 {
		cfg.RecentCapacity = 200
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = 100
	}
	if cfg.SeenQueriesCapacity <= 0 {
		cfg.SeenQueriesCapacity = 500
	}
	if cfg.TopTermsLimit <= 0 {
		cfg.TopTermsLimit = 20
	}

	seen, err := lru.New[string, struct{}](cfg.SeenQueriesCapacity)
	if err != nil {
		return nil, err
	}

	return &QueryMetrics{
		config:      cfg,
		recent:      NewCircularBuffer[QueryRecord](cfg.RecentCapacity),
		zeroResults: NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		seenQueries: seen,
		termCounts:  make(map[string]int64),
		latency:     make(map[LatencyBucket]int64),
		since:       time.Now(),
	}, nil
}

// Record ingests one query record.
func (m *QueryMetrics) Record(rec QueryRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalQueries++
	if rec.IsZeroResult() {
		m.zeroCount++
		m.zeroResults.Add(rec.Query)
	}
	if rec.Reranked {
		m.rerankCount++
	}
	m.latency[LatencyToBucket(rec.Latency)]++

	hash := queryHash(rec.Query)
	if _, seen := m.seenQueries.Get(hash); seen {
		m.repeatCount++
	}
	m.seenQueries.Add(hash, struct{}{})

	for _, term := range ExtractTerms(rec.Query) {
		m.termCounts[term]++
	}

	m.recent.Add(rec)
}

// Snapshot returns a copy of the current metrics.
func (m *QueryMetrics) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	latency := make(map[LatencyBucket]int64, len(m.latency))
	for k, v := range m.latency {
		latency[k] = v
	}

	return &Snapshot{
		TotalQueries:      m.totalQueries,
		ZeroResultCount:   m.zeroCount,
		RerankedCount:     m.rerankCount,
		ExactRepeatCount:  m.repeatCount,
		TopTerms:          topN(m.termCounts, m.config.TopTermsLimit),
		ZeroResultQueries: m.zeroResults.Items(),
		Latency:           latency,
		Recent:            m.recent.Items(),
		Since:             m.since,
	}
}

// ExtractTerms lowercases a query and returns its terms of length >= 3.
func ExtractTerms(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	var terms []string
	for _, w := range strings.Fields(query) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

func queryHash(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:8])
}

func topN(counts map[string]int64, n int) []TermCount {
	all := make([]TermCount, 0, len(counts))
	for term, count := range counts {
		all = append(all, TermCount{Term: term, Count: count})
	}

	// Insertion sort by count desc, term asc; term sets stay small.
	for i := 1; i < len(all); i++ {
		for j := i; j > 0; j-- {
			if all[j].Count > all[j-1].Count ||
				(all[j].Count == all[j-1].Count && all[j].Term < all[j-1].Term) {
				all[j], all[j-1] = all[j-1], all[j]
			} else {
				break
			}
		}
	}

	if len(all) > n {
		all = all[:n]
	}
	return all
}
