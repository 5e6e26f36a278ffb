package telemetry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMetrics(t *testing.T) *QueryMetrics {
	t.Helper()
	m, err := NewQueryMetrics(DefaultConfig())
	require.NoError(t, err)
	return m
}

func TestCircularBuffer_FIFOOrder(t *testing.T) {
	b := NewCircularBuffer[int](3)

	b.Add(1)
	b.Add(2)
	assert.Equal(t, []int{1, 2}, b.Items())

	b.Add(3)
	b.Add(4) // evicts 1
	assert.Equal(t, []int{2, 3, 4}, b.Items())
	assert.Equal(t, 3, b.Size())
}

func TestCircularBuffer_Empty(t *testing.T) {
	b := NewCircularBuffer[string](4)
	assert.Empty(t, b.Items())
	assert.Equal(t, 0, b.Size())
}

func TestQueryMetrics_Counters(t *testing.T) {
	m := newMetrics(t)

	m.Record(QueryRecord{QueryID: "q1", Query: "refresh coordinator", ResultCount: 5, Latency: 5 * time.Millisecond})
	m.Record(QueryRecord{QueryID: "q2", Query: "nothing matches this", ResultCount: 0, Latency: 75 * time.Millisecond})
	m.Record(QueryRecord{QueryID: "q3", Query: "stale sources", ResultCount: 2, Reranked: true, Latency: 20 * time.Millisecond})

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.TotalQueries)
	assert.Equal(t, int64(1), snap.ZeroResultCount)
	assert.Equal(t, int64(1), snap.RerankedCount)
	assert.Equal(t, []string{"nothing matches this"}, snap.ZeroResultQueries)
	assert.Equal(t, int64(1), snap.Latency[BucketP10])
	assert.Equal(t, int64(1), snap.Latency[BucketP50])
	assert.Equal(t, int64(1), snap.Latency[BucketP100])
	assert.InDelta(t, 33.3, snap.ZeroResultPercentage(), 0.1)
}

func TestQueryMetrics_RepeatDetection(t *testing.T) {
	m := newMetrics(t)

	m.Record(QueryRecord{Query: "chunk overlap", ResultCount: 1})
	m.Record(QueryRecord{Query: "Chunk Overlap", ResultCount: 1}) // case-insensitive repeat
	m.Record(QueryRecord{Query: "something else", ResultCount: 1})

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.ExactRepeatCount)
}

func TestQueryMetrics_TopTerms(t *testing.T) {
	m := newMetrics(t)

	m.Record(QueryRecord{Query: "refresh cycle", ResultCount: 1})
	m.Record(QueryRecord{Query: "refresh cooldown", ResultCount: 1})
	m.Record(QueryRecord{Query: "rollback version", ResultCount: 1})

	snap := m.Snapshot()
	require.NotEmpty(t, snap.TopTerms)
	assert.Equal(t, TermCount{Term: "refresh", Count: 2}, snap.TopTerms[0])
}

func TestQueryMetrics_RecentEviction(t *testing.T) {
	m, err := NewQueryMetrics(Config{RecentCapacity: 2, ZeroResultsCapacity: 2, SeenQueriesCapacity: 10, TopTermsLimit: 5})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		m.Record(QueryRecord{QueryID: fmt.Sprintf("q%d", i), Query: fmt.Sprintf("query %d", i), ResultCount: 1})
	}

	snap := m.Snapshot()
	require.Len(t, snap.Recent, 2)
	assert.Equal(t, "q1", snap.Recent[0].QueryID)
	assert.Equal(t, "q2", snap.Recent[1].QueryID)
}

func TestExtractTerms_FiltersShortWords(t *testing.T) {
	assert.Equal(t, []string{"ttl", "source"}, ExtractTerms("  TTL of a Source "))
	assert.Nil(t, ExtractTerms("a b"))
	assert.Nil(t, ExtractTerms(""))
}
