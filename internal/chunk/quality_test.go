package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuality_EmptyIsZero(t *testing.T) {
	assert.Zero(t, Quality(nil, DefaultConfig()))
}

func TestQuality_PerfectChunksScoreHigh(t *testing.T) {
	cfg := Config{ChunkSize: 5, Overlap: 1, PreserveSentences: true}
	chunks := []string{
		"alpha beta gamma delta epsilon.",
		"epsilon zeta eta theta iota.",
	}

	q := Quality(chunks, cfg)
	assert.Greater(t, q, 0.9, "on-target, sentence-final, overlapping chunks")
}

func TestQuality_PenalizesSizeDrift(t *testing.T) {
	cfg := Config{ChunkSize: 100, PreserveSentences: false}

	onTarget := []string{strings.TrimSpace(strings.Repeat("w ", 100))}
	tiny := []string{"w w w"}

	assert.Greater(t, Quality(onTarget, cfg), Quality(tiny, cfg))
}

func TestQuality_SentenceComponentOnlyWhenEnabled(t *testing.T) {
	chunks := []string{"no terminator here at all"}

	withSentences := Quality(chunks, Config{ChunkSize: 5, PreserveSentences: true})
	withoutSentences := Quality(chunks, Config{ChunkSize: 5, PreserveSentences: false})

	// Missing boundary drags the score down only when the component applies
	assert.Less(t, withSentences, withoutSentences)
}

func TestQuality_OverlapComponentDetectsSharedTokens(t *testing.T) {
	cfg := Config{ChunkSize: 4, Overlap: 2, PreserveSentences: false}

	sharing := []string{"a b c d", "c d e f"}
	disjoint := []string{"a b c d", "e f g h"}

	assert.Greater(t, Quality(sharing, cfg), Quality(disjoint, cfg))
}
