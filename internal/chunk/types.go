// Package chunk splits raw document text into bounded, retrievable units.
// A strategy is selected by content type or forced via config; every strategy
// is a pure function of its input, so chunking is restartable.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Size defaults, measured in whitespace tokens.
const (
	DefaultChunkTokens = 512
	DefaultOverlap     = 64
	DefaultMinTokens   = 100
	DefaultMaxTokens   = 2048
)

// ContentType hints at the structure of the input text.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeHTML     ContentType = "html"
)

// Strategy selects the splitting algorithm.
type Strategy string

const (
	// StrategyFixed splits on a token-count window with overlap.
	StrategyFixed Strategy = "fixed"
	// StrategySentence never splits mid-sentence; overlap re-includes
	// trailing sentences.
	StrategySentence Strategy = "sentence"
	// StrategySemantic groups whole paragraphs.
	StrategySemantic Strategy = "semantic"
	// StrategyHierarchical splits on markdown headers, falling back to
	// semantic chunking for oversized sections.
	StrategyHierarchical Strategy = "hierarchical"
	// StrategyAdaptive inspects the text and dispatches to the best match.
	StrategyAdaptive Strategy = "adaptive"
)

// Config parameterizes a Chunker. All sizes are in tokens.
type Config struct {
	Strategy     Strategy
	ChunkSize    int
	Overlap      int
	MinChunkSize int
	MaxChunkSize int

	// PreserveSentences biases quality scoring toward chunks that end on
	// sentence boundaries.
	PreserveSentences bool
}

// DefaultConfig returns the default chunking configuration.
func DefaultConfig() Config {
	return Config{
		Strategy:          StrategyAdaptive,
		ChunkSize:         DefaultChunkTokens,
		Overlap:           DefaultOverlap,
		MinChunkSize:      DefaultMinTokens,
		MaxChunkSize:      DefaultMaxTokens,
		PreserveSentences: true,
	}
}

// Validate checks the configuration at construction time.
func (c Config) Validate() error {
	switch c.Strategy {
	case StrategyFixed, StrategySentence, StrategySemantic, StrategyHierarchical, StrategyAdaptive:
	default:
		return fmt.Errorf("unknown chunk strategy %q", c.Strategy)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.Overlap < 0 || c.Overlap >= c.ChunkSize {
		return fmt.Errorf("overlap must be in [0,%d), got %d", c.ChunkSize, c.Overlap)
	}
	if c.MinChunkSize < 0 || c.MinChunkSize > c.ChunkSize {
		return fmt.Errorf("min chunk size must be in [0,%d], got %d", c.ChunkSize, c.MinChunkSize)
	}
	if c.MaxChunkSize < c.ChunkSize {
		return fmt.Errorf("max chunk size %d below chunk size %d", c.MaxChunkSize, c.ChunkSize)
	}
	return nil
}

// Chunk is a retrievable unit of content. Immutable once created;
// re-ingestion produces new chunks rather than mutating old ones.
type Chunk struct {
	ID       string            // content-addressed: SHA256(source_id + text)[:16]
	SourceID string            // owning source
	Text     string            // chunk text
	Position int               // 0-based position within the build
	Metadata map[string]string // url, title, category, priority, description
}

// ID derives a content-addressed chunk ID. Identical text from the same
// source always maps to the same ID, which is what lets rank fusion dedup
// a chunk surfaced by both indexes.
func ID(sourceID, text string) string {
	h := sha256.Sum256([]byte(sourceID + "\x00" + text))
	return hex.EncodeToString(h[:])[:16]
}
