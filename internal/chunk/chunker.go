package chunk

import (
	"fmt"
	"regexp"
	"strings"
)

// Chunker splits text into chunks using a configured strategy.
type Chunker struct {
	cfg Config
}

// New creates a Chunker. The config is validated here, not at use time.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunk config: %w", err)
	}
	return &Chunker{cfg: cfg}, nil
}

// Split chunks text using the configured strategy. Markdown content under the
// adaptive strategy routes through structure detection; empty or whitespace
// input yields an empty slice, never an error.
func (c *Chunker) Split(text string, contentType ContentType) []string {
	if strings.TrimSpace(text) == "" {
		return []string{}
	}

	strategy := c.cfg.Strategy
	if strategy == StrategyAdaptive {
		strategy = detectStrategy(text, contentType)
	}

	var chunks []string
	switch strategy {
	case StrategyFixed:
		chunks = c.splitFixed(text)
	case StrategySentence:
		chunks = c.splitSentences(text)
	case StrategySemantic:
		chunks = c.splitParagraphs(text)
	case StrategyHierarchical:
		chunks = c.splitSections(text)
	default:
		chunks = c.splitSentences(text)
	}

	chunks = c.mergeUndersized(chunks)
	return c.capOversized(chunks)
}

// Config returns the chunker's configuration.
func (c *Chunker) Config() Config {
	return c.cfg
}

var (
	headerRe    = regexp.MustCompile(`(?m)^#{1,6}\s`)
	listItemRe  = regexp.MustCompile(`(?m)^(\s*[-*+]\s|\s*\d+\.\s)`)
	codeFenceRe = regexp.MustCompile("(?m)^```")
)

// detectStrategy inspects text structure for the adaptive strategy.
// Code fences win over headers: a fixed window keeps fenced blocks from
// being shredded on fake sentence boundaries inside code.
func detectStrategy(text string, contentType ContentType) Strategy {
	if codeFenceRe.MatchString(text) {
		return StrategyFixed
	}
	if headerRe.MatchString(text) {
		return StrategyHierarchical
	}
	if contentType == ContentTypeMarkdown || listItemRe.MatchString(text) {
		return StrategySemantic
	}
	return StrategySentence
}

// splitFixed slides a token window of ChunkSize with Overlap tokens of
// carry-over between windows.
func (c *Chunker) splitFixed(text string) []string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return []string{}
	}
	if len(tokens) <= c.cfg.ChunkSize {
		return []string{strings.Join(tokens, " ")}
	}

	step := c.cfg.ChunkSize - c.cfg.Overlap
	var chunks []string
	for start := 0; start < len(tokens); start += step {
		end := start + c.cfg.ChunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, strings.Join(tokens[start:end], " "))
		if end == len(tokens) {
			break
		}
	}
	return chunks
}

// splitSentences accumulates whole sentences until the next one would exceed
// ChunkSize, then starts the next chunk with trailing sentences re-included
// to cover Overlap tokens.
func (c *Chunker) splitSentences(text string) []string {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return []string{}
	}

	var chunks []string
	var current []string
	currentTokens := 0

	for _, s := range sentences {
		n := countTokens(s)
		if currentTokens > 0 && currentTokens+n > c.cfg.ChunkSize {
			chunks = append(chunks, strings.Join(current, " "))
			current, currentTokens = c.overlapTail(current)
		}
		current = append(current, s)
		currentTokens += n
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// overlapTail returns the trailing sentences of a finished chunk that seed
// the next one, covering at most Overlap tokens.
func (c *Chunker) overlapTail(sentences []string) ([]string, int) {
	if c.cfg.Overlap == 0 {
		return nil, 0
	}

	var tail []string
	tokens := 0
	for i := len(sentences) - 1; i >= 0; i-- {
		n := countTokens(sentences[i])
		if tokens+n > c.cfg.Overlap {
			break
		}
		tail = append([]string{sentences[i]}, tail...)
		tokens += n
	}
	return tail, tokens
}

// splitParagraphs groups whole paragraphs up to ChunkSize. A single paragraph
// larger than ChunkSize falls back to sentence splitting.
func (c *Chunker) splitParagraphs(text string) []string {
	paragraphs := SplitParagraphs(text)
	if len(paragraphs) == 0 {
		return []string{}
	}

	var chunks []string
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n\n"))
			current = nil
			currentTokens = 0
		}
	}

	for _, p := range paragraphs {
		n := countTokens(p)
		if n > c.cfg.ChunkSize {
			flush()
			chunks = append(chunks, c.splitSentences(p)...)
			continue
		}
		if currentTokens > 0 && currentTokens+n > c.cfg.ChunkSize {
			flush()
		}
		current = append(current, p)
		currentTokens += n
	}
	flush()
	return chunks
}

// splitSections splits on markdown headers. Each section keeps its header
// line; sections larger than ChunkSize are re-chunked semantically with the
// header prefixed onto each piece so standalone chunks stay attributable.
func (c *Chunker) splitSections(text string) []string {
	sections := SplitSections(text)
	if len(sections) == 0 {
		return []string{}
	}

	var chunks []string
	for _, sec := range sections {
		if countTokens(sec.Body) <= c.cfg.ChunkSize {
			chunks = append(chunks, sec.Text())
			continue
		}
		for _, sub := range c.splitParagraphs(sec.Body) {
			if sec.Header != "" {
				sub = sec.Header + "\n\n" + sub
			}
			chunks = append(chunks, sub)
		}
	}
	return chunks
}

// mergeUndersized merges chunks below MinChunkSize into their predecessor
// rather than dropping content. A lone undersized chunk is kept as-is.
func (c *Chunker) mergeUndersized(chunks []string) []string {
	if c.cfg.MinChunkSize == 0 || len(chunks) <= 1 {
		return chunks
	}

	merged := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		if len(merged) > 0 && countTokens(ch) < c.cfg.MinChunkSize {
			merged[len(merged)-1] = merged[len(merged)-1] + "\n\n" + ch
			continue
		}
		merged = append(merged, ch)
	}
	return merged
}

// capOversized enforces the MaxChunkSize hard cap by token truncation into
// continuation chunks.
func (c *Chunker) capOversized(chunks []string) []string {
	capped := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		tokens := strings.Fields(ch)
		for len(tokens) > c.cfg.MaxChunkSize {
			capped = append(capped, strings.Join(tokens[:c.cfg.MaxChunkSize], " "))
			tokens = tokens[c.cfg.MaxChunkSize:]
		}
		if len(tokens) > 0 {
			capped = append(capped, strings.Join(tokens, " "))
		}
	}
	return capped
}

// countTokens counts whitespace-delimited tokens.
func countTokens(s string) int {
	return len(strings.Fields(s))
}

// SplitSentences splits text on sentence terminators (., !, ?) followed by
// whitespace. Trailing text without a terminator is its own sentence.
func SplitSentences(text string) []string {
	var sentences []string
	var b strings.Builder

	runes := []rune(strings.TrimSpace(text))
	for i, r := range runes {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i == len(runes)-1 || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				s := strings.TrimSpace(b.String())
				if s != "" {
					sentences = append(sentences, s)
				}
				b.Reset()
			}
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// SplitParagraphs splits text on blank lines.
func SplitParagraphs(text string) []string {
	var paragraphs []string
	for _, p := range regexp.MustCompile(`\n\s*\n`).Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// Section is a header-delimited region of a document.
type Section struct {
	Header string // header line including the # marks, empty for preamble
	Body   string // section body without the header
}

// Text returns the section with its header reattached.
func (s Section) Text() string {
	if s.Header == "" {
		return s.Body
	}
	if s.Body == "" {
		return s.Header
	}
	return s.Header + "\n" + s.Body
}

// SplitSections splits markdown text into header-delimited sections.
// Text before the first header becomes a header-less preamble section.
func SplitSections(text string) []Section {
	lines := strings.Split(text, "\n")
	var sections []Section
	current := Section{}
	var body []string

	flush := func() {
		current.Body = strings.TrimSpace(strings.Join(body, "\n"))
		if current.Header != "" || current.Body != "" {
			sections = append(sections, current)
		}
		body = nil
	}

	for _, line := range lines {
		if headerRe.MatchString(line) {
			flush()
			current = Section{Header: strings.TrimRight(line, " ")}
			continue
		}
		body = append(body, line)
	}
	flush()
	return sections
}
