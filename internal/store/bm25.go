package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/whitespace"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"
	index "github.com/blevesearch/bleve_index_api"
)

// ChunkAnalyzerName is the custom analyzer: whitespace split + lowercase.
// Tokenization is deliberately language-agnostic; no stemming.
const ChunkAnalyzerName = "chunk_analyzer"

// BleveBM25Index wraps Bleve v2 for BM25 keyword search.
type BleveBM25Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	config BM25Config
	closed bool
}

// Verify interface implementation at compile time
var _ BM25Index = (*BleveBM25Index)(nil)

// bleveDocument is the document structure for Bleve indexing.
type bleveDocument struct {
	Text string `json:"text"`
}

// validateIndexIntegrity checks if a Bleve index is openable before trying.
// Returns nil if valid or absent, an error describing corruption otherwise.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // will be created
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}

	return nil
}

// NewBleveBM25Index creates a BM25 index at path, or in memory if path is
// empty. A corrupted on-disk index is cleared and recreated; the registry
// remains the source of truth for rebuilds.
func NewBleveBM25Index(path string, config BM25Config) (*BleveBM25Index, error) {
	if config.K1 <= 0 {
		config.K1 = DefaultBM25Config().K1
	}
	if config.B <= 0 {
		config.B = DefaultBM25Config().B
	}
	// Bleve exposes the BM25 parameters as package-level knobs read by
	// the scorer at query time; they are process-wide, not per-index.
	search.BM25_k1 = config.K1
	search.BM25_b = config.B

	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}

		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("bm25_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("clear corrupted index at %s: %w", path, removeErr)
			}
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create/open index: %w", err)
	}

	return &BleveBM25Index{
		index:  idx,
		path:   path,
		config: config,
	}, nil
}

// createIndexMapping builds the Bleve mapping with the chunk analyzer.
func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(ChunkAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": whitespace.Name,
		"token_filters": []string{
			lowercase.Name,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("add custom analyzer: %w", err)
	}

	indexMapping.DefaultAnalyzer = ChunkAnalyzerName
	indexMapping.ScoringModel = index.BM25Scoring
	return indexMapping, nil
}

// Index adds documents to the index in one batch.
func (b *BleveBM25Index) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, bleveDocument{Text: doc.Text}); err != nil {
			return fmt.Errorf("index document %s: %w", doc.ID, err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("execute batch: %w", err)
	}

	return nil
}

// Search returns documents matching query, scored by BM25.
func (b *BleveBM25Index) Search(ctx context.Context, queryStr string, limit int) ([]*BM25Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}

	if strings.TrimSpace(queryStr) == "" {
		return []*BM25Result{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	matchQuery.SetField("text")

	searchRequest := bleve.NewSearchRequest(matchQuery)
	searchRequest.Size = limit
	searchRequest.IncludeLocations = true // for matched terms

	result, err := b.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*BM25Result, 0, len(result.Hits))
	for _, hit := range result.Hits {
		results = append(results, &BM25Result{
			ID:           hit.ID,
			Score:        hit.Score,
			MatchedTerms: extractMatchedTerms(hit),
		})
	}

	return results, nil
}

// Delete removes documents from the index.
func (b *BleveBM25Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}

	return nil
}

// DocCount returns the number of indexed documents.
func (b *BleveBM25Index) DocCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}

	count, _ := b.index.DocCount()
	return int(count)
}

// Close closes the index.
func (b *BleveBM25Index) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

// extractMatchedTerms extracts matched terms from a search hit.
func extractMatchedTerms(hit *search.DocumentMatch) []string {
	terms := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field == "text" {
			for term := range locations {
				terms[term] = struct{}{}
			}
		}
	}

	result := make([]string, 0, len(terms))
	for term := range terms {
		result = append(result, term)
	}
	return result
}
