package embed

import (
	"context"
	"fmt"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	kberrors "github.com/freshkb/freshkb/internal/errors"
)

// DefaultOpenAIModel is the default OpenAI embedding model.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIConfig configures the OpenAI embedder.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
	Retry      RetryConfig
}

// OpenAIEmbedder generates embeddings using the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	config OpenAIConfig

	mu     sync.RWMutex
	closed bool
}

// Verify interface implementation at compile time
var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates a new OpenAI embedder.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 1536
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	return &OpenAIEmbedder{
		client: openai.NewClient(cfg.APIKey),
		config: cfg,
	}, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings in BatchSize slices with retries.
// Results are normalized to unit length.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, kberrors.New(kberrors.ErrCodeStoreClosed, "embedder is closed", nil)
	}
	e.mu.RUnlock()

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		var vecs [][]float32
		err := WithRetry(ctx, e.config.Retry, func() error {
			var callErr error
			vecs, callErr = e.embedOnce(ctx, texts[start:end])
			return callErr
		})
		if err != nil {
			return nil, kberrors.EmbeddingError(
				fmt.Sprintf("openai batch %d-%d failed", start, end), err)
		}
		results = append(results, vecs...)
	}

	return results, nil
}

func (e *OpenAIEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(reqCtx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.config.Model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: want %d, got %d", len(texts), len(resp.Data))
	}

	vecs := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vecs[d.Index] = NormalizeVector(d.Embedding)
	}
	return vecs, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return e.config.Model
}

// Available reports whether the embedder is usable. The OpenAI API has no
// cheap health endpoint; a configured key counts as available.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
