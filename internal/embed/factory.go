package embed

import (
	"fmt"
	"os"

	"github.com/freshkb/freshkb/internal/config"
)

// NewFromConfig constructs the configured embedder backend, wrapped in the
// LRU cache.
func NewFromConfig(cfg config.EmbeddingsConfig) (Embedder, error) {
	var (
		inner Embedder
		err   error
	)

	switch cfg.Provider {
	case "ollama":
		inner = NewOllamaEmbedder(OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Timeout:    cfg.Timeout,
		})
	case "openai":
		inner, err = NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     os.Getenv(cfg.OpenAIKeyEnv),
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder: %w", err)
		}
	case "static":
		inner = NewStaticEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
