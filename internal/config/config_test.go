package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, StrategyAdaptive, cfg.Chunking.Strategy)
	assert.Equal(t, 5*time.Minute, cfg.Refresh.Cooldown)
	assert.Equal(t, 10, cfg.Refresh.MaxVersions)
	assert.Equal(t, time.Hour, cfg.Freshness.CheckInterval)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Search.RRFConstant, cfg.Search.RRFConstant)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
search:
  bm25_weight: 0.5
  semantic_weight: 0.5
  rrf_constant: 30
chunking:
  strategy: sentence
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Search.BM25Weight)
	assert.Equal(t, 30, cfg.Search.RRFConstant)
	assert.Equal(t, StrategySentence, cfg.Chunking.Strategy)
	// Untouched sections keep defaults
	assert.Equal(t, "hnsw", cfg.Search.VectorBackend)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("FRESHKB_RRF_CONSTANT", "90")
	t.Setenv("FRESHKB_BM25_WEIGHT", "0.4")
	t.Setenv("FRESHKB_SEMANTIC_WEIGHT", "0.6")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.Search.RRFConstant)
	assert.Equal(t, 0.4, cfg.Search.BM25Weight)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"weights don't sum to 1", func(c *Config) { c.Search.BM25Weight = 0.9 }},
		{"negative rrf constant", func(c *Config) { c.Search.RRFConstant = -1 }},
		{"unknown strategy", func(c *Config) { c.Chunking.Strategy = "recursive" }},
		{"overlap >= chunk size", func(c *Config) { c.Chunking.Overlap = c.Chunking.ChunkSize }},
		{"max below target", func(c *Config) { c.Chunking.MaxChunkSize = 1 }},
		{"unknown vector backend", func(c *Config) { c.Search.VectorBackend = "faiss" }},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "cohere" }},
		{"zero dimensions", func(c *Config) { c.Embeddings.Dimensions = 0 }},
		{"zero max versions", func(c *Config) { c.Refresh.MaxVersions = 0 }},
		{"zero check interval", func(c *Config) { c.Freshness.CheckInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveAndReload_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Search.RRFConstant = 42
	cfg.Chunking.Strategy = StrategyHierarchical
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.Search.RRFConstant)
	assert.Equal(t, StrategyHierarchical, loaded.Chunking.Strategy)
}

func TestTTLDaysFor(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 7, cfg.TTLDaysFor("url"))
	assert.Equal(t, 90, cfg.TTLDaysFor("api"))
	assert.Equal(t, 7, cfg.TTLDaysFor("unknown-type"))
}
