// Package config loads and validates the freshkb YAML configuration.
//
// Resolution order:
//  1. Built-in defaults
//  2. Config file (~/.freshkb/config.yaml or --config path)
//  3. Environment variables (FRESHKB_BM25_WEIGHT, FRESHKB_SEMANTIC_WEIGHT,
//     FRESHKB_RRF_CONSTANT) — highest priority
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete freshkb configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Freshness  FreshnessConfig  `yaml:"freshness" json:"freshness"`
	Refresh    RefreshConfig    `yaml:"refresh" json:"refresh"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// PathsConfig configures where index artifacts and the registry live.
type PathsConfig struct {
	// DataDir holds the registry database and per-generation index artifacts.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// SearchConfig configures hybrid search and rank fusion.
type SearchConfig struct {
	// BM25Weight is the RRF weight for keyword results (0.0-1.0).
	// Must sum to 1.0 with SemanticWeight.
	BM25Weight float64 `yaml:"bm25_weight" json:"bm25_weight"`

	// SemanticWeight is the RRF weight for vector results (0.0-1.0).
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`

	// RRFConstant is the RRF smoothing parameter k (default: 60).
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// DefaultLimit is the default top-k (default: 10).
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`

	// MaxLimit is the maximum allowed top-k (default: 100).
	MaxLimit int `yaml:"max_limit" json:"max_limit"`

	// VectorBackend selects the vector index backend: "hnsw" or "chromem".
	VectorBackend string `yaml:"vector_backend" json:"vector_backend"`

	// RerankerEndpoint is the optional reranker service URL. Empty disables
	// reranking (a no-op reranker is substituted).
	RerankerEndpoint string `yaml:"reranker_endpoint" json:"reranker_endpoint"`

	// RerankerTimeout bounds a rerank call; on timeout the fused ranking
	// is returned unchanged.
	RerankerTimeout time.Duration `yaml:"reranker_timeout" json:"reranker_timeout"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the backend: "ollama", "openai", or "static" (tests).
	Provider   string        `yaml:"provider" json:"provider"`
	Model      string        `yaml:"model" json:"model"`
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	BatchSize  int           `yaml:"batch_size" json:"batch_size"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`

	// OllamaHost is the Ollama API endpoint (default: http://localhost:11434).
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`

	// OpenAIKeyEnv names the environment variable holding the API key.
	OpenAIKeyEnv string `yaml:"openai_key_env" json:"openai_key_env"`

	// CacheSize is the embedding LRU cache capacity (entries).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// ChunkStrategy selects how raw text is split into chunks.
type ChunkStrategy string

const (
	StrategyFixed        ChunkStrategy = "fixed"
	StrategySentence     ChunkStrategy = "sentence"
	StrategySemantic     ChunkStrategy = "semantic"
	StrategyHierarchical ChunkStrategy = "hierarchical"
	StrategyAdaptive     ChunkStrategy = "adaptive"
)

// Valid reports whether the strategy is a known value.
func (s ChunkStrategy) Valid() bool {
	switch s {
	case StrategyFixed, StrategySentence, StrategySemantic, StrategyHierarchical, StrategyAdaptive:
		return true
	}
	return false
}

// ChunkingConfig configures the chunker.
type ChunkingConfig struct {
	Strategy     ChunkStrategy `yaml:"strategy" json:"strategy"`
	ChunkSize    int           `yaml:"chunk_size" json:"chunk_size"`
	Overlap      int           `yaml:"overlap" json:"overlap"`
	MinChunkSize int           `yaml:"min_chunk_size" json:"min_chunk_size"`
	MaxChunkSize int           `yaml:"max_chunk_size" json:"max_chunk_size"`

	// PreserveSentences biases quality scoring toward sentence-final chunks.
	PreserveSentences bool `yaml:"preserve_sentences" json:"preserve_sentences"`
}

// FreshnessConfig configures the staleness monitor.
type FreshnessConfig struct {
	// CheckInterval is the background polling interval (default: 1h).
	CheckInterval time.Duration `yaml:"check_interval" json:"check_interval"`

	// ProbeTimeout bounds hash fetches and reachability probes (default: 10s).
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout"`

	// ProbesPerSecond rate-limits outbound freshness probes (default: 4).
	ProbesPerSecond float64 `yaml:"probes_per_second" json:"probes_per_second"`

	// DefaultTTLDays maps source types to default TTLs in days.
	// Overridable per source at registration.
	DefaultTTLDays map[string]int `yaml:"default_ttl_days" json:"default_ttl_days"`
}

// RefreshConfig configures the refresh coordinator.
type RefreshConfig struct {
	// Cooldown is the minimum interval between refreshes of one source
	// (default: 5m).
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`

	// MaxVersions bounds per-source version history (default: 10).
	MaxVersions int `yaml:"max_versions" json:"max_versions"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port     int    `yaml:"port" json:"port"`
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultDataDir returns ~/.freshkb, falling back to the temp dir.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".freshkb")
	}
	return filepath.Join(home, ".freshkb")
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir: DefaultDataDir(),
		},
		Search: SearchConfig{
			BM25Weight:      0.3,
			SemanticWeight:  0.7,
			RRFConstant:     60,
			DefaultLimit:    10,
			MaxLimit:        100,
			VectorBackend:   "hnsw",
			RerankerTimeout: 5 * time.Second,
		},
		Embeddings: EmbeddingsConfig{
			Provider:     "ollama",
			Model:        "nomic-embed-text",
			Dimensions:   768,
			BatchSize:    32,
			Timeout:      60 * time.Second,
			OllamaHost:   "http://localhost:11434",
			OpenAIKeyEnv: "OPENAI_API_KEY",
			CacheSize:    4096,
		},
		Chunking: ChunkingConfig{
			Strategy:          StrategyAdaptive,
			ChunkSize:         512,
			Overlap:           64,
			MinChunkSize:      100,
			MaxChunkSize:      2048,
			PreserveSentences: true,
		},
		Freshness: FreshnessConfig{
			CheckInterval:   time.Hour,
			ProbeTimeout:    10 * time.Second,
			ProbesPerSecond: 4,
			DefaultTTLDays: map[string]int{
				"url":       7,
				"file":      14,
				"directory": 14,
				"api":       90,
			},
		},
		Refresh: RefreshConfig{
			Cooldown:    5 * time.Minute,
			MaxVersions: 10,
		},
		Server: ServerConfig{
			Port:     7333,
			LogLevel: "info",
		},
	}
}

// Load reads configuration from path, merging over defaults and applying
// environment overrides. A missing file is not an error; defaults are used.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FRESHKB_BM25_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.BM25Weight = f
		}
	}
	if v := os.Getenv("FRESHKB_SEMANTIC_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.SemanticWeight = f
		}
	}
	if v := os.Getenv("FRESHKB_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			cfg.Search.RRFConstant = k
		}
	}
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	if c.Search.BM25Weight < 0 || c.Search.BM25Weight > 1 {
		return fmt.Errorf("search.bm25_weight must be in [0,1], got %v", c.Search.BM25Weight)
	}
	if c.Search.SemanticWeight < 0 || c.Search.SemanticWeight > 1 {
		return fmt.Errorf("search.semantic_weight must be in [0,1], got %v", c.Search.SemanticWeight)
	}
	if sum := c.Search.BM25Weight + c.Search.SemanticWeight; math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("search weights must sum to 1.0, got %v", sum)
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.DefaultLimit <= 0 || c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("search.default_limit must be in (0,%d], got %d", c.Search.MaxLimit, c.Search.DefaultLimit)
	}
	switch c.Search.VectorBackend {
	case "hnsw", "chromem":
	default:
		return fmt.Errorf("search.vector_backend must be hnsw or chromem, got %q", c.Search.VectorBackend)
	}

	switch c.Embeddings.Provider {
	case "ollama", "openai", "static":
	default:
		return fmt.Errorf("embeddings.provider must be ollama, openai, or static, got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.BatchSize <= 0 || c.Embeddings.BatchSize > 256 {
		return fmt.Errorf("embeddings.batch_size must be in (0,256], got %d", c.Embeddings.BatchSize)
	}

	if !c.Chunking.Strategy.Valid() {
		return fmt.Errorf("chunking.strategy %q is not one of fixed|sentence|semantic|hierarchical|adaptive", c.Chunking.Strategy)
	}
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("chunking.chunk_size must be positive, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.overlap must be in [0,chunk_size), got %d", c.Chunking.Overlap)
	}
	if c.Chunking.MinChunkSize < 0 || c.Chunking.MinChunkSize > c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.min_chunk_size must be in [0,chunk_size], got %d", c.Chunking.MinChunkSize)
	}
	if c.Chunking.MaxChunkSize < c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.max_chunk_size must be >= chunk_size, got %d", c.Chunking.MaxChunkSize)
	}

	if c.Freshness.CheckInterval <= 0 {
		return fmt.Errorf("freshness.check_interval must be positive")
	}
	if c.Freshness.ProbeTimeout <= 0 {
		return fmt.Errorf("freshness.probe_timeout must be positive")
	}

	if c.Refresh.MaxVersions <= 0 {
		return fmt.Errorf("refresh.max_versions must be positive, got %d", c.Refresh.MaxVersions)
	}
	if c.Refresh.Cooldown < 0 {
		return fmt.Errorf("refresh.cooldown must be non-negative")
	}

	return nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// TTLDaysFor returns the default TTL in days for a source type.
// Unknown types fall back to 7 days.
func (c *Config) TTLDaysFor(sourceType string) int {
	if d, ok := c.Freshness.DefaultTTLDays[sourceType]; ok {
		return d
	}
	return 7
}
