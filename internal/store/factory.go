package store

import "fmt"

// Vector backend names as accepted in config.
const (
	BackendHNSW    = "hnsw"
	BackendChromem = "chromem"
)

// NewVectorStore constructs the named vector backend.
func NewVectorStore(backend string, cfg VectorStoreConfig) (VectorStore, error) {
	switch backend {
	case BackendHNSW, "":
		return NewHNSWStore(cfg)
	case BackendChromem:
		return NewChromemStore(cfg)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", backend)
	}
}
