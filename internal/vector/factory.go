package vector

import (
	"fmt"

	"github.com/hyperjump/kotae/internal/config"
)

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory uses in-memory brute-force search with a snapshot file.
	// Good for small corpora (<10k chunks).
	IndexTypeMemory IndexType = "memory"
	// IndexTypeQdrant uses a Qdrant server over its REST API.
	IndexTypeQdrant IndexType = "qdrant"
)

// NewVectorIndex creates a vector index per cfg. Supported types: "memory"
// (default) and "qdrant".
func NewVectorIndex(cfg *config.VectorConfig, dimensions int) (VectorIndex, error) {
	switch IndexType(cfg.IndexType) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(dimensions)
	case IndexTypeQdrant:
		return NewQdrantIndex(dimensions, QdrantOptions{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
		})
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, qdrant)", cfg.IndexType)
	}
}
