// Package vector provides vector index backends and similarity search.
package vector

import (
	"context"
	"errors"
)

// ErrIndexUnavailable indicates the index backend could not be reached.
// Callers surface this as a dependency failure, not a query error.
var ErrIndexUnavailable = errors.New("vector index unavailable")

// VectorIndex defines vector storage and similarity search.
type VectorIndex interface {
	// Add inserts vectors with the given IDs. A failed batch leaves the index
	// unchanged (all-or-nothing per call).
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	// Search returns the top-k hits by similarity, descending.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	Save(path string) error
	Load(path string) error
	Size() int
	Type() string
	Close() error
}

// VectorResult is a single vector search hit (ID is the chunk ID).
type VectorResult struct {
	ID    string
	Score float64 // inner product; equals cosine similarity for normalized vectors
}
