// Package embedding provides text embedding via an external embedding service,
// with caching and a deterministic mock for tests.
package embedding

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the embedding service could not be reached.
var ErrUnavailable = errors.New("embedding service unavailable")

// ErrTimeout indicates the embedding service did not respond in time.
var ErrTimeout = errors.New("embedding request timed out")

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
