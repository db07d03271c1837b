// Package retriever answers "which chunks are relevant to this question".
package retriever

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Embedder is the slice of the embedding client the retriever needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever turns a question into a ranked, threshold-gated set of chunks
// with source attribution.
type Retriever struct {
	storage  storage.Storage
	index    vector.VectorIndex
	embedder Embedder
	logger   *zap.Logger
}

// NewRetriever creates a Retriever.
func NewRetriever(store storage.Storage, index vector.VectorIndex, embedder Embedder, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{storage: store, index: index, embedder: embedder, logger: logger}
}

// Retrieve embeds the question, queries the index for the top k chunks, drops
// entries below threshold, and dedups by source document when one source
// dominates. An empty filtered result is marked NoContext rather than returned
// as a silent empty list.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int, threshold float64) (*models.RetrievalResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("similarity threshold must be in [0,1], got %f", threshold)
	}

	queryEmb, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	hits, err := r.index.Search(ctx, queryEmb, k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	var retrieved []*models.RetrievedChunk
	for _, hit := range hits {
		if hit.Score < threshold {
			continue
		}
		chunk, err := r.storage.GetChunk(ctx, hit.ID)
		if err != nil {
			// An index entry without a chunk row means storage and index
			// drifted; skip it rather than failing the whole query.
			r.logger.Warn("index hit has no stored chunk", zap.String("chunk_id", hit.ID), zap.Error(err))
			continue
		}
		title := chunk.DocumentID
		if doc, err := r.storage.GetDocument(ctx, chunk.DocumentID); err == nil {
			title = doc.Title
		}
		retrieved = append(retrieved, &models.RetrievedChunk{
			Chunk:       chunk,
			Score:       hit.Score,
			SourceTitle: title,
		})
	}

	retrieved = dedupBySource(retrieved, k)

	if len(retrieved) == 0 {
		r.logger.Debug("no chunks above threshold",
			zap.String("question", utils.Truncate(question, 120)),
			zap.Float64("threshold", threshold))
		return &models.RetrievalResult{NoContext: true}, nil
	}
	return &models.RetrievalResult{Chunks: retrieved}, nil
}

// dedupBySource keeps only the highest-scoring chunk per source document when
// more than k/2 chunks share one source, so a single document cannot dominate
// the context set. Order stays descending by score.
func dedupBySource(chunks []*models.RetrievedChunk, k int) []*models.RetrievedChunk {
	bySource := make(map[string]int)
	for _, ch := range chunks {
		bySource[ch.Chunk.DocumentID]++
	}
	dominating := make(map[string]bool)
	for source, n := range bySource {
		if n > k/2 {
			dominating[source] = true
		}
	}
	if len(dominating) == 0 {
		return chunks
	}

	seen := make(map[string]bool)
	out := chunks[:0]
	for _, ch := range chunks {
		source := ch.Chunk.DocumentID
		if dominating[source] {
			if seen[source] {
				continue
			}
			seen[source] = true
		}
		out = append(out, ch)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
