package models

// RetrievedChunk is a single retrieval hit: a chunk with its similarity score
// and the title of the owning document for source attribution.
type RetrievedChunk struct {
	Chunk       *Chunk  `json:"chunk"`
	Score       float64 `json:"score"`
	SourceTitle string  `json:"source_title"`
}

// RetrievalResult is the ordered output of the retriever. Chunks are sorted by
// descending score and every score is at or above the threshold that produced
// the result. NoContext is set when nothing cleared the threshold; callers must
// treat that case distinctly instead of generating from an empty context.
type RetrievalResult struct {
	Chunks    []*RetrievedChunk `json:"chunks"`
	NoContext bool              `json:"no_context"`
}

// SourceIDs returns the chunk IDs in ranked order, for citation.
func (r *RetrievalResult) SourceIDs() []string {
	ids := make([]string, len(r.Chunks))
	for i, c := range r.Chunks {
		ids[i] = c.Chunk.ID
	}
	return ids
}
