// Package models defines core data structures for documents, chunks, and chat.
package models

import "time"

// Document represents an ingested source document.
type Document struct {
	ID         string                 `json:"id" db:"id"`
	Title      string                 `json:"title" db:"title"`
	Source     string                 `json:"source" db:"source"`
	Content    string                 `json:"content" db:"content"`
	Metadata   map[string]interface{} `json:"metadata" db:"metadata"`
	IngestedAt time.Time              `json:"ingested_at" db:"ingested_at"`
}

// Chunk is a bounded span of a document's text, the unit of embedding and retrieval.
// The ID is a deterministic hash of (document ID, start offset), so re-ingesting
// unchanged content yields the same chunk IDs.
type Chunk struct {
	ID          string    `json:"id" db:"id"`
	DocumentID  string    `json:"document_id" db:"document_id"`
	Text        string    `json:"text" db:"text"`
	StartOffset int       `json:"start_offset" db:"start_offset"`
	Length      int       `json:"length" db:"length"`
	ChunkIndex  int       `json:"chunk_index" db:"chunk_index"`
	Embedding   []float32 `json:"-" db:"-"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
