package ingest

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hyperjump/kotae/internal/docid"
	"github.com/hyperjump/kotae/internal/models"
)

// Chunker splits document text into overlapping chunks. Chunk identity is
// derived from the document ID and the chunk's byte offset, so re-chunking
// unchanged text yields the same chunk IDs.
type Chunker struct {
	chunkSize int
	overlap   int
}

// NewChunker creates a chunker with the given size and overlap in bytes.
// Invalid values fall back to defaults.
func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 5
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}
}

// Chunk splits text into chunks for the given document. Break points prefer
// paragraph boundaries, then line boundaries, then word boundaries, so chunks
// rarely cut a sentence mid-word.
func (c *Chunker) Chunk(documentID, text string) []models.Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	now := time.Now()
	var chunks []models.Chunk
	start := 0
	for start < len(text) {
		end := start + c.chunkSize
		if end >= len(text) {
			end = len(text)
		} else {
			end = c.breakPoint(text, start, end)
		}

		piece := strings.TrimSpace(text[start:end])
		if piece != "" {
			chunks = append(chunks, models.Chunk{
				ID:          docid.ForChunk(documentID, start),
				DocumentID:  documentID,
				Text:        piece,
				StartOffset: start,
				Length:      end - start,
				ChunkIndex:  len(chunks),
				CreatedAt:   now,
			})
		}
		if end >= len(text) {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = start + 1
		}
		for next < len(text) && !utf8.RuneStart(text[next]) {
			next++
		}
		start = next
	}
	return chunks
}

// breakPoint picks the best split position in (start, limit]. It searches the
// tail of the window for a paragraph break, then a newline, then a space, and
// hard-cuts at a rune boundary when none is found.
func (c *Chunker) breakPoint(text string, start, limit int) int {
	windowStart := limit - c.chunkSize/5
	if windowStart < start+1 {
		windowStart = start + 1
	}
	window := text[windowStart:limit]

	for _, sep := range []string{"\n\n", "\n", " "} {
		if i := strings.LastIndex(window, sep); i >= 0 {
			return windowStart + i + len(sep)
		}
	}
	for limit > start+1 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return limit
}
