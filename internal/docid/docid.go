// Package docid provides deterministic identifiers for documents and chunks.
// Stable IDs are what make re-ingestion idempotent: the same file at the same
// path always maps to the same document ID, and an unchanged chunk of it to
// the same chunk ID, so duplicates can be detected before embedding.
package docid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
)

const filePrefix = "file:"

// ForFile returns a stable document ID for the given absolute path.
// Same path always yields the same ID. Used for ingest/update/delete by path.
func ForFile(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return filePrefix + hex.EncodeToString(hash[:])
}

// ForChunk returns a stable chunk ID derived from the owning document ID and
// the chunk's start offset within the document text.
func ForChunk(documentID string, startOffset int) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", documentID, startOffset)))
	return hex.EncodeToString(hash[:16])
}
