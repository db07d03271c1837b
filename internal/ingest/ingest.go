// Package ingest turns files into embedded, searchable chunks.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/docid"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

// Embedder is the slice of the embedding client the ingestor needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Report summarizes one ingestion run.
type Report struct {
	FilesProcessed int         `json:"files_processed"`
	FilesSkipped   int         `json:"files_skipped"`
	FilesFailed    int         `json:"files_failed"`
	ChunksCreated  int         `json:"chunks_created"`
	ChunksReused   int         `json:"chunks_reused"`
	Errors         []FileError `json:"errors,omitempty"`
}

// FileError records a per-file failure; one bad file never aborts the run.
type FileError struct {
	Path string
	Err  error
}

// Summary renders the report as a short human-readable account.
func (r *Report) Summary() string {
	s := fmt.Sprintf("Processed %d file(s), skipped %d, failed %d; %d chunk(s) embedded, %d reused",
		r.FilesProcessed, r.FilesSkipped, r.FilesFailed, r.ChunksCreated, r.ChunksReused)
	for _, fe := range r.Errors {
		s += fmt.Sprintf("\n  %s: %v", fe.Path, fe.Err)
	}
	return s
}

// MarshalJSON flattens the wrapped error to its message.
func (e FileError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Path  string `json:"path"`
		Error string `json:"error"`
	}{e.Path, e.Err.Error()})
}

// Ingestor extracts, chunks, embeds, and indexes documents. A mutex serializes
// runs so a watcher-triggered re-ingest cannot race a CLI-triggered one.
type Ingestor struct {
	storage    storage.Storage
	index      vector.VectorIndex
	embedder   Embedder
	extractor  *extract.Extractor
	chunker    *Chunker
	extensions map[string]bool
	logger     *zap.Logger
	mu         sync.Mutex
}

// Options configures an Ingestor.
type Options struct {
	Storage    storage.Storage
	Index      vector.VectorIndex
	Embedder   Embedder
	ChunkSize  int
	Overlap    int
	Extensions []string
	Logger     *zap.Logger
}

// NewIngestor creates an Ingestor.
func NewIngestor(opts Options) *Ingestor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	exts := make(map[string]bool)
	for _, ext := range opts.Extensions {
		exts[strings.ToLower(ext)] = true
	}
	return &Ingestor{
		storage:    opts.Storage,
		index:      opts.Index,
		embedder:   opts.Embedder,
		extractor:  extract.NewExtractor(),
		chunker:    NewChunker(opts.ChunkSize, opts.Overlap),
		extensions: exts,
		logger:     opts.Logger,
	}
}

// IngestFile ingests a single file.
func (in *Ingestor) IngestFile(ctx context.Context, path string) (*Report, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	report := &Report{}
	if err := in.ingestOne(ctx, path, report); err != nil {
		return report, err
	}
	return report, nil
}

// IngestDirectory walks dir and ingests every file with an accepted extension.
// Per-file failures are collected in the report; only a walk error or context
// cancellation aborts the run.
func (in *Ingestor) IngestDirectory(ctx context.Context, dir string) (*Report, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	report := &Report{}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !in.accepts(path) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := in.ingestOne(ctx, path, report); err != nil {
			in.logger.Warn("failed to ingest file", zap.String("path", path), zap.Error(err))
			report.FilesFailed++
			report.Errors = append(report.Errors, FileError{Path: path, Err: err})
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("walk %s: %w", dir, err)
	}
	in.logger.Info("ingestion run complete",
		zap.String("dir", dir),
		zap.Int("processed", report.FilesProcessed),
		zap.Int("skipped", report.FilesSkipped),
		zap.Int("failed", report.FilesFailed),
		zap.Int("chunks_created", report.ChunksCreated))
	return report, nil
}

// DeleteDocument removes a document, its chunks, and its index entries.
func (in *Ingestor) DeleteDocument(ctx context.Context, documentID string) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	ids, err := in.storage.ChunkIDsByDocumentID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}
	if len(ids) > 0 {
		if err := in.index.Remove(ctx, ids); err != nil {
			return fmt.Errorf("remove chunks from index: %w", err)
		}
	}
	if err := in.storage.DeleteChunksByDocumentID(ctx, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := in.storage.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (in *Ingestor) accepts(path string) bool {
	if len(in.extensions) == 0 {
		return true
	}
	return in.extensions[strings.ToLower(filepath.Ext(path))]
}

func (in *Ingestor) ingestOne(ctx context.Context, path string, report *Report) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	documentID := docid.ForFile(absPath)
	if unchanged, err := in.isUnchanged(ctx, documentID, info); err == nil && unchanged {
		report.FilesSkipped++
		in.logger.Debug("skipping unchanged file", zap.String("path", absPath))
		return nil
	}

	text, err := in.extractor.Extract(absPath)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	chunks := in.chunker.Chunk(documentID, text)
	doc := &models.Document{
		ID:      documentID,
		Title:   filepath.Base(absPath),
		Source:  absPath,
		Content: text,
		Metadata: map[string]interface{}{
			"source_path":  absPath,
			"source_mtime": info.ModTime().Unix(),
			"source_size":  info.Size(),
		},
	}

	// Content may have changed. A chunk whose ID and text both survive keeps
	// its index entry; everything else is re-embedded and stale entries are
	// dropped from the index.
	oldChunks, err := in.storage.GetChunksByDocumentID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("list existing chunks: %w", err)
	}
	oldText := make(map[string]string, len(oldChunks))
	for _, ch := range oldChunks {
		oldText[ch.ID] = ch.Text
	}
	reusable := make(map[string]bool, len(chunks))
	for i := range chunks {
		if text, ok := oldText[chunks[i].ID]; ok && text == chunks[i].Text {
			reusable[chunks[i].ID] = true
		}
	}
	var stale []string
	for _, ch := range oldChunks {
		if !reusable[ch.ID] {
			stale = append(stale, ch.ID)
		}
	}
	if len(stale) > 0 {
		if err := in.index.Remove(ctx, stale); err != nil {
			in.logger.Warn("failed to remove stale chunks from index", zap.Int("count", len(stale)), zap.Error(err))
		}
	}

	if err := in.storage.CreateDocument(ctx, doc); err != nil {
		return fmt.Errorf("store document: %w", err)
	}
	if err := in.storage.DeleteChunksByDocumentID(ctx, documentID); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}

	toStore := make([]*models.Chunk, 0, len(chunks))
	var newIDs []string
	var newVectors [][]float32
	for i := range chunks {
		ch := &chunks[i]
		if reusable[ch.ID] {
			report.ChunksReused++
			toStore = append(toStore, ch)
			continue
		}
		emb, err := in.embedder.Embed(ctx, ch.Text)
		if err != nil {
			return fmt.Errorf("embed chunk %d: %w", ch.ChunkIndex, err)
		}
		ch.Embedding = emb
		newIDs = append(newIDs, ch.ID)
		newVectors = append(newVectors, emb)
		toStore = append(toStore, ch)
	}
	if len(newIDs) > 0 {
		if err := in.index.Add(ctx, newIDs, newVectors); err != nil {
			return fmt.Errorf("index chunks: %w", err)
		}
		report.ChunksCreated += len(newIDs)
	}
	if err := in.storage.BatchCreateChunks(ctx, toStore); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}

	report.FilesProcessed++
	in.logger.Info("ingested file",
		zap.String("path", absPath),
		zap.String("document_id", documentID),
		zap.Int("chunks", len(chunks)))
	return nil
}

// isUnchanged reports whether the stored document matches the file on disk
// by modification time and size.
func (in *Ingestor) isUnchanged(ctx context.Context, documentID string, info os.FileInfo) (bool, error) {
	doc, err := in.storage.GetDocument(ctx, documentID)
	if err != nil || doc == nil {
		return false, err
	}
	mtime, ok := doc.Metadata["source_mtime"]
	if !ok {
		return false, nil
	}
	size, ok := doc.Metadata["source_size"]
	if !ok {
		return false, nil
	}
	return toInt64(mtime) == info.ModTime().Unix() && toInt64(size) == info.Size(), nil
}

// toInt64 handles the numeric types metadata round-trips through JSON as.
func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return -1
	}
}
