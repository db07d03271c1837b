// Package e2e exercises the full pipeline: ingest a document, ask a question
// over HTTP, and check the answer is grounded in the retrieved chunk.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/generate"
	"github.com/hyperjump/kotae/internal/ingest"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/prompt"
	"github.com/hyperjump/kotae/internal/retriever"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/session"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

type pinger struct{}

func (pinger) Ping(ctx context.Context) error { return nil }

type env struct {
	srv      *httptest.Server
	store    storage.Storage
	index    *vector.MemoryIndex
	ingestor *ingest.Ingestor
	ret      *retriever.Retriever
	prompts  []string
}

// newEnv wires every real component; only the two external model services are
// mocked. The mock generator answers from the prompt's context block so the
// test can check grounding end to end.
func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "kotae.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	index, err := vector.NewMemoryIndex(32)
	if err != nil {
		t.Fatal(err)
	}
	embedder := embedding.NewMockEmbedder(32)

	e := &env{store: store, index: index}
	generator := &generate.MockGenerator{AnswerFunc: func(p string) (string, error) {
		e.prompts = append(e.prompts, p)
		// Answer with the first context block's text, the way a grounded
		// model would restate its source.
		if i := strings.Index(p, "[Source 1:"); i >= 0 {
			rest := p[i:]
			if nl := strings.Index(rest, "\n"); nl >= 0 {
				rest = rest[nl+1:]
			}
			if end := strings.Index(rest, "\n\n"); end >= 0 {
				rest = rest[:end]
			}
			return "According to the catalog: " + strings.TrimSpace(rest), nil
		}
		return "I have no context.", nil
	}}

	e.ingestor = ingest.NewIngestor(ingest.Options{
		Storage:    store,
		Index:      index,
		Embedder:   embedder,
		ChunkSize:  500,
		Overlap:    100,
		Extensions: []string{".txt"},
	})
	e.ret = retriever.NewRetriever(store, index, embedder, nil)
	sessions := session.NewManager(session.Options{
		Retriever: e.ret,
		Assembler: prompt.NewAssembler(6, 8000),
		Generator: generator,
		TopK:      3,
		Threshold: 0.01,
	})
	t.Cleanup(sessions.Close)

	s := server.NewServer(sessions, e.ingestor, store, index, pinger{}, pinger{},
		&config.ServerConfig{}, zap.NewNop())
	e.srv = httptest.NewServer(s.Router())
	t.Cleanup(e.srv.Close)
	return e
}

func TestIngestAskAnswer(t *testing.T) {
	e := newEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.txt")
	const sentence = "Freshmen must take ENG101 and MATH110."
	if err := os.WriteFile(path, []byte(sentence), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ingestor.IngestFile(context.Background(), path); err != nil {
		t.Fatal(err)
	}

	// The retrieved chunk must contain the catalog sentence.
	result, err := e.ret.Retrieve(context.Background(), "What courses must freshmen take?", 3, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	if result.NoContext || len(result.Chunks) == 0 {
		t.Fatal("retrieval found nothing")
	}
	if !strings.Contains(result.Chunks[0].Chunk.Text, sentence) {
		t.Errorf("retrieved chunk: %q", result.Chunks[0].Chunk.Text)
	}

	// The generated answer must mention both course codes.
	body, _ := json.Marshal(models.ChatRequest{Message: "What courses must freshmen take?"})
	resp, err := http.Post(e.srv.URL+"/api/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var out models.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.Answer, "ENG101") || !strings.Contains(out.Answer, "MATH110") {
		t.Errorf("answer not grounded: %q", out.Answer)
	}
	if len(out.Sources) == 0 {
		t.Error("answer carries no sources")
	}
}

func TestRestartKeepsAnswers(t *testing.T) {
	dir := t.TempDir()
	dataDir := t.TempDir()
	dbPath := filepath.Join(dir, "kotae.db")
	snapshot := filepath.Join(dir, "vectors.bin")
	const sentence = "The registrar closes enrollment on May 1."
	path := filepath.Join(dataDir, "deadlines.txt")
	if err := os.WriteFile(path, []byte(sentence), 0o644); err != nil {
		t.Fatal(err)
	}

	embedder := embedding.NewMockEmbedder(32)

	// First process: ingest and snapshot.
	{
		store, err := storage.NewSQLiteStorage(dbPath)
		if err != nil {
			t.Fatal(err)
		}
		index, _ := vector.NewMemoryIndex(32)
		ing := ingest.NewIngestor(ingest.Options{
			Storage: store, Index: index, Embedder: embedder,
			ChunkSize: 500, Overlap: 100,
		})
		if _, err := ing.IngestFile(context.Background(), path); err != nil {
			t.Fatal(err)
		}
		if err := index.Save(snapshot); err != nil {
			t.Fatal(err)
		}
		store.Close()
	}

	// Second process: load the snapshot and retrieve.
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	index, _ := vector.NewMemoryIndex(32)
	if err := index.Load(snapshot); err != nil {
		t.Fatal(err)
	}
	if index.Size() == 0 {
		t.Fatal("snapshot empty after reload")
	}
	ret := retriever.NewRetriever(store, index, embedder, nil)
	result, err := ret.Retrieve(context.Background(), "When does enrollment close?", 3, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	if result.NoContext {
		t.Fatal("no context after restart")
	}
	if !strings.Contains(result.Chunks[0].Chunk.Text, "May 1") {
		t.Errorf("retrieved chunk: %q", result.Chunks[0].Chunk.Text)
	}

	// Re-ingesting the same unchanged file is a no-op.
	ing := ingest.NewIngestor(ingest.Options{
		Storage: store, Index: index, Embedder: embedder,
		ChunkSize: 500, Overlap: 100,
	})
	report, err := ing.IngestFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if report.FilesSkipped != 1 || report.ChunksCreated != 0 {
		t.Errorf("re-ingestion not idempotent: %+v", report)
	}
}
