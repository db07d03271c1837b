package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
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
	"github.com/hyperjump/kotae/internal/session"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

type okPinger struct{ err error }

func (p *okPinger) Ping(ctx context.Context) error { return p.err }

type testEnv struct {
	srv      *httptest.Server
	ingestor *ingest.Ingestor
	dataDir  string
}

// newTestEnv wires the full pipeline with a mock embedder and generator behind
// a real router.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	index, err := vector.NewMemoryIndex(16)
	if err != nil {
		t.Fatal(err)
	}
	embedder := embedding.NewMockEmbedder(16)
	generator := &generate.MockGenerator{Answer: "Freshmen must take ENG101 and MATH110."}

	ingestor := ingest.NewIngestor(ingest.Options{
		Storage:    store,
		Index:      index,
		Embedder:   embedder,
		ChunkSize:  200,
		Overlap:    40,
		Extensions: []string{".txt"},
	})
	sessions := session.NewManager(session.Options{
		Retriever: retriever.NewRetriever(store, index, embedder, nil),
		Assembler: prompt.NewAssembler(6, 8000),
		Generator: generator,
		TopK:      3,
		// The mock embedder's similarity spread is arbitrary; retrieval is
		// gated at zero so indexed chunks always qualify.
		Threshold: 0.0001,
	})
	t.Cleanup(sessions.Close)

	s := NewServer(sessions, ingestor, store, index, &okPinger{}, &okPinger{},
		&config.ServerConfig{Host: "127.0.0.1", Port: 0}, zap.NewNop())
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, ingestor: ingestor, dataDir: t.TempDir()}
}

func (e *testEnv) postJSON(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (e *testEnv) ingestText(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(e.dataDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ingestor.IngestFile(context.Background(), path); err != nil {
		t.Fatal(err)
	}
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestChatEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.ingestText(t, "courses.txt", "Freshmen must take ENG101 and MATH110.")

	resp := env.postJSON(t, "/api/v1/chat", models.ChatRequest{Message: "What courses must freshmen take?"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	out := decode[models.ChatResponse](t, resp)
	if out.SessionID == "" {
		t.Error("missing session id")
	}
	if !strings.Contains(out.Answer, "ENG101") || !strings.Contains(out.Answer, "MATH110") {
		t.Errorf("answer: %q", out.Answer)
	}
	if len(out.Sources) == 0 {
		t.Error("missing sources")
	}
}

func TestChatValidation(t *testing.T) {
	env := newTestEnv(t)
	resp := env.postJSON(t, "/api/v1/chat", models.ChatRequest{Message: ""})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: %d", resp.StatusCode)
	}
}

func TestChatStreamSSE(t *testing.T) {
	env := newTestEnv(t)
	env.ingestText(t, "courses.txt", "Freshmen must take ENG101 and MATH110.")

	resp := env.postJSON(t, "/api/v1/chat/stream", models.ChatRequest{Message: "What courses?"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type: %s", ct)
	}
	if resp.Header.Get("X-Session-Id") == "" {
		t.Error("missing session id header")
	}

	body := new(bytes.Buffer)
	if _, err := body.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	raw := body.String()
	if !strings.Contains(raw, "event: fragment") {
		t.Error("no fragment events")
	}
	if !strings.Contains(raw, "event: done") {
		t.Errorf("no done event:\n%s", raw)
	}

	// Reconstruct fragments and compare with the final text.
	var fragments strings.Builder
	var final string
	for _, line := range strings.Split(raw, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev models.StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatal(err)
		}
		switch ev.Type {
		case models.EventFragment:
			fragments.WriteString(ev.Fragment)
		case models.EventDone:
			final = ev.FinalText
		}
	}
	if fragments.String() != final {
		t.Errorf("fragments %q != final %q", fragments.String(), final)
	}
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postJSON(t, "/api/v1/sessions", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status: %d", resp.StatusCode)
	}
	created := decode[map[string]string](t, resp)
	id := created["session_id"]
	if id == "" {
		t.Fatal("missing session id")
	}

	env.ingestText(t, "a.txt", "Some indexed content about registration.")
	resp = env.postJSON(t, "/api/v1/chat", models.ChatRequest{SessionID: id, Message: "registration?"})
	decode[models.ChatResponse](t, resp)

	msgResp, err := http.Get(env.srv.URL + "/api/v1/sessions/" + id + "/messages")
	if err != nil {
		t.Fatal(err)
	}
	msgs := decode[struct {
		SessionID string           `json:"session_id"`
		Messages  []models.Message `json:"messages"`
	}](t, msgResp)
	if len(msgs.Messages) != 2 {
		t.Errorf("messages: %d", len(msgs.Messages))
	}

	resp = env.postJSON(t, "/api/v1/sessions/"+id+"/clear", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("clear status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodDelete, env.srv.URL+"/api/v1/sessions/"+id, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if delResp.StatusCode != http.StatusOK {
		t.Errorf("delete status: %d", delResp.StatusCode)
	}
	delResp.Body.Close()

	// Deleting again is a 404.
	again, _ := http.NewRequest(http.MethodDelete, env.srv.URL+"/api/v1/sessions/"+id, nil)
	againResp, err := http.DefaultClient.Do(again)
	if err != nil {
		t.Fatal(err)
	}
	if againResp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status: %d", againResp.StatusCode)
	}
	againResp.Body.Close()
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.ingestText(t, "a.txt", "Indexed content.")

	resp, err := http.Get(env.srv.URL + "/api/v1/stats")
	if err != nil {
		t.Fatal(err)
	}
	stats := decode[models.Stats](t, resp)
	if stats.Documents != 1 {
		t.Errorf("documents: %d", stats.Documents)
	}
	if stats.Chunks == 0 || stats.VectorIndexSize == 0 {
		t.Errorf("stats: %+v", stats)
	}
	if stats.IndexBackend != "memory" {
		t.Errorf("backend: %s", stats.IndexBackend)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	health := decode[models.Health](t, resp)
	if health.Status != "ok" {
		t.Errorf("status: %s", health.Status)
	}
	for _, dep := range []string{"vector_index", "embedding", "generation"} {
		if health.Dependencies[dep] != models.DepUp {
			t.Errorf("dependencies: %v", health.Dependencies)
		}
	}
}

func TestHealthDegraded(t *testing.T) {
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	index, _ := vector.NewMemoryIndex(16)
	sessions := session.NewManager(session.Options{})
	defer sessions.Close()

	s := NewServer(sessions, nil, store, index,
		&okPinger{err: fmt.Errorf("down")}, &okPinger{},
		&config.ServerConfig{}, zap.NewNop())
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	health := decode[models.Health](t, resp)
	if health.Status != "degraded" {
		t.Errorf("status: %s", health.Status)
	}
	if health.Dependencies["embedding"] != models.DepDown {
		t.Errorf("dependencies: %v", health.Dependencies)
	}
}

func TestIngestAndDeleteDocumentEndpoints(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(env.dataDir, "doc.txt")
	if err := os.WriteFile(path, []byte("Content to index via the API."), 0o644); err != nil {
		t.Fatal(err)
	}

	resp := env.postJSON(t, "/api/v1/documents", map[string]string{"path": env.dataDir})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ingest status: %d", resp.StatusCode)
	}
	report := decode[ingest.Report](t, resp)
	if report.FilesProcessed != 1 {
		t.Errorf("report: %+v", report)
	}

	statsResp, _ := http.Get(env.srv.URL + "/api/v1/stats")
	stats := decode[models.Stats](t, statsResp)
	if stats.Documents != 1 {
		t.Fatalf("documents: %d", stats.Documents)
	}

	resp = env.postJSON(t, "/api/v1/documents", map[string]string{"path": "/does/not/exist"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing path status: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestListAndDeleteDocuments(t *testing.T) {
	env := newTestEnv(t)
	env.ingestText(t, "one.txt", "First document.")
	env.ingestText(t, "two.txt", "Second document.")

	listResp, err := http.Get(env.srv.URL + "/api/v1/documents")
	if err != nil {
		t.Fatal(err)
	}
	listing := decode[struct {
		Documents []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"documents"`
	}](t, listResp)
	if len(listing.Documents) != 2 {
		t.Fatalf("documents: %d", len(listing.Documents))
	}

	req, _ := http.NewRequest(http.MethodDelete, env.srv.URL+"/api/v1/documents/"+listing.Documents[0].ID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("delete status: %d", delResp.StatusCode)
	}
	delResp.Body.Close()

	statsResp, _ := http.Get(env.srv.URL + "/api/v1/stats")
	stats := decode[models.Stats](t, statsResp)
	if stats.Documents != 1 {
		t.Errorf("documents after delete: %d", stats.Documents)
	}

	// Deleting an unknown document is a 404.
	req, _ = http.NewRequest(http.MethodDelete, env.srv.URL+"/api/v1/documents/nope", nil)
	missResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if missResp.StatusCode != http.StatusNotFound {
		t.Errorf("missing delete status: %d", missResp.StatusCode)
	}
	missResp.Body.Close()
}
