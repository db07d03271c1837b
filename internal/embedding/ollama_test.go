package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fakeOllama(t *testing.T, dims int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		emb := make([]float32, dims)
		for i := range emb {
			emb[i] = float32(len(req.Prompt) + i)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": emb})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestOllamaEmbedderEmbed(t *testing.T) {
	srv, _ := fakeOllama(t, 4)
	e, err := NewOllamaEmbedder(OllamaOptions{BaseURL: srv.URL, Dimensions: 4})
	if err != nil {
		t.Fatal(err)
	}
	emb, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(emb) != 4 {
		t.Fatalf("dims: %d", len(emb))
	}
	// Result is normalized to unit length.
	var sum float64
	for _, v := range emb {
		sum += float64(v * v)
	}
	if math.Abs(sum-1.0) > 1e-5 {
		t.Errorf("norm^2 = %f", sum)
	}
}

func TestOllamaEmbedderCaches(t *testing.T) {
	srv, calls := fakeOllama(t, 4)
	e, _ := NewOllamaEmbedder(OllamaOptions{BaseURL: srv.URL, Dimensions: 4})
	ctx := context.Background()
	a, _ := e.Embed(ctx, "same text")
	b, _ := e.Embed(ctx, "same text")
	if calls.Load() != 1 {
		t.Errorf("expected 1 backend call, got %d", calls.Load())
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("cached result differs")
		}
	}
}

func TestOllamaEmbedderUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	e, _ := NewOllamaEmbedder(OllamaOptions{BaseURL: srv.URL, Dimensions: 4, MaxRetries: 2})
	_, err := e.Embed(context.Background(), "x")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestOllamaEmbedderRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{1, 0}})
	}))
	defer srv.Close()
	e, _ := NewOllamaEmbedder(OllamaOptions{BaseURL: srv.URL, Dimensions: 2, MaxRetries: 3})
	if _, err := e.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls: %d", calls.Load())
	}
}

func TestOllamaEmbedderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()
	e, _ := NewOllamaEmbedder(OllamaOptions{BaseURL: srv.URL, Dimensions: 2, Timeout: 20 * time.Millisecond, MaxRetries: 1})
	_, err := e.Embed(context.Background(), "x")
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestOllamaEmbedderDimensionMismatch(t *testing.T) {
	srv, _ := fakeOllama(t, 4)
	e, _ := NewOllamaEmbedder(OllamaOptions{BaseURL: srv.URL, Dimensions: 8})
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestMockEmbedderDeterministic(t *testing.T) {
	e := NewMockEmbedder(16)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "question")
	b, _ := e.Embed(ctx, "question")
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("mock embedder must be deterministic")
		}
	}
	c, _ := e.Embed(ctx, "different")
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts should embed differently")
	}
}
