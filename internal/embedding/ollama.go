package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/hyperjump/kotae/internal/vector"
)

// OllamaEmbedder calls an Ollama server's /api/embeddings endpoint. Embeddings
// are normalized to unit length so that inner product search equals cosine
// similarity. Identical input with the same model yields identical vectors;
// an LRU cache exploits that.
type OllamaEmbedder struct {
	baseURL    string
	model      string
	dimensions int
	maxRetries int
	client     *http.Client
	cache      *Cache
}

// OllamaOptions configures an OllamaEmbedder.
type OllamaOptions struct {
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
	MaxRetries int
	CacheSize  int
}

// NewOllamaEmbedder creates an embedder backed by an Ollama server.
func NewOllamaEmbedder(opts OllamaOptions) (*OllamaEmbedder, error) {
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:11434"
	}
	if opts.Model == "" {
		opts.Model = "nomic-embed-text"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = 10000
	}
	return &OllamaEmbedder{
		baseURL:    opts.BaseURL,
		model:      opts.Model,
		dimensions: opts.Dimensions,
		maxRetries: opts.MaxRetries,
		client:     &http.Client{Timeout: opts.Timeout},
		cache:      NewCache(opts.CacheSize),
	}, nil
}

// Embed returns the normalized embedding for text, retrying transient failures
// with exponential backoff before surfacing a typed error.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}
	var lastErr error
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}
		emb, err := e.embedOnce(ctx, text)
		if err == nil {
			e.cache.Set(text, emb)
			return emb, nil
		}
		lastErr = err
		// Input-shaped failures (bad request, decode) do not improve on retry.
		if !errors.Is(err, ErrUnavailable) && !errors.Is(err, ErrTimeout) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (e *OllamaEmbedder) embedOnce(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]string{
		"model":  e.model,
		"prompt": text,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: %s: %s", ErrUnavailable, resp.Status, string(b))
		}
		return nil, fmt.Errorf("embedding request failed: %s: %s", resp.Status, string(b))
	}
	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	if len(out.Embedding) != e.dimensions {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, expected %d", len(out.Embedding), e.dimensions)
	}
	vector.Normalize(out.Embedding)
	return out.Embedding, nil
}

// EmbedBatch calls Embed for each text; the first failure aborts the batch.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for OllamaEmbedder.
func (e *OllamaEmbedder) Close() error {
	return nil
}

// Ping reports whether the embedding service answers at all. Used by /health.
func (e *OllamaEmbedder) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return classifyTransportErr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
	}
	return nil
}

// classifyTransportErr maps a transport-level error onto the package's typed
// failure modes so callers can distinguish timeouts from a down service.
func classifyTransportErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// backoff returns the delay before retry attempt n (1-based), capped at 5s.
func backoff(attempt int) time.Duration {
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
