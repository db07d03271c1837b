package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// QdrantIndex is a minimal REST client to a Qdrant server. The collection is
// created with cosine distance on first use; persistence is server-side, so
// Save and Load are no-ops.
type QdrantIndex struct {
	baseURL    string
	apiKey     string
	collection string
	dimensions int
	client     *http.Client
}

// QdrantOptions configures a QdrantIndex.
type QdrantOptions struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// NewQdrantIndex creates a Qdrant-backed index and ensures the collection exists.
func NewQdrantIndex(dimensions int, opts QdrantOptions) (*QdrantIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if opts.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	q := &QdrantIndex{
		baseURL:    opts.URL,
		apiKey:     opts.APIKey,
		collection: opts.Collection,
		dimensions: dimensions,
		client:     &http.Client{Timeout: timeout},
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimensions,
			"distance": "Cosine",
		},
	}
	// Qdrant returns 200 when the collection already exists with the same schema.
	if err := q.doJSON(context.Background(), http.MethodPut,
		fmt.Sprintf("%s/collections/%s", q.baseURL, q.collection), body, nil); err != nil {
		return nil, err
	}
	return q, nil
}

// Type returns the index type identifier.
func (q *QdrantIndex) Type() string {
	return string(IndexTypeQdrant)
}

// Add upserts vectors as points, waiting for the write to be applied so a
// returned error means nothing was committed for this batch.
func (q *QdrantIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	points := make([]map[string]any, len(ids))
	for i := range ids {
		if len(vectors[i]) != q.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), q.dimensions)
		}
		points[i] = map[string]any{
			"id":      ids[i],
			"vector":  vectors[i],
			"payload": map[string]any{"chunk_id": ids[i]},
		}
	}
	body := map[string]any{"points": points}
	return q.doJSON(ctx, http.MethodPut,
		fmt.Sprintf("%s/collections/%s/points?wait=true", q.baseURL, q.collection), body, nil)
}

// Search returns the top-k points by cosine similarity.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if k <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"vector":       query,
		"limit":        k,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := q.doJSON(ctx, http.MethodPost,
		fmt.Sprintf("%s/collections/%s/points/search", q.baseURL, q.collection), req, &resp); err != nil {
		return nil, err
	}
	results := make([]*VectorResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		id, _ := r.Payload["chunk_id"].(string)
		results = append(results, &VectorResult{ID: id, Score: r.Score})
	}
	return results, nil
}

// Remove deletes points by ID.
func (q *QdrantIndex) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{"points": ids}
	return q.doJSON(ctx, http.MethodPost,
		fmt.Sprintf("%s/collections/%s/points/delete?wait=true", q.baseURL, q.collection), body, nil)
}

// Save is a no-op: Qdrant persists server-side.
func (q *QdrantIndex) Save(path string) error { return nil }

// Load is a no-op: Qdrant persists server-side.
func (q *QdrantIndex) Load(path string) error { return nil }

// Size returns the number of points in the collection, or 0 if the count
// cannot be retrieved.
func (q *QdrantIndex) Size() int {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	err := q.doJSON(context.Background(), http.MethodPost,
		fmt.Sprintf("%s/collections/%s/points/count", q.baseURL, q.collection),
		map[string]any{"exact": true}, &resp)
	if err != nil {
		return 0
	}
	return resp.Result.Count
}

// Close is a no-op for QdrantIndex.
func (q *QdrantIndex) Close() error { return nil }

// Ping reports whether the Qdrant server answers. Used by /health.
func (q *QdrantIndex) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/collections/%s", q.baseURL, q.collection), nil)
	if err != nil {
		return err
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s", ErrIndexUnavailable, resp.Status)
	}
	return nil
}

func (q *QdrantIndex) doJSON(ctx context.Context, method, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: qdrant %s %s: %s", ErrIndexUnavailable, method, url, resp.Status)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant %s %s failed: %s", method, url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
