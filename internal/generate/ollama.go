package generate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// OllamaGenerator calls an Ollama server's /api/generate endpoint, either as a
// blocking completion or as an NDJSON stream of fragments.
type OllamaGenerator struct {
	baseURL         string
	model           string
	maxRetries      int
	fragmentTimeout time.Duration
	client          *http.Client
	logger          *zap.Logger
}

// OllamaGeneratorOptions configures an OllamaGenerator.
type OllamaGeneratorOptions struct {
	BaseURL string
	Model   string
	// Timeout bounds a whole generation, blocking or streamed.
	Timeout time.Duration
	// FragmentTimeout bounds the gap between consecutive stream fragments.
	FragmentTimeout time.Duration
	MaxRetries      int
	Logger          *zap.Logger
}

// NewOllamaGenerator creates a generator backed by an Ollama server.
func NewOllamaGenerator(opts OllamaGeneratorOptions) *OllamaGenerator {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:11434"
	}
	if opts.Model == "" {
		opts.Model = "llama3.2:3b"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.FragmentTimeout == 0 {
		opts.FragmentTimeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &OllamaGenerator{
		baseURL:         opts.BaseURL,
		model:           opts.Model,
		maxRetries:      opts.MaxRetries,
		fragmentTimeout: opts.FragmentTimeout,
		client:          &http.Client{Timeout: opts.Timeout},
		logger:          opts.Logger,
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate runs a blocking completion, retrying transient failures before
// giving up with a typed error.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(retryDelay(attempt)):
			}
			g.logger.Debug("retrying generation", zap.Int("attempt", attempt))
		}
		answer, err := g.generateOnce(ctx, prompt)
		if err == nil {
			return answer, nil
		}
		lastErr = err
		if !errors.Is(err, ErrUnavailable) {
			return "", err
		}
	}
	return "", lastErr
}

func (g *OllamaGenerator) generateOnce(ctx context.Context, prompt string) (string, error) {
	resp, err := g.post(ctx, generateRequest{Model: g.model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode generation response: %w", err)
	}
	return out.Response, nil
}

// GenerateStream starts a streaming completion. Fragments are delivered on the
// first channel as the model emits them; the stream fails with ErrTimeout if
// the gap between fragments exceeds the fragment timeout. Fragments already
// delivered stay delivered.
func (g *OllamaGenerator) GenerateStream(ctx context.Context, prompt string) (<-chan Fragment, <-chan error) {
	fragments := make(chan Fragment)
	errs := make(chan error, 1)

	go func() {
		defer close(fragments)
		errs <- g.streamOnce(ctx, prompt, fragments)
	}()
	return fragments, errs
}

func (g *OllamaGenerator) streamOnce(ctx context.Context, prompt string, fragments chan<- Fragment) error {
	resp, err := g.post(ctx, generateRequest{Model: g.model, Prompt: prompt, Stream: true})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	type line struct {
		chunk generateResponse
		err   error
	}
	lines := make(chan line)
	// Closed when this function returns, so the scanner goroutine never blocks
	// sending to a reader that gave up (timeout, cancellation).
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		defer close(lines)
		send := func(l line) bool {
			select {
			case lines <- l:
				return true
			case <-stopped:
				return false
			}
		}
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			raw := bytes.TrimSpace(scanner.Bytes())
			if len(raw) == 0 {
				continue
			}
			var chunk generateResponse
			if err := json.Unmarshal(raw, &chunk); err != nil {
				send(line{err: fmt.Errorf("decode stream chunk: %w", err)})
				return
			}
			if !send(line{chunk: chunk}) || chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			send(line{err: classifyTransportErr(err)})
		}
	}()

	timer := time.NewTimer(g.fragmentTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			// Closing the body unblocks the scanner goroutine.
			resp.Body.Close()
			return fmt.Errorf("%w: no fragment within %s", ErrTimeout, g.fragmentTimeout)
		case l, ok := <-lines:
			if !ok {
				return fmt.Errorf("%w: stream ended without done marker", ErrUnavailable)
			}
			if l.err != nil {
				return l.err
			}
			if l.chunk.Response != "" || l.chunk.Done {
				select {
				case fragments <- Fragment{Text: l.chunk.Response, Done: l.chunk.Done}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if l.chunk.Done {
				return nil
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(g.fragmentTimeout)
		}
	}
}

func (g *OllamaGenerator) post(ctx context.Context, reqBody generateRequest) (*http.Response, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: %s: %s", ErrUnavailable, resp.Status, string(b))
		}
		return nil, fmt.Errorf("generation request failed: %s: %s", resp.Status, string(b))
	}
	return resp, nil
}

// Ping reports whether the generation service answers at all. Used by /health.
func (g *OllamaGenerator) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return classifyTransportErr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
	}
	return nil
}

// Close is a no-op for OllamaGenerator.
func (g *OllamaGenerator) Close() error {
	return nil
}

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

func retryDelay(attempt int) time.Duration {
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
