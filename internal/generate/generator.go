package generate

import (
	"context"
	"errors"
)

// Typed failures surfaced by generators. Callers branch on these to decide
// what the user sees: a down service and a stalled stream read differently.
var (
	// ErrUnavailable indicates the generation service cannot be reached or
	// answered with a server-side failure.
	ErrUnavailable = errors.New("generation service unavailable")

	// ErrTimeout indicates the generation service did not produce output in time.
	ErrTimeout = errors.New("generation timed out")
)

// Fragment is one piece of a streamed answer.
type Fragment struct {
	Text string
	Done bool
}

// Generator produces answers from an assembled prompt.
type Generator interface {
	// Generate runs a blocking completion and returns the full answer text.
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateStream emits answer fragments on the returned channel as the
	// model produces them. The channel is closed when generation finishes or
	// fails; a failure mid-stream is reported on errs after whatever fragments
	// were already delivered. Exactly one value is sent on errs (nil on success).
	GenerateStream(ctx context.Context, prompt string) (<-chan Fragment, <-chan error)

	// Close releases any resources held by the generator.
	Close() error
}
