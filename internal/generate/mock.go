package generate

import (
	"context"
	"strings"
)

// MockGenerator is a canned generator for tests. Answer takes precedence; if
// empty, AnswerFunc is consulted; if both are unset the prompt is echoed back.
type MockGenerator struct {
	Answer     string
	AnswerFunc func(prompt string) (string, error)
	// FragmentSize controls how the streamed answer is split; defaults to
	// whitespace-separated words.
	FragmentSize int
}

// Generate returns the configured answer.
func (g *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.AnswerFunc != nil {
		return g.AnswerFunc(prompt)
	}
	if g.Answer != "" {
		return g.Answer, nil
	}
	return prompt, nil
}

// GenerateStream splits the configured answer into fragments.
func (g *MockGenerator) GenerateStream(ctx context.Context, prompt string) (<-chan Fragment, <-chan error) {
	fragments := make(chan Fragment)
	errs := make(chan error, 1)
	go func() {
		defer close(fragments)
		answer, err := g.Generate(ctx, prompt)
		if err != nil {
			errs <- err
			return
		}
		for _, part := range g.split(answer) {
			select {
			case fragments <- Fragment{Text: part}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		select {
		case fragments <- Fragment{Done: true}:
			errs <- nil
		case <-ctx.Done():
			errs <- ctx.Err()
		}
	}()
	return fragments, errs
}

func (g *MockGenerator) split(answer string) []string {
	if g.FragmentSize > 0 {
		var parts []string
		for len(answer) > g.FragmentSize {
			parts = append(parts, answer[:g.FragmentSize])
			answer = answer[g.FragmentSize:]
		}
		if answer != "" {
			parts = append(parts, answer)
		}
		return parts
	}
	words := strings.SplitAfter(answer, " ")
	return words
}

// Close is a no-op for MockGenerator.
func (g *MockGenerator) Close() error {
	return nil
}
