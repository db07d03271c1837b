package session

import (
	"errors"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/generate"
	"github.com/hyperjump/kotae/internal/vector"
)

// errorKind maps a pipeline failure to the stable kind string carried by
// error events, so clients can branch without parsing message text.
func errorKind(err error) string {
	switch {
	case errors.Is(err, generate.ErrTimeout):
		return "generation_timeout"
	case errors.Is(err, generate.ErrUnavailable):
		return "generation_unavailable"
	case errors.Is(err, embedding.ErrTimeout):
		return "embedding_timeout"
	case errors.Is(err, embedding.ErrUnavailable):
		return "embedding_unavailable"
	case errors.Is(err, vector.ErrIndexUnavailable):
		return "index_unavailable"
	default:
		return "internal"
	}
}

// errorAnswer is the user-facing text for a failed question.
func errorAnswer(err error) string {
	switch {
	case errors.Is(err, generate.ErrTimeout):
		return "Sorry, the answer took too long to generate. Please try again."
	case errors.Is(err, generate.ErrUnavailable):
		return "Sorry, the language model is currently unavailable. Please try again later."
	case errors.Is(err, embedding.ErrTimeout), errors.Is(err, embedding.ErrUnavailable):
		return "Sorry, the knowledge base is currently unavailable. Please try again later."
	case errors.Is(err, vector.ErrIndexUnavailable):
		return "Sorry, the knowledge base is currently unavailable. Please try again later."
	default:
		return "Sorry, something went wrong while answering your question."
	}
}
