package models

import "time"

// Message roles. Assistant messages may carry cited chunk IDs; user messages never do.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn in a conversation. Immutable once appended to a session.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Sources   []string  `json:"sources,omitempty"`
	IsError   bool      `json:"is_error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatRequest is the body of POST /api/v1/chat. SessionID may be empty, in
// which case a new session is created and returned in the response.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// ChatResponse is the blocking answer for a chat request.
type ChatResponse struct {
	SessionID string    `json:"session_id"`
	Answer    string    `json:"answer"`
	Sources   []string  `json:"sources,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stream event types emitted while an answer is being generated.
const (
	EventFragment = "fragment"
	EventDone     = "done"
	EventError    = "error"
)

// StreamEvent is one event of a streamed answer. A stream is a sequence of
// fragment events terminated by exactly one done or error event; concatenating
// the fragment texts reproduces the final text carried by the done event.
type StreamEvent struct {
	Type      string   `json:"type"`
	Fragment  string   `json:"fragment,omitempty"`
	FinalText string   `json:"final_text,omitempty"`
	Sources   []string `json:"sources,omitempty"`
	ErrorKind string   `json:"error_kind,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// Stats describes index contents for GET /api/v1/stats.
type Stats struct {
	Documents       int64  `json:"documents"`
	Chunks          int64  `json:"chunks"`
	VectorIndexSize int    `json:"vector_index_size"`
	IndexBackend    string `json:"index_backend"`
}

// Dependency states reported by GET /health.
const (
	DepUp   = "up"
	DepDown = "down"
)

// Health is the health check response. Status is "ok" when every dependency
// is up, "degraded" otherwise.
type Health struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}
