package server

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The API carries no cookies or credentials, so cross-origin browser
	// clients are allowed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Inbound websocket message types.
const (
	wsChatMessage  = "chat_message"
	wsNewSession   = "new_session"
	wsClearSession = "clear_session"
)

type wsInbound struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

type wsOutbound struct {
	Type      string   `json:"type"`
	SessionID string   `json:"session_id,omitempty"`
	Message   string   `json:"message,omitempty"`
	Fragment  string   `json:"fragment,omitempty"`
	Sources   []string `json:"sources,omitempty"`
	ErrorKind string   `json:"error_kind,omitempty"`
	IsTyping  bool     `json:"is_typing,omitempty"`
}

// handleWebSocket binds a chat session to a websocket. The client sends
// chat_message frames; the server answers with typing, fragment, message, and
// error frames. A dropped connection cancels in-flight streaming at the next
// fragment boundary.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// gorilla/websocket allows one concurrent writer; the answer pump and
	// error replies share this lock.
	var writeMu sync.Mutex
	write := func(msg wsOutbound) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(msg)
	}

	ctx := r.Context()
	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}

		switch in.Type {
		case wsNewSession:
			id := s.sessions.NewSession()
			if err := write(wsOutbound{Type: "session_created", SessionID: id}); err != nil {
				return
			}
		case wsClearSession:
			if err := s.sessions.Clear(in.SessionID); err != nil {
				_ = write(wsOutbound{Type: "error", SessionID: in.SessionID, Message: "session not found"})
				continue
			}
			if err := write(wsOutbound{Type: "session_cleared", SessionID: in.SessionID}); err != nil {
				return
			}
		case wsChatMessage:
			if in.Message == "" {
				_ = write(wsOutbound{Type: "error", SessionID: in.SessionID, Message: "message is required"})
				continue
			}
			if err := s.wsAnswer(ctx, write, in); err != nil {
				return
			}
		default:
			_ = write(wsOutbound{Type: "error", Message: "unknown message type"})
		}
	}
}

// wsAnswer runs one question through the streaming pipeline and forwards its
// events as websocket frames. Returns an error only when the connection is
// unusable.
func (s *Server) wsAnswer(ctx context.Context, write func(wsOutbound) error, in wsInbound) error {
	sessionID, events, err := s.sessions.AskStream(ctx, in.SessionID, in.Message)
	if err != nil {
		if errors.Is(err, session.ErrBusy) {
			return write(wsOutbound{Type: "error", SessionID: in.SessionID, ErrorKind: "busy", Message: "session busy"})
		}
		return write(wsOutbound{Type: "error", SessionID: in.SessionID, Message: err.Error()})
	}

	if err := write(wsOutbound{Type: "typing", SessionID: sessionID, IsTyping: true}); err != nil {
		return err
	}
	for ev := range events {
		var out wsOutbound
		switch ev.Type {
		case models.EventFragment:
			out = wsOutbound{Type: "fragment", SessionID: sessionID, Fragment: ev.Fragment}
		case models.EventDone:
			out = wsOutbound{Type: "message", SessionID: sessionID, Message: ev.FinalText, Sources: ev.Sources}
		case models.EventError:
			out = wsOutbound{Type: "error", SessionID: sessionID, ErrorKind: ev.ErrorKind, Message: ev.Message, Fragment: ev.FinalText}
		}
		if err := write(out); err != nil {
			return err
		}
	}
	return write(wsOutbound{Type: "typing", SessionID: sessionID, IsTyping: false})
}
