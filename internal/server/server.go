// Package server provides the HTTP API for Kotae.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/ingest"
	"github.com/hyperjump/kotae/internal/session"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

// Pinger reports whether an external dependency answers. Both the embedding
// and generation clients implement it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP server for the Kotae API.
type Server struct {
	sessions  *session.Manager
	ingestor  *ingest.Ingestor
	storage   storage.Storage
	index     vector.VectorIndex
	embedder  Pinger
	generator Pinger
	config    *config.ServerConfig
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	sessions *session.Manager,
	ingestor *ingest.Ingestor,
	store storage.Storage,
	index vector.VectorIndex,
	embedder Pinger,
	generator Pinger,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		sessions:  sessions,
		ingestor:  ingestor,
		storage:   store,
		index:     index,
		embedder:  embedder,
		generator: generator,
		config:    cfg,
		logger:    logger,
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// The streaming and websocket routes manage their own deadlines; a
	// blanket timeout would cut long generations short.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Post("/api/v1/sessions", s.handleCreateSession)
		r.Delete("/api/v1/sessions/{id}", s.handleDeleteSession)
		r.Post("/api/v1/sessions/{id}/clear", s.handleClearSession)
		r.Get("/api/v1/sessions/{id}/messages", s.handleSessionMessages)
		r.Post("/api/v1/documents", s.handleIngestPath)
		r.Get("/api/v1/documents", s.handleListDocuments)
		r.Delete("/api/v1/documents/{id}", s.handleDeleteDocument)
		r.Get("/api/v1/stats", s.handleStats)
		r.Get("/health", s.handleHealth)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(180 * time.Second))
		r.Post("/api/v1/chat", s.handleChat)
	})

	r.Post("/api/v1/chat/stream", s.handleChatStream)
	r.Get("/ws", s.handleWebSocket)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
