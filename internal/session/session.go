// Package session owns conversation state and mediates between the chat
// surface and the retrieval/generation pipeline.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/generate"
	"github.com/hyperjump/kotae/internal/models"
)

// NoContextAnswer is the fixed response when retrieval finds nothing relevant.
// Generation is never invoked in that case, so the answer cannot carry
// fabricated citations.
const NoContextAnswer = "I couldn't find any relevant information in the knowledge base."

var (
	// ErrNotFound indicates an unknown session ID.
	ErrNotFound = errors.New("session not found")

	// ErrBusy indicates the session's question queue is full.
	ErrBusy = errors.New("session busy")
)

// State is a session's position in the answer pipeline.
type State int32

const (
	StateIdle State = iota
	StateAwaitingRetrieval
	StateAwaitingGeneration
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingRetrieval:
		return "awaiting_retrieval"
	case StateAwaitingGeneration:
		return "awaiting_generation"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Retriever is the slice of the retrieval pipeline the manager needs.
type Retriever interface {
	Retrieve(ctx context.Context, question string, k int, threshold float64) (*models.RetrievalResult, error)
}

// Assembler builds the generation prompt.
type Assembler interface {
	Assemble(question string, result *models.RetrievalResult, history []models.Message) string
}

type task struct {
	ctx      context.Context
	question string
	// Exactly one of reply/events is set: reply for blocking asks, events for
	// streaming asks.
	reply  chan *models.ChatResponse
	events chan models.StreamEvent
}

type session struct {
	id     string
	queue  chan task
	cancel context.CancelFunc

	mu      sync.Mutex
	history []models.Message
	state   State
	// epoch increments on Clear; a worker only appends its result if the epoch
	// it started with is still current, so cleared sessions discard in-flight
	// answers.
	epoch int
	// closed is set when the worker exits; enqueue rejects from then on.
	closed bool
}

// enqueue adds a task without blocking. Taking the session lock here orders
// every accepted task before the worker's shutdown drain, so no task can be
// queued and then never answered.
func (s *session) enqueue(t task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotFound
	}
	select {
	case s.queue <- t:
		return nil
	default:
		return ErrBusy
	}
}

// Manager owns all live sessions. Each session has one worker goroutine
// draining a bounded FIFO queue, which gives strict per-session answer
// ordering; a question arriving on a full queue is rejected with ErrBusy.
type Manager struct {
	retriever Retriever
	assembler Assembler
	generator generate.Generator
	logger    *zap.Logger

	topK      int
	threshold float64
	queueSize int

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool
}

// Options configures a Manager.
type Options struct {
	Retriever Retriever
	Assembler Assembler
	Generator generate.Generator
	TopK      int
	Threshold float64
	QueueSize int
	Logger    *zap.Logger
}

// NewManager creates a session manager.
func NewManager(opts Options) *Manager {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 0.6
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 8
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		retriever: opts.Retriever,
		assembler: opts.Assembler,
		generator: opts.Generator,
		logger:    opts.Logger,
		topK:      opts.TopK,
		threshold: opts.Threshold,
		queueSize: opts.QueueSize,
		sessions:  make(map[string]*session),
	}
}

// NewSession creates a session and returns its ID.
func (m *Manager) NewSession() string {
	id := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startSessionLocked(id)
	return id
}

func (m *Manager) startSessionLocked(id string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:     id,
		queue:  make(chan task, m.queueSize),
		cancel: cancel,
	}
	m.sessions[id] = s
	go m.worker(ctx, s)
	return s
}

// get returns the session, creating it when createMissing is set. Creating on
// first contact lets a client bring its own session ID.
func (m *Manager) get(id string, createMissing bool) (*session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}
	if !createMissing {
		return nil, ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	return m.startSessionLocked(id), nil
}

// Ask submits a question and blocks until its answer (or error answer) is
// ready. An empty sessionID creates a new session; the assigned ID is in the
// response. Returns ErrBusy when the session queue is full.
func (m *Manager) Ask(ctx context.Context, sessionID, question string) (*models.ChatResponse, error) {
	if sessionID == "" {
		sessionID = m.NewSession()
	}
	s, err := m.get(sessionID, true)
	if err != nil {
		return nil, err
	}
	t := task{ctx: ctx, question: question, reply: make(chan *models.ChatResponse, 1)}
	if err := s.enqueue(t); err != nil {
		return nil, err
	}
	select {
	case resp, ok := <-t.reply:
		if !ok {
			// The session was deleted before the question was processed.
			return nil, ErrNotFound
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AskStream submits a question and returns a stream of events: zero or more
// fragments terminated by exactly one done or error event, after which the
// channel is closed. Cancelling ctx stops the stream at a fragment boundary.
func (m *Manager) AskStream(ctx context.Context, sessionID, question string) (string, <-chan models.StreamEvent, error) {
	if sessionID == "" {
		sessionID = m.NewSession()
	}
	s, err := m.get(sessionID, true)
	if err != nil {
		return "", nil, err
	}
	t := task{ctx: ctx, question: question, events: make(chan models.StreamEvent, 16)}
	if err := s.enqueue(t); err != nil {
		return "", nil, err
	}
	return sessionID, t.events, nil
}

// History returns a copy of the session's messages in append order.
func (m *Manager) History(sessionID string) ([]models.Message, error) {
	s, err := m.get(sessionID, false)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.history))
	copy(out, s.history)
	return out, nil
}

// State returns the session's current pipeline state.
func (m *Manager) State(sessionID string) (State, error) {
	s, err := m.get(sessionID, false)
	if err != nil {
		return StateIdle, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

// Clear empties the session's history. An in-flight answer for the old
// conversation is discarded when it completes; the backend call itself is not
// interrupted.
func (m *Manager) Clear(sessionID string) error {
	s, err := m.get(sessionID, false)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.epoch++
	return nil
}

// Delete removes the session and stops its worker.
func (m *Manager) Delete(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.cancel()
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close stops all session workers.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for id, s := range m.sessions {
		s.cancel()
		delete(m.sessions, id)
	}
}

// worker drains the session's question queue one task at a time.
func (m *Manager) worker(ctx context.Context, s *session) {
	defer m.shutdown(s)
	for {
		// Cancellation wins over further queued work.
		select {
		case <-ctx.Done():
			return
		default:
		}
		select {
		case <-ctx.Done():
			return
		case t := <-s.queue:
			m.process(ctx, s, t)
		}
	}
}

// shutdown rejects whatever is still queued when the worker stops, so a
// caller blocked in Ask observes the deleted session instead of waiting on a
// reply that will never come.
func (m *Manager) shutdown(s *session) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	for {
		select {
		case t := <-s.queue:
			if t.events != nil {
				t.events <- models.StreamEvent{
					Type:      models.EventError,
					ErrorKind: "internal",
					Message:   "session closed",
				}
				close(t.events)
			}
			if t.reply != nil {
				close(t.reply)
			}
		default:
			return
		}
	}
}

func (m *Manager) process(workerCtx context.Context, s *session, t task) {
	ctx := t.ctx
	if ctx == nil {
		ctx = workerCtx
	}

	s.mu.Lock()
	epoch := s.epoch
	s.history = append(s.history, models.Message{
		Role:      models.RoleUser,
		Content:   t.question,
		Timestamp: time.Now(),
	})
	priorTurns := make([]models.Message, len(s.history)-1)
	copy(priorTurns, s.history[:len(s.history)-1])
	s.state = StateAwaitingRetrieval
	s.mu.Unlock()

	finish := func(msg models.Message) {
		s.mu.Lock()
		if s.epoch == epoch {
			s.history = append(s.history, msg)
		}
		s.state = StateIdle
		s.mu.Unlock()

		resp := &models.ChatResponse{
			SessionID: s.id,
			Answer:    msg.Content,
			Sources:   msg.Sources,
			Timestamp: msg.Timestamp,
		}
		if t.reply != nil {
			t.reply <- resp
		}
	}

	result, err := m.retriever.Retrieve(ctx, t.question, m.topK, m.threshold)
	if err != nil {
		m.logger.Warn("retrieval failed", zap.String("session_id", s.id), zap.Error(err))
		m.fail(s, t, finish, err)
		return
	}

	if result.NoContext {
		msg := models.Message{
			Role:      models.RoleAssistant,
			Content:   NoContextAnswer,
			Timestamp: time.Now(),
		}
		if t.events != nil {
			m.emit(ctx, t.events, models.StreamEvent{Type: models.EventFragment, Fragment: NoContextAnswer})
			m.emit(ctx, t.events, models.StreamEvent{Type: models.EventDone, FinalText: NoContextAnswer})
			close(t.events)
		}
		finish(msg)
		return
	}

	prompt := m.assembler.Assemble(t.question, result, priorTurns)
	sources := result.SourceIDs()

	s.mu.Lock()
	s.state = StateAwaitingGeneration
	s.mu.Unlock()

	if t.events != nil {
		m.stream(ctx, s, t, finish, prompt, sources)
		return
	}

	answer, err := m.generator.Generate(ctx, prompt)
	if err != nil {
		m.logger.Warn("generation failed", zap.String("session_id", s.id), zap.Error(err))
		m.fail(s, t, finish, err)
		return
	}
	finish(models.Message{
		Role:      models.RoleAssistant,
		Content:   answer,
		Sources:   sources,
		Timestamp: time.Now(),
	})
}

// stream forwards generator fragments to the task's event channel, buffering
// them so the final message (and a mid-stream failure's partial answer) can be
// appended to history.
func (m *Manager) stream(ctx context.Context, s *session, t task, finish func(models.Message), prompt string, sources []string) {
	s.mu.Lock()
	s.state = StateStreaming
	s.mu.Unlock()

	fragments, errs := m.generator.GenerateStream(ctx, prompt)
	var buf []byte
	for f := range fragments {
		if f.Text != "" {
			buf = append(buf, f.Text...)
			m.emit(ctx, t.events, models.StreamEvent{Type: models.EventFragment, Fragment: f.Text})
		}
	}
	err := <-errs
	if err != nil {
		m.logger.Warn("stream failed", zap.String("session_id", s.id), zap.Error(err))
		partial := string(buf)
		m.emit(ctx, t.events, models.StreamEvent{
			Type:      models.EventError,
			ErrorKind: errorKind(err),
			Message:   errorAnswer(err),
			FinalText: partial,
		})
		close(t.events)
		content := errorAnswer(err)
		if partial != "" {
			content = partial + "\n\n" + content
		}
		finish(models.Message{
			Role:      models.RoleAssistant,
			Content:   content,
			IsError:   true,
			Timestamp: time.Now(),
		})
		return
	}

	final := string(buf)
	m.emit(ctx, t.events, models.StreamEvent{Type: models.EventDone, FinalText: final, Sources: sources})
	close(t.events)
	finish(models.Message{
		Role:      models.RoleAssistant,
		Content:   final,
		Sources:   sources,
		Timestamp: time.Now(),
	})
}

// fail converts a pipeline error into an assistant-visible error message. The
// session stays usable; dependency failures never terminate a conversation.
func (m *Manager) fail(s *session, t task, finish func(models.Message), err error) {
	if t.events != nil {
		m.emit(context.Background(), t.events, models.StreamEvent{
			Type:      models.EventError,
			ErrorKind: errorKind(err),
			Message:   errorAnswer(err),
		})
		close(t.events)
	}
	finish(models.Message{
		Role:      models.RoleAssistant,
		Content:   errorAnswer(err),
		IsError:   true,
		Timestamp: time.Now(),
	})
}

func (m *Manager) emit(ctx context.Context, events chan<- models.StreamEvent, ev models.StreamEvent) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
