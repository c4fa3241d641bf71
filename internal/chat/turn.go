// Package chat coordinates one question/answer exchange: it pulls answer
// tokens from the engine, forwards them to the caller and records the
// finished answer in the session exactly once.
package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ragchat/internal/domain"
	"ragchat/internal/session"
)

var (
	// ErrNotPending is returned by Start when the session has no unanswered
	// user message.
	ErrNotPending = errors.New("no unanswered user message")
	// ErrNotStarted is returned by Next before Start succeeded.
	ErrNotStarted = errors.New("turn not started")
	// ErrTurnFinished is returned once a turn has been finalized or failed.
	ErrTurnFinished = errors.New("turn already finished")
	// ErrEmptyAnswer is the cause reported when a stream ends without tokens.
	ErrEmptyAnswer = errors.New("model returned an empty answer")
)

// State is the lifecycle position of a Turn.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateFinalized
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateFinalized:
		return "finalized"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type sourced interface {
	Query() string
	Sources() []domain.SearchResult
}

// Turn answers the pending user message of a session. Next is called from
// one goroutine at a time; Cancel and the accessors may be called from any.
type Turn struct {
	session *session.Session
	logger  *slog.Logger

	mu      sync.Mutex
	state   State
	ctx     context.Context
	cancel  context.CancelFunc
	stream  domain.TokenStream
	text    strings.Builder
	tokens  int
	query   string
	sources []domain.SearchResult
	err     error
	started time.Time
}

// NewTurn prepares a turn for s.
func NewTurn(s *session.Session, logger *slog.Logger) *Turn {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Turn{session: s, logger: logger.With("session", s.ID())}
}

// Start opens the answer stream for the pending user message.
func (t *Turn) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.state != StateIdle {
		t.mu.Unlock()
		return ErrTurnFinished
	}
	if !t.session.Pending() {
		t.mu.Unlock()
		return ErrNotPending
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.state = StateStreaming
	t.started = time.Now()
	turnCtx := t.ctx
	t.mu.Unlock()

	stream, err := t.session.Engine().StreamAnswer(turnCtx, t.session.Messages())

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.failLocked(err)
		return t.err
	}
	t.stream = stream
	if s, ok := stream.(sourced); ok {
		t.query = s.Query()
		t.sources = s.Sources()
	}
	t.logger.Debug("turn started", "query", t.query, "sources", len(t.sources))
	return nil
}

// Next pulls one token. When the stream is exhausted the assistant message
// is recorded and done is true. Any failure moves the turn to Failed,
// records nothing and returns a *domain.GenerationError.
func (t *Turn) Next() (token string, done bool, err error) {
	t.mu.Lock()
	switch t.state {
	case StateIdle:
		t.mu.Unlock()
		return "", false, ErrNotStarted
	case StateFinalized, StateFailed:
		t.mu.Unlock()
		return "", false, ErrTurnFinished
	}
	stream, ctx := t.stream, t.ctx
	t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", false, t.fail(err)
	}
	tok, err := stream.Next()
	switch {
	case errors.Is(err, io.EOF):
		return "", true, t.finalize()
	case err != nil:
		return "", false, t.fail(err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateStreaming {
		return "", false, ErrTurnFinished
	}
	t.text.WriteString(tok)
	t.tokens++
	return tok, false, nil
}

func (t *Turn) finalize() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateStreaming {
		return ErrTurnFinished
	}
	if err := t.ctx.Err(); err != nil {
		t.failLocked(err)
		return t.err
	}
	if strings.TrimSpace(t.text.String()) == "" {
		t.failLocked(ErrEmptyAnswer)
		return t.err
	}
	if err := t.session.Record(domain.Message{Role: domain.RoleAssistant, Content: t.text.String()}); err != nil {
		t.failLocked(err)
		return t.err
	}
	t.closeLocked()
	t.state = StateFinalized
	t.logger.Info("turn finalized", "tokens", t.tokens, "chars", t.text.Len(), "elapsed", time.Since(t.started))
	return nil
}

func (t *Turn) fail(err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateStreaming {
		return ErrTurnFinished
	}
	t.failLocked(err)
	return t.err
}

func (t *Turn) failLocked(err error) {
	t.closeLocked()
	t.state = StateFailed
	t.err = domain.NewGenerationError("answer", err)
	t.logger.Warn("turn failed", "tokens", t.tokens, "error", t.err)
}

func (t *Turn) closeLocked() {
	if t.stream != nil {
		_ = t.stream.Close()
	}
	if t.cancel != nil {
		t.cancel()
	}
}

// Cancel aborts a streaming turn. The next call to Next fails.
func (t *Turn) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
}

// Run starts the turn and forwards every token to onToken until the answer
// is recorded or the turn fails.
func (t *Turn) Run(ctx context.Context, onToken func(string)) error {
	if err := t.Start(ctx); err != nil {
		return err
	}
	for {
		tok, done, err := t.Next()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if onToken != nil {
			onToken(tok)
		}
	}
}

func (t *Turn) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Text is the answer received so far.
func (t *Turn) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.text.String()
}

// Query is the standalone question the answer was retrieved for, if the
// engine reports it.
func (t *Turn) Query() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.query
}

func (t *Turn) Sources() []domain.SearchResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.SearchResult, len(t.sources))
	copy(out, t.sources)
	return out
}
