package session

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"ragchat/internal/domain"
)

const (
	// DefaultMaxMessages bounds the history when no limit is configured.
	DefaultMaxMessages = 10

	DefaultWelcome = "I can assist with definitions, standards, and timelines for the exchange of " +
		"information between vessel sharing partners related to Loadlist and Bayplan, as per DCSA " +
		"guidelines. Ask me any question related to DCSA, and I will provide detailed, factual " +
		"answers based on the available knowledge base."
)

// Config controls a chat session.
type Config struct {
	MaxMessages int
	Welcome     string
}

// Session is one conversation against a shared engine. It is not safe for
// concurrent turns; callers run one turn at a time.
type Session struct {
	id          string
	engine      domain.ChatEngine
	history     *History
	maxMessages int
}

// New creates a session with an initialized history.
func New(engine domain.ChatEngine, cfg Config) *Session {
	if cfg.MaxMessages < 1 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if cfg.Welcome == "" {
		cfg.Welcome = DefaultWelcome
	}
	h := NewHistory(cfg.Welcome)
	h.Initialize()
	return &Session{
		id:          uuid.Must(uuid.NewV7()).String(),
		engine:      engine,
		history:     h,
		maxMessages: cfg.MaxMessages,
	}
}

func (s *Session) ID() string                { return s.id }
func (s *Session) Engine() domain.ChatEngine { return s.engine }
func (s *Session) MaxMessages() int          { return s.maxMessages }

// Messages returns a copy of the history.
func (s *Session) Messages() []domain.Message { return s.history.Messages() }

// LastMessage returns the most recent message.
func (s *Session) LastMessage() (domain.Message, bool) { return s.history.LastMessage() }

// Pending reports whether an answer is owed for the last user message.
func (s *Session) Pending() bool { return s.history.Pending() }

// Record appends msg and trims the history to the session bound.
func (s *Session) Record(msg domain.Message) error {
	if err := s.history.Append(msg); err != nil {
		return err
	}
	s.history.Trim(s.maxMessages)
	if n := s.history.Len(); n > s.maxMessages {
		panic(fmt.Sprintf("session %s: history holds %d messages after trim, bound is %d", s.id, n, s.maxMessages))
	}
	return nil
}

// Ask records question as a user message.
func (s *Session) Ask(question string) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return ErrInvalidMessage
	}
	return s.Record(domain.Message{Role: domain.RoleUser, Content: question})
}
