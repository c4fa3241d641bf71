// Package session holds the per-user conversation state: a bounded message
// history seeded with a welcome message, and the chat session that owns it.
package session

import (
	"errors"
	"sync"

	"ragchat/internal/domain"
)

// ErrInvalidMessage is returned by Append for a message with an empty role
// or empty content.
var ErrInvalidMessage = errors.New("invalid message")

// History is an ordered list of messages, oldest first.
type History struct {
	mu       sync.RWMutex
	welcome  string
	messages []domain.Message
}

// NewHistory returns an empty history that Initialize seeds with welcome.
func NewHistory(welcome string) *History {
	return &History{welcome: welcome}
}

// Initialize adds the assistant welcome message to an empty history.
// It has no effect on a history that already has messages.
func (h *History) Initialize() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.messages) > 0 {
		return
	}
	h.messages = []domain.Message{{Role: domain.RoleAssistant, Content: h.welcome}}
}

// Append adds msg at the end.
func (h *History) Append(msg domain.Message) error {
	if msg.Role == "" || msg.Content == "" {
		return ErrInvalidMessage
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
	return nil
}

// Trim keeps only the last limit messages. A limit below one leaves the
// history unchanged.
func (h *History) Trim(limit int) {
	if limit < 1 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.messages); n > limit {
		kept := make([]domain.Message, limit)
		copy(kept, h.messages[n-limit:])
		h.messages = kept
	}
}

// LastMessage returns the most recent message.
func (h *History) LastMessage() (domain.Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.messages) == 0 {
		return domain.Message{}, false
	}
	return h.messages[len(h.messages)-1], true
}

// Messages returns a copy of the history.
func (h *History) Messages() []domain.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Pending reports whether the last message is an unanswered user message.
func (h *History) Pending() bool {
	last, ok := h.LastMessage()
	return ok && last.Role == domain.RoleUser
}
