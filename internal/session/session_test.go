package session

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"ragchat/internal/domain"
)

func TestNew_Defaults(t *testing.T) {
	s := New(nil, Config{})
	if s.MaxMessages() != DefaultMaxMessages {
		t.Errorf("MaxMessages() = %d, want %d", s.MaxMessages(), DefaultMaxMessages)
	}
	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Role != domain.RoleAssistant || msgs[0].Content != DefaultWelcome {
		t.Errorf("unexpected initial history: %+v", msgs)
	}
	id, err := uuid.Parse(s.ID())
	if err != nil {
		t.Fatalf("ID %q is not a UUID: %v", s.ID(), err)
	}
	if id.Version() != 7 {
		t.Errorf("ID version = %d, want 7", id.Version())
	}
	if New(nil, Config{}).ID() == s.ID() {
		t.Error("two sessions share an ID")
	}
}

func TestSession_RecordKeepsBound(t *testing.T) {
	for _, limit := range []int{1, 2, 10} {
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			s := New(nil, Config{MaxMessages: limit, Welcome: "welcome"})
			for i := 0; i < 3*limit+1; i++ {
				role := domain.RoleUser
				if i%2 == 1 {
					role = domain.RoleAssistant
				}
				if err := s.Record(domain.Message{Role: role, Content: fmt.Sprintf("m%d", i)}); err != nil {
					t.Fatalf("Record: %v", err)
				}
				if n := len(s.Messages()); n > limit {
					t.Fatalf("history length %d exceeds %d", n, limit)
				}
			}
		})
	}
}

func TestSession_TrimDropsOldest(t *testing.T) {
	// 11 messages with a bound of 10: only the welcome message goes.
	s := New(nil, Config{MaxMessages: 10, Welcome: "welcome"})
	for i := 1; i <= 10; i++ {
		role := domain.RoleUser
		if i%2 == 0 {
			role = domain.RoleAssistant
		}
		if err := s.Record(domain.Message{Role: role, Content: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	msgs := s.Messages()
	if len(msgs) != 10 {
		t.Fatalf("len = %d, want 10", len(msgs))
	}
	for i, m := range msgs {
		if want := fmt.Sprintf("m%d", i+1); m.Content != want {
			t.Errorf("[%d] = %q, want %q", i, m.Content, want)
		}
	}
}

func TestSession_Ask(t *testing.T) {
	s := New(nil, Config{})
	if err := s.Ask("   "); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("err = %v, want ErrInvalidMessage", err)
	}
	if s.Pending() {
		t.Fatal("blank question made the session pending")
	}
	if err := s.Ask(" What is a Bayplan? "); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	last, _ := s.LastMessage()
	if !s.Pending() || last.Content != "What is a Bayplan?" {
		t.Errorf("last = %+v, pending = %v", last, s.Pending())
	}
}
