package tui

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"ragchat/internal/domain"
	"ragchat/internal/index"
	"ragchat/internal/session"
)

type scriptedStream struct {
	tokens []string
	err    error
}

func (s *scriptedStream) Next() (string, error) {
	if len(s.tokens) > 0 {
		tok := s.tokens[0]
		s.tokens = s.tokens[1:]
		return tok, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *scriptedStream) Close() error { return nil }

// fakeEngine hands out one scripted stream per call.
type fakeEngine struct {
	streams []*scriptedStream
	calls   int
}

func (f *fakeEngine) StreamAnswer(context.Context, []domain.Message) (domain.TokenStream, error) {
	if f.calls >= len(f.streams) {
		return nil, errors.New("no stream scripted")
	}
	s := f.streams[f.calls]
	f.calls++
	return s, nil
}

type fakeBackend struct {
	engine    *fakeEngine
	sessions  int
	changed   bool
	reloadErr error
}

func (b *fakeBackend) NewSession() *session.Session {
	b.sessions++
	return session.New(b.engine, session.Config{Welcome: "Welcome aboard."})
}

func (b *fakeBackend) Reload(context.Context) (bool, error) { return b.changed, b.reloadErr }
func (b *fakeBackend) Summary() string                      { return "Bayplans and loadlists." }
func (b *fakeBackend) Stats() index.Stats {
	return index.Stats{Documents: 2, Chunks: 4, Embedder: "tfidf"}
}
func (b *fakeBackend) Model() string { return "gpt-4" }

func newTestModel(t *testing.T, b *fakeBackend) Model {
	t.Helper()
	m := New(context.Background(), b, nil)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(Model)
}

// drive feeds the messages produced by cmd back into the model until the
// chat related work settles. Spinner ticks and other timers are dropped.
func drive(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	queue := []tea.Cmd{cmd}
	for steps := 0; len(queue) > 0; steps++ {
		if steps > 1000 {
			t.Fatal("model did not settle")
		}
		c := queue[0]
		queue = queue[1:]
		if c == nil {
			continue
		}
		switch msg := c().(type) {
		case tea.BatchMsg:
			queue = append(queue, msg...)
		case turnStartedMsg, tokenMsg, turnDoneMsg, turnErrMsg, reloadMsg:
			next, nextCmd := m.Update(msg)
			m = next.(Model)
			queue = append(queue, nextCmd)
		}
	}
	return m
}

func submit(t *testing.T, m Model, input string) Model {
	t.Helper()
	m.textarea.SetValue(input)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return drive(t, next.(Model), cmd)
}

func TestModel_AskStreamsAnswer(t *testing.T) {
	b := &fakeBackend{engine: &fakeEngine{streams: []*scriptedStream{
		{tokens: []string{"Loadlist", " is", " a", " manifest."}},
	}}}
	m := newTestModel(t, b)

	m = submit(t, m, "What is a Loadlist?")

	if m.streaming {
		t.Error("still streaming after the answer finished")
	}
	if m.err != nil {
		t.Fatalf("unexpected error: %v", m.err)
	}
	msgs := m.session.Messages()
	if len(msgs) != 3 {
		t.Fatalf("len(messages) = %d, want 3", len(msgs))
	}
	if msgs[2].Role != domain.RoleAssistant || msgs[2].Content != "Loadlist is a manifest." {
		t.Errorf("last message = %+v", msgs[2])
	}
	if m.lastAnswer != "Loadlist is a manifest." {
		t.Errorf("lastAnswer = %q", m.lastAnswer)
	}
	if m.textarea.Value() != "" {
		t.Errorf("input not cleared: %q", m.textarea.Value())
	}
}

func TestModel_FailedAnswerCanBeRetried(t *testing.T) {
	b := &fakeBackend{engine: &fakeEngine{streams: []*scriptedStream{
		{tokens: []string{"Partial"}, err: errors.New("connection reset")},
		{tokens: []string{"A Bayplan is a stowage plan."}},
	}}}
	m := newTestModel(t, b)

	m = submit(t, m, "What is a Bayplan?")
	if m.err == nil {
		t.Fatal("expected the failure to be shown")
	}
	if !m.session.Pending() {
		t.Fatal("session should still wait for an answer")
	}
	if got := len(m.session.Messages()); got != 2 {
		t.Fatalf("len(messages) = %d, want 2", got)
	}

	m = submit(t, m, "")
	if m.err != nil {
		t.Fatalf("retry failed: %v", m.err)
	}
	last, _ := m.session.LastMessage()
	if last.Content != "A Bayplan is a stowage plan." {
		t.Errorf("last message = %q", last.Content)
	}
}

func TestModel_IgnoresMessagesFromStaleTurns(t *testing.T) {
	b := &fakeBackend{engine: &fakeEngine{streams: []*scriptedStream{{tokens: []string{"ok"}}}}}
	m := newTestModel(t, b)
	m = submit(t, m, "hello")

	next, cmd := m.Update(tokenMsg{turn: nil, token: "stray"})
	if cmd != nil {
		t.Error("stale token should not schedule work")
	}
	if next.(Model).partial != "" {
		t.Error("stale token was rendered")
	}
}

func TestModel_Commands(t *testing.T) {
	t.Run("reset starts a new session", func(t *testing.T) {
		b := &fakeBackend{engine: &fakeEngine{streams: []*scriptedStream{{tokens: []string{"ok"}}}}}
		m := newTestModel(t, b)
		m = submit(t, m, "hello")
		m = submit(t, m, "/reset")
		if b.sessions != 2 {
			t.Errorf("sessions = %d, want 2", b.sessions)
		}
		if got := len(m.session.Messages()); got != 1 {
			t.Errorf("len(messages) = %d, want only the welcome", got)
		}
	})

	t.Run("reload with changes starts a new session", func(t *testing.T) {
		b := &fakeBackend{engine: &fakeEngine{}, changed: true}
		m := newTestModel(t, b)
		m = submit(t, m, "/reload")
		if m.reloading {
			t.Error("still reloading")
		}
		if b.sessions != 2 {
			t.Errorf("sessions = %d, want 2", b.sessions)
		}
		if !strings.Contains(m.status, "reloaded") {
			t.Errorf("status = %q", m.status)
		}
	})

	t.Run("reload failure keeps the session", func(t *testing.T) {
		b := &fakeBackend{engine: &fakeEngine{}, reloadErr: errors.New("boom")}
		m := newTestModel(t, b)
		m = submit(t, m, "/reload")
		if m.err == nil {
			t.Error("expected reload error")
		}
		if b.sessions != 1 {
			t.Errorf("sessions = %d, want 1", b.sessions)
		}
	})

	t.Run("retry with nothing pending", func(t *testing.T) {
		b := &fakeBackend{engine: &fakeEngine{}}
		m := newTestModel(t, b)
		m = submit(t, m, "/retry")
		if m.turn != nil {
			t.Error("retry started a turn without a pending question")
		}
	})

	t.Run("quit", func(t *testing.T) {
		m := newTestModel(t, &fakeBackend{engine: &fakeEngine{}})
		m.textarea.SetValue("/quit")
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		if cmd == nil {
			t.Fatal("expected quit command")
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Error("expected tea.QuitMsg")
		}
	})
}

func TestModel_CopyLastAnswer(t *testing.T) {
	b := &fakeBackend{engine: &fakeEngine{streams: []*scriptedStream{{tokens: []string{"Copied text."}}}}}
	m := newTestModel(t, b)
	var copied string
	m.copyFn = func(s string) error {
		copied = s
		return nil
	}

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlY})
	m = next.(Model)
	if copied != "" {
		t.Error("copied before any answer")
	}

	m = submit(t, m, "copy this")
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlY})
	m = next.(Model)
	if copied != "Copied text." {
		t.Errorf("copied = %q", copied)
	}
}

func TestModel_View(t *testing.T) {
	b := &fakeBackend{engine: &fakeEngine{}}
	m := New(context.Background(), b, nil)
	if !strings.Contains(m.View(), "Initializing") {
		t.Error("expected initializing view before the first resize")
	}
	m = newTestModel(t, b)
	view := m.View()
	for _, want := range []string{"DCSA Chat", "gpt-4", "2 documents", "history 1/10"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}
