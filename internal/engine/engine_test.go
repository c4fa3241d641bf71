package engine

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"ragchat/internal/domain"
)

type sliceStream struct {
	tokens []string
	closed bool
}

func (s *sliceStream) Next() (string, error) {
	if len(s.tokens) == 0 {
		return "", io.EOF
	}
	tok := s.tokens[0]
	s.tokens = s.tokens[1:]
	return tok, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

type fakeLLM struct {
	completion  string
	completeErr error
	tokens      []string

	completeCalls [][]domain.Message
	streamCalls   [][]domain.Message
}

func (f *fakeLLM) Model() string { return "fake" }

func (f *fakeLLM) Complete(_ context.Context, msgs []domain.Message) (string, error) {
	f.completeCalls = append(f.completeCalls, msgs)
	return f.completion, f.completeErr
}

func (f *fakeLLM) Stream(_ context.Context, msgs []domain.Message) (domain.TokenStream, error) {
	f.streamCalls = append(f.streamCalls, msgs)
	return &sliceStream{tokens: f.tokens}, nil
}

type fakeRetriever struct {
	results []domain.SearchResult
	queries []string
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, _ int) ([]domain.SearchResult, error) {
	f.queries = append(f.queries, query)
	return f.results, nil
}

var bayplanPassage = domain.SearchResult{
	Chunk: domain.Chunk{Source: "data/bayplan.md", Text: "A Bayplan describes the stowage of containers on a vessel."},
	Score: 0.8,
}

func newTestEngine(t *testing.T, mode Mode, llm *fakeLLM, r *fakeRetriever) *Engine {
	t.Helper()
	e, err := New(Config{Mode: mode}, llm, r, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestNew_UnknownMode(t *testing.T) {
	if _, err := New(Config{Mode: "react"}, &fakeLLM{}, &fakeRetriever{}, nil); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestCondense_NoPriorTurnReturnsQuestion(t *testing.T) {
	llm := &fakeLLM{completion: "should not be used"}
	e := newTestEngine(t, ModeCondenseQuestion, llm, &fakeRetriever{})
	history := []domain.Message{
		{Role: domain.RoleAssistant, Content: "welcome"},
		{Role: domain.RoleUser, Content: "Q"},
	}
	got, err := e.Condense(context.Background(), history)
	if err != nil {
		t.Fatalf("Condense: %v", err)
	}
	if got != "Q" {
		t.Errorf("got %q, want %q", got, "Q")
	}
	if len(llm.completeCalls) != 0 {
		t.Errorf("LLM called %d times, want 0", len(llm.completeCalls))
	}
}

func TestCondense_UsesPriorTurns(t *testing.T) {
	llm := &fakeLLM{completion: "  Who exchanges a Bayplan?  "}
	e := newTestEngine(t, ModeCondenseQuestion, llm, &fakeRetriever{})
	history := []domain.Message{
		{Role: domain.RoleAssistant, Content: "welcome"},
		{Role: domain.RoleUser, Content: "What is a Bayplan?"},
		{Role: domain.RoleAssistant, Content: "A stowage plan."},
		{Role: domain.RoleUser, Content: "Who exchanges it?"},
	}
	got, err := e.Condense(context.Background(), history)
	if err != nil {
		t.Fatalf("Condense: %v", err)
	}
	if got != "Who exchanges a Bayplan?" {
		t.Errorf("got %q", got)
	}
	if len(llm.completeCalls) != 1 {
		t.Fatalf("LLM called %d times, want 1", len(llm.completeCalls))
	}
	prompt := llm.completeCalls[0][0].Content
	for _, want := range []string{"user: What is a Bayplan?", "assistant: A stowage plan.", "<Follow Up Message>\nWho exchanges it?"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestCondense_EmptyCompletionFallsBack(t *testing.T) {
	llm := &fakeLLM{completion: " "}
	e := newTestEngine(t, ModeCondenseQuestion, llm, &fakeRetriever{})
	history := []domain.Message{
		{Role: domain.RoleUser, Content: "a"},
		{Role: domain.RoleAssistant, Content: "b"},
		{Role: domain.RoleUser, Content: "c"},
	}
	if got, _ := e.Condense(context.Background(), history); got != "c" {
		t.Errorf("got %q, want %q", got, "c")
	}
}

func TestCondense_Errors(t *testing.T) {
	e := newTestEngine(t, ModeCondenseQuestion, &fakeLLM{completeErr: errors.New("boom")}, &fakeRetriever{})

	if _, err := e.Condense(context.Background(), []domain.Message{{Role: domain.RoleAssistant, Content: "welcome"}}); !errors.Is(err, ErrNoQuestion) {
		t.Errorf("err = %v, want ErrNoQuestion", err)
	}
	history := []domain.Message{
		{Role: domain.RoleUser, Content: "a"},
		{Role: domain.RoleAssistant, Content: "b"},
		{Role: domain.RoleUser, Content: "c"},
	}
	if _, err := e.Condense(context.Background(), history); !errors.Is(err, domain.ErrGeneration) {
		t.Errorf("err = %v, want generation error", err)
	}
}

func TestAnswer_CondenseQuestion(t *testing.T) {
	llm := &fakeLLM{completion: "Who exchanges a Bayplan?", tokens: []string{"Vessel ", "partners."}}
	r := &fakeRetriever{results: []domain.SearchResult{bayplanPassage}}
	e := newTestEngine(t, ModeCondenseQuestion, llm, r)
	history := []domain.Message{
		{Role: domain.RoleAssistant, Content: "welcome"},
		{Role: domain.RoleUser, Content: "What is a Bayplan?"},
		{Role: domain.RoleAssistant, Content: "A stowage plan."},
		{Role: domain.RoleUser, Content: "Who exchanges it?"},
	}

	resp, err := e.Answer(context.Background(), history)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(r.queries) != 1 || r.queries[0] != "Who exchanges a Bayplan?" {
		t.Errorf("retriever queries = %q", r.queries)
	}
	if resp.Query() != "Who exchanges a Bayplan?" {
		t.Errorf("Query() = %q", resp.Query())
	}
	if len(resp.Sources()) != 1 {
		t.Errorf("Sources() = %+v", resp.Sources())
	}

	msgs := llm.streamCalls[0]
	if len(msgs) != 2 || msgs[0].Role != domain.RoleSystem || msgs[0].Content != DefaultSystemPrompt {
		t.Fatalf("unexpected answer messages: %+v", msgs)
	}
	for _, want := range []string{bayplanPassage.Chunk.Text, "source: data/bayplan.md", "Query: Who exchanges a Bayplan?"} {
		if !strings.Contains(msgs[1].Content, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}

	var answer strings.Builder
	for {
		tok, err := resp.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.Fatalf("Next: %v", err)
			}
			break
		}
		answer.WriteString(tok)
	}
	if answer.String() != "Vessel partners." {
		t.Errorf("answer = %q", answer.String())
	}
}

func TestAnswer_ContextModeSkipsCondense(t *testing.T) {
	llm := &fakeLLM{tokens: []string{"ok"}}
	r := &fakeRetriever{}
	e := newTestEngine(t, ModeContext, llm, r)
	history := []domain.Message{
		{Role: domain.RoleUser, Content: "What is a Bayplan?"},
		{Role: domain.RoleAssistant, Content: "A stowage plan."},
		{Role: domain.RoleUser, Content: "Who exchanges it?"},
	}
	if _, err := e.StreamAnswer(context.Background(), history); err != nil {
		t.Fatalf("StreamAnswer: %v", err)
	}
	if len(llm.completeCalls) != 0 {
		t.Errorf("context mode condensed the question")
	}
	if r.queries[0] != "Who exchanges it?" {
		t.Errorf("query = %q", r.queries[0])
	}
	if msgs := llm.streamCalls[0]; len(msgs) != 4 {
		t.Errorf("got %d messages, want system + 2 prior turns + question", len(msgs))
	}
}
