// Package engine turns a conversation into a retrieval-augmented answer
// stream: condense the follow-up into a standalone question, retrieve
// passages for it, and stream the model's answer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"ragchat/internal/domain"
)

// Mode selects how the retrieval query is derived from the conversation.
type Mode string

const (
	// ModeCondenseQuestion rewrites the follow-up into a standalone question
	// using the prior turns, then answers it from retrieved context alone.
	ModeCondenseQuestion Mode = "condense_question"
	// ModeContext retrieves with the raw question and sends the prior turns
	// along with the retrieved context.
	ModeContext Mode = "context"
)

// ErrNoQuestion is returned when the history does not end with a user message.
var ErrNoQuestion = errors.New("history does not end with a user message")

const (
	DefaultTopK = 2

	DefaultSystemPrompt = "You are an expert on DCSA's definitions, standards, and timelines for the " +
		"exchange of information between vessel sharing partners regarding Loadlist and Bayplan. " +
		"Provide technical, fact-based responses, and avoid generating unverified features or " +
		"hallucinated details."

	// DefaultCondenseTemplate takes {chat_history} and {question}.
	DefaultCondenseTemplate = `Given a conversation (between Human and Assistant) and a follow up message from Human, rewrite the message to be a standalone question that captures all relevant context from the conversation.

<Chat History>
{chat_history}

<Follow Up Message>
{question}

<Standalone question>
`

	contextTemplate = `Context information is below.
---------------------
{context}
---------------------
Given the context information and not prior knowledge, answer the query.
Query: {question}
Answer: `
)

// Config configures an Engine.
type Config struct {
	Mode             Mode
	SystemPrompt     string
	CondenseTemplate string
	TopK             int
}

// Engine is shared by every session built on the same index.
type Engine struct {
	cfg       Config
	llm       domain.LLM
	retriever domain.Retriever
	logger    *slog.Logger
}

// New validates cfg and fills its defaults.
func New(cfg Config, llm domain.LLM, retriever domain.Retriever, logger *slog.Logger) (*Engine, error) {
	switch cfg.Mode {
	case "":
		cfg.Mode = ModeCondenseQuestion
	case ModeCondenseQuestion, ModeContext:
	default:
		return nil, fmt.Errorf("unknown chat mode %q", cfg.Mode)
	}
	if llm == nil || retriever == nil {
		return nil, errors.New("engine needs an llm and a retriever")
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.CondenseTemplate == "" {
		cfg.CondenseTemplate = DefaultCondenseTemplate
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{cfg: cfg, llm: llm, retriever: retriever, logger: logger}, nil
}

// Condense returns a standalone question for the last user message of
// history. Without an earlier user turn there is nothing to fold in and the
// question is returned unchanged.
func (e *Engine) Condense(ctx context.Context, history []domain.Message) (string, error) {
	prior, question, err := split(history)
	if err != nil {
		return "", err
	}
	if !hasUserTurn(prior) {
		return question, nil
	}
	prompt := strings.NewReplacer(
		"{chat_history}", formatHistory(prior),
		"{question}", question,
	).Replace(e.cfg.CondenseTemplate)

	out, err := e.llm.Complete(ctx, []domain.Message{{Role: domain.RoleUser, Content: prompt}})
	if err != nil {
		return "", domain.NewGenerationError("condense question", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return question, nil
	}
	e.logger.Debug("condensed question", "question", question, "standalone", out)
	return out, nil
}

// StreamAnswer implements domain.ChatEngine.
func (e *Engine) StreamAnswer(ctx context.Context, history []domain.Message) (domain.TokenStream, error) {
	resp, err := e.Answer(ctx, history)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Answer derives the query, retrieves passages and opens the answer stream.
func (e *Engine) Answer(ctx context.Context, history []domain.Message) (*Response, error) {
	prior, question, err := split(history)
	if err != nil {
		return nil, err
	}
	query := question
	if e.cfg.Mode == ModeCondenseQuestion {
		if query, err = e.Condense(ctx, history); err != nil {
			return nil, err
		}
	}
	sources, err := e.retriever.Retrieve(ctx, query, e.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	e.logger.Debug("retrieved passages", "query", query, "count", len(sources))

	messages := e.answerMessages(prior, query, sources)
	stream, err := e.llm.Stream(ctx, messages)
	if err != nil {
		return nil, domain.NewGenerationError("answer", err)
	}
	return &Response{stream: stream, query: query, sources: sources}, nil
}

func (e *Engine) answerMessages(prior []domain.Message, query string, sources []domain.SearchResult) []domain.Message {
	passages := make([]string, 0, len(sources))
	for _, s := range sources {
		passages = append(passages, fmt.Sprintf("source: %s\n\n%s", s.Chunk.Source, s.Chunk.Text))
	}
	user := strings.NewReplacer(
		"{context}", strings.Join(passages, "\n\n"),
		"{question}", query,
	).Replace(contextTemplate)

	messages := []domain.Message{{Role: domain.RoleSystem, Content: e.cfg.SystemPrompt}}
	if e.cfg.Mode == ModeContext {
		messages = append(messages, prior...)
	}
	return append(messages, domain.Message{Role: domain.RoleUser, Content: user})
}

func split(history []domain.Message) ([]domain.Message, string, error) {
	if len(history) == 0 || history[len(history)-1].Role != domain.RoleUser {
		return nil, "", ErrNoQuestion
	}
	last := len(history) - 1
	return history[:last], history[last].Content, nil
}

func hasUserTurn(history []domain.Message) bool {
	for _, m := range history {
		if m.Role == domain.RoleUser {
			return true
		}
	}
	return false
}

func formatHistory(history []domain.Message) string {
	var b strings.Builder
	for i, m := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}
