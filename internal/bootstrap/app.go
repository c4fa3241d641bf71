// Package bootstrap wires the corpus, index, model backend and chat engine
// into one App that outlives individual chat sessions.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"ragchat/internal/chunker"
	"ragchat/internal/config"
	"ragchat/internal/domain"
	embedopenai "ragchat/internal/embedding/openai"
	"ragchat/internal/embedding/tfidf"
	"ragchat/internal/engine"
	"ragchat/internal/index"
	llmopenai "ragchat/internal/llm/openai"
	"ragchat/internal/loader"
	"ragchat/internal/session"
	"ragchat/internal/summarizer"
	"ragchat/internal/vectorstore/memory"
	"ragchat/internal/vectorstore/qdrant"
)

// Option customizes New.
type Option func(*options)

type options struct {
	llm        domain.LLM
	components func(fingerprint string) (index.Components, error)
}

// WithLLM replaces the configured generation backend.
func WithLLM(llm domain.LLM) Option {
	return func(o *options) { o.llm = llm }
}

// WithComponents replaces the configured chunker, embedder and vector store.
// The factory is called once per index build with the corpus fingerprint.
func WithComponents(factory func(fingerprint string) (index.Components, error)) Option {
	return func(o *options) { o.components = factory }
}

// App owns the shared, read-only retrieval state. Sessions created from it
// share one engine until Reload swaps it.
type App struct {
	cfg        *config.AppConfig
	logger     *slog.Logger
	llm        domain.LLM
	cache      *index.Cache
	summarizer domain.Summarizer

	mu      sync.RWMutex
	engine  *engine.Engine
	index   *index.Index
	summary string
}

// New loads the corpus, builds the index and constructs the engine, all
// within the configured bootstrap timeout.
func New(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.components == nil {
		o.components = func(fp string) (index.Components, error) { return newComponents(cfg, fp) }
	}

	ctx, cancel := withBootstrapTimeout(ctx, cfg)
	defer cancel()

	a := &App{
		cfg:    cfg,
		logger: logger,
		cache:  index.NewCache(o.components, logger),
	}
	if cfg.Summarizer.Type == "frequency" {
		a.summarizer = summarizer.NewFrequencySummarizer()
	}
	if err := a.rebuild(ctx, func() error {
		if o.llm != nil {
			a.llm = o.llm
			return nil
		}
		llm, err := llmopenai.NewClient(llmopenai.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKeyEnv:   cfg.LLM.APIKeyEnv,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout(),
			MaxRetries:  cfg.LLM.Retries(),
		}, logger)
		if err != nil {
			return fmt.Errorf("llm: %w", err)
		}
		a.llm = llm
		return nil
	}); err != nil {
		return nil, err
	}
	return a, nil
}

// rebuild loads the corpus, gets an index from the cache and summarizes the
// corpus. beforeEngine runs between indexing and engine construction.
func (a *App) rebuild(ctx context.Context, beforeEngine func() error) error {
	start := time.Now()
	docs, err := loader.Load(ctx, loader.Options{
		Dir:        a.cfg.Corpus.Dir,
		Recursive:  a.cfg.Corpus.Recursive,
		Extensions: a.cfg.Corpus.Extensions,
	})
	if err != nil {
		return err
	}
	ix, built, err := a.cache.Get(ctx, docs)
	if err != nil {
		return err
	}
	st := ix.Stats()
	a.logger.Info("index ready", "documents", st.Documents, "chunks", st.Chunks,
		"embedder", st.Embedder, "rebuilt", built, "elapsed", time.Since(start))

	summary := a.Summary()
	if built || summary == "" {
		if summary, err = a.summarize(docs); err != nil {
			return err
		}
	}
	if beforeEngine != nil {
		if err := beforeEngine(); err != nil {
			return err
		}
	}
	eng, err := engine.New(engine.Config{
		Mode:             engine.Mode(a.cfg.Chat.Mode),
		SystemPrompt:     a.cfg.LLM.SystemPrompt,
		CondenseTemplate: a.cfg.Chat.CondenseTemplate,
		TopK:             a.cfg.Chat.TopK,
	}, a.llm, ix, a.logger)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.engine, a.index, a.summary = eng, ix, summary
	a.mu.Unlock()
	return nil
}

func (a *App) summarize(docs []domain.Document) (string, error) {
	if a.summarizer == nil {
		return "", nil
	}
	var b strings.Builder
	for _, d := range docs {
		b.WriteString(d.Content)
		b.WriteString("\n")
	}
	out, err := a.summarizer.Summarize(b.String(), a.cfg.Summarizer.MaxSentences)
	if err != nil {
		return "", fmt.Errorf("summarize corpus: %w", err)
	}
	return out, nil
}

// Reload re-reads the corpus and rebuilds the index if it changed. On
// failure the current engine stays in place.
func (a *App) Reload(ctx context.Context) (bool, error) {
	ctx, cancel := withBootstrapTimeout(ctx, a.cfg)
	defer cancel()
	before := a.Stats().Fingerprint
	if err := a.rebuild(ctx, nil); err != nil {
		a.logger.Warn("reload failed", "error", err)
		return false, err
	}
	return a.Stats().Fingerprint != before, nil
}

// NewSession returns a fresh session on the current engine.
func (a *App) NewSession() *session.Session {
	a.mu.RLock()
	eng := a.engine
	a.mu.RUnlock()
	s := session.New(eng, session.Config{
		MaxMessages: a.cfg.Chat.MaxMessages,
		Welcome:     a.cfg.Chat.Welcome,
	})
	a.logger.Info("session created", "session", s.ID())
	return s
}

// Summary is a short extract of the corpus, empty when summarizing is off.
func (a *App) Summary() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.summary
}

// Stats describes the current index.
func (a *App) Stats() index.Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.index == nil {
		return index.Stats{}
	}
	return a.index.Stats()
}

// Model is the generation model identifier.
func (a *App) Model() string { return a.llm.Model() }

// withBootstrapTimeout bounds corpus loading and indexing by
// bootstrap.timeout_secs. Zero means no limit.
func withBootstrapTimeout(ctx context.Context, cfg *config.AppConfig) (context.Context, context.CancelFunc) {
	if cfg.Bootstrap.TimeoutSecs > 0 {
		return context.WithTimeout(ctx, cfg.Bootstrap.Timeout())
	}
	return context.WithCancel(ctx)
}

// newComponents builds the collaborators for one index build. Qdrant
// collections are suffixed with the corpus fingerprint so a rebuild never
// touches the collection the live index reads from.
func newComponents(cfg *config.AppConfig, fingerprint string) (index.Components, error) {
	c := index.Components{
		Chunker: chunker.NewSentenceChunker(cfg.Chunker.SentencesPerChunk, cfg.Chunker.OverlapSentences),
	}
	switch cfg.Embedder.Type {
	case "openai":
		oc := cfg.Embedder.OpenAI
		e, err := embedopenai.NewClient(embedopenai.Config{
			BaseURL:    oc.BaseURL,
			APIKeyEnv:  oc.APIKeyEnv,
			Model:      oc.Model,
			Timeout:    time.Duration(oc.TimeoutSecs) * time.Second,
			MaxRetries: oc.Retries(),
		})
		if err != nil {
			return index.Components{}, fmt.Errorf("embedder: %w", err)
		}
		c.Embedder = e
	default:
		c.Embedder = tfidf.NewEmbedder()
	}
	switch cfg.VectorStore.Type {
	case "qdrant":
		qc := cfg.VectorStore.Qdrant
		var apiKey string
		if qc.APIKeyEnv != "" {
			apiKey = os.Getenv(qc.APIKeyEnv)
		}
		c.Store = qdrant.NewStorage(qdrant.Config{
			URL:        qc.URL,
			APIKey:     apiKey,
			Collection: qc.Collection + "-" + index.ShortFingerprint(fingerprint),
			Distance:   qc.Distance,
			Timeout:    time.Duration(qc.TimeoutSecs) * time.Second,
		})
	default:
		c.Store = memory.NewStorage()
	}
	return c, nil
}
