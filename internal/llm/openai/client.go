// Package openai is a chat completions client for OpenAI-compatible APIs
// with server-sent-event streaming.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"ragchat/internal/domain"
)

// Config configures the chat completions client.
type Config struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// Client implements domain.LLM.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxRetries  int
	client      *http.Client
	logger      *slog.Logger
}

// NewClient reads the API key from the configured environment variable.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      key,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxRetries:  cfg.MaxRetries,
		// A global client timeout would cut long streams; only the wait for
		// response headers is bounded, the rest follows the request context.
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: cfg.Timeout,
			},
		},
		logger: logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) buildRequest(messages []domain.Message, stream bool) chatRequest {
	out := make([]chatMessage, len(messages))
	for i, m := range messages {
		out[i] = chatMessage{Role: string(m.Role), Content: m.Content}
	}
	return chatRequest{Model: c.model, Messages: out, Temperature: c.temperature, Stream: stream}
}

// Complete returns the full answer for messages.
func (c *Client) Complete(ctx context.Context, messages []domain.Message) (string, error) {
	const op = "chat completion"
	resp, err := c.post(ctx, c.buildRequest(messages, false))
	if err != nil {
		return "", toGenerationError(op, err)
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &domain.GenerationError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(out.Choices) == 0 {
		return "", &domain.GenerationError{Op: op, Err: errors.New("response has no choices")}
	}
	return out.Choices[0].Message.Content, nil
}

// Stream starts a streaming completion. Tokens are read lazily from the
// response body as the caller pulls them.
func (c *Client) Stream(ctx context.Context, messages []domain.Message) (domain.TokenStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	resp, err := c.post(ctx, c.buildRequest(messages, true))
	if err != nil {
		cancel()
		return nil, toGenerationError("chat stream", err)
	}
	return newSSEStream(ctx, cancel, resp.Body), nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status %d", e.code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func toGenerationError(op string, err error) error {
	var se *statusError
	if errors.As(err, &se) {
		return &domain.GenerationError{Op: op, StatusCode: se.code, Err: err}
	}
	return domain.NewGenerationError(op, err)
}

// maxErrorBodySize caps how much of an error response body is read.
const maxErrorBodySize = 4096

// post sends the request, retrying transport failures, 429 and 5xx
// responses. Only a 200 response is returned.
func (c *Client) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	endpoint := c.baseURL + "/chat/completions"

	var (
		lastErr    error
		retryAfter string
	)
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying chat request", "attempt", attempt, "error", lastErr)
			if err := sleep(ctx, backoff(attempt-1, retryAfter)); err != nil {
				return nil, err
			}
			retryAfter = ""
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if body.Stream {
			req.Header.Set("Accept", "text/event-stream")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		_ = resp.Body.Close()
		lastErr = &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(data))}
		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			return nil, lastErr
		}
		retryAfter = resp.Header.Get("Retry-After")
	}
	return nil, lastErr
}

// backoff is the wait before the next attempt. A Retry-After value in
// seconds from the last response replaces the exponential delay.
func backoff(attempt int, retryAfter string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return retryDelay(attempt)
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
