package openai

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"ragchat/internal/domain"
)

type streamChunk struct {
	text string
	err  error
}

// sseStream adapts a chat completions event stream to domain.TokenStream.
type sseStream struct {
	ctx    context.Context
	ch     <-chan streamChunk
	cancel context.CancelFunc
	body   io.Closer

	once sync.Once
	done bool
}

func newSSEStream(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseStream{
		ctx:    ctx,
		ch:     parseSSE(ctx, scanner),
		cancel: cancel,
		body:   body,
	}
}

// Next returns the next non-empty content delta, io.EOF after [DONE], or a
// *domain.GenerationError.
func (s *sseStream) Next() (string, error) {
	if s.done {
		return "", io.EOF
	}
	c, ok := <-s.ch
	if !ok {
		s.done = true
		// a cancelled request can close the channel before its error is read
		if err := s.ctx.Err(); err != nil {
			return "", domain.NewGenerationError("chat stream", err)
		}
		_ = s.Close()
		return "", io.EOF
	}
	if c.err != nil {
		s.done = true
		_ = s.Close()
		return "", domain.NewGenerationError("chat stream", c.err)
	}
	return c.text, nil
}

// Close aborts the request and releases the connection. It is safe to call
// more than once.
func (s *sseStream) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.body.Close()
	})
	return err
}

var errUnexpectedEOF = errors.New("stream ended before [DONE]")

// parseSSE reads data lines until [DONE] and emits content deltas in order.
// The channel is closed when the stream ends. A body that ends without
// [DONE] or a finish reason is reported as an error.
func parseSSE(ctx context.Context, scanner *bufio.Scanner) <-chan streamChunk {
	ch := make(chan streamChunk, 16)
	send := func(c streamChunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(ch)
		finished := false
		for scanner.Scan() {
			if err := ctx.Err(); err != nil {
				send(streamChunk{err: err})
				return
			}
			line := scanner.Text()
			// some compatible servers omit the space after the colon
			var data string
			switch {
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case strings.HasPrefix(line, "data:"):
				data = strings.TrimPrefix(line, "data:")
			default:
				continue
			}
			if data == "[DONE]" {
				return
			}
			if !gjson.Valid(data) {
				send(streamChunk{err: fmt.Errorf("parse SSE chunk: invalid JSON %q", data)})
				return
			}
			if msg := gjson.Get(data, "error.message"); msg.Exists() {
				send(streamChunk{err: errors.New(msg.String())})
				return
			}
			if text := gjson.Get(data, "choices.0.delta.content").String(); text != "" {
				if !send(streamChunk{text: text}) {
					return
				}
			}
			if reason := gjson.Get(data, "choices.0.finish_reason"); reason.Type == gjson.String {
				finished = true
			}
		}
		err := scanner.Err()
		switch {
		case ctx.Err() != nil:
			err = ctx.Err()
		case err == nil && finished:
			return
		case err == nil:
			err = errUnexpectedEOF
		default:
			err = fmt.Errorf("stream read error: %w", err)
		}
		send(streamChunk{err: err})
	}()
	return ch
}
