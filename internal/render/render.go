// Package render turns assistant answers (markdown) into terminal output.
package render

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

// Options select a glamour style and wrap width.
type Options struct {
	Style string
	Width int
}

// DefaultOptions renders with the dark style at 80 columns.
func DefaultOptions() Options {
	return Options{Style: "dark", Width: 80}
}

// WithWidth returns a copy with the given width.
func (o Options) WithWidth(width int) Options {
	o.Width = width
	return o
}

// WithStyle returns a copy with the given style.
func (o Options) WithStyle(style string) Options {
	o.Style = style
	return o
}

// pool keeps one sync.Pool of renderers per option set; a TermRenderer must
// not be shared between concurrent Render calls.
type pool struct {
	mu    sync.Mutex
	pools map[Options]*sync.Pool
}

var renderers = &pool{pools: make(map[Options]*sync.Pool)}

func (p *pool) get(opts Options) *sync.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	sp, ok := p.pools[opts]
	if !ok {
		sp = &sync.Pool{}
		p.pools[opts] = sp
	}
	return sp
}

func newRenderer(opts Options) (*glamour.TermRenderer, error) {
	return glamour.NewTermRenderer(
		glamour.WithStandardStyle(opts.Style),
		glamour.WithWordWrap(opts.Width),
		glamour.WithPreservedNewLines(),
		glamour.WithEmoji(),
	)
}

// Markdown renders content with opts.
func Markdown(content string, opts Options) (string, error) {
	if opts.Style == "" {
		opts.Style = DefaultOptions().Style
	}
	if opts.Width <= 0 {
		opts.Width = DefaultOptions().Width
	}
	sp := renderers.get(opts)
	r, _ := sp.Get().(*glamour.TermRenderer)
	if r == nil {
		var err error
		if r, err = newRenderer(opts); err != nil {
			return "", fmt.Errorf("create renderer: %w", err)
		}
	}
	defer sp.Put(r)

	out, err := r.Render(content)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}

// MarkdownWithWidth renders with the default style at width columns.
func MarkdownWithWidth(content string, width int) (string, error) {
	return Markdown(content, DefaultOptions().WithWidth(width))
}

// CacheSize returns the number of distinct option sets seen.
func CacheSize() int {
	renderers.mu.Lock()
	defer renderers.mu.Unlock()
	return len(renderers.pools)
}
