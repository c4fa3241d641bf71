package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"sort"
	"sync"

	"ragchat/internal/domain"
)

// Fingerprint identifies a corpus by the paths and contents of its documents.
// The result does not depend on document order.
func Fingerprint(docs []domain.Document) string {
	sorted := make([]domain.Document, len(docs))
	copy(sorted, docs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	h := sha256.New()
	for _, d := range sorted {
		h.Write([]byte(d.Path))
		h.Write([]byte{0})
		h.Write([]byte(d.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Cache keeps the most recently built index and rebuilds only when the
// corpus fingerprint changes. The factory receives the new fingerprint and
// must return components whose store does not share data with the cached
// index, so a failed build leaves that index searchable. The previous store
// is cleared only after a replacement has been built.
type Cache struct {
	mu      sync.Mutex
	factory func(fingerprint string) (Components, error)
	logger  *slog.Logger
	current *Index
}

func NewCache(factory func(fingerprint string) (Components, error), logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Cache{factory: factory, logger: logger}
}

// Get returns an index for docs and reports whether it had to be built.
func (c *Cache) Get(ctx context.Context, docs []domain.Document) (*Index, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fp := Fingerprint(docs)
	if c.current != nil && c.current.stats.Fingerprint == fp {
		return c.current, false, nil
	}
	comps, err := c.factory(fp)
	if err != nil {
		return nil, false, &domain.IndexError{Op: "components", Err: err}
	}
	ix, err := Build(ctx, docs, comps)
	if err != nil {
		return nil, false, err
	}
	prev := c.current
	c.current = ix
	if prev != nil && prev.store != ix.store {
		if err := prev.store.Clear(ctx); err != nil {
			c.logger.Warn("clear previous index store", "fingerprint", prev.stats.Fingerprint, "error", err)
		}
	}
	return ix, true, nil
}

// ShortFingerprint is a prefix of fp short enough for collection names.
func ShortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
