package index

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"ragchat/internal/domain"
)

// Components are the collaborators used to build and query an index.
type Components struct {
	Chunker  domain.Chunker
	Embedder domain.Embedder
	Store    domain.VectorStore
}

// Stats describes a built index.
type Stats struct {
	Documents   int
	Chunks      int
	Embedder    string
	Fingerprint string
	BuiltAt     time.Time
}

// Index is a searchable view over the chunked corpus. It is read-only after
// Build and safe for concurrent Retrieve calls.
type Index struct {
	embedder domain.Embedder
	store    domain.VectorStore
	chunks   []domain.Chunk
	stats    Stats
}

// Build chunks, embeds and stores every document.
func Build(ctx context.Context, docs []domain.Document, c Components) (*Index, error) {
	if len(docs) == 0 {
		return nil, &domain.IndexError{Op: "load", Err: domain.ErrEmptyCorpus}
	}
	var (
		chunks []domain.Chunk
		texts  []string
	)
	for _, d := range docs {
		cs, err := c.Chunker.Chunk(d)
		if err != nil {
			return nil, &domain.IndexError{Op: "chunk " + d.Path, Err: err}
		}
		for _, ch := range cs {
			chunks = append(chunks, ch)
			texts = append(texts, ch.Text)
		}
	}
	if len(chunks) == 0 {
		return nil, &domain.IndexError{Op: "chunk", Err: domain.ErrEmptyCorpus}
	}
	if err := c.Embedder.Prepare(texts); err != nil {
		return nil, &domain.IndexError{Op: "prepare embedder", Err: err}
	}
	vectors := make([][]float64, len(chunks))
	for i := range chunks {
		vec, err := c.Embedder.Embed(ctx, chunks[i].Text)
		if err != nil {
			return nil, &domain.IndexError{Op: "embed " + chunks[i].ChunkID, Err: err}
		}
		vectors[i] = vec
	}
	// remote embedders learn their dimension from the first response
	dim := c.Embedder.Dimension()
	if dim == 0 {
		dim = len(vectors[0])
	}
	if err := c.Store.Clear(ctx); err != nil {
		return nil, &domain.IndexError{Op: "clear store", Err: err}
	}
	if err := c.Store.Init(ctx, dim); err != nil {
		return nil, &domain.IndexError{Op: "init store", Err: err}
	}
	if err := c.Store.Upsert(ctx, chunks, vectors); err != nil {
		return nil, &domain.IndexError{Op: "upsert", Err: err}
	}
	return &Index{
		embedder: c.Embedder,
		store:    c.Store,
		chunks:   chunks,
		stats: Stats{
			Documents:   len(docs),
			Chunks:      len(chunks),
			Embedder:    c.Embedder.Name(),
			Fingerprint: Fingerprint(docs),
			BuiltAt:     time.Now(),
		},
	}, nil
}

// Stats returns build statistics.
func (ix *Index) Stats() Stats { return ix.stats }

// Retrieve returns up to topK passages for the query. When the vector search
// has nothing to go on (no known terms, or all scores zero) it falls back to
// lexical overlap ranking.
func (ix *Index) Retrieve(ctx context.Context, query string, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if isZero(vec) {
		return ix.lexicalSearch(query, topK), nil
	}
	res, err := ix.store.Search(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	for _, r := range res {
		if r.Score > 1e-9 {
			return res, nil
		}
	}
	return ix.lexicalSearch(query, topK), nil
}

func isZero(vec []float64) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

var wordRe = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’]\p{L}+)*`)

// lexicalSearch ranks chunks by the Ochiai coefficient of their token sets.
// Chunks sharing no token with the query are dropped.
func (ix *Index) lexicalSearch(query string, topK int) []domain.SearchResult {
	qset := tokenSet(query)
	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, 0, len(ix.chunks))
	for i, ch := range ix.chunks {
		if s := ochiai(qset, tokenSet(ch.Text)); s > 0 {
			scores = append(scores, pair{i, s})
		}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if topK > len(scores) {
		topK = len(scores)
	}
	out := make([]domain.SearchResult, 0, topK)
	for _, p := range scores[:topK] {
		out = append(out, domain.SearchResult{Chunk: ix.chunks[p.idx], Score: p.score})
	}
	return out
}

func tokenSet(s string) map[string]struct{} {
	tokens := wordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// ochiai is |A∩B| / sqrt(|A||B|).
func ochiai(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range b {
		if _, ok := a[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(a))*float64(len(b)))
}
