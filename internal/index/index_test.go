package index

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"ragchat/internal/chunker"
	"ragchat/internal/domain"
	"ragchat/internal/embedding/tfidf"
	"ragchat/internal/vectorstore/memory"
	"ragchat/internal/vectorstore/qdrant"
)

var dcsaDocs = []domain.Document{
	{ID: "b", Path: "data/bayplan.md", Content: "A Bayplan describes the stowage of containers on a vessel."},
	{ID: "l", Path: "data/loadlist.md", Content: "A Loadlist lists the containers to be loaded at a port."},
}

func newComponents() Components {
	return Components{
		Chunker:  chunker.NewSentenceChunker(3, 0),
		Embedder: tfidf.NewEmbedder(),
		Store:    memory.NewStorage(),
	}
}

// zeroEmbedder yields zero vectors so every query falls back to lexical ranking.
type zeroEmbedder struct{}

func (zeroEmbedder) Name() string           { return "zero" }
func (zeroEmbedder) Prepare([]string) error { return nil }
func (zeroEmbedder) Dimension() int         { return 2 }
func (zeroEmbedder) Embed(context.Context, string) ([]float64, error) {
	return []float64{0, 0}, nil
}

func TestBuild_EmptyCorpus(t *testing.T) {
	_, err := Build(context.Background(), nil, newComponents())
	if !errors.Is(err, domain.ErrIndex) {
		t.Fatalf("err = %v, want ErrIndex", err)
	}
	if !errors.Is(err, domain.ErrEmptyCorpus) {
		t.Errorf("err = %v, want ErrEmptyCorpus", err)
	}
	var ie *domain.IndexError
	if !errors.As(err, &ie) {
		t.Errorf("err is %T, want *domain.IndexError", err)
	}
}

func TestBuild_WhitespaceOnlyDocuments(t *testing.T) {
	docs := []domain.Document{{ID: "x", Path: "blank.txt", Content: "  \n\n "}}
	if _, err := Build(context.Background(), docs, newComponents()); !errors.Is(err, domain.ErrEmptyCorpus) {
		t.Fatalf("err = %v, want ErrEmptyCorpus", err)
	}
}

func TestIndex_Retrieve(t *testing.T) {
	ctx := context.Background()
	ix, err := Build(ctx, dcsaDocs, newComponents())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	st := ix.Stats()
	if st.Documents != 2 || st.Chunks != 2 || st.Embedder != "tfidf" {
		t.Errorf("unexpected stats: %+v", st)
	}

	tests := []struct {
		query string
		want  string
	}{
		{query: "What is a Bayplan?", want: "data/bayplan.md"},
		{query: "loadlist port", want: "data/loadlist.md"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res, err := ix.Retrieve(ctx, tt.query, 1)
			if err != nil {
				t.Fatalf("Retrieve: %v", err)
			}
			if len(res) != 1 {
				t.Fatalf("got %d results, want 1", len(res))
			}
			if res[0].Chunk.Source != tt.want {
				t.Errorf("source = %q, want %q", res[0].Chunk.Source, tt.want)
			}
		})
	}
}

func TestIndex_LexicalFallback(t *testing.T) {
	ctx := context.Background()
	c := newComponents()
	c.Embedder = zeroEmbedder{}
	ix, err := Build(ctx, dcsaDocs, c)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	res, err := ix.Retrieve(ctx, "vessel stowage", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res) != 1 {
		t.Fatalf("got %d results, want 1", len(res))
	}
	if res[0].Chunk.Source != "data/bayplan.md" || res[0].Score <= 0 {
		t.Errorf("unexpected result: %+v", res[0])
	}
}

func TestFingerprint_OrderIndependent(t *testing.T) {
	reversed := []domain.Document{dcsaDocs[1], dcsaDocs[0]}
	if Fingerprint(dcsaDocs) != Fingerprint(reversed) {
		t.Error("fingerprint depends on document order")
	}
	changed := []domain.Document{dcsaDocs[0], {ID: "l", Path: "data/loadlist.md", Content: "changed."}}
	if Fingerprint(dcsaDocs) == Fingerprint(changed) {
		t.Error("fingerprint ignores content changes")
	}
}

func TestCache_Get(t *testing.T) {
	ctx := context.Background()
	builds := 0
	cache := NewCache(func(string) (Components, error) {
		builds++
		return newComponents(), nil
	}, nil)

	first, built, err := cache.Get(ctx, dcsaDocs)
	if err != nil || !built {
		t.Fatalf("first Get: built=%v err=%v", built, err)
	}
	second, built, err := cache.Get(ctx, dcsaDocs)
	if err != nil || built {
		t.Fatalf("second Get: built=%v err=%v", built, err)
	}
	if first != second {
		t.Error("cache returned a different index for an unchanged corpus")
	}

	changed := append([]domain.Document{}, dcsaDocs...)
	changed = append(changed, domain.Document{ID: "s", Path: "data/stowage.md", Content: "Stowage is planned per bay."})
	third, built, err := cache.Get(ctx, changed)
	if err != nil || !built {
		t.Fatalf("third Get: built=%v err=%v", built, err)
	}
	if third == first || third.Stats().Documents != 3 {
		t.Errorf("unexpected rebuilt index: %+v", third.Stats())
	}
	if builds != 2 {
		t.Errorf("factory called %d times, want 2", builds)
	}
}

func TestCache_FailedBuildKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(func(string) (Components, error) { return newComponents(), nil }, nil)
	first, _, err := cache.Get(ctx, dcsaDocs)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, _, err := cache.Get(ctx, nil); !errors.Is(err, domain.ErrIndex) {
		t.Fatalf("err = %v, want ErrIndex", err)
	}
	again, built, err := cache.Get(ctx, dcsaDocs)
	if err != nil || built || again != first {
		t.Errorf("cached index lost after failed build: built=%v err=%v", built, err)
	}
}

// fakeQdrant keeps collections in memory and can be told to reject
// collection creation.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string][]map[string]any
	failCreate  bool
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{collections: make(map[string][]map[string]any)}
}

func (q *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	name, rest, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/collections/"), "/")
	points, exists := q.collections[name]
	switch {
	case r.Method == http.MethodDelete && rest == "":
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(q.collections, name)
	case r.Method == http.MethodPut && rest == "":
		if q.failCreate {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if !exists {
			q.collections[name] = nil
		}
	case !exists:
		w.WriteHeader(http.StatusNotFound)
	case r.Method == http.MethodPut && rest == "points":
		var body struct {
			Points []struct {
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, p := range body.Points {
			points = append(points, p.Payload)
		}
		q.collections[name] = points
	case r.Method == http.MethodPost && rest == "points/search":
		results := make([]map[string]any, 0, len(points))
		for _, p := range points {
			results = append(results, map[string]any{"score": 1.0, "payload": p})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": results})
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (q *fakeQdrant) setFailCreate(v bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failCreate = v
}

func (q *fakeQdrant) names() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var names []string
	for n := range q.collections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func TestCache_FailedRebuildKeepsQdrantIndexSearchable(t *testing.T) {
	ctx := context.Background()
	q := newFakeQdrant()
	srv := httptest.NewServer(q)
	defer srv.Close()

	cache := NewCache(func(fp string) (Components, error) {
		c := newComponents()
		c.Store = qdrant.NewStorage(qdrant.Config{URL: srv.URL, Collection: "dcsa-" + ShortFingerprint(fp)})
		return c, nil
	}, nil)

	first, _, err := cache.Get(ctx, dcsaDocs)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}

	changed := append([]domain.Document{}, dcsaDocs...)
	changed = append(changed, domain.Document{ID: "s", Path: "data/stowage.md", Content: "Stowage is planned per bay."})
	q.setFailCreate(true)
	if _, _, err := cache.Get(ctx, changed); !errors.Is(err, domain.ErrIndex) {
		t.Fatalf("err = %v, want ErrIndex", err)
	}

	kept, built, err := cache.Get(ctx, dcsaDocs)
	if err != nil || built || kept != first {
		t.Fatalf("cached index lost: built=%v err=%v", built, err)
	}
	res, err := kept.Retrieve(ctx, "What is a Bayplan?", 2)
	if err != nil {
		t.Fatalf("Retrieve after failed rebuild: %v", err)
	}
	if len(res) == 0 {
		t.Fatal("Retrieve after failed rebuild returned nothing")
	}

	q.setFailCreate(false)
	second, built, err := cache.Get(ctx, changed)
	if err != nil || !built {
		t.Fatalf("rebuild: built=%v err=%v", built, err)
	}
	want := []string{"dcsa-" + ShortFingerprint(Fingerprint(changed))}
	if got := q.names(); len(got) != 1 || got[0] != want[0] {
		t.Errorf("collections = %v, want %v", got, want)
	}
	if _, err := second.Retrieve(ctx, "stowage bay", 2); err != nil {
		t.Errorf("Retrieve on rebuilt index: %v", err)
	}
}

func TestShortFingerprint(t *testing.T) {
	if got := ShortFingerprint("abc"); got != "abc" {
		t.Errorf("ShortFingerprint(abc) = %q", got)
	}
	if got := ShortFingerprint(Fingerprint(dcsaDocs)); len(got) != 12 {
		t.Errorf("len = %d, want 12", len(got))
	}
}
