package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"ragchat/internal/domain"
)

func TestStorage_RoundTrip(t *testing.T) {
	var upserted []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("api-key"); got != "secret" {
			t.Errorf("api-key = %q", got)
		}
		switch {
		case r.Method == http.MethodDelete && r.URL.Path == "/collections/dcsa":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/dcsa":
			var body map[string]map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["vectors"]["distance"] != "Cosine" {
				t.Errorf("distance = %v", body["vectors"]["distance"])
			}
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/dcsa/points":
			var body struct {
				Points []map[string]any `json:"points"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			upserted = body.Points
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/collections/dcsa/points/search":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"result": []map[string]any{{
					"score": 0.9,
					"payload": map[string]any{
						"document_id": "d1", "chunk_id": "d1:0", "source": "data/bayplan.md",
						"index": 0, "text": "A Bayplan is a stowage plan.",
					},
				}},
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	s := NewStorage(Config{URL: srv.URL, APIKey: "secret", Collection: "dcsa"})
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear on missing collection: %v", err)
	}
	if err := s.Init(ctx, 2); err != nil {
		t.Fatalf("Init: %v", err)
	}
	chunk := domain.Chunk{DocumentID: "d1", ChunkID: "d1:0", Source: "data/bayplan.md", Text: "A Bayplan is a stowage plan."}
	if err := s.Upsert(ctx, []domain.Chunk{chunk}, [][]float64{{1, 0}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(upserted) != 1 {
		t.Fatalf("upserted %d points, want 1", len(upserted))
	}
	if _, err := uuid.Parse(upserted[0]["id"].(string)); err != nil {
		t.Errorf("point id %v is not a UUID: %v", upserted[0]["id"], err)
	}

	res, err := s.Search(ctx, []float64{1, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 || res[0].Chunk.Source != "data/bayplan.md" || res[0].Chunk.Text != chunk.Text {
		t.Errorf("unexpected results: %+v", res)
	}
}

func TestStorage_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewStorage(Config{URL: srv.URL, Collection: "dcsa"})
	if err := s.Init(context.Background(), 2); err == nil {
		t.Fatal("expected error")
	}
	if err := s.Clear(context.Background()); err == nil {
		t.Fatal("expected error from Clear on 500")
	}
}
