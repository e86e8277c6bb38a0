package similarity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWeaviateIndexNoEndpoint(t *testing.T) {
	idx := NewWeaviateIndex("", "", time.Second)

	if err := idx.Upsert(context.Background(), "fp", []float32{1, 0}, []byte("payload")); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	_, _, ok, err := idx.Nearest(context.Background(), []float32{1, 0}, 0.85)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if ok {
		t.Fatal("expected no hit without an endpoint")
	}
}

func TestWeaviateIndexUpsert(t *testing.T) {
	var captured struct {
		Class      string            `json:"class"`
		Properties map[string]string `json:"properties"`
		Vector     []float32         `json:"vector"`
	}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/objects" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode upsert body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	idx := NewWeaviateIndex(srv.URL, "secret", time.Second)
	if err := idx.Upsert(context.Background(), "fp-1", []float32{0.1, 0.9}, []byte(`{"analysisId":"a-1"}`)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if auth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	if captured.Class != "AnalysisEntry" {
		t.Fatalf("unexpected class %q", captured.Class)
	}
	if captured.Properties["fingerprint"] != "fp-1" {
		t.Fatalf("unexpected fingerprint property %q", captured.Properties["fingerprint"])
	}
	decoded, err := base64.StdEncoding.DecodeString(captured.Properties["payload"])
	if err != nil || string(decoded) != `{"analysisId":"a-1"}` {
		t.Fatalf("unexpected payload property %q err=%v", captured.Properties["payload"], err)
	}
	if len(captured.Vector) != 2 {
		t.Fatalf("unexpected vector %v", captured.Vector)
	}
}

func TestWeaviateIndexUpsertServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "class not found", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	idx := NewWeaviateIndex(srv.URL, "", time.Second)
	err := idx.Upsert(context.Background(), "fp", []float32{1}, []byte("p"))
	if err == nil || !strings.Contains(err.Error(), "class not found") {
		t.Fatalf("expected surfaced server error, got %v", err)
	}
}

func TestWeaviateIndexNearestConvertsThreshold(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte(`{"analysisId":"a-9"}`))
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/graphql" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode query body: %v", err)
		}
		query = body.Query
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"Get": map[string]any{
					"AnalysisEntry": []map[string]any{
						{"payload": payload, "_additional": map[string]any{"certainty": 0.95}},
					},
				},
			},
		})
	}))
	defer srv.Close()

	idx := NewWeaviateIndex(srv.URL, "", time.Second)
	got, score, ok, err := idx.Nearest(context.Background(), []float32{0.3, 0.7}, 0.85)
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	if !ok || string(got) != `{"analysisId":"a-9"}` {
		t.Fatalf("unexpected hit: ok=%v payload=%s", ok, got)
	}

	// A cosine threshold of 0.85 is certainty (1+0.85)/2 on the wire.
	if !strings.Contains(query, "certainty: 0.9250") {
		t.Fatalf("query did not carry the converted certainty bound: %s", query)
	}
	// Certainty 0.95 converts back to cosine 0.90.
	if math.Abs(score-0.90) > 1e-9 {
		t.Fatalf("expected cosine score 0.90, got %f", score)
	}
}

func TestWeaviateIndexNearestMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"Get": map[string]any{"AnalysisEntry": []any{}}},
		})
	}))
	defer srv.Close()

	idx := NewWeaviateIndex(srv.URL, "", time.Second)
	_, _, ok, err := idx.Nearest(context.Background(), []float32{1, 0}, 0.85)
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	if ok {
		t.Fatal("expected a miss on an empty result set")
	}
}
