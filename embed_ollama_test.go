package aspectscore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// noRetry fails on the first error so HTTP error tests stay fast.
func noRetry() *http.Client {
	return RetryPolicy{Max: 0, Timeout: 5 * time.Second}.Client(nil)
}

func TestOllamaEmbedderSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("wrong content type: %s", r.Header.Get("Content-Type"))
		}

		var req ollamaEmbedRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "bge-m3" {
			t.Errorf("expected bge-m3, got %s", req.Model)
		}
		if req.Input != "Introduction to entrepreneurship" {
			t.Errorf("unexpected input %q", req.Input)
		}

		json.NewEncoder(w).Encode(ollamaEmbedResponse{
			Embeddings: [][]float64{{0.5, -0.3, 0.8}},
		})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder("bge-m3", 3, WithOllamaHost(srv.URL), WithOllamaClient(noRetry()))
	vec, err := e.Embed(context.Background(), "Introduction to entrepreneurship")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected 3-dim vector, got %d", len(vec))
	}
	if vec[0] != float32(0.5) {
		t.Errorf("expected 0.5, got %f", vec[0])
	}
	if vec[1] != float32(-0.3) {
		t.Errorf("expected -0.3, got %f", vec[1])
	}
}

func TestOllamaEmbedderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder("nonexistent-model", 1024, WithOllamaHost(srv.URL), WithOllamaClient(noRetry()))
	_, err := e.Embed(context.Background(), "test")
	if err == nil {
		t.Error("expected error for HTTP 404")
	}
}

func TestOllamaEmbedderRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float64{{1, 2}}})
	}))
	defer srv.Close()

	client := RetryPolicy{Max: 2, WaitMin: time.Millisecond, WaitMax: 5 * time.Millisecond}.Client(nil)
	e := NewOllamaEmbedder("bge-m3", 2, WithOllamaHost(srv.URL), WithOllamaClient(client))
	vec, err := e.Embed(context.Background(), "test")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 2 {
		t.Fatalf("expected 2-dim vector, got %d", len(vec))
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestOllamaEmbedderEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float64{}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder("model", 1024, WithOllamaHost(srv.URL), WithOllamaClient(noRetry()))
	_, err := e.Embed(context.Background(), "test")
	if err == nil {
		t.Error("expected error for empty response")
	}
}

func TestOllamaEmbedderEmptyEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{
			Embeddings: [][]float64{{}},
		})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder("model", 1024, WithOllamaHost(srv.URL), WithOllamaClient(noRetry()))
	_, err := e.Embed(context.Background(), "test")
	if err == nil {
		t.Error("expected error for empty embedding values")
	}
}

func TestOllamaEmbedderDefaults(t *testing.T) {
	e := NewOllamaEmbedder("bge-m3", 1024)
	if e.host != "http://localhost:11434" {
		t.Errorf("expected default host, got %s", e.host)
	}
	if e.Dimension() != 1024 {
		t.Errorf("expected dimension 1024, got %d", e.Dimension())
	}
	if e.ModelID() != "ollama/bge-m3" {
		t.Errorf("unexpected model id %s", e.ModelID())
	}
	if e.client == nil {
		t.Error("expected a default client")
	}
}

func TestOllamaEmbedderConnectionRefused(t *testing.T) {
	e := NewOllamaEmbedder("model", 1024, WithOllamaHost("http://localhost:1"), WithOllamaClient(noRetry()))
	_, err := e.Embed(context.Background(), "test")
	if err == nil {
		t.Error("expected connection error")
	}
}
