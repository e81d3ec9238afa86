package openaiembed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/fenwick-labs/etlq/internal/platform/logger"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	t.Setenv("OPENAI_API_KEY", "test-key")
	c, err := New(log, WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestEmbed_PreservesOrder(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req embeddingsRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := embeddingsResponse{}
		for i := range req.Input {
			// Return responses out of request order to prove index-based reassembly.
			idx := len(req.Input) - 1 - i
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float64 `json:"embedding"`
			}{Index: idx, Embedding: []float64{float64(idx), float64(idx) + 0.5}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	vecs, err := c.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 2 || v[0] != float32(i) {
			t.Fatalf("vector %d out of order: %v", i, v)
		}
	}
}

func TestEmbed_Empty(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("should not call the provider for empty input")
	})
	vecs, err := c.Embed(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Fatalf("expected nil, nil for empty input, got %v, %v", vecs, err)
	}
}

func TestEmbed_RetriesOnceThenFails(t *testing.T) {
	calls := 0
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		// Always return one fewer than requested, by index.
		var req embeddingsRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := embeddingsResponse{}
		for i := 0; i < len(req.Input)-1; i++ {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float64 `json:"embedding"`
			}{Index: i, Embedding: []float64{1, 2}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	_, err := c.Embed(context.Background(), []string{"a", "b"})
	if err == nil {
		t.Fatalf("expected error after short response persists through retry")
	}
	if calls != 2 {
		t.Fatalf("expected exactly one retry (2 calls), got %d", calls)
	}
}

func TestEmbed_BadAPIKeyMissing(t *testing.T) {
	os.Unsetenv("OPENAI_API_KEY")
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	if _, err := New(log); err == nil {
		t.Fatalf("expected error constructing client without OPENAI_API_KEY")
	}
}
