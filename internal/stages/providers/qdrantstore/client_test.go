package qdrantstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fenwick-labs/etlq/internal/platform/logger"
	"github.com/fenwick-labs/etlq/internal/stages"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	c, err := New(log, srv.URL, "docs")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestUpsert_SinglePUTPerDocument(t *testing.T) {
	var calls int
	var gotPoints []map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Method != http.MethodPut {
			t.Fatalf("expected PUT, got %s", r.Method)
		}
		var body struct {
			Points []map[string]any `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotPoints = body.Points
		w.WriteHeader(http.StatusOK)
	})

	doc := stages.DocMeta{SourceURL: "https://example.com/a", ContentType: "text/html", Title: "A"}
	chunks := []string{"chunk one", "chunk two"}
	vectors := [][]float32{{1, 2}, {3, 4}}
	documentID := stages.DocumentID(doc.SourceURL)

	if err := c.Upsert(context.Background(), documentID, doc, chunks, vectors); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one PUT call for the whole document, got %d", calls)
	}
	if len(gotPoints) != 2 {
		t.Fatalf("expected 2 points in the single PUT, got %d", len(gotPoints))
	}
}

func TestUpsert_SamePointIDsForSameDocumentAndChunkIndex(t *testing.T) {
	var firstIDs, secondIDs []any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Points []struct {
				ID any `json:"id"`
			} `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		var ids []any
		for _, p := range body.Points {
			ids = append(ids, p.ID)
		}
		if firstIDs == nil {
			firstIDs = ids
		} else {
			secondIDs = ids
		}
		w.WriteHeader(http.StatusOK)
	})
	doc := stages.DocMeta{SourceURL: "https://example.com/a"}
	documentID := stages.DocumentID(doc.SourceURL)

	if err := c.Upsert(context.Background(), documentID, doc, []string{"x"}, [][]float32{{1}}); err != nil {
		t.Fatalf("upsert 1: %v", err)
	}
	if err := c.Upsert(context.Background(), documentID, doc, []string{"x"}, [][]float32{{1}}); err != nil {
		t.Fatalf("upsert 2: %v", err)
	}
	if len(firstIDs) != 1 || len(secondIDs) != 1 || firstIDs[0] != secondIDs[0] {
		t.Fatalf("expected re-running upsert for the same document/chunk index to be idempotent: %v != %v", firstIDs, secondIDs)
	}
}

func TestUpsert_MismatchedChunksAndVectors(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("should not call qdrant on a bad_input error")
	})
	doc := stages.DocMeta{SourceURL: "u"}
	err := c.Upsert(context.Background(), stages.DocumentID(doc.SourceURL), doc, []string{"a", "b"}, [][]float32{{1}})
	if err == nil {
		t.Fatalf("expected error on chunk/vector count mismatch")
	}
}

func TestUpsert_EmptyChunksNoCall(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("should not call qdrant for zero chunks")
	})
	doc := stages.DocMeta{SourceURL: "u"}
	if err := c.Upsert(context.Background(), stages.DocumentID(doc.SourceURL), doc, nil, nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}
}

func TestUpsert_UpstreamError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"error"}`))
	})
	doc := stages.DocMeta{SourceURL: "u"}
	err := c.Upsert(context.Background(), stages.DocumentID(doc.SourceURL), doc, []string{"a"}, [][]float32{{1}})
	if err == nil {
		t.Fatalf("expected error on non-2xx response")
	}
}
