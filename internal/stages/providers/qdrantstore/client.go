// Package qdrantstore implements stages.Upserter against a Qdrant
// collection, grounded on the teacher's internal/platform/qdrant
// vectorStore.Upsert, trimmed to a single per-document PUT and adapted to
// spec §4.2's "atomic across the document and all its chunks" contract.
package qdrantstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fenwick-labs/etlq/internal/platform/logger"
	"github.com/fenwick-labs/etlq/internal/stageerr"
	"github.com/fenwick-labs/etlq/internal/stages"
)

const stageUpsert = "upsert"

var pointIDNamespace = uuid.MustParse("0f1705d1-2c3f-4e40-b2f4-f855f7d3c8e8")

type Client struct {
	log        *logger.Logger
	baseURL    string
	collection string
	httpClient *http.Client
}

func New(log *logger.Logger, url, collection string) (*Client, error) {
	url = strings.TrimSpace(url)
	collection = strings.TrimSpace(collection)
	if url == "" || collection == "" {
		return nil, fmt.Errorf("qdrantstore: url and collection are required")
	}
	return &Client{
		log:        log.With("component", "qdrantstore"),
		baseURL:    strings.TrimRight(url, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Upsert writes one document's chunks and vectors as a single Qdrant PUT
// with wait=true, making the write atomic at the Qdrant side (SPEC_FULL.md
// §11.2). documentID is the id the caller already committed to Postgres's
// documents table, so Qdrant's points and that row share one identity.
func (c *Client) Upsert(ctx context.Context, documentID string, doc stages.DocMeta, chunks []string, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return stageerr.BadInput(stageUpsert, fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors)))
	}
	if len(chunks) == 0 {
		return nil
	}

	points := make([]map[string]any, 0, len(chunks))
	for i, chunk := range chunks {
		pointID := c.pointID(documentID, i)
		points = append(points, map[string]any{
			"id":     pointID,
			"vector": vectors[i],
			"payload": map[string]any{
				"document_id":  documentID,
				"chunk_index":  i,
				"chunk_text":   chunk,
				"source_url":   doc.SourceURL,
				"content_type": doc.ContentType,
				"title":        doc.Title,
			},
		})
	}

	req := map[string]any{"points": points}
	path := fmt.Sprintf("/collections/%s/points?wait=true", c.collection)
	return c.put(ctx, path, req)
}

func (c *Client) pointID(documentID string, chunkIndex int) string {
	return uuid.NewSHA1(pointIDNamespace, []byte(fmt.Sprintf("%s:%d", documentID, chunkIndex))).String()
}

func (c *Client) put(ctx context.Context, path string, body any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return stageerr.BadInput(stageUpsert, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, &buf)
	if err != nil {
		return stageerr.BadInput(stageUpsert, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return stageerr.TransientIO(stageUpsert, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	if err != nil {
		return stageerr.TransientIO(stageUpsert, err)
	}
	if resp.StatusCode >= 500 {
		return stageerr.Upstream5xx(stageUpsert, fmt.Errorf("qdrant http %d: %s", resp.StatusCode, raw))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return stageerr.Upstream4xx(stageUpsert, fmt.Errorf("qdrant http %d: %s", resp.StatusCode, raw))
	}
	return nil
}
