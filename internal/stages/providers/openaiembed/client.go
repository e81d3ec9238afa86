// Package openaiembed implements stages.Embedder against OpenAI's
// /v1/embeddings endpoint, trimmed from the teacher's much larger
// multi-purpose openai.Client down to just the embeddings call.
package openaiembed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fenwick-labs/etlq/internal/platform/logger"
	"github.com/fenwick-labs/etlq/internal/stageerr"
)

const stageEmbed = "embed"

type Client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(url string) Option { return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") } }
func WithModel(model string) Option { return func(c *Client) { c.model = model } }
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.httpClient = h } }

// New reads OPENAI_API_KEY (and optionally OPENAI_BASE_URL/OPENAI_EMBED_MODEL)
// unless overridden by options.
func New(log *logger.Logger, opts ...Option) (*Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("openaiembed: missing OPENAI_API_KEY")
	}
	c := &Client{
		log:        log.With("component", "openaiembed"),
		baseURL:    "https://api.openai.com",
		apiKey:     apiKey,
		model:      "text-embedding-3-small",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); v != "" {
		c.baseURL = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_EMBED_MODEL")); v != "" {
		c.model = v
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed implements stages.Embedder. It preserves input order using the
// response's per-item index and retries once if the first response came
// back short, per SPEC_FULL.md §11.1.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	clean := make([]string, len(texts))
	for i, t := range texts {
		s := strings.TrimSpace(t)
		if s == "" {
			s = " "
		}
		clean[i] = s
	}

	resp, err := c.call(ctx, clean)
	if err != nil {
		return nil, err
	}
	out := fillByIndex(clean, resp)
	if hasMissing(out) {
		c.log.Warn("embeddings response missing indices; retrying once",
			"requested", len(clean), "returned", len(resp.Data))
		resp2, err := c.call(ctx, clean)
		if err != nil {
			return nil, err
		}
		out2 := fillByIndex(clean, resp2)
		if !hasMissing(out2) {
			return out2, nil
		}
		return nil, stageerr.ProviderError(stageEmbed, fmt.Errorf("embeddings response incomplete after retry: got %d of %d", len(resp2.Data), len(clean)))
	}
	return out, nil
}

func fillByIndex(clean []string, resp *embeddingsResponse) [][]float32 {
	out := make([][]float32, len(clean))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[d.Index] = vec
	}
	return out
}

func hasMissing(v [][]float32) bool {
	for _, vec := range v {
		if len(vec) == 0 {
			return true
		}
	}
	return false
}

func (c *Client) call(ctx context.Context, texts []string) (*embeddingsResponse, error) {
	reqBody := embeddingsRequest{Model: c.model, Input: texts}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return nil, stageerr.BadInput(stageEmbed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", &buf)
	if err != nil {
		return nil, stageerr.BadInput(stageEmbed, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, stageerr.TransientIO(stageEmbed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, stageerr.TransientIO(stageEmbed, err)
	}
	if resp.StatusCode >= 500 {
		return nil, stageerr.ProviderError(stageEmbed, fmt.Errorf("openai embeddings http %d: %s", resp.StatusCode, raw))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, stageerr.ProviderError(stageEmbed, fmt.Errorf("openai embeddings http %d: %s", resp.StatusCode, raw)).Permanent()
	}

	var out embeddingsResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, stageerr.ProviderError(stageEmbed, fmt.Errorf("decode embeddings response: %w", err))
	}
	return &out, nil
}
