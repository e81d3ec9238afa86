package stages

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Embedder is the pluggable embedding capability (spec §4.2). The
// concrete OpenAI-backed implementation lives in providers/openaiembed.
type Embedder interface {
	// Embed returns one fixed-dimension vector per input text, preserving
	// order. Batch size internal to the provider.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedBatched splits texts into provider-sized batches and runs up to
// maxConcurrency of them in parallel via errgroup, preserving overall
// input order in the returned slice — grounded on the teacher's
// errgroup-based embed_chunks.go fan-out.
func EmbedBatched(ctx context.Context, embedder Embedder, texts []string, batchSize, maxConcurrency int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = 64
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}

	type batch struct {
		start int
		texts []string
	}
	var batches []batch
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, batch{start: start, texts: texts[start:end]})
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	for _, b := range batches {
		b := b
		g.Go(func() error {
			vectors, err := embedder.Embed(gctx, b.texts)
			if err != nil {
				return err
			}
			for i, v := range vectors {
				out[b.start+i] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
