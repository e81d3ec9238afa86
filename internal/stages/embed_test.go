package stages

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
)

type fakeEmbedder struct {
	batchSizes *[]int
	fail       bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("boom")
	}
	if f.batchSizes != nil {
		*f.batchSizes = append(*f.batchSizes, len(texts))
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func TestEmbedBatched_PreservesOrderAcrossBatches(t *testing.T) {
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "f"}
	e := &fakeEmbedder{}
	vectors, err := EmbedBatched(context.Background(), e, texts, 2, 3)
	if err != nil {
		t.Fatalf("embed batched: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vectors))
	}
	for i, text := range texts {
		if vectors[i][0] != float32(len(text)) {
			t.Fatalf("vector %d out of order: expected len %d, got %v", i, len(text), vectors[i])
		}
	}
}

func TestEmbedBatched_Empty(t *testing.T) {
	vectors, err := EmbedBatched(context.Background(), &fakeEmbedder{}, nil, 2, 2)
	if err != nil || vectors != nil {
		t.Fatalf("expected nil, nil for empty input, got %v, %v", vectors, err)
	}
}

func TestEmbedBatched_PropagatesError(t *testing.T) {
	_, err := EmbedBatched(context.Background(), &fakeEmbedder{fail: true}, []string{"a", "b"}, 1, 2)
	if err == nil {
		t.Fatalf("expected error propagated from a failing batch")
	}
}

func TestEmbedBatched_RespectsConcurrencyLimit(t *testing.T) {
	var inFlight int32
	var maxInFlight int32
	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("text-%d", i)
	}
	e := &trackingEmbedder{inFlight: &inFlight, maxInFlight: &maxInFlight}
	_, err := EmbedBatched(context.Background(), e, texts, 1, 2)
	if err != nil {
		t.Fatalf("embed batched: %v", err)
	}
	if atomic.LoadInt32(&maxInFlight) > 2 {
		t.Fatalf("expected at most 2 concurrent batches, observed %d", maxInFlight)
	}
}

type trackingEmbedder struct {
	inFlight    *int32
	maxInFlight *int32
}

func (t *trackingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	n := atomic.AddInt32(t.inFlight, 1)
	defer atomic.AddInt32(t.inFlight, -1)
	for {
		cur := atomic.LoadInt32(t.maxInFlight)
		if n <= cur || atomic.CompareAndSwapInt32(t.maxInFlight, cur, n) {
			break
		}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}
