// Package pipeline implements the Driver (spec §4.3): it composes the pure
// stages into a job-kind-specific run, inserting cancellation checkpoints
// between them. Grounded on the teacher's orchestrator.Engine's
// "compose stages, check a gate between each" shape (internal/jobs/
// orchestrator/engine.go), simplified to the spec's fixed five-stage
// pipeline with no per-stage persisted resumption.
package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/fenwick-labs/etlq/internal/domain"
	"github.com/fenwick-labs/etlq/internal/platform/dbctx"
	"github.com/fenwick-labs/etlq/internal/platform/logger"
	"github.com/fenwick-labs/etlq/internal/stageerr"
	"github.com/fenwick-labs/etlq/internal/stages"
)

// Cancelled is raised by Run when cancel_probe reports true at a checkpoint.
// It is distinct from a stage failure: the manager must translate it into a
// release of the lease, not a call to fail (spec §4.3/§4.4).
type Cancelled struct {
	Stage string
}

func (c *Cancelled) Error() string { return fmt.Sprintf("cancelled before stage %q", c.Stage) }

// CancelProbe reports whether cancellation has been requested. It is a
// cache with a known staleness bound (one heartbeat interval) — see spec §9.
type CancelProbe func() bool

// ProgressReporter receives a diagnostic hint after each stage. Optional;
// the manager may pass a no-op.
type ProgressReporter func(stage string, diag map[string]any)

// Config bounds stage behavior that spec §6 doesn't otherwise parameterize
// per-job (fetch timeout/size caps, default chunking, embed batching).
type Config struct {
	FetchTimeout     time.Duration
	FetchMaxBytes    int64
	ChunkSize        int
	ChunkOverlap     int
	EmbedBatchSize   int
	EmbedConcurrency int
}

func DefaultConfig() Config {
	return Config{
		FetchTimeout:     30 * time.Second,
		FetchMaxBytes:    10 << 20,
		ChunkSize:        1000,
		ChunkOverlap:     100,
		EmbedBatchSize:   64,
		EmbedConcurrency: 4,
	}
}

// Driver executes one Job's pipeline shape, per spec §4.3.
type Driver struct {
	cfg      Config
	embedder stages.Embedder
	upserter stages.Upserter
	docs     stages.DocumentPersister
	log      *logger.Logger
}

func New(cfg Config, embedder stages.Embedder, upserter stages.Upserter, docs stages.DocumentPersister, baseLog *logger.Logger) *Driver {
	return &Driver{cfg: cfg, embedder: embedder, upserter: upserter, docs: docs, log: baseLog.With("component", "Driver")}
}

// Run dispatches on job.Kind and returns the job's output map on success, a
// *Cancelled if a checkpoint observed a cancel request, or a *stageerr.Error
// otherwise (spec §4.3).
func (d *Driver) Run(ctx context.Context, job *domain.Job, cancelProbe CancelProbe, report ProgressReporter) (datatypes.JSON, error) {
	if report == nil {
		report = func(string, map[string]any) {}
	}
	switch job.Kind {
	case domain.KindFullETL:
		return d.runFullETL(ctx, job, cancelProbe, report)
	case domain.KindCrawl:
		return d.runCrawl(ctx, job, report)
	case domain.KindParse:
		return d.runParse(ctx, job, report)
	case domain.KindChunk:
		return d.runChunk(ctx, job, report)
	case domain.KindEmbed:
		return d.runEmbed(ctx, job, report)
	default:
		return nil, stageerr.BadInput("driver", fmt.Errorf("unknown job kind %q", job.Kind))
	}
}

// checkpoint is the only place cooperative cancellation takes effect
// (spec §4.3).
func checkpoint(cancelProbe CancelProbe, nextStage string) error {
	if cancelProbe != nil && cancelProbe() {
		return &Cancelled{Stage: nextStage}
	}
	return nil
}

type fullETLInput struct {
	URL string `json:"url"`
}

func (d *Driver) runFullETL(ctx context.Context, job *domain.Job, cancelProbe CancelProbe, report ProgressReporter) (datatypes.JSON, error) {
	var in fullETLInput
	if err := json.Unmarshal(job.Input, &in); err != nil || in.URL == "" {
		return nil, stageerr.BadInput("validate", fmt.Errorf("input must contain a non-empty url"))
	}

	if err := checkpoint(cancelProbe, "fetch"); err != nil {
		return nil, err
	}
	fetched, err := stages.Fetch(ctx, in.URL, d.cfg.FetchTimeout, d.cfg.FetchMaxBytes)
	if err != nil {
		return nil, err
	}
	report("fetch", map[string]any{"bytes": len(fetched.Bytes), "content_type": fetched.ContentType})

	if err := checkpoint(cancelProbe, "parse"); err != nil {
		return nil, err
	}
	text, err := stages.Parse(fetched.Bytes, fetched.ContentType)
	if err != nil {
		return nil, err
	}
	report("parse", map[string]any{"text_length": len(text)})

	if err := checkpoint(cancelProbe, "chunk"); err != nil {
		return nil, err
	}
	chunks := stages.Chunk(text, stages.ChunkConfig{Size: d.cfg.ChunkSize, Overlap: d.cfg.ChunkOverlap})
	report("chunk", map[string]any{"chunk_count": len(chunks)})

	if err := checkpoint(cancelProbe, "embed"); err != nil {
		return nil, err
	}
	var vectors [][]float32
	if len(chunks) > 0 {
		vectors, err = stages.EmbedBatched(ctx, d.embedder, chunks, d.cfg.EmbedBatchSize, d.cfg.EmbedConcurrency)
		if err != nil {
			return nil, err
		}
	}
	report("embed", map[string]any{"vector_count": len(vectors)})

	if err := checkpoint(cancelProbe, "upsert"); err != nil {
		return nil, err
	}
	docMeta := stages.DocMeta{SourceURL: fetched.FinalURL, ContentType: fetched.ContentType}
	documentID, err := d.docs.PersistDocument(dbctx.Context{Ctx: ctx}, docMeta, chunks)
	if err != nil {
		return nil, stageerr.StoreUnavailable("upsert", err)
	}
	if err := d.upserter.Upsert(ctx, documentID, docMeta, chunks, vectors); err != nil {
		return nil, err
	}
	report("upsert", map[string]any{"document_id": documentID})

	return marshalOutput(map[string]any{
		"document_id": documentID,
		"chunk_count": len(chunks),
	})
}

type crawlInput struct {
	URL string `json:"url"`
}

func (d *Driver) runCrawl(ctx context.Context, job *domain.Job, report ProgressReporter) (datatypes.JSON, error) {
	var in crawlInput
	if err := json.Unmarshal(job.Input, &in); err != nil || in.URL == "" {
		return nil, stageerr.BadInput("validate", fmt.Errorf("input must contain a non-empty url"))
	}
	fetched, err := stages.Fetch(ctx, in.URL, d.cfg.FetchTimeout, d.cfg.FetchMaxBytes)
	if err != nil {
		return nil, err
	}
	report("fetch", map[string]any{"bytes": len(fetched.Bytes), "content_type": fetched.ContentType})
	return marshalOutput(map[string]any{
		"bytes_base64": base64.StdEncoding.EncodeToString(fetched.Bytes),
		"content_type": fetched.ContentType,
		"final_url":    fetched.FinalURL,
	})
}

type parseInput struct {
	BytesBase64 string `json:"bytes_base64"`
	ContentType string `json:"content_type"`
}

func (d *Driver) runParse(_ context.Context, job *domain.Job, report ProgressReporter) (datatypes.JSON, error) {
	var in parseInput
	if err := json.Unmarshal(job.Input, &in); err != nil {
		return nil, stageerr.BadInput("validate", err)
	}
	raw, err := base64.StdEncoding.DecodeString(in.BytesBase64)
	if err != nil {
		return nil, stageerr.BadInput("validate", fmt.Errorf("bytes_base64 is not valid base64: %w", err))
	}
	text, err := stages.Parse(raw, in.ContentType)
	if err != nil {
		return nil, err
	}
	report("parse", map[string]any{"text_length": len(text)})
	return marshalOutput(map[string]any{"text": text})
}

type chunkInput struct {
	Text       string   `json:"text"`
	Size       int      `json:"size"`
	Overlap    int      `json:"overlap"`
	Separators []string `json:"separators"`
}

func (d *Driver) runChunk(_ context.Context, job *domain.Job, report ProgressReporter) (datatypes.JSON, error) {
	var in chunkInput
	if err := json.Unmarshal(job.Input, &in); err != nil {
		return nil, stageerr.BadInput("validate", err)
	}
	size := in.Size
	if size <= 0 {
		size = d.cfg.ChunkSize
	}
	overlap := in.Overlap
	if overlap <= 0 {
		overlap = d.cfg.ChunkOverlap
	}
	chunks := stages.Chunk(in.Text, stages.ChunkConfig{Size: size, Overlap: overlap, Separators: in.Separators})
	report("chunk", map[string]any{"chunk_count": len(chunks)})
	return marshalOutput(map[string]any{"chunks": chunks, "chunk_count": len(chunks)})
}

type embedInput struct {
	Texts []string `json:"texts"`
}

func (d *Driver) runEmbed(ctx context.Context, job *domain.Job, report ProgressReporter) (datatypes.JSON, error) {
	var in embedInput
	if err := json.Unmarshal(job.Input, &in); err != nil {
		return nil, stageerr.BadInput("validate", err)
	}
	vectors, err := stages.EmbedBatched(ctx, d.embedder, in.Texts, d.cfg.EmbedBatchSize, d.cfg.EmbedConcurrency)
	if err != nil {
		return nil, err
	}
	report("embed", map[string]any{"vector_count": len(vectors)})
	return marshalOutput(map[string]any{"vectors": vectors})
}

func marshalOutput(v map[string]any) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, stageerr.BadInput("marshal_output", err)
	}
	return datatypes.JSON(b), nil
}
