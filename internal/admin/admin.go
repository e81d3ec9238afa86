// Package admin implements the Admin Surface (spec §6): a thin service over
// the Job Store consumed by a REST façade or CLI (contract-only in the
// spec — this package is the Go-side implementation of that contract).
// Grounded on the teacher's services package shape: an interface plus a
// constructor returning it, wrapping a repo with no business logic of its
// own (internal/services/bucket.go et al.).
package admin

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/fenwick-labs/etlq/internal/domain"
	"github.com/fenwick-labs/etlq/internal/platform/dbctx"
	"github.com/fenwick-labs/etlq/internal/platform/logger"
	"github.com/fenwick-labs/etlq/internal/platform/metrics"
	"github.com/fenwick-labs/etlq/internal/store"
)

// Stats pairs the DB-backed status counts with the process-local counters
// the Manager maintains, per SPEC_FULL.md §11's metrics wiring.
type Stats struct {
	ByStatus    map[domain.Status]int64 `json:"by_status"`
	Claims      float64                 `json:"claims_total"`
	Heartbeats  float64                 `json:"heartbeats_total"`
	RunningNow  float64                 `json:"running_now"`
}

// Surface is the Admin Surface's public API (spec §6's enqueue/cancel/
// status/list/retry/cleanup/stats calls).
type Surface interface {
	Enqueue(ctx context.Context, kind domain.Kind, input datatypes.JSON, priority int, scheduledAt *time.Time, maxRetries int) (uuid.UUID, error)
	Cancel(ctx context.Context, jobID uuid.UUID) (domain.CancelResult, error)
	Status(ctx context.Context, jobID uuid.UUID) (*domain.Job, error)
	List(ctx context.Context, status domain.Status, kind domain.Kind, limit, offset int) ([]*domain.Job, error)
	Retry(ctx context.Context, jobID uuid.UUID) error
	Cleanup(ctx context.Context, olderThanDays int) (int64, error)
	Stats(ctx context.Context) (Stats, error)
}

type surface struct {
	store   store.Store
	log     *logger.Logger
	metrics *metrics.Registry
}

func New(st store.Store, baseLog *logger.Logger, reg *metrics.Registry) Surface {
	return &surface{store: st, log: baseLog.With("component", "AdminSurface"), metrics: reg}
}

const defaultMaxRetries = 3

func (a *surface) Enqueue(ctx context.Context, kind domain.Kind, input datatypes.JSON, priority int, scheduledAt *time.Time, maxRetries int) (uuid.UUID, error) {
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	job, err := a.store.Create(dbctx.Context{Ctx: ctx}, kind, input, priority, scheduledAt, maxRetries)
	if err != nil {
		return uuid.Nil, err
	}
	a.log.Info("job enqueued", "job_id", job.ID, "kind", kind, "priority", priority)
	return job.ID, nil
}

func (a *surface) Cancel(ctx context.Context, jobID uuid.UUID) (domain.CancelResult, error) {
	result, err := a.store.RequestCancel(dbctx.Context{Ctx: ctx}, jobID)
	if err != nil {
		return "", err
	}
	a.log.Info("cancel requested", "job_id", jobID, "result", result)
	return result, nil
}

func (a *surface) Status(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	return a.store.GetByID(dbctx.Context{Ctx: ctx}, jobID)
}

func (a *surface) List(ctx context.Context, status domain.Status, kind domain.Kind, limit, offset int) ([]*domain.Job, error) {
	return a.store.List(dbctx.Context{Ctx: ctx}, status, kind, limit, offset)
}

func (a *surface) Retry(ctx context.Context, jobID uuid.UUID) error {
	if err := a.store.Retry(dbctx.Context{Ctx: ctx}, jobID); err != nil {
		return err
	}
	a.log.Info("job reset for retry", "job_id", jobID)
	return nil
}

func (a *surface) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 0 {
		olderThanDays = 0
	}
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	n, err := a.store.CleanupOld(dbctx.Context{Ctx: ctx}, cutoff)
	if err != nil {
		return 0, err
	}
	a.log.Info("old jobs cleaned up", "older_than_days", olderThanDays, "deleted", n)
	return n, nil
}

func (a *surface) Stats(ctx context.Context) (Stats, error) {
	byStatus, err := a.store.Stats(dbctx.Context{Ctx: ctx})
	if err != nil {
		return Stats{}, err
	}
	s := Stats{ByStatus: byStatus}
	if a.metrics != nil {
		s.Claims = a.metrics.ClaimsValue()
		s.Heartbeats = a.metrics.HeartbeatsValue()
		s.RunningNow = a.metrics.RunningJobsValue()
	}
	return s, nil
}
