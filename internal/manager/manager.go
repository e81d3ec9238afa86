// Package manager implements the Job Manager (spec §4.4): the worker
// process's main loop, per-job execution and heartbeat tasks, the zombie
// sweeper, and graceful shutdown. Grounded on the teacher's
// internal/jobs/worker/worker.go (Start/runLoop/startHeartbeat/panic-recovery
// shape), generalized from its fixed N-goroutine pool to a single poll loop
// gated by a concurrency semaphore, per SPEC_FULL.md's single-claim-loop
// model (spec §4.4/§5).
package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fenwick-labs/etlq/internal/backoff"
	"github.com/fenwick-labs/etlq/internal/domain"
	"github.com/fenwick-labs/etlq/internal/pipeline"
	"github.com/fenwick-labs/etlq/internal/platform/dbctx"
	"github.com/fenwick-labs/etlq/internal/platform/logger"
	"github.com/fenwick-labs/etlq/internal/platform/metrics"
	"github.com/fenwick-labs/etlq/internal/stageerr"
	"github.com/fenwick-labs/etlq/internal/storeerr"
	"github.com/fenwick-labs/etlq/internal/store"
)

// Config bounds the Manager's polling, leasing, and shutdown behavior
// (spec §4.4 "Configuration (enumerated)").
type Config struct {
	PollInterval      time.Duration
	MaxConcurrentJobs int
	HeartbeatInterval time.Duration
	LeaseDuration     time.Duration
	ZombieGrace       time.Duration
	ShutdownTimeout   time.Duration
	RetryBackoffBase  time.Duration
	RetryBackoffCap   time.Duration
}

// jobHandle is the in-process, advisory state shared between a job's
// execution task and its paired heartbeat task: a single cancel flag that
// either side may set, per spec §5 "Shared mutable state. Only the
// database... may lag by at most one heartbeat interval."
type jobHandle struct {
	cancelRequested atomic.Bool
}

func (h *jobHandle) cancelProbe() bool { return h.cancelRequested.Load() }
func (h *jobHandle) requestCancel()    { h.cancelRequested.Store(true) }

// Manager owns the worker process lifecycle and concurrency (spec §4.4).
type Manager struct {
	cfg      Config
	store    store.Store
	driver   *pipeline.Driver
	log      *logger.Logger
	metrics  *metrics.Registry
	workerID string

	sem chan struct{}

	mu      sync.Mutex
	handles map[uuid.UUID]*jobHandle

	wg sync.WaitGroup
}

func New(cfg Config, st store.Store, drv *pipeline.Driver, baseLog *logger.Logger, reg *metrics.Registry) *Manager {
	if cfg.MaxConcurrentJobs < 1 {
		cfg.MaxConcurrentJobs = 1
	}
	return &Manager{
		cfg:      cfg,
		store:    st,
		driver:   drv,
		log:      baseLog.With("component", "JobManager"),
		metrics:  reg,
		workerID: generateWorkerID(),
		sem:      make(chan struct{}, cfg.MaxConcurrentJobs),
		handles:  make(map[uuid.UUID]*jobHandle),
	}
}

func generateWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
}

// Run blocks until ctx is cancelled, then performs graceful shutdown (spec
// §4.4 "Graceful shutdown") and returns once every in-flight driver has
// stopped or shutdown_timeout elapsed.
func (m *Manager) Run(ctx context.Context) error {
	m.log.Info("Manager starting", "worker_id", m.workerID, "max_concurrent_jobs", m.cfg.MaxConcurrentJobs)

	m.sweepOnce(ctx)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			m.sweepOnce(ctx)
			m.pollOnce(ctx)
		}
	}

	m.log.Info("Manager stopping: no new work will be claimed", "worker_id", m.workerID)
	m.shutdown()
	return nil
}

// pollOnce tries to fill every free concurrency slot with a claimed job.
// An empty queue or a full semaphore both just wait for the next tick —
// there is no separate "sleep on empty" path since the ticker already
// provides poll_interval pacing (spec §4.4 main loop).
func (m *Manager) pollOnce(ctx context.Context) {
	for {
		select {
		case m.sem <- struct{}{}:
		default:
			return
		}

		job, err := m.store.ClaimOne(dbctx.Context{Ctx: ctx}, m.workerID, time.Now(), m.cfg.LeaseDuration)
		if err != nil {
			m.log.Warn("claim_one failed", "worker_id", m.workerID, "error", err)
			<-m.sem
			return
		}
		if job == nil {
			<-m.sem
			return
		}
		if m.metrics != nil {
			m.metrics.Claims.Inc()
			m.metrics.RunningJobs.Inc()
		}

		h := &jobHandle{}
		m.mu.Lock()
		m.handles[job.ID] = h
		m.mu.Unlock()

		m.wg.Add(1)
		go m.runJob(ctx, job, h)
	}
}

// runJob is the per-job execution task (spec §4.4 steps 1-6).
func (m *Manager) runJob(ctx context.Context, job *domain.Job, h *jobHandle) {
	defer m.wg.Done()
	defer func() { <-m.sem }()
	defer func() {
		m.mu.Lock()
		delete(m.handles, job.ID)
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.RunningJobs.Dec()
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("driver panic", "worker_id", m.workerID, "job_id", job.ID, "panic", r)
			delay := backoff.Compute(m.cfg.RetryBackoffBase, m.cfg.RetryBackoffCap, 0.20, job.RetryCount+1)
			_, _ = m.store.Fail(dbctx.Context{Ctx: ctx}, job.ID, m.workerID, fmt.Sprintf("panic: %v", r), time.Now(), delay, false)
		}
	}()

	stopHB := m.startHeartbeat(ctx, job.ID, h)
	defer stopHB()

	stageStart := time.Now()
	report := func(stage string, diag map[string]any) {
		now := time.Now()
		if m.metrics != nil {
			m.metrics.ObserveStage(stage, now.Sub(stageStart).Seconds())
		}
		stageStart = now
		m.log.Debug("stage complete", "worker_id", m.workerID, "job_id", job.ID, "stage", stage, "diag", diag)
	}
	output, err := m.driver.Run(ctx, job, h.cancelProbe, report)

	switch e := err.(type) {
	case nil:
		if cerr := m.store.Complete(dbctx.Context{Ctx: ctx}, job.ID, m.workerID, output, time.Now()); cerr != nil {
			m.handleConflictOrLog("complete", job.ID, cerr)
		}
	case *pipeline.Cancelled:
		// The terminal CANCELLED write already happened in RequestCancel;
		// this just releases the lease (spec §4.4 step 4).
		if rerr := m.store.ReleaseLease(dbctx.Context{Ctx: ctx}, job.ID, m.workerID, time.Now()); rerr != nil {
			m.log.Warn("release_lease after cancel failed", "worker_id", m.workerID, "job_id", job.ID, "error", rerr)
		}
		m.log.Info("job cancelled", "worker_id", m.workerID, "job_id", job.ID, "stage", e.Stage)
	default:
		m.failJob(ctx, job, err)
	}
}

// failJob classifies runErr before touching the store: spec §7 marks
// bad_input/too_large/upstream_4xx non-retryable regardless of how many
// retries remain, so those go straight to FAILED rather than through
// store.Fail's retry_count <= max_retries arithmetic. store_unavailable is
// special-cased further still: per spec §7 "driver aborts without status
// write, letting lease expire and sweeper recover" — writing a failure
// status to a store that just reported itself unavailable would likely just
// fail again, so this abandons the job instead of calling store.Fail at all.
func (m *Manager) failJob(ctx context.Context, job *domain.Job, runErr error) {
	var se *stageerr.Error
	if errors.As(runErr, &se) && se.Kind == stageerr.KindStoreUnavailable {
		m.log.Warn("store unavailable mid-job; abandoning lease for the sweeper to recover",
			"worker_id", m.workerID, "job_id", job.ID, "error", runErr)
		return
	}

	now := time.Now()
	if !stageerr.Retryable(runErr) {
		if _, err := m.store.Fail(dbctx.Context{Ctx: ctx}, job.ID, m.workerID, runErr.Error(), now, 0, true); err != nil {
			m.handleConflictOrLog("fail", job.ID, err)
			return
		}
		m.log.Warn("job failed permanently: non-retryable error", "worker_id", m.workerID, "job_id", job.ID, "error", runErr)
		return
	}

	delay := backoff.Compute(m.cfg.RetryBackoffBase, m.cfg.RetryBackoffCap, 0.20, job.RetryCount+1)
	retried, err := m.store.Fail(dbctx.Context{Ctx: ctx}, job.ID, m.workerID, runErr.Error(), now, delay, false)
	if err != nil {
		m.handleConflictOrLog("fail", job.ID, err)
		return
	}
	if !retried {
		m.log.Warn("job failed permanently", "worker_id", m.workerID, "job_id", job.ID, "error", runErr)
		return
	}
	m.log.Info("job scheduled for retry", "worker_id", m.workerID, "job_id", job.ID,
		"next_attempt_at", now.Add(delay), "backoff", delay)
}

func (m *Manager) handleConflictOrLog(op string, jobID uuid.UUID, err error) {
	var conflict *storeerr.Conflict
	if errors.As(err, &conflict) {
		m.log.Debug("lost lease, abandoning task silently", "worker_id", m.workerID, "job_id", jobID, "op", op)
		return
	}
	m.log.Warn("store op failed", "worker_id", m.workerID, "job_id", jobID, "op", op, "error", err)
}

// shutdown flips every in-flight job's local cancel flag and waits up to
// shutdown_timeout for the corresponding execution tasks to return (spec
// §4.4 "Graceful shutdown").
func (m *Manager) shutdown() {
	m.mu.Lock()
	for _, h := range m.handles {
		h.requestCancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("Manager stopped cleanly", "worker_id", m.workerID)
	case <-time.After(m.cfg.ShutdownTimeout):
		m.log.Warn("Manager shutdown timed out; abandoning in-flight jobs to the sweeper",
			"worker_id", m.workerID, "timeout", m.cfg.ShutdownTimeout)
	}
}
