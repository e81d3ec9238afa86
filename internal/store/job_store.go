// Package store implements the durable, Postgres-backed Job Store: atomic
// claim, lease/heartbeat, status transitions, and statistics (spec §4.1).
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fenwick-labs/etlq/internal/domain"
	"github.com/fenwick-labs/etlq/internal/platform/dbctx"
	"github.com/fenwick-labs/etlq/internal/platform/logger"
	"github.com/fenwick-labs/etlq/internal/stages"
	"github.com/fenwick-labs/etlq/internal/storeerr"
)

// Store is the Job Store's public API. Every method is a single DB
// transaction unless its doc comment says otherwise.
type Store interface {
	Create(dbc dbctx.Context, kind domain.Kind, input datatypes.JSON, priority int, scheduledAt *time.Time, maxRetries int) (*domain.Job, error)
	ClaimOne(dbc dbctx.Context, workerID string, now time.Time, leaseDuration time.Duration) (*domain.Job, error)
	Heartbeat(dbc dbctx.Context, jobID uuid.UUID, workerID string, now time.Time, leaseDuration time.Duration) (bool, error)
	Complete(dbc dbctx.Context, jobID uuid.UUID, workerID string, output datatypes.JSON, now time.Time) error
	Fail(dbc dbctx.Context, jobID uuid.UUID, workerID string, errMsg string, now time.Time, backoffDelay time.Duration, forcePermanent bool) (bool, error)
	ReleaseLease(dbc dbctx.Context, jobID uuid.UUID, workerID string, now time.Time) error
	RequestCancel(dbc dbctx.Context, jobID uuid.UUID) (domain.CancelResult, error)
	IsCancelRequested(dbc dbctx.Context, jobID uuid.UUID) (bool, error)
	ListZombies(dbc dbctx.Context, now time.Time, grace time.Duration) ([]*domain.Job, error)
	RecoverZombie(dbc dbctx.Context, jobID uuid.UUID, now time.Time) (domain.RecoveryOutcome, error)
	CleanupOld(dbc dbctx.Context, cutoff time.Time) (int64, error)
	Stats(dbc dbctx.Context) (map[domain.Status]int64, error)
	GetByID(dbc dbctx.Context, jobID uuid.UUID) (*domain.Job, error)
	List(dbc dbctx.Context, status domain.Status, kind domain.Kind, limit, offset int) ([]*domain.Job, error)
	Retry(dbc dbctx.Context, jobID uuid.UUID) error
	PersistDocument(dbc dbctx.Context, doc stages.DocMeta, chunks []string) (documentID string, err error)
}

type store struct {
	db  *gorm.DB
	log *logger.Logger
}

func New(db *gorm.DB, baseLog *logger.Logger) Store {
	return &store{db: db, log: baseLog.With("component", "JobStore")}
}

func (s *store) tx(dbc dbctx.Context) *gorm.DB {
	return dbc.TxOr(s.db).WithContext(dbc.Ctx)
}

func (s *store) Create(dbc dbctx.Context, kind domain.Kind, input datatypes.JSON, priority int, scheduledAt *time.Time, maxRetries int) (*domain.Job, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("store: invalid kind %q", kind)
	}
	if len(input) == 0 {
		input = datatypes.JSON([]byte("{}"))
	}
	j := &domain.Job{
		ID:          uuid.New(),
		Kind:        kind,
		Input:       input,
		Status:      domain.StatusPending,
		Priority:    priority,
		ScheduledAt: scheduledAt,
		MaxRetries:  maxRetries,
	}
	if err := s.tx(dbc).Create(j).Error; err != nil {
		return nil, storeerr.Unavailable("create", err)
	}
	return j, nil
}

// ClaimOne implements the atomic claim protocol from spec §4.1: lock the
// single highest-priority, longest-waiting eligible row with SKIP LOCKED,
// then flip it to RUNNING under the caller's worker_id in the same
// transaction.
func (s *store) ClaimOne(dbc dbctx.Context, workerID string, now time.Time, leaseDuration time.Duration) (*domain.Job, error) {
	var claimed *domain.Job
	err := s.tx(dbc).Transaction(func(txx *gorm.DB) error {
		var row domain.Job
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status IN ? AND (scheduled_at IS NULL OR scheduled_at <= ?)",
				[]domain.Status{domain.StatusPending, domain.StatusRetrying}, now).
			Order("priority DESC, scheduled_at ASC NULLS FIRST, created_at ASC, id ASC")
		if err := q.First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		lease := now.Add(leaseDuration)
		res := txx.Model(&domain.Job{}).
			Where("id = ?", row.ID).
			Updates(map[string]interface{}{
				"status":           domain.StatusRunning,
				"worker_id":        workerID,
				"heartbeat_at":     now,
				"lease_expires_at": lease,
				"updated_at":       now,
			})
		if res.Error != nil {
			return res.Error
		}
		row.Status = domain.StatusRunning
		row.WorkerID = workerID
		row.HeartbeatAt = &now
		row.LeaseExpiresAt = &lease
		claimed = &row
		return nil
	})
	if err != nil {
		return nil, storeerr.Unavailable("claim_one", err)
	}
	return claimed, nil
}

// Heartbeat extends the lease iff the row still matches worker_id and is
// still RUNNING — a compare-and-swap guarding against a lost lease (spec
// §4.1).
func (s *store) Heartbeat(dbc dbctx.Context, jobID uuid.UUID, workerID string, now time.Time, leaseDuration time.Duration) (bool, error) {
	res := s.tx(dbc).Model(&domain.Job{}).
		Where("id = ? AND worker_id = ? AND status = ?", jobID, workerID, domain.StatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at":     now,
			"lease_expires_at": now.Add(leaseDuration),
			"updated_at":       now,
		})
	if res.Error != nil {
		return false, storeerr.Unavailable("heartbeat", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Complete finalizes a successful run. Requires a matching worker_id; a
// mismatch (lost lease) is reported as a Conflict rather than an error so
// the caller can abandon the task quietly.
func (s *store) Complete(dbc dbctx.Context, jobID uuid.UUID, workerID string, output datatypes.JSON, now time.Time) error {
	res := s.tx(dbc).Model(&domain.Job{}).
		Where("id = ? AND worker_id = ? AND status = ?", jobID, workerID, domain.StatusRunning).
		Updates(map[string]interface{}{
			"status":           domain.StatusCompleted,
			"output":           output,
			"last_error":       "",
			"worker_id":        "",
			"heartbeat_at":     nil,
			"lease_expires_at": nil,
			"completed_at":     now,
			"updated_at":       now,
		})
	if res.Error != nil {
		return storeerr.Unavailable("complete", res.Error)
	}
	if res.RowsAffected == 0 {
		return &storeerr.Conflict{Op: "complete"}
	}
	return nil
}

// ReleaseLease clears the lease fields for a job the driver has stopped
// driving without changing status — used after a cancellation signal,
// where RequestCancel already wrote the terminal CANCELLED status and this
// call only lets the now-idle worker_id/heartbeat/lease go, per spec §4.4
// step 4 ("release_lease variant that clears lease fields, no status change
// if already CANCELLED"). Matching on worker_id makes this a no-op if the
// lease was already lost to a sweeper recovery.
func (s *store) ReleaseLease(dbc dbctx.Context, jobID uuid.UUID, workerID string, now time.Time) error {
	res := s.tx(dbc).Model(&domain.Job{}).
		Where("id = ? AND worker_id = ?", jobID, workerID).
		Updates(map[string]interface{}{
			"worker_id":        "",
			"heartbeat_at":     nil,
			"lease_expires_at": nil,
			"updated_at":       now,
		})
	if res.Error != nil {
		return storeerr.Unavailable("release_lease", res.Error)
	}
	return nil
}

// Fail applies the retry-or-fail transition (spec §4.1): if retries remain,
// bump retry_count and move to RETRYING; otherwise move to FAILED. Accepts
// either a matching worker_id or an empty one, so the zombie sweeper can
// drive the same transition without impersonating a worker. backoffDelay is
// added to now to produce scheduled_at on a RETRYING outcome, computed by
// the caller (spec §4.4 step 5 "commit that (single transaction)") — pass 0
// for an immediately-reclaimable retry (the zombie sweeper's case).
// forcePermanent skips the retry_count/max_retries arithmetic entirely and
// moves straight to FAILED, for stage errors spec §7 classifies as
// non-retryable (bad_input, too_large, upstream_4xx) regardless of how many
// retries remain.
func (s *store) Fail(dbc dbctx.Context, jobID uuid.UUID, workerID string, errMsg string, now time.Time, backoffDelay time.Duration, forcePermanent bool) (bool, error) {
	var retried bool
	err := s.tx(dbc).Transaction(func(txx *gorm.DB) error {
		var err error
		retried, err = s.failLocked(txx, jobID, workerID, errMsg, now, backoffDelay, workerID != "", forcePermanent)
		return err
	})
	return retried, err
}

func (s *store) failLocked(txx *gorm.DB, jobID uuid.UUID, workerID string, errMsg string, now time.Time, backoffDelay time.Duration, checkWorker, forcePermanent bool) (bool, error) {
	q := txx.Model(&domain.Job{}).Where("id = ?", jobID)
	if checkWorker {
		q = q.Where("worker_id = ?", workerID)
	}
	var row domain.Job
	if err := txx.Where("id = ?", jobID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, storeerr.ErrNotFound
		}
		return false, storeerr.Unavailable("fail", err)
	}
	retry := !forcePermanent && row.RetryCount+1 <= row.MaxRetries
	updates := map[string]interface{}{
		"last_error":       errMsg,
		"worker_id":        "",
		"heartbeat_at":     nil,
		"lease_expires_at": nil,
		"updated_at":       now,
	}
	if retry {
		scheduledAt := now.Add(backoffDelay)
		updates["status"] = domain.StatusRetrying
		updates["retry_count"] = row.RetryCount + 1
		updates["scheduled_at"] = scheduledAt
	} else {
		updates["status"] = domain.StatusFailed
		updates["completed_at"] = now
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, storeerr.Unavailable("fail", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, &storeerr.Conflict{Op: "fail"}
	}
	return retry, nil
}

// RequestCancel writes CANCELLED immediately and is the single authoritative
// signal a running driver observes at its next checkpoint (spec §4.4).
func (s *store) RequestCancel(dbc dbctx.Context, jobID uuid.UUID) (domain.CancelResult, error) {
	var result domain.CancelResult
	err := s.tx(dbc).Transaction(func(txx *gorm.DB) error {
		var err error
		result, err = s.requestCancel(txx, jobID)
		return err
	})
	return result, err
}

func (s *store) requestCancel(txx *gorm.DB, jobID uuid.UUID) (domain.CancelResult, error) {
	var row domain.Job
	if err := txx.Where("id = ?", jobID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", storeerr.ErrNotFound
		}
		return "", storeerr.Unavailable("request_cancel", err)
	}
	if row.Status.Terminal() {
		if row.Status == domain.StatusCancelled {
			return domain.CancelOK, nil
		}
		return "", storeerr.ErrAlreadyTerminal
	}
	now := time.Now()
	updates := map[string]interface{}{
		"status":     domain.StatusCancelled,
		"updated_at": now,
	}
	if row.Status != domain.StatusRunning {
		updates["worker_id"] = ""
		updates["heartbeat_at"] = nil
		updates["lease_expires_at"] = nil
		updates["completed_at"] = now
	}
	res := txx.Model(&domain.Job{}).Where("id = ? AND status NOT IN ?", jobID,
		[]domain.Status{domain.StatusCompleted, domain.StatusFailed, domain.StatusCancelled}).
		Updates(updates)
	if res.Error != nil {
		return "", storeerr.Unavailable("request_cancel", res.Error)
	}
	if res.RowsAffected == 0 {
		// Raced with a terminal write between the read above and the update;
		// idempotent callers see this as already terminal.
		return "", storeerr.ErrAlreadyTerminal
	}
	return domain.CancelOK, nil
}

func (s *store) IsCancelRequested(dbc dbctx.Context, jobID uuid.UUID) (bool, error) {
	var status domain.Status
	err := s.tx(dbc).Model(&domain.Job{}).Where("id = ?", jobID).Pluck("status", &status).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, storeerr.Unavailable("is_cancel_requested", err)
	}
	return status == domain.StatusCancelled, nil
}

// ListZombies selects RUNNING rows whose lease expired more than grace ago.
func (s *store) ListZombies(dbc dbctx.Context, now time.Time, grace time.Duration) ([]*domain.Job, error) {
	var rows []*domain.Job
	cutoff := now.Add(-grace)
	err := s.tx(dbc).Where("status = ? AND lease_expires_at < ?", domain.StatusRunning, cutoff).
		Order("lease_expires_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, storeerr.Unavailable("list_zombies", err)
	}
	return rows, nil
}

// RecoverZombie re-verifies the row is still RUNNING and still expired under
// a row lock before applying the retry-or-fail transition, so a race with
// the job's own (late) heartbeat cannot double-recover it.
func (s *store) RecoverZombie(dbc dbctx.Context, jobID uuid.UUID, now time.Time) (domain.RecoveryOutcome, error) {
	var outcome domain.RecoveryOutcome
	err := s.tx(dbc).Transaction(func(txx *gorm.DB) error {
		var row domain.Job
		err := txx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", jobID).First(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storeerr.ErrNotFound
			}
			return err
		}
		if row.Status != domain.StatusRunning || row.LeaseExpiresAt == nil || !row.LeaseExpiresAt.Before(now) {
			// Already recovered (or completed) by someone else, or the lease
			// was extended since it was listed: no-op.
			outcome = domain.RecoveryNoop
			return nil
		}
		retry, err := s.failLocked(txx, jobID, "", "lease expired", now, 0, false, false)
		if err != nil {
			return err
		}
		if retry {
			outcome = domain.RecoveryRetried
		} else {
			outcome = domain.RecoveryFailed
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, storeerr.ErrNotFound) {
			return "", err
		}
		return "", storeerr.Unavailable("recover_zombie", err)
	}
	return outcome, nil
}

func (s *store) CleanupOld(dbc dbctx.Context, cutoff time.Time) (int64, error) {
	res := s.tx(dbc).Where("status IN ? AND created_at < ?",
		[]domain.Status{domain.StatusCompleted, domain.StatusFailed, domain.StatusCancelled}, cutoff).
		Delete(&domain.Job{})
	if res.Error != nil {
		return 0, storeerr.Unavailable("cleanup_old", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *store) Stats(dbc dbctx.Context) (map[domain.Status]int64, error) {
	type row struct {
		Status domain.Status
		Count  int64
	}
	var rows []row
	if err := s.tx(dbc).Model(&domain.Job{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, storeerr.Unavailable("stats", err)
	}
	out := map[domain.Status]int64{}
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

func (s *store) GetByID(dbc dbctx.Context, jobID uuid.UUID) (*domain.Job, error) {
	var row domain.Job
	if err := s.tx(dbc).Where("id = ?", jobID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storeerr.ErrNotFound
		}
		return nil, storeerr.Unavailable("get_by_id", err)
	}
	return &row, nil
}

func (s *store) List(dbc dbctx.Context, status domain.Status, kind domain.Kind, limit, offset int) ([]*domain.Job, error) {
	q := s.tx(dbc).Model(&domain.Job{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if limit <= 0 {
		limit = 50
	}
	var rows []*domain.Job
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&rows).Error
	if err != nil {
		return nil, storeerr.Unavailable("list", err)
	}
	return rows, nil
}

// Retry resets a FAILED row back to PENDING with a zeroed retry count
// (spec §6's `retry` admin call). It refuses any non-FAILED row to preserve
// the terminal-absorbing invariant for COMPLETED/CANCELLED.
func (s *store) Retry(dbc dbctx.Context, jobID uuid.UUID) error {
	res := s.tx(dbc).Model(&domain.Job{}).
		Where("id = ? AND status = ?", jobID, domain.StatusFailed).
		Updates(map[string]interface{}{
			"status":       domain.StatusPending,
			"retry_count":  0,
			"last_error":   "",
			"completed_at": nil,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return storeerr.Unavailable("retry", res.Error)
	}
	if res.RowsAffected == 0 {
		return storeerr.ErrAlreadyTerminal
	}
	return nil
}
