// Package domain holds the Job entity shared by the store, pipeline driver,
// manager, and admin surface.
package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Kind selects the pipeline shape the driver runs for a Job.
type Kind string

const (
	KindFullETL Kind = "FULL_ETL"
	KindCrawl   Kind = "CRAWL"
	KindParse   Kind = "PARSE"
	KindChunk   Kind = "CHUNK"
	KindEmbed   Kind = "EMBED"
)

func (k Kind) Valid() bool {
	switch k {
	case KindFullETL, KindCrawl, KindParse, KindChunk, KindEmbed:
		return true
	default:
		return false
	}
}

// Status is the Job state machine's current state. COMPLETED, FAILED, and
// CANCELLED are terminal and absorbing: no transition ever leaves them.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusRetrying  Status = "RETRYING"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Job is the central, durable entity. Invariants (enforced by the store,
// never by this struct alone):
//
//   - status=RUNNING  <=> worker_id != nil && lease_expires_at != nil && heartbeat_at != nil
//   - retry_count <= max_retries
//   - status=COMPLETED => completed_at != nil && last_error == ""
//   - terminal statuses never transition back
type Job struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Kind           Kind           `gorm:"column:kind;not null;index" json:"kind"`
	Input          datatypes.JSON `gorm:"column:input;type:jsonb;not null;default:'{}'" json:"input"`
	Status         Status         `gorm:"column:status;not null;index" json:"status"`
	Priority       int            `gorm:"column:priority;not null;default:0;index" json:"priority"`
	ScheduledAt    *time.Time     `gorm:"column:scheduled_at;index" json:"scheduled_at,omitempty"`
	RetryCount     int            `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	MaxRetries     int            `gorm:"column:max_retries;not null;default:3" json:"max_retries"`
	LastError      string         `gorm:"column:last_error" json:"last_error,omitempty"`
	WorkerID       string         `gorm:"column:worker_id;index" json:"worker_id,omitempty"`
	HeartbeatAt    *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LeaseExpiresAt *time.Time     `gorm:"column:lease_expires_at;index" json:"lease_expires_at,omitempty"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null;default:now();index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;not null;default:now()" json:"updated_at"`
	CompletedAt    *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	Output         datatypes.JSON `gorm:"column:output;type:jsonb" json:"output,omitempty"`
}

func (Job) TableName() string { return "jobs" }

// CancelResult is returned by Store.RequestCancel.
type CancelResult string

const (
	CancelOK             CancelResult = "ok"
	CancelAlreadyTerminal CancelResult = "already_terminal"
)

// RecoveryOutcome is returned by Store.RecoverZombie.
type RecoveryOutcome string

const (
	RecoveryRetried RecoveryOutcome = "retried"
	RecoveryFailed  RecoveryOutcome = "failed"
	RecoveryNoop    RecoveryOutcome = "noop"
)
