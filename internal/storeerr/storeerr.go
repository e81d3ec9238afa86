// Package storeerr defines the fault taxonomy the Job Store surfaces to its
// callers (manager, admin surface), per spec §4.1/§7.
package storeerr

import "errors"

// ErrStoreUnavailable wraps a connection-level fault. The caller (manager)
// must NOT write a terminal status on this error — it aborts the in-flight
// job and lets the lease expire so the sweeper recovers it, per §7.
var ErrStoreUnavailable = errors.New("store unavailable")

// ErrNotFound is returned by lookups (GetByID, status, cancel) for an id
// that does not exist.
var ErrNotFound = errors.New("job not found")

// ErrAlreadyTerminal is returned by RequestCancel when the job is already in
// a terminal state.
var ErrAlreadyTerminal = errors.New("job already terminal")

// Conflict wraps a holder mismatch: the in-memory worker_id/status the
// caller expected no longer matches the row. Complete/Fail return this as a
// signal to abandon the task quietly rather than as a hard error; Heartbeat
// reports the same condition by returning false — see spec §4.1 "Error
// conditions".
type Conflict struct {
	Op string
}

func (e *Conflict) Error() string {
	if e == nil || e.Op == "" {
		return "store: lost lease"
	}
	return "store: lost lease during " + e.Op
}

func Unavailable(op string, err error) error {
	return &wrapped{op: op, sentinel: ErrStoreUnavailable, err: err}
}

type wrapped struct {
	op       string
	sentinel error
	err      error
}

func (w *wrapped) Error() string {
	if w.err == nil {
		return w.op + ": " + w.sentinel.Error()
	}
	return w.op + ": " + w.sentinel.Error() + ": " + w.err.Error()
}

func (w *wrapped) Unwrap() error { return w.sentinel }
