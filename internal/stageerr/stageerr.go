// Package stageerr classifies pipeline stage failures so the driver and
// manager can decide retry-vs-fail without inspecting error strings, per
// spec §7.
package stageerr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindBadInput       Kind = "bad_input"
	KindTransientIO    Kind = "transient_io"
	KindUpstream5xx    Kind = "upstream_5xx"
	KindUpstream4xx    Kind = "upstream_4xx"
	KindTooLarge       Kind = "too_large"
	KindProviderError  Kind = "provider_error"
	KindStoreUnavailable Kind = "store_unavailable"
)

// Error is a typed stage failure. Retryable reports whether the job-level
// retry logic (spec §4.4) should re-queue the job rather than fail it
// outright.
type Error struct {
	Kind      Kind
	Stage     string
	Err       error
	retryable bool
}

func New(kind Kind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err, retryable: defaultRetryable(kind)}
}

// Permanent marks a normally-retryable kind (e.g. provider_error) as
// non-retryable for this occurrence, per spec §7's "unless explicitly
// tagged permanent".
func (e *Error) Permanent() *Error {
	e.retryable = false
	return e
}

func (e *Error) Retryable() bool { return e.retryable }

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func defaultRetryable(k Kind) bool {
	switch k {
	case KindTransientIO, KindUpstream5xx, KindProviderError:
		return true
	default:
		return false
	}
}

// Retryable reports whether err should be retried at the job level (spec
// §4.4/§7). An err that isn't a *stageerr.Error — a bare error surfacing a
// bug rather than a classified stage failure — is treated as retryable,
// matching the manager's pre-classification behavior.
func Retryable(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

func BadInput(stage string, err error) *Error      { return New(KindBadInput, stage, err) }
func TransientIO(stage string, err error) *Error    { return New(KindTransientIO, stage, err) }
func Upstream5xx(stage string, err error) *Error    { return New(KindUpstream5xx, stage, err) }
func Upstream4xx(stage string, err error) *Error    { return New(KindUpstream4xx, stage, err) }
func TooLarge(stage string, err error) *Error       { return New(KindTooLarge, stage, err) }
func ProviderError(stage string, err error) *Error  { return New(KindProviderError, stage, err) }
func StoreUnavailable(stage string, err error) *Error {
	return New(KindStoreUnavailable, stage, err)
}
