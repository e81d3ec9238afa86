// Package backoff computes exponential backoff with jitter, shared by the
// manager's RETRYING re-dispatch (spec §4.4) and in-stage sub-retries
// (SPEC_FULL.md §12).
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Compute returns a jittered exponential backoff for the given attempt
// (1-indexed): min(base*2^(attempt-1), cap) ± jitterFrac.
func Compute(base, cap time.Duration, jitterFrac float64, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if cap <= 0 {
		cap = 30 * time.Second
	}
	if jitterFrac <= 0 {
		jitterFrac = 0.20
	}
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > cap {
		d = cap
	}
	delta := float64(d) * jitterFrac
	low := float64(d) - delta
	high := float64(d) + delta
	if low < 0 {
		low = 0
	}
	return time.Duration(low + rand.Float64()*(high-low))
}
