package stageerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestRetryable_DefaultsByKind(t *testing.T) {
	cases := []struct {
		err  *Error
		want bool
	}{
		{BadInput("parse", errors.New("boom")), false},
		{TransientIO("fetch", errors.New("boom")), true},
		{Upstream5xx("fetch", errors.New("boom")), true},
		{Upstream4xx("fetch", errors.New("boom")), false},
		{TooLarge("fetch", errors.New("boom")), false},
		{ProviderError("embed", errors.New("boom")), true},
		{StoreUnavailable("store", errors.New("boom")), false},
	}
	for _, c := range cases {
		if got := Retryable(c.err); got != c.want {
			t.Fatalf("%s: Retryable() = %v, want %v", c.err.Kind, got, c.want)
		}
	}
}

func TestRetryable_PermanentOverride(t *testing.T) {
	err := ProviderError("embed", errors.New("boom")).Permanent()
	if Retryable(err) {
		t.Fatalf("expected Permanent() to force non-retryable")
	}
}

func TestRetryable_WrappedError(t *testing.T) {
	err := fmt.Errorf("context: %w", BadInput("validate", errors.New("boom")))
	if Retryable(err) {
		t.Fatalf("expected a wrapped bad_input error to remain non-retryable via errors.As")
	}
}

func TestRetryable_UnclassifiedErrorDefaultsTrue(t *testing.T) {
	if !Retryable(errors.New("some bug")) {
		t.Fatalf("expected a non-stageerr error to default to retryable")
	}
}
