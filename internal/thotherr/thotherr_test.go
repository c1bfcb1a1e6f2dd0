package thotherr

import (
	"errors"
	"testing"
)

func TestKindOfAndIs(t *testing.T) {
	base := errors.New("boom")
	wrapped := New(Transient, "gateway.Call", base)

	if !Is(wrapped, Transient) {
		t.Fatalf("expected Transient kind")
	}
	if Is(wrapped, Fatal) {
		t.Fatalf("did not expect Fatal kind")
	}
	if !errors.Is(wrapped, base) {
		t.Fatalf("expected Unwrap to expose the base error to errors.Is")
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(New(Transient, "op", nil)) {
		t.Fatalf("expected Transient to be retryable")
	}
	if Retryable(New(RateLimited, "op", nil)) {
		t.Fatalf("expected RateLimited to not be retryable")
	}
	if Retryable(errors.New("plain")) {
		t.Fatalf("expected plain errors to not be retryable")
	}
}
