package retry

import (
	"testing"
	"time"

	"github.com/mindcache/mindcache/internal/errs"
)

func TestIoWithBackoffRetriesIoErrors(t *testing.T) {
	Delays = []time.Duration{0, 0} // skip real sleeping in tests

	attempts := 0
	err := IoWithBackoff(func() error {
		attempts++
		if attempts < 3 {
			return errs.IoErr("transient", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestIoWithBackoffGivesUpAfterSchedule(t *testing.T) {
	Delays = []time.Duration{0, 0}

	attempts := 0
	err := IoWithBackoff(func() error {
		attempts++
		return errs.IoErr("always fails", nil)
	})
	if errs.KindOf(err) != errs.Io {
		t.Fatalf("expected Io error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3 (1 + len(Delays))", attempts)
	}
}

func TestIoWithBackoffDoesNotRetryNonIoErrors(t *testing.T) {
	Delays = []time.Duration{0, 0}

	attempts := 0
	err := IoWithBackoff(func() error {
		attempts++
		return errs.Invalid("bad input")
	})
	if errs.KindOf(err) != errs.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry for non-Io)", attempts)
	}
}
