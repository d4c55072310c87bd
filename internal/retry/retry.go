// Package retry implements a small Io retry policy: two retries with
// fixed backoff (50ms, 200ms) before an Io failure surfaces to the
// caller.
package retry

import (
	"time"

	"github.com/mindcache/mindcache/internal/errs"
)

// Delays is the fixed backoff schedule.
var Delays = []time.Duration{50 * time.Millisecond, 200 * time.Millisecond}

// IoWithBackoff runs fn, and if it fails with an Io-kind error, retries it
// once per entry in Delays before giving up and returning the last error.
// Non-Io errors are returned immediately without retrying.
func IoWithBackoff(fn func() error) error {
	err := fn()
	if err == nil || errs.KindOf(err) != errs.Io {
		return err
	}
	for _, d := range Delays {
		time.Sleep(d)
		err = fn()
		if err == nil || errs.KindOf(err) != errs.Io {
			return err
		}
	}
	return err
}
