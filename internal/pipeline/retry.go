package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
)

// Retry is a bounded fixed-delay retry policy applied to one day's
// ingestion attempt.
type Retry struct {
	MaxAttempts int
	Delay       time.Duration
	Clock       clockwork.Clock
}

// permanentError marks a failure that more attempts cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps an error so Do returns it without further attempts.
func Permanent(err error) error {
	return &permanentError{err: err}
}

// Do runs fn until it succeeds, the attempt budget runs out, or the context
// is cancelled. The returned error is fn's last error, unwrapped from any
// Permanent marker.
func (r Retry) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return err
		}
		if attempt < r.MaxAttempts {
			select {
			case <-ctx.Done():
				return err
			case <-r.Clock.After(r.Delay):
			}
		}
	}
	return err
}
