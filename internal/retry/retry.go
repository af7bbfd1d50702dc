// Package retry implements the fixed-interval retry loop used for
// negotiation and local-service dials.
//
// The default policy waits the same interval between every attempt and
// never gives up; only a [Permanent] error or context cancellation ends
// the loop.  An attempt cap can be configured for callers that prefer to
// fail rather than wait forever.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultInterval is the wait between two attempts.
const DefaultInterval = time.Second

// ── Permanent errors ─────────────────────────────────────────────────

// PermanentError wraps an error to signal that retrying will not help.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.  The loop returns the inner
// error immediately without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err has been marked as permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ── Policy ───────────────────────────────────────────────────────────

// SleepFunc waits for d or until ctx is done, returning ctx.Err() in
// the latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy describes a retry loop with a constant delay.
type Policy struct {
	// Interval is the delay between attempts (default 1s).
	Interval time.Duration
	// MaxAttempts caps the total number of tries including the first.
	// Zero means unlimited.
	MaxAttempts int
	// Sleep replaces the wall-clock wait, mainly for tests.
	Sleep SleepFunc
	// OnRetry, when set, is called before each wait with the failed
	// attempt number and its error.
	OnRetry func(attempt int, err error)
}

// Fixed returns an unbounded policy that waits interval between tries.
func Fixed(interval time.Duration) *Policy {
	return &Policy{Interval: interval}
}

// Wait sleeps for one interval using the configured SleepFunc.
func (p *Policy) Wait(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	return sleep(ctx, interval)
}

// Do executes fn until it succeeds, returns a permanent error, the
// attempt budget is exhausted, or ctx is cancelled.  The attempt number
// passed to fn is 1-based.
func (p *Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return errors.Unwrap(err)
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return fmt.Errorf("max retries (%d) exceeded: %w", p.MaxAttempts, err)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if werr := p.Wait(ctx); werr != nil {
			return fmt.Errorf("retry cancelled: %w", werr)
		}
	}
}

// SleepContext sleeps for at most d, returning early if ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
