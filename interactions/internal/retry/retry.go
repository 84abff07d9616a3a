// Package retry provides an explicit retry policy — attempts, backoff,
// terminal-error predicate — independent of any scheduler or task runtime, so
// retry behaviour is unit-testable without a live queue.
package retry

import (
	"context"
	"log/slog"
	"time"
)

// Policy describes bounded exponential backoff.
type Policy struct {
	// MaxAttempts is the total number of tries (first call included).
	// Values below 1 mean 1.
	MaxAttempts int
	// BaseDelay is the wait after the first failure, doubled each attempt.
	BaseDelay time.Duration
	// MaxDelay caps the backoff. Zero means uncapped.
	MaxDelay time.Duration
	// Terminal reports errors that retrying cannot fix (e.g. rejected
	// credentials). A terminal error returns immediately.
	Terminal func(error) bool
	// Logger logs retry attempts. Nil means silent.
	Logger *slog.Logger
}

// Delay returns the backoff before retry attempt n (0-based failure count).
func (p Policy) Delay(n int) time.Duration {
	d := p.BaseDelay * (1 << uint(n))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, exhausts MaxAttempts, hits a terminal error,
// or ctx is cancelled. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if p.Terminal != nil && p.Terminal(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		wait := p.Delay(attempt)
		if p.Logger != nil {
			p.Logger.WarnContext(ctx, "retrying",
				"attempt", attempt+1,
				"max_attempts", attempts,
				"backoff_ms", wait.Milliseconds(),
				"error", lastErr)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return lastErr
		case <-t.C:
		}
	}
	return lastErr
}
