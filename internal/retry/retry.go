// Package retry wraps fallible calls with bounded exponential backoff and a
// per-target circuit breaker consulted before every attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/HatmanStack/plot-palette-sub000/internal/breaker"
)

// ErrCircuitOpen is returned without attempting the call when the target's
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// TransientError marks an error as a retryable infrastructure condition
// (throttling, service unavailable, timeout).
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string { return e.Cause.Error() }
func (e *TransientError) Unwrap() error { return e.Cause }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Cause: err}
}

// IsTransient reports whether err should be retried. Context deadline
// expiry counts as a timeout; context cancellation does not.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

type Policy struct {
	// MaxRetries is the number of re-attempts after the first call.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// BackoffBase is the exponential growth factor between attempts.
	BackoffBase float64

	// sleep is injectable for tests; nil means a context-aware sleep.
	sleep func(context.Context, time.Duration) error
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 60 * time.Second
	}
	if p.BackoffBase <= 1 {
		p.BackoffBase = 2
	}
	if p.sleep == nil {
		p.sleep = sleepCtx
	}
	return p
}

// Delay returns the backoff before retry number attempt (0-based):
// min(base * backoffBase^attempt, max).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.BackoffBase, float64(attempt)))
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	return d
}

// Do runs op, retrying transient errors up to MaxRetries times. br may be nil
// when the call has no circuit breaker; otherwise CanExecute gates every
// attempt and every outcome is recorded with the breaker.
func Do(ctx context.Context, p Policy, br *breaker.Breaker, op func(context.Context) error) error {
	p = p.withDefaults()

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if br != nil && !br.CanExecute() {
			return fmt.Errorf("%w (attempt %d)", ErrCircuitOpen, attempt)
		}

		err := op(ctx)
		if err == nil {
			if br != nil {
				br.RecordSuccess()
			}
			return nil
		}
		if br != nil {
			br.RecordFailure()
		}
		if !IsTransient(err) {
			return err
		}

		lastErr = err
		if attempt == p.MaxRetries {
			break
		}
		if err := p.sleep(ctx, p.Delay(attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", p.MaxRetries+1, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
