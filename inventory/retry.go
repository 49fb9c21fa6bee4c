package inventory

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the internal retries of an atomic operation.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is used when a zero policy is configured.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	BaseDelay:   10 * time.Millisecond,
	MaxDelay:    500 * time.Millisecond,
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryPolicy.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// newBackOff is a deterministic exponential schedule: BaseDelay doubling up
// to MaxDelay, never giving up on elapsed time (Do counts attempts).
func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Backoff returns the wait before attempt n+1 (n counts from 0).
func (p RetryPolicy) Backoff(n int) time.Duration {
	b := p.normalized().newBackOff()
	d := b.NextBackOff()
	for i := 0; i < n; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempt budget runs out. An exhausted budget yields a *TransientError.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(attempt int) error) error {
	p = p.normalized()
	b := p.newBackOff()
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err = fn(attempt)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return &TransientError{Op: op, Attempts: attempt + 1, Err: err}
		case <-timer.C:
		}
	}
	return &TransientError{Op: op, Attempts: p.MaxAttempts, Err: err}
}
