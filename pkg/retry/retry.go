// Package retry runs an operation with bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration // wait before the 2nd attempt; doubles after each failure
}

// DefaultPolicy makes 3 attempts, waiting 1s then 2s.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second}
}

// Delays lists the waits between attempts under p.
func (p Policy) Delays() []time.Duration {
	if p.MaxAttempts <= 1 {
		return nil
	}
	out := make([]time.Duration, p.MaxAttempts-1)
	d := p.BaseDelay
	for i := range out {
		out[i] = d
		d *= 2
	}
	return out
}

// Notify is told about each failed attempt that will be retried.
type Notify func(attempt int, err error, next time.Duration)

// Do calls op until it succeeds, returns an error retryable rejects, or
// MaxAttempts is reached. The error from the last attempt is returned as is.
func Do[T any](ctx context.Context, p Policy, retryable func(error) bool, op func(context.Context) (T, error), notify Notify) (T, error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.BaseDelay << uint(p.MaxAttempts)

	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(func(err error, next time.Duration) {
			notify(attempt, err, next)
		}))
	}

	return backoff.Retry(ctx, operation, opts...)
}
