// Package retry runs an operation a bounded number of times with a fixed
// pause between attempts.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy is a bounded retry with a constant delay.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Attempt is one try. attempt starts at 0 and increases on each retry, so
// callers can derive a fresh seed per attempt.
type Attempt[T any] func(ctx context.Context, attempt int) (T, error)

// Do runs fn until it succeeds, returns a Permanent error, or MaxAttempts
// tries have failed. The last error is returned.
func Do[T any](ctx context.Context, p Policy, fn Attempt[T]) (T, error) {
	tries := p.MaxAttempts
	if tries < 1 {
		tries = 1
	}
	attempt := 0
	op := func() (T, error) {
		n := attempt
		attempt++
		return fn(ctx, n)
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Delay)),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithMaxElapsedTime(0),
	)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
