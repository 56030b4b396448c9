// Package retry runs an operation under a bounded attempt policy.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Policy struct {
	MaxAttempts int
	// Backoff returns the delay after the given failed attempt (1-based).
	Backoff func(attempt int) time.Duration
}

// Fixed returns a backoff that always waits d.
func Fixed(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Once is a policy that never retries.
var Once = Policy{MaxAttempts: 1}

// Error is returned when every attempt failed.
type Error struct {
	Name     string
	Attempts int
	Last     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Name, e.Attempts, e.Last)
}

func (e *Error) Unwrap() error { return e.Last }

// attemptBackOff adapts a per-attempt delay function to backoff.BackOff.
type attemptBackOff struct {
	delay   func(int) time.Duration
	attempt int
}

func (b *attemptBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.delay(b.attempt)
}

func (b *attemptBackOff) Reset() { b.attempt = 0 }

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.Backoff != nil {
		b = &attemptBackOff{delay: p.Backoff}
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do runs op until it succeeds or the attempts are used up. Cancelling ctx
// aborts the wait between attempts and returns the last error seen.
func (p Policy) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var (
		attempts int
		last     error
	)
	err := backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		last = op(ctx)
		return last
	}, p.backOff(ctx))
	if err == nil {
		return nil
	}
	if last == nil {
		last = err
	}
	return &Error{Name: name, Attempts: attempts, Last: last}
}
