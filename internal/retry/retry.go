// Package retry centralizes the reconnect/retry policy used by the stream
// client, the candle fetcher and the trigger recorder, instead of ad-hoc
// backoff loops at every call site.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes one exponential backoff schedule with jitter.
// MaxAttempts 0 means retry forever (until the context is cancelled).
type Policy struct {
	Base        time.Duration
	Cap         time.Duration
	Jitter      float64 // randomization factor, e.g. 0.25 for ±25%
	MaxAttempts uint64
}

// Reconnect is the upstream WebSocket policy: 1s base, 30s cap, ±25% jitter,
// unlimited attempts.
func Reconnect() Policy {
	return Policy{Base: time.Second, Cap: 30 * time.Second, Jitter: 0.25}
}

// Write is the durable-write policy: 3 attempts with short backoff.
func Write() Policy {
	return Policy{Base: 100 * time.Millisecond, Cap: 2 * time.Second, Jitter: 0.25, MaxAttempts: 3}
}

// backoffFor builds the backoff.BackOff for one retry session.
func (p Policy) backoffFor(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Base
	eb.MaxInterval = p.Cap
	eb.RandomizationFactor = p.Jitter
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0 // attempts are bounded by MaxAttempts, not wall time
	eb.Reset()

	var b backoff.BackOff = eb
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, p.MaxAttempts-1)
	}
	return backoff.WithContext(b, ctx)
}

// Do runs fn under the policy until it succeeds, attempts are exhausted, or
// ctx is cancelled.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	return backoff.Retry(fn, p.backoffFor(ctx))
}

// Notify behaves like Do and additionally calls onRetry with the error and
// the upcoming wait before each sleep.
func (p Policy) Notify(ctx context.Context, fn func() error, onRetry func(err error, next time.Duration)) error {
	return backoff.RetryNotify(fn, p.backoffFor(ctx), onRetry)
}
