package storage

import (
	"context"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how transient provider failures are retried. Connection
// and timeout failures get the full exponential schedule; generic upload and
// delete failures get one conservative extra try; every other kind surfaces
// immediately.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries for fully retriable kinds,
	// the first attempt included.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter is the randomization factor applied to each interval, 0 to 1.
	Jitter float64
}

// DefaultRetryPolicy returns the shipped retry tuning.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		Jitter:          0.5,
	}
}

// RetryContext tracks one logical operation across its retry schedule: how
// many attempts ran, the cumulative backoff delay, and the kind of the last
// failure. It lives only for the duration of the operation.
type RetryContext struct {
	Attempts int
	Delay    time.Duration
	LastKind Kind
}

// RetryNotify observes each scheduled retry before its backoff sleep.
type RetryNotify func(rc RetryContext, wait time.Duration, err error)

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = p.Jitter
	// Bounded by attempt count, not wall clock.
	b.MaxElapsedTime = 0
	return b
}

// budget returns the attempt ceiling for the failure kind, or 0 when the
// error must not be retried at all.
func (p RetryPolicy) budget(kind Kind) int {
	switch kind {
	case KindConnection, KindTimeout:
		return p.maxAttempts()
	case KindUpload, KindDelete:
		return 2
	default:
		return 0
	}
}

// Do runs fn under the policy, honoring ctx between attempts. The returned
// RetryContext reports what the schedule actually did; the error is the last
// failure once the budget for its kind is spent.
func (p RetryPolicy) Do(ctx context.Context, notify RetryNotify, fn func(context.Context) error) (RetryContext, error) {
	var rc RetryContext

	attempt := func() error {
		rc.Attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		rc.LastKind = KindOf(err)
		if rc.Attempts >= p.budget(rc.LastKind) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(p.newBackOff(), ctx)
	err := backoff.RetryNotify(attempt, b, func(err error, wait time.Duration) {
		rc.Delay += wait
		if notify != nil {
			notify(rc, wait, err)
		}
	})
	return rc, err
}
