package scheduler

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"casewatch/internal/source"
)

// RetryPolicy bounds in-pass retries for one failure kind.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
}

// RetryTable maps failure kinds to their policy. Kinds absent from the table
// are permanent for the pass: one attempt, no retry.
type RetryTable map[source.Kind]RetryPolicy

// DefaultRetryTable retries network blips quickly and rate limiting slowly.
// Everything else (not-found, validation, captcha exhaustion, source
// outages) is not retried within a pass.
func DefaultRetryTable() RetryTable {
	return RetryTable{
		source.KindNetwork: {
			MaxAttempts: 3,
			Initial:     500 * time.Millisecond,
			Max:         5 * time.Second,
			Multiplier:  2,
		},
		source.KindRateLimited: {
			MaxAttempts: 3,
			Initial:     2 * time.Second,
			Max:         30 * time.Second,
			Multiplier:  2,
		},
	}
}

// retry runs op, retrying per the table based on the failure kind of each
// error. The policy is re-resolved per failure so a network error followed by
// a rate limit each consume their own budget; total attempts are still capped
// by the largest MaxAttempts involved.
func (t RetryTable) retry(ctx context.Context, op func() error) error {
	attempts := 0
	wrapped := func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		policy, ok := t[source.KindOf(err)]
		if !ok || attempts >= policy.MaxAttempts {
			return backoff.Permanent(err)
		}
		return err
	}

	// The per-error policies share one clock; seed it from the network
	// policy when present so transient retries start tight.
	seed := t[source.KindNetwork]
	if seed.Initial == 0 {
		seed = RetryPolicy{Initial: 500 * time.Millisecond, Max: 10 * time.Second, Multiplier: 2}
	}
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = seed.Initial
	expo.MaxInterval = seed.Max
	expo.Multiplier = seed.Multiplier
	expo.MaxElapsedTime = 0

	return backoff.Retry(wrapped, backoff.WithContext(expo, ctx))
}
