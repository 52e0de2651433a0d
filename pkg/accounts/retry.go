package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrNotReady reports that an operation found nothing yet and may succeed
// on a later attempt. Any other error ends the retry loop immediately.
var ErrNotReady = errors.New("not ready")

// DefaultRetryDelay is the wait before the single membership re-query
const DefaultRetryDelay = time.Second

// RetryPolicy bounds how often and how fast an operation is retried
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first one
	MaxRetries int
	// Delay is the wait before the first retry
	Delay time.Duration
	// Exponential doubles the delay on each further retry, up to MaxDelay
	Exponential bool
	MaxDelay    time.Duration
}

// DefaultRetryPolicy retries once after DefaultRetryDelay
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 1, Delay: DefaultRetryDelay}
}

func (p RetryPolicy) newBackOff() backoff.BackOff {
	if !p.Exponential {
		return backoff.NewConstantBackOff(p.Delay)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Delay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval < p.Delay {
		b.MaxInterval = p.Delay
	}
	return b
}

// Retry runs op until it succeeds, fails with an error other than
// ErrNotReady, or runs out of retries. Running out of retries returns
// ErrNotReady. notify, when set, is called before each wait.
func Retry[T any](ctx context.Context, p RetryPolicy, op func(context.Context) (T, error), notify func(attempt int, wait time.Duration)) (T, error) {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}

	attempt := 0
	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxTries(uint(p.MaxRetries + 1)),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			attempt++
			notify(attempt, wait)
		}))
	}

	return backoff.Retry(ctx, func() (T, error) {
		res, err := op(ctx)
		if err != nil && !errors.Is(err, ErrNotReady) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}, opts...)
}
