package accounts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 1, Delay: 10 * time.Millisecond}

	t.Run("success on first attempt", func(t *testing.T) {
		calls := 0
		v, err := Retry(context.Background(), policy, func(ctx context.Context) (int, error) {
			calls++
			return 42, nil
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, 42, v)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries exactly once then reports not ready", func(t *testing.T) {
		calls := 0
		var waits []time.Duration
		start := time.Now()
		_, err := Retry(context.Background(), policy, func(ctx context.Context) (int, error) {
			calls++
			return 0, ErrNotReady
		}, func(attempt int, wait time.Duration) {
			waits = append(waits, wait)
		})
		assert.ErrorIs(t, err, ErrNotReady)
		assert.Equal(t, 2, calls)
		assert.Equal(t, []time.Duration{10 * time.Millisecond}, waits)
		assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	})

	t.Run("succeeds on retry", func(t *testing.T) {
		calls := 0
		v, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
			calls++
			if calls == 1 {
				return "", ErrNotReady
			}
			return "ready", nil
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "ready", v)
		assert.Equal(t, 2, calls)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		boom := errors.New("connection refused")
		calls := 0
		_, err := Retry(context.Background(), policy, func(ctx context.Context) (int, error) {
			calls++
			return 0, boom
		}, nil)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("zero retries", func(t *testing.T) {
		calls := 0
		_, err := Retry(context.Background(), RetryPolicy{}, func(ctx context.Context) (int, error) {
			calls++
			return 0, ErrNotReady
		}, nil)
		assert.ErrorIs(t, err, ErrNotReady)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context stops the wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		long := RetryPolicy{MaxRetries: 1, Delay: time.Hour}
		done := make(chan error, 1)
		go func() {
			_, err := Retry(ctx, long, func(ctx context.Context) (int, error) {
				return 0, ErrNotReady
			}, nil)
			done <- err
		}()

		cancel()
		select {
		case err := <-done:
			assert.Error(t, err)
		case <-time.After(time.Second):
			t.Fatal("Retry did not return after cancellation")
		}
	})
}

func TestRetryPolicy_Exponential(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, Delay: time.Millisecond, Exponential: true, MaxDelay: 3 * time.Millisecond}

	var waits []time.Duration
	_, err := Retry(context.Background(), policy, func(ctx context.Context) (int, error) {
		return 0, ErrNotReady
	}, func(attempt int, wait time.Duration) {
		waits = append(waits, wait)
	})
	assert.ErrorIs(t, err, ErrNotReady)
	require.Len(t, waits, 3)
	for i, w := range waits {
		assert.LessOrEqual(t, w, 3*time.Millisecond)
		if i > 0 {
			assert.GreaterOrEqual(t, w, waits[i-1])
		}
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 1, p.MaxRetries)
	assert.Equal(t, time.Second, p.Delay)
	assert.False(t, p.Exponential)
}
