package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShutdownManager_DefaultTimeout(t *testing.T) {
	sm := NewShutdownManager(nil, 0)
	assert.Equal(t, DefaultShutdownTimeout, sm.timeout)
}

func TestShutdownManager_Shutdown(t *testing.T) {
	t.Run("runs stages in reverse order", func(t *testing.T) {
		sm := NewShutdownManager(nil, time.Second)
		var order []string
		for _, name := range []string{"tracing", "database", "sessions"} {
			name := name
			sm.OnShutdown(name, func(context.Context) error {
				order = append(order, name)
				return nil
			})
		}

		require.NoError(t, sm.Shutdown())
		assert.Equal(t, []string{"sessions", "database", "tracing"}, order)
	})

	t.Run("keeps going after a failure", func(t *testing.T) {
		logger, hook := test.NewNullLogger()
		sm := NewShutdownManager(logrus.NewEntry(logger), time.Second)
		var tracingStopped atomic.Bool
		sm.OnShutdown("tracing", func(context.Context) error {
			tracingStopped.Store(true)
			return nil
		})
		sm.OnShutdown("audit", func(context.Context) error { return errors.New("flush failed") })

		err := sm.Shutdown()
		require.Error(t, err)
		assert.EqualError(t, err, "audit: flush failed")
		assert.True(t, tracingStopped.Load())
		assert.Equal(t, "audit", hook.Entries[0].Data["stage"])
	})

	t.Run("deadline skips remaining stages", func(t *testing.T) {
		sm := NewShutdownManager(nil, 20*time.Millisecond)
		var skipped atomic.Bool
		sm.OnShutdown("tracing", func(context.Context) error {
			skipped.Store(true)
			return nil
		})
		sm.OnShutdown("sessions", func(ctx context.Context) error {
			time.Sleep(time.Second)
			return nil
		})

		err := sm.Shutdown()
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, skipped.Load())
	})

	t.Run("runs once", func(t *testing.T) {
		sm := NewShutdownManager(nil, time.Second)
		var calls atomic.Int32
		sm.OnShutdown("database", func(context.Context) error {
			calls.Add(1)
			return nil
		})

		require.NoError(t, sm.Shutdown())
		require.NoError(t, sm.Shutdown())
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("http server registered last stops first", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		defer ts.Close()

		sm := NewShutdownManager(nil, time.Second)
		var serverDown atomic.Bool
		sm.OnShutdown("sessions", func(context.Context) error {
			_, err := http.Get(ts.URL)
			serverDown.Store(err != nil)
			return nil
		})
		sm.OnShutdown("http", ts.Config.Shutdown)

		require.NoError(t, sm.Shutdown())
		assert.True(t, serverDown.Load())
	})
}

func TestShutdownManager_WaitForShutdown(t *testing.T) {
	sm := NewShutdownManager(nil, time.Second)
	var called atomic.Bool
	sm.OnShutdown("database", func(context.Context) error {
		called.Store(true)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sm.WaitForShutdown(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
		assert.True(t, called.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForShutdown did not return")
	}
}
