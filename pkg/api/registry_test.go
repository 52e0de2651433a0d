package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/identity"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

func newTestRegistry(t *testing.T, opts ...RegistryOption) *SessionRegistry {
	t.Helper()
	env := newTestEnv(t)
	r := NewSessionRegistry(env.registry.factory, opts...)
	t.Cleanup(r.Close)
	return r
}

func TestSessionRegistry_CreateGetRemove(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	r := newTestRegistry(t, WithRegistryMetrics(metrics))

	id, facade, err := r.Create()
	require.NoError(t, err)
	require.NotNil(t, facade)
	assert.Len(t, id, 36)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ActiveSessions))

	got, ok := r.Get(id)
	require.True(t, ok)
	assert.Same(t, facade, got)
	assert.Empty(t, r.SessionUser(id), "no user before sign-in")

	_, ok = r.Get("unknown")
	assert.False(t, ok)
	assert.Empty(t, r.SessionUser("unknown"))

	r.Remove(id)
	r.Remove(id)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.ActiveSessions))

	_, err = facade.AccessToken(context.Background())
	assert.Error(t, err, "removed sessions are closed")
}

func TestSessionRegistry_SessionUser(t *testing.T) {
	env := newTestEnv(t)
	sessionID, userID := env.signUp(t, "user@example.com")

	assert.Equal(t, userID, env.registry.SessionUser(sessionID))
}

func TestSessionRegistry_FactoryError(t *testing.T) {
	r := NewSessionRegistry(func() (*identity.Facade, error) {
		return nil, errors.New("store unavailable")
	})

	_, _, err := r.Create()
	assert.Error(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestSessionRegistry_ReapIdle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := newTestRegistry(t, WithRegistryClock(clock), WithIdleTimeout(time.Hour))

	active, _, err := r.Create()
	require.NoError(t, err)
	_, _, err = r.Create()
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	_, ok := r.Get(active)
	require.True(t, ok)

	clock.Advance(40 * time.Minute)
	assert.Equal(t, 1, r.ReapIdle())
	assert.Equal(t, 1, r.Len())

	_, ok = r.Get(active)
	assert.True(t, ok, "recently used session survives")
}

func TestSessionRegistry_ReapDisabled(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := newTestRegistry(t, WithRegistryClock(clock))

	_, _, err := r.Create()
	require.NoError(t, err)
	clock.Advance(365 * 24 * time.Hour)

	assert.Equal(t, 0, r.ReapIdle())
	assert.Equal(t, 1, r.Len())
}

func TestSessionRegistry_StartReaper(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := newTestRegistry(t, WithRegistryClock(clock), WithIdleTimeout(time.Hour))

	_, _, err := r.Create()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := r.StartReaper(ctx, time.Minute)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(2 * time.Hour)

	assert.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
