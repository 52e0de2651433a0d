package audit

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/contextkeys"
)

type recordingLogger struct {
	events []*Event
	err    error
	closed bool
}

func (r *recordingLogger) Log(ctx context.Context, event *Event) error {
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingLogger) Close() error {
	r.closed = true
	return r.err
}

func TestNewEvent(t *testing.T) {
	ctx := contextkeys.WithRequestID(context.Background(), "req-1")
	ctx = contextkeys.WithSessionID(ctx, "sess-1")
	ctx = contextkeys.WithUserID(ctx, "user-1")

	t.Run("with request", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/v1/auth/signin", nil)
		r.RemoteAddr = "192.0.2.1:5555"
		r.Header.Set("User-Agent", "test-agent")

		event := NewEvent(ctx, r, EventSignIn, StatusSuccess)
		assert.Len(t, event.ID, 36)
		assert.False(t, event.OccurredAt.IsZero())
		assert.Equal(t, EventSignIn, event.Type)
		assert.Equal(t, "req-1", event.RequestID)
		assert.Equal(t, "sess-1", event.SessionID)
		assert.Equal(t, "user-1", event.UserID)
		assert.Equal(t, "192.0.2.1", event.IPAddress)
		assert.Equal(t, "test-agent", event.UserAgent)
	})

	t.Run("forwarded address", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", nil)
		r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		assert.Equal(t, "203.0.113.7", NewEvent(ctx, r, EventSignIn, StatusSuccess).IPAddress)
	})

	t.Run("without request", func(t *testing.T) {
		event := NewEvent(context.Background(), nil, EventSessionExpired, StatusFailure).
			WithError(errors.New("refresh token revoked"))
		assert.Empty(t, event.IPAddress)
		assert.Empty(t, event.UserID)
		assert.Equal(t, "refresh token revoked", event.ErrorMessage)
	})
}

func TestMultiLogger(t *testing.T) {
	ok := &recordingLogger{}
	failing := &recordingLogger{err: errors.New("disk full")}
	m := NewMultiLogger(failing, ok)

	event := NewEvent(context.Background(), nil, EventSignOut, StatusSuccess)
	err := m.Log(context.Background(), event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, ok.events, 1, "a failing sink does not stop the others")
	assert.Len(t, failing.events, 1)

	assert.Error(t, m.Close())
	assert.True(t, ok.closed)
	assert.True(t, failing.closed)
}

func TestNopLogger(t *testing.T) {
	var l Logger = NopLogger{}
	assert.NoError(t, l.Log(context.Background(), &Event{}))
	assert.NoError(t, l.Close())
}
