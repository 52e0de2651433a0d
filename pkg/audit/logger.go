package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenancy/pkg/contextkeys"
)

// Logger is the interface for audit sinks
type Logger interface {
	// Log writes event. Implementations may fill in ID and OccurredAt.
	Log(ctx context.Context, event *Event) error

	// Close flushes and releases the sink
	Close() error
}

// NewEvent builds an event stamped with the ids carried by ctx and, when r
// is not nil, the client address and user agent
func NewEvent(ctx context.Context, r *http.Request, eventType EventType, status Status) *Event {
	event := &Event{
		ID:         uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Type:       eventType,
		Status:     status,
		UserID:     contextkeys.GetUserID(ctx),
		SessionID:  contextkeys.GetSessionID(ctx),
		RequestID:  contextkeys.GetRequestID(ctx),
	}
	if r != nil {
		event.IPAddress = clientIP(r)
		event.UserAgent = r.UserAgent()
	}
	return event
}

// WithError records err as a failed outcome
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.ErrorMessage = err.Error()
	}
	return e
}

// clientIP extracts the client IP from the request
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// NopLogger discards events
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, event *Event) error { return nil }

func (NopLogger) Close() error { return nil }
