package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenancy/pkg/async"
	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/contextkeys"
	"github.com/platinummonkey/tenancy/pkg/identity"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

// FacadeFactory builds the identity facade of a new session
type FacadeFactory func() (*identity.Facade, error)

// RegistryOption configures a SessionRegistry
type RegistryOption func(*SessionRegistry)

// WithRegistryClock sets the clock used for idle tracking
func WithRegistryClock(clock clockwork.Clock) RegistryOption {
	return func(r *SessionRegistry) { r.clock = clock }
}

// WithIdleTimeout closes sessions unused for d. Zero keeps them forever.
func WithIdleTimeout(d time.Duration) RegistryOption {
	return func(r *SessionRegistry) { r.idleTimeout = d }
}

// WithRegistryLogger sets the logger
func WithRegistryLogger(log *logrus.Entry) RegistryOption {
	return func(r *SessionRegistry) { r.log = log }
}

// WithRegistryMetrics reports the live session count
func WithRegistryMetrics(metrics *observability.Metrics) RegistryOption {
	return func(r *SessionRegistry) { r.metrics = metrics }
}

// WithRegistryAudit records session expiry in the audit trail
func WithRegistryAudit(logger audit.Logger) RegistryOption {
	return func(r *SessionRegistry) { r.audit = logger }
}

type sessionEntry struct {
	facade      *identity.Facade
	lastSeen    time.Time
	unsubscribe func()
}

// SessionRegistry holds one identity facade per session id. A session lives
// from its first sign-in or sign-up until sign-out, idle reaping, or Close.
type SessionRegistry struct {
	factory     FacadeFactory
	clock       clockwork.Clock
	idleTimeout time.Duration
	log         *logrus.Entry
	metrics     *observability.Metrics
	audit       audit.Logger

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// NewSessionRegistry creates an empty registry
func NewSessionRegistry(factory FacadeFactory, opts ...RegistryOption) *SessionRegistry {
	r := &SessionRegistry{
		factory:  factory,
		clock:    clockwork.NewRealClock(),
		sessions: make(map[string]*sessionEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = observability.NewNopLogger()
	}
	if r.audit == nil {
		r.audit = audit.NopLogger{}
	}
	return r
}

// Create starts a new session and returns its id
func (r *SessionRegistry) Create() (string, *identity.Facade, error) {
	facade, err := r.factory()
	if err != nil {
		return "", nil, err
	}

	id := uuid.NewString()
	log := r.log.WithField("session_id", id)
	entry := &sessionEntry{
		facade:   facade,
		lastSeen: r.clock.Now(),
		unsubscribe: facade.OnAccountChange(func(accountID string) {
			log.WithField("account_id", accountID).Info("Session account changed")
		}),
	}
	facade.OnSessionExpired(func(err error) {
		log.WithError(err).Warn("Session expired")
		ctx := contextkeys.WithSessionID(context.Background(), id)
		if auditErr := r.audit.Log(ctx, audit.NewEvent(ctx, nil, audit.EventSessionExpired, audit.StatusFailure).WithError(err)); auditErr != nil {
			log.WithError(auditErr).Warn("Failed to write audit event")
		}
	})

	r.mu.Lock()
	r.sessions[id] = entry
	n := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SetActiveSessions(n)
	log.Debug("Session created")
	return id, facade, nil
}

// Get returns the facade of a live session and marks it used
func (r *SessionRegistry) Get(id string) (*identity.Facade, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	entry.lastSeen = r.clock.Now()
	return entry.facade, true
}

// SessionUser returns the signed-in user id of a session, or ""
func (r *SessionRegistry) SessionUser(id string) string {
	r.mu.Lock()
	entry, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return ""
	}
	if u := entry.facade.User(); u != nil {
		return u.ID
	}
	return ""
}

// Remove closes and forgets a session. Unknown ids are ignored.
func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	entry, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return
	}
	r.closeEntry(entry)
	r.metrics.SetActiveSessions(n)
	r.log.WithField("session_id", id).Debug("Session removed")
}

// Len returns the number of live sessions
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ReapIdle closes sessions unused for longer than the idle timeout and
// returns how many it closed
func (r *SessionRegistry) ReapIdle() int {
	if r.idleTimeout <= 0 {
		return 0
	}

	cutoff := r.clock.Now().Add(-r.idleTimeout)
	var idle []*sessionEntry

	r.mu.Lock()
	for id, entry := range r.sessions {
		if entry.lastSeen.Before(cutoff) {
			idle = append(idle, entry)
			delete(r.sessions, id)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	for _, entry := range idle {
		r.closeEntry(entry)
	}
	if len(idle) > 0 {
		r.metrics.SetActiveSessions(n)
		r.log.WithField("count", len(idle)).Info("Reaped idle sessions")
	}
	return len(idle)
}

// StartReaper runs ReapIdle every interval until ctx is done. The returned
// channel closes when the reaper has stopped.
func (r *SessionRegistry) StartReaper(ctx context.Context, interval time.Duration) <-chan struct{} {
	return async.SafeGoNoError(ctx, 0, "api.session_reaper", r.log, func(ctx context.Context) {
		ticker := r.clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				r.ReapIdle()
			case <-ctx.Done():
				return
			}
		}
	})
}

// Close closes every session
func (r *SessionRegistry) Close() {
	r.mu.Lock()
	entries := make([]*sessionEntry, 0, len(r.sessions))
	for id, entry := range r.sessions {
		entries = append(entries, entry)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, entry := range entries {
		r.closeEntry(entry)
	}
	r.metrics.SetActiveSessions(0)
}

func (r *SessionRegistry) closeEntry(entry *sessionEntry) {
	entry.unsubscribe()
	entry.facade.Close()
}
