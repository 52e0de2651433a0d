package auth

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/tenancy/pkg/observability"
)

const (
	// DefaultSafetyBuffer is how long before expiry a refresh is scheduled
	DefaultSafetyBuffer = 5 * time.Minute
	// DefaultMinDelay is the shortest delay a refresh is ever scheduled with
	DefaultMinDelay = 10 * time.Second
	// DefaultRefreshTimeout bounds a single refresh call
	DefaultRefreshTimeout = 30 * time.Second
)

// errSessionReplaced marks a refresh whose session was replaced while it ran
var errSessionReplaced = errors.New("session replaced during refresh")

// SchedulerState is the TokenScheduler lifecycle state
type SchedulerState int

const (
	StateIdle SchedulerState = iota
	StateScheduled
	StateRefreshing
	StateExpired
)

func (s SchedulerState) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateRefreshing:
		return "refreshing"
	case StateExpired:
		return "expired"
	default:
		return "idle"
	}
}

// SchedulerOption configures a TokenScheduler
type SchedulerOption func(*TokenScheduler)

// WithSchedulerClock sets the clock used for timers
func WithSchedulerClock(clock clockwork.Clock) SchedulerOption {
	return func(s *TokenScheduler) { s.clock = clock }
}

// WithSafetyBuffer sets how long before expiry the refresh fires
func WithSafetyBuffer(d time.Duration) SchedulerOption {
	return func(s *TokenScheduler) { s.safetyBuffer = d }
}

// WithMinDelay sets the minimum refresh delay
func WithMinDelay(d time.Duration) SchedulerOption {
	return func(s *TokenScheduler) { s.minDelay = d }
}

// WithRefreshTimeout bounds each refresh call
func WithRefreshTimeout(d time.Duration) SchedulerOption {
	return func(s *TokenScheduler) { s.refreshTimeout = d }
}

// WithSchedulerLogger sets the logger
func WithSchedulerLogger(log *logrus.Entry) SchedulerOption {
	return func(s *TokenScheduler) { s.log = log }
}

// WithSchedulerMetrics records refresh outcomes
func WithSchedulerMetrics(metrics *observability.Metrics) SchedulerOption {
	return func(s *TokenScheduler) { s.metrics = metrics }
}

// TokenScheduler holds the current session and refreshes its access token a
// safety buffer before it expires. It is pull-based: callers ask for the
// token with AccessToken and are told about terminal events through OnExpire
// and OnUserChange. It never pushes state anywhere else.
//
// State machine: Idle -> Scheduled -> Refreshing -> Scheduled (success) or
// Refreshing -> Expired (failure).
type TokenScheduler struct {
	refresher      Refresher
	clock          clockwork.Clock
	safetyBuffer   time.Duration
	minDelay       time.Duration
	refreshTimeout time.Duration
	log            *logrus.Entry
	metrics        *observability.Metrics

	mu      sync.Mutex
	session *Session
	// generation identifies the current session; it changes on every
	// replacement so late refresh results can be recognised and dropped.
	generation   uint64
	timer        clockwork.Timer
	state        SchedulerState
	expiredFired bool
	disposed     bool
	onExpire     []func(error)
	onUserChange []func(*User)

	refreshes singleflight.Group
}

// NewTokenScheduler creates an idle scheduler. Call Dispose when done.
func NewTokenScheduler(refresher Refresher, opts ...SchedulerOption) *TokenScheduler {
	s := &TokenScheduler{
		refresher:      refresher,
		clock:          clockwork.NewRealClock(),
		safetyBuffer:   DefaultSafetyBuffer,
		minDelay:       DefaultMinDelay,
		refreshTimeout: DefaultRefreshTimeout,
		state:          StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = observability.NewNopLogger()
	}
	return s
}

// OnExpire registers a callback invoked once when a silent refresh fails
func (s *TokenScheduler) OnExpire(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpire = append(s.onExpire, fn)
}

// OnUserChange registers a callback invoked when a refresh returns a
// session for a different user than the one it replaced. Sessions
// installed with UpdateSession never trigger it.
func (s *TokenScheduler) OnUserChange(fn func(*User)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUserChange = append(s.onUserChange, fn)
}

// State returns the current lifecycle state
func (s *TokenScheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Session returns the current session, or nil
func (s *TokenScheduler) Session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// UpdateSession replaces the session and reschedules the refresh; nil
// cancels any pending refresh. A refresh in flight for the previous session
// is ignored when it completes.
func (s *TokenScheduler) UpdateSession(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return
	}

	s.stopTimerLocked()
	s.session = session
	s.generation++
	s.expiredFired = false

	if session == nil {
		s.state = StateIdle
		return
	}
	s.scheduleLocked()
}

// AccessToken returns the current access token, refreshing first when the
// held token is no longer valid. Returns ErrNoSession without a session.
func (s *TokenScheduler) AccessToken(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		s.mu.Lock()
		if s.disposed {
			s.mu.Unlock()
			return "", ErrSchedulerDisposed
		}
		if s.session == nil {
			s.mu.Unlock()
			return "", ErrNoSession
		}
		if s.session.Valid(s.clock.Now()) {
			token := s.session.AccessToken
			s.mu.Unlock()
			return token, nil
		}
		generation := s.generation
		s.mu.Unlock()

		next, err := s.refresh(ctx, generation)
		if err == nil {
			return next.AccessToken, nil
		}
		if !errors.Is(err, errSessionReplaced) {
			return "", err
		}
	}
	return "", ErrNoSession
}

// Dispose cancels the pending timer and detaches all callbacks. Refreshes
// still in flight complete without effect.
func (s *TokenScheduler) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopTimerLocked()
	s.disposed = true
	s.session = nil
	s.generation++
	s.state = StateIdle
	s.onExpire = nil
	s.onUserChange = nil
}

// refreshDelayLocked computes max(expiresAt - now - buffer, minDelay)
func (s *TokenScheduler) refreshDelayLocked() time.Duration {
	delay := s.session.ExpiresAt.Sub(s.clock.Now()) - s.safetyBuffer
	if delay < s.minDelay {
		delay = s.minDelay
	}
	return delay
}

func (s *TokenScheduler) scheduleLocked() {
	delay := s.refreshDelayLocked()
	generation := s.generation
	s.timer = s.clock.AfterFunc(delay, func() {
		_, _ = s.refresh(context.Background(), generation)
	})
	s.state = StateScheduled
	s.log.WithField("delay", delay.String()).Debug("access token refresh scheduled")
}

func (s *TokenScheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// refresh runs at most one refresh per session generation at a time
func (s *TokenScheduler) refresh(ctx context.Context, generation uint64) (*Session, error) {
	v, err, _ := s.refreshes.Do(strconv.FormatUint(generation, 10), func() (interface{}, error) {
		return s.doRefresh(ctx, generation)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (s *TokenScheduler) doRefresh(ctx context.Context, generation uint64) (*Session, error) {
	s.mu.Lock()
	if s.disposed || s.session == nil || generation != s.generation {
		s.mu.Unlock()
		return nil, errSessionReplaced
	}
	current := s.session
	s.stopTimerLocked()
	s.state = StateRefreshing
	s.mu.Unlock()

	refreshCtx, cancel := context.WithTimeout(ctx, s.refreshTimeout)
	next, err := s.refresher.Refresh(refreshCtx, current)
	cancel()
	if err == nil && next == nil {
		err = ErrInvalidRefreshToken
	}

	s.mu.Lock()
	if s.disposed || generation != s.generation {
		s.mu.Unlock()
		s.log.Debug("discarding refresh result for a replaced session")
		return nil, errSessionReplaced
	}

	if err != nil {
		s.state = StateExpired
		fire := !s.expiredFired
		s.expiredFired = true
		callbacks := append([]func(error){}, s.onExpire...)
		s.mu.Unlock()

		refreshErr := &RefreshError{Err: err}
		s.metrics.RecordTokenRefresh("failure")
		s.log.WithError(err).WithField("user_id", current.UserID()).Error("silent token refresh failed")
		if fire {
			for _, cb := range callbacks {
				cb(refreshErr)
			}
		}
		return nil, refreshErr
	}

	s.session = next
	s.generation++
	s.scheduleLocked()
	userChanged := next.UserID() != current.UserID()
	callbacks := append([]func(*User){}, s.onUserChange...)
	s.mu.Unlock()

	s.metrics.RecordTokenRefresh("success")
	s.log.WithField("user_id", next.UserID()).Debug("access token refreshed")
	if userChanged {
		for _, cb := range callbacks {
			cb(next.User)
		}
	}
	return next, nil
}
