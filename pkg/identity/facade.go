package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/tenancy/pkg/accounts"
	"github.com/platinummonkey/tenancy/pkg/async"
	"github.com/platinummonkey/tenancy/pkg/auth"
	"github.com/platinummonkey/tenancy/pkg/cache"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

// ErrClosed is returned by mutators after Close
var ErrClosed = errors.New("identity: facade closed")

const (
	// facadeCacheSize bounds each per-session cache; a session only ever
	// touches a handful of accounts
	facadeCacheSize = 64
	// backgroundReloadTimeout bounds reloads not tied to a caller
	backgroundReloadTimeout = time.Minute
)

// CacheTTLs are the staleness windows of the cached resource classes
type CacheTTLs struct {
	Account      time.Duration `yaml:"account"`
	Business     time.Duration `yaml:"business"`
	Admin        time.Duration `yaml:"admin"`
	Subscription time.Duration `yaml:"subscription"`
}

// DefaultCacheTTLs returns 2m for account and business data and 5m for the
// admin flag and subscription features
func DefaultCacheTTLs() CacheTTLs {
	return CacheTTLs{
		Account:      2 * time.Minute,
		Business:     2 * time.Minute,
		Admin:        5 * time.Minute,
		Subscription: 5 * time.Minute,
	}
}

// FacadeDeps are the collaborators a Facade composes
type FacadeDeps struct {
	Authenticator auth.Authenticator
	Resolver      *accounts.Resolver
	Store         accounts.Store
	Catalog       accounts.PlanCatalog
}

// FacadeOption configures a Facade
type FacadeOption func(*Facade)

// WithFacadeClock sets the clock shared by the caches and the token scheduler
func WithFacadeClock(clock clockwork.Clock) FacadeOption {
	return func(f *Facade) { f.clock = clock }
}

// WithFacadeLogger sets the logger
func WithFacadeLogger(log *logrus.Entry) FacadeOption {
	return func(f *Facade) { f.log = log }
}

// WithFacadeMetrics records cache, refresh and guard metrics
func WithFacadeMetrics(metrics *observability.Metrics) FacadeOption {
	return func(f *Facade) { f.metrics = metrics }
}

// WithCacheTTLs overrides the cache staleness windows
func WithCacheTTLs(ttls CacheTTLs) FacadeOption {
	return func(f *Facade) { f.ttls = ttls }
}

// WithSchedulerOptions passes options through to the token scheduler
func WithSchedulerOptions(opts ...auth.SchedulerOption) FacadeOption {
	return func(f *Facade) { f.schedulerOpts = append(f.schedulerOpts, opts...) }
}

// Loading reports which sub-resources are being fetched
type Loading struct {
	Account    bool `json:"account"`
	Businesses bool `json:"businesses"`
	Admin      bool `json:"admin"`
	Features   bool `json:"features"`
}

// Snapshot is a consistent read of a session's identity state
type Snapshot struct {
	User                    *auth.User           `json:"user"`
	IsAuthenticated         bool                 `json:"is_authenticated"`
	AccountID               string               `json:"account_id"`
	Account                 *accounts.Account    `json:"account"`
	Businesses              []*accounts.Business `json:"businesses"`
	Business                *accounts.Business   `json:"business"`
	IsAdmin                 bool                 `json:"is_admin"`
	PlanTier                string               `json:"plan_tier"`
	Limits                  accounts.PlanLimits  `json:"limits"`
	Subscription            Subscription         `json:"subscription"`
	HasBusiness             bool                 `json:"has_business"`
	RequiresBusinessProfile bool                 `json:"requires_business_profile"`
	Loading                 Loading              `json:"loading"`
	LastError               string               `json:"last_error,omitempty"`
}

// Facade is one session's identity: who is signed in, which account is
// active, and the tenant data derived from it. Every write of the active
// account id goes through its Guard.
type Facade struct {
	authn         auth.Authenticator
	resolver      *accounts.Resolver
	store         accounts.Store
	catalog       accounts.PlanCatalog
	clock         clockwork.Clock
	log           *logrus.Entry
	metrics       *observability.Metrics
	ttls          CacheTTLs
	schedulerOpts []auth.SchedulerOption

	scheduler     *auth.TokenScheduler
	guard         *Guard
	accountCache  *cache.TTLCache[*accounts.Account]
	businessCache *cache.TTLCache[[]*accounts.Business]
	adminCache    *cache.TTLCache[bool]
	featureCache  *cache.TTLCache[Features]

	mu         sync.RWMutex
	user       *auth.User
	account    *accounts.Account
	businesses []*accounts.Business
	isAdmin    bool
	features   Features
	loading    Loading
	lastErr    error
	// epoch changes whenever the user or active account changes; loads
	// started under an older epoch drop their results
	epoch     uint64
	closed    bool
	onExpired []func(error)
}

// NewFacade creates a signed-out facade. Call Close when the session ends.
func NewFacade(deps FacadeDeps, opts ...FacadeOption) (*Facade, error) {
	if deps.Authenticator == nil || deps.Resolver == nil || deps.Store == nil {
		return nil, fmt.Errorf("identity: authenticator, resolver and store are required")
	}
	if deps.Catalog == nil {
		deps.Catalog = accounts.DefaultPlanCatalog()
	}

	f := &Facade{
		authn:    deps.Authenticator,
		resolver: deps.Resolver,
		store:    deps.Store,
		catalog:  deps.Catalog,
		clock:    clockwork.NewRealClock(),
		ttls:     DefaultCacheTTLs(),
		features: DeriveFeatures(nil, nil, time.Time{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		f.log = observability.NewNopLogger()
	}

	cacheOpts := []cache.Option{
		cache.WithClock(f.clock),
		cache.WithSize(facadeCacheSize),
		cache.WithMetrics(f.metrics),
	}
	f.accountCache = cache.New[*accounts.Account]("account", f.ttls.Account, cacheOpts...)
	f.businessCache = cache.New[[]*accounts.Business]("business", f.ttls.Business, cacheOpts...)
	f.adminCache = cache.New[bool]("admin", f.ttls.Admin, cacheOpts...)
	f.featureCache = cache.New[Features]("subscription", f.ttls.Subscription, cacheOpts...)

	f.guard = NewGuard(f.log.WithField("component", "identity_guard"), f.metrics)

	schedulerOpts := append([]auth.SchedulerOption{
		auth.WithSchedulerClock(f.clock),
		auth.WithSchedulerLogger(f.log.WithField("component", "token_scheduler")),
		auth.WithSchedulerMetrics(f.metrics),
	}, f.schedulerOpts...)
	f.scheduler = auth.NewTokenScheduler(deps.Authenticator, schedulerOpts...)
	f.scheduler.OnExpire(f.handleExpired)
	f.scheduler.OnUserChange(f.handleUserChange)

	return f, nil
}

// Snapshot returns the current identity state
func (f *Facade) Snapshot() Snapshot {
	accountID := f.guard.AccountID()

	f.mu.RLock()
	defer f.mu.RUnlock()

	snap := Snapshot{
		User:            f.user,
		IsAuthenticated: f.user != nil,
		AccountID:       accountID,
		Account:         f.account,
		Businesses:      append([]*accounts.Business(nil), f.businesses...),
		IsAdmin:         f.isAdmin,
		PlanTier:        f.features.PlanTier,
		Limits:          f.features.Limits,
		Subscription:    f.features.Subscription,
		Loading:         f.loading,
	}
	if len(f.businesses) > 0 {
		snap.Business = f.businesses[0]
	}
	if f.lastErr != nil {
		snap.LastError = f.lastErr.Error()
	}
	snap.HasBusiness = snap.Business != nil
	snap.RequiresBusinessProfile = snap.IsAuthenticated && !snap.HasBusiness && !f.account.HasPaidPlan()
	return snap
}

// User returns the signed-in user, or nil
func (f *Facade) User() *auth.User {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.user
}

// AccountID returns the active account id, or ""
func (f *Facade) AccountID() string {
	return f.guard.AccountID()
}

// OnAccountChange registers fn for changes of the active account id
func (f *Facade) OnAccountChange(fn func(accountID string)) func() {
	return f.guard.Subscribe(fn)
}

// OnSessionExpired registers fn for forced sign-outs caused by a failed
// silent refresh
func (f *Facade) OnSessionExpired(fn func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onExpired = append(f.onExpired, fn)
}

// AccessToken returns a valid access token for the session, refreshing it
// first when needed
func (f *Facade) AccessToken(ctx context.Context) (string, error) {
	return f.scheduler.AccessToken(ctx)
}

// SignIn authenticates and resolves the user's active account. Resolution
// failures are reported through Snapshot().LastError, not returned.
func (f *Facade) SignIn(ctx context.Context, email, password string) error {
	if f.isClosed() {
		return ErrClosed
	}
	session, err := f.authn.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	f.startSession(ctx, session)
	return nil
}

// SignUp registers a user and signs them in. A new user's account may not be
// provisioned yet; resolution retries once before settling on no account.
func (f *Facade) SignUp(ctx context.Context, email, password string) error {
	if f.isClosed() {
		return ErrClosed
	}
	session, err := f.authn.SignUp(ctx, email, password)
	if err != nil {
		return err
	}
	f.startSession(ctx, session)
	return nil
}

// SignOut ends the session. Local state is cleared even when the
// authenticator fails; its error is still returned.
func (f *Facade) SignOut(ctx context.Context) error {
	session := f.scheduler.Session()
	err := f.authn.SignOut(ctx, session)
	f.clearIdentity(nil)
	if session != nil {
		f.log.WithField("user_id", session.UserID()).Info("Session signed out")
	}
	return err
}

// SwitchAccount makes accountID the active account after checking the
// membership against the store. A non-member gets accounts.ErrAccessDenied
// and the active account is left unchanged.
func (f *Facade) SwitchAccount(ctx context.Context, accountID string) error {
	ctx, span := observability.StartSpan(ctx, "identity.SwitchAccount",
		attribute.String("account.id", accountID))
	defer span.End()

	if f.isClosed() {
		return ErrClosed
	}
	user := f.User()
	if user == nil {
		return auth.ErrNoSession
	}

	if err := f.resolver.Select(ctx, user.ID, accountID); err != nil {
		observability.SpanError(span, err)
		return err
	}

	f.mu.Lock()
	if f.user == nil || f.user.ID != user.ID {
		f.mu.Unlock()
		return auth.ErrNoSession
	}
	epoch := f.resetLocked()
	f.mu.Unlock()

	f.invalidateCaches()
	if !f.guard.SetAccountIDIf(accountID, false, f.epochIs(epoch)) {
		// another switch or a sign-out started after this one
		return nil
	}
	f.log.WithFields(logrus.Fields{
		"user_id":    user.ID,
		"account_id": accountID,
	}).Info("Switched active account")

	return f.loadDependents(ctx, epoch)
}

// RefreshAll drops every cached resource and re-resolves the active account
func (f *Facade) RefreshAll(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, "identity.RefreshAll")
	defer span.End()

	if f.isClosed() {
		return ErrClosed
	}
	f.mu.Lock()
	if f.user == nil {
		f.mu.Unlock()
		return auth.ErrNoSession
	}
	f.resetLocked()
	f.mu.Unlock()

	f.invalidateCaches()
	err := f.reload(ctx)
	if err != nil {
		observability.SpanError(span, err)
	}
	return err
}

// Sync re-resolves the active account and reloads its data. Memberships are
// always re-read; account data is served from cache while fresh.
func (f *Facade) Sync(ctx context.Context) error {
	if f.isClosed() {
		return ErrClosed
	}
	if f.User() == nil {
		return auth.ErrNoSession
	}
	return f.reload(ctx)
}

// ClearCache drops every cached resource without reloading
func (f *Facade) ClearCache() {
	f.invalidateCaches()
}

// Close stops the token scheduler and discards the session state. In-flight
// loads complete without effect.
func (f *Facade) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.user = nil
	f.resetLocked()
	f.onExpired = nil
	f.mu.Unlock()

	f.scheduler.Dispose()
	f.guard.SetAccountID("", true)
	f.invalidateCaches()
}

func (f *Facade) isClosed() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.closed
}

// resetLocked drops loaded data and starts a new epoch
func (f *Facade) resetLocked() uint64 {
	f.epoch++
	f.account = nil
	f.businesses = nil
	f.isAdmin = false
	f.features = DeriveFeatures(nil, nil, time.Time{})
	f.loading = Loading{}
	f.lastErr = nil
	return f.epoch
}

func (f *Facade) invalidateCaches() {
	f.accountCache.Invalidate()
	f.businessCache.Invalidate()
	f.adminCache.Invalidate()
	f.featureCache.Invalidate()
}

func (f *Facade) startSession(ctx context.Context, session *auth.Session) {
	f.mu.Lock()
	f.user = session.User
	f.resetLocked()
	f.mu.Unlock()

	// the previous session's account must not leak into the new one
	f.guard.SetAccountID("", true)
	f.invalidateCaches()
	f.scheduler.UpdateSession(session)

	f.log.WithField("user_id", session.UserID()).Info("Session started")
	if err := f.reload(ctx); err != nil {
		f.log.WithError(err).WithField("user_id", session.UserID()).Warn("Failed to load identity after sign-in")
	}
}

// clearIdentity signs the session out locally. cause is kept as the last
// error when set.
func (f *Facade) clearIdentity(cause error) {
	f.mu.Lock()
	f.user = nil
	f.resetLocked()
	f.lastErr = cause
	f.mu.Unlock()

	f.scheduler.UpdateSession(nil)
	f.guard.SetAccountID("", true)
	f.invalidateCaches()
}

func (f *Facade) handleExpired(err error) {
	user := f.User()
	f.log.WithError(err).WithField("user_id", userID(user)).Warn("Session expired; signing out")
	f.clearIdentity(err)

	f.mu.RLock()
	listeners := append([]func(error){}, f.onExpired...)
	f.mu.RUnlock()
	for _, fn := range listeners {
		fn(err)
	}
}

// handleUserChange runs when a refresh returns a session for another user.
// The old user's account is dropped and the new user's is resolved in the
// background.
func (f *Facade) handleUserChange(user *auth.User) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	previous := f.user
	f.user = user
	f.resetLocked()
	f.mu.Unlock()

	f.guard.SetAccountID("", true)
	f.invalidateCaches()

	f.log.WithFields(logrus.Fields{
		"previous_user_id": userID(previous),
		"user_id":          userID(user),
	}).Info("Session user changed; re-resolving account")

	async.SafeGo(context.Background(), backgroundReloadTimeout, "identity.user_change_reload", f.log, f.reload)
}

// reload resolves the active account and loads its dependents
func (f *Facade) reload(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, "identity.Reload")
	defer span.End()

	f.mu.Lock()
	user := f.user
	epoch := f.epoch
	if user != nil {
		f.loading.Account = true
	}
	f.mu.Unlock()
	if user == nil {
		return nil
	}

	accountID, err := f.resolver.Resolve(ctx, user.ID)
	if err != nil {
		observability.SpanError(span, err)
		f.mu.Lock()
		if f.epoch == epoch {
			f.loading = Loading{}
			f.lastErr = err
		}
		f.mu.Unlock()
		return err
	}

	// an empty result never clears an id another path already published,
	// and a result from a superseded epoch is never published at all
	f.guard.SetAccountIDIf(accountID, false, f.epochIs(epoch))
	return f.loadDependents(ctx, epoch)
}

// epochIs reports whether epoch is still current when called. Used as the
// guard's write condition, so the lock order is guard then facade.
func (f *Facade) epochIs(epoch uint64) func() bool {
	return func() bool {
		f.mu.RLock()
		defer f.mu.RUnlock()
		return f.epoch == epoch
	}
}

// loadDependents fetches the active account's data concurrently and
// publishes it if the epoch is still current
func (f *Facade) loadDependents(ctx context.Context, epoch uint64) error {
	f.mu.Lock()
	if f.epoch != epoch || f.user == nil {
		f.mu.Unlock()
		return nil
	}
	user := f.user
	f.loading = Loading{Account: true, Businesses: true, Admin: true, Features: true}
	f.mu.Unlock()

	accountID := f.guard.AccountID()

	var (
		account    *accounts.Account
		features   Features
		businesses []*accounts.Business
		isAdmin    bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := f.loadAccount(gctx, accountID)
		if err != nil {
			return err
		}
		account = a
		if a == nil {
			// a missing account is not cached as an unsubscribed one
			features = DeriveFeatures(nil, f.catalog, f.clock.Now())
			return nil
		}
		features, err = f.featureCache.GetOrLoad(gctx, accountID, func(context.Context) (Features, error) {
			return DeriveFeatures(a, f.catalog, f.clock.Now()), nil
		})
		return err
	})
	g.Go(func() error {
		var err error
		businesses, err = f.loadBusinesses(gctx, accountID)
		return err
	})
	g.Go(func() error {
		var err error
		isAdmin, err = f.adminCache.GetOrLoad(gctx, user.ID, func(ctx context.Context) (bool, error) {
			return f.store.IsAdmin(ctx, user.ID)
		})
		return err
	})
	err := g.Wait()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.epoch != epoch {
		return nil
	}
	f.loading = Loading{}
	if err != nil {
		f.lastErr = err
		f.log.WithError(err).WithFields(logrus.Fields{
			"user_id":    user.ID,
			"account_id": accountID,
		}).Warn("Failed to load account data")
		return err
	}

	f.account = account
	f.businesses = businesses
	f.isAdmin = isAdmin
	f.features = features
	f.lastErr = nil
	return nil
}

func (f *Facade) loadAccount(ctx context.Context, accountID string) (*accounts.Account, error) {
	if accountID == "" {
		return nil, nil
	}
	account, err := f.accountCache.GetOrLoad(ctx, accountID, func(ctx context.Context) (*accounts.Account, error) {
		return f.store.GetAccount(ctx, accountID)
	})
	if errors.Is(err, accounts.ErrNotFound) {
		f.log.WithField("account_id", accountID).Warn("Active account no longer exists")
		return nil, nil
	}
	return account, err
}

func (f *Facade) loadBusinesses(ctx context.Context, accountID string) ([]*accounts.Business, error) {
	if accountID == "" {
		return nil, nil
	}
	return f.businessCache.GetOrLoad(ctx, accountID, func(ctx context.Context) ([]*accounts.Business, error) {
		return f.store.ListBusinesses(ctx, accountID)
	})
}

func userID(u *auth.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}
