package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/platinummonkey/tenancy/pkg/accounts"
	"github.com/platinummonkey/tenancy/pkg/auth"
)

const testPassword = "correct-horse"

// fakeAuthenticator hands out one-hour sessions for known users
type fakeAuthenticator struct {
	clock clockwork.Clock

	mu         sync.Mutex
	users      map[string]*auth.User
	signOuts   int
	signOutErr error
	refreshFn  func(ctx context.Context, s *auth.Session) (*auth.Session, error)
}

func newFakeAuthenticator(clock clockwork.Clock, users ...*auth.User) *fakeAuthenticator {
	a := &fakeAuthenticator{clock: clock, users: make(map[string]*auth.User)}
	for _, u := range users {
		a.users[u.Email] = u
	}
	return a
}

func (a *fakeAuthenticator) session(u *auth.User) *auth.Session {
	return &auth.Session{
		AccessToken:  "at-" + u.ID,
		RefreshToken: "rt-" + u.ID,
		ExpiresAt:    a.clock.Now().Add(time.Hour),
		User:         u,
	}
}

func (a *fakeAuthenticator) SignIn(ctx context.Context, email, password string) (*auth.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[email]
	if !ok || password != testPassword {
		return nil, &auth.AuthError{Op: "sign in", Err: auth.ErrInvalidCredentials}
	}
	return a.session(u), nil
}

func (a *fakeAuthenticator) SignUp(ctx context.Context, email, password string) (*auth.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.users[email]; ok {
		return nil, &auth.AuthError{Op: "sign up", Err: auth.ErrEmailTaken}
	}
	u := &auth.User{ID: "new-" + email, Email: email}
	a.users[email] = u
	return a.session(u), nil
}

func (a *fakeAuthenticator) SignOut(ctx context.Context, s *auth.Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signOuts++
	return a.signOutErr
}

func (a *fakeAuthenticator) Refresh(ctx context.Context, s *auth.Session) (*auth.Session, error) {
	a.mu.Lock()
	fn := a.refreshFn
	a.mu.Unlock()
	if fn != nil {
		return fn(ctx, s)
	}
	return a.session(s.User), nil
}

func (a *fakeAuthenticator) setRefresh(fn func(ctx context.Context, s *auth.Session) (*auth.Session, error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshFn = fn
}

// fakeStore is an in-memory accounts.Store that counts reads
type fakeStore struct {
	mu          sync.Mutex
	memberships map[string][]accounts.Membership
	accounts    map[string]*accounts.Account
	businesses  map[string][]*accounts.Business
	admins      map[string]bool
	accountErr  error

	// pending memberships appear after this many empty ListMemberships calls
	pending      map[string][]accounts.Membership
	pendingAfter int

	listCalls     int
	accountCalls  int
	businessCalls int
	adminCalls    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		memberships: make(map[string][]accounts.Membership),
		accounts:    make(map[string]*accounts.Account),
		businesses:  make(map[string][]*accounts.Business),
		admins:      make(map[string]bool),
		pending:     make(map[string][]accounts.Membership),
	}
}

func (s *fakeStore) addAccount(a *accounts.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

func (s *fakeStore) addMember(userID, accountID string, role accounts.Role, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var plan *string
	if a, ok := s.accounts[accountID]; ok {
		plan = a.Plan
	}
	s.memberships[userID] = append(s.memberships[userID], accounts.Membership{
		UserID:      userID,
		AccountID:   accountID,
		Role:        role,
		AccountPlan: plan,
		CreatedAt:   at,
	})
}

func (s *fakeStore) addBusiness(b *accounts.Business) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.businesses[b.AccountID] = append(s.businesses[b.AccountID], b)
}

func (s *fakeStore) ListMemberships(ctx context.Context, userID string) ([]accounts.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if pending, ok := s.pending[userID]; ok && s.listCalls > s.pendingAfter {
		s.memberships[userID] = pending
		delete(s.pending, userID)
	}
	return append([]accounts.Membership{}, s.memberships[userID]...), nil
}

func (s *fakeStore) GetMembership(ctx context.Context, userID, accountID string) (*accounts.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.memberships[userID] {
		if m.AccountID == accountID {
			m := m
			return &m, nil
		}
	}
	return nil, accounts.ErrNotFound
}

func (s *fakeStore) GetAccount(ctx context.Context, accountID string) (*accounts.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountCalls++
	if s.accountErr != nil {
		return nil, s.accountErr
	}
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, accounts.ErrNotFound
	}
	return a, nil
}

func (s *fakeStore) ListBusinesses(ctx context.Context, accountID string) ([]*accounts.Business, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.businessCalls++
	return append([]*accounts.Business{}, s.businesses[accountID]...), nil
}

func (s *fakeStore) IsAdmin(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminCalls++
	return s.admins[userID], nil
}

func (s *fakeStore) counts() (accountCalls, businessCalls, adminCalls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountCalls, s.businessCalls, s.adminCalls
}

func (s *fakeStore) setAccountErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountErr = err
}

var errStoreDown = errors.New("store unavailable")

func strPtr(s string) *string { return &s }
