package auth

import (
	"context"
	"time"
)

// User is the external identity produced by an Authenticator. Read-only to
// the rest of the service.
type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// Session is one live authenticated session. It is replaced wholesale on
// sign-in and refresh, never mutated in place.
type Session struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         *User     `json:"user"`
}

// Valid reports whether the access token is still usable at now
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.AccessToken != "" && now.Before(s.ExpiresAt)
}

// UserID returns the session user's id, or "" when unknown
func (s *Session) UserID() string {
	if s == nil || s.User == nil {
		return ""
	}
	return s.User.ID
}

// Refresher exchanges a session's refresh token for a new session
type Refresher interface {
	Refresh(ctx context.Context, session *Session) (*Session, error)
}

// Authenticator signs users in and out and refreshes their sessions
type Authenticator interface {
	Refresher
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context, session *Session) error
}

// RefresherFunc adapts a function to the Refresher interface
type RefresherFunc func(ctx context.Context, session *Session) (*Session, error)

// Refresh calls f
func (f RefresherFunc) Refresh(ctx context.Context, session *Session) (*Session, error) {
	return f(ctx, session)
}
