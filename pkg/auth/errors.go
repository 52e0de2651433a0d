package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSession is returned when a token is requested without a session
	ErrNoSession = errors.New("no active session")
	// ErrInvalidCredentials is returned for an unknown email or wrong password
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailTaken is returned by sign-up when the email is registered
	ErrEmailTaken = errors.New("email already registered")
	// ErrWeakPassword is returned by sign-up for passwords below the minimum length
	ErrWeakPassword = errors.New("password must be at least 8 characters")
	// ErrInvalidEmail is returned by sign-up for malformed addresses
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrSignUpUnsupported is returned by authenticators that cannot register users
	ErrSignUpUnsupported = errors.New("sign-up is not supported by this provider")
	// ErrInvalidRefreshToken is returned for unknown, revoked or expired refresh tokens
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrSchedulerDisposed is returned by a disposed TokenScheduler
	ErrSchedulerDisposed = errors.New("token scheduler disposed")
)

// AuthError is a sign-in, sign-up or sign-out failure. It is surfaced to the
// caller and never retried automatically.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError checks if an error is an AuthError
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// RefreshError is a failed silent token refresh. It is fatal for the
// session: the scheduler reports it through its expiry callbacks.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// IsRefreshError checks if an error is a RefreshError
func IsRefreshError(err error) bool {
	var refreshErr *RefreshError
	return errors.As(err, &refreshErr)
}
