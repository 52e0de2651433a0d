package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/tenancy/pkg/observability"
)

// OIDCConfig configures an OIDCAuthenticator
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Clock        clockwork.Clock
	Logger       *logrus.Entry
}

// OIDCAuthenticator signs users in against an external OpenID Connect
// provider with the resource owner password grant and renews sessions with
// the refresh token grant. Users are read from the verified ID token.
type OIDCAuthenticator struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	clock        clockwork.Clock
	log          *logrus.Entry
}

var _ Authenticator = (*OIDCAuthenticator)(nil)

// NewOIDCAuthenticator discovers the provider and creates an authenticator
func NewOIDCAuthenticator(ctx context.Context, config OIDCConfig) (*OIDCAuthenticator, error) {
	if config.IssuerURL == "" || config.ClientID == "" {
		return nil, fmt.Errorf("OIDC issuer URL and client ID are required")
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID: config.ClientID,
		Now:      config.Clock.Now,
	})
	return newOIDCAuthenticator(config, provider.Endpoint(), verifier), nil
}

func newOIDCAuthenticator(config OIDCConfig, endpoint oauth2.Endpoint, verifier *oidc.IDTokenVerifier) *OIDCAuthenticator {
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Logger == nil {
		config.Logger = observability.NewNopLogger()
	}
	scopes := config.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", oidc.ScopeOfflineAccess}
	}

	return &OIDCAuthenticator{
		oauth2Config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		verifier: verifier,
		clock:    config.Clock,
		log:      config.Logger,
	}
}

// SignIn exchanges the user's credentials for tokens at the provider
func (a *OIDCAuthenticator) SignIn(ctx context.Context, email, password string) (*Session, error) {
	token, err := a.oauth2Config.PasswordCredentialsToken(ctx, email, password)
	if err != nil {
		if isCredentialRejection(err) {
			return nil, &AuthError{Op: "sign in", Err: ErrInvalidCredentials}
		}
		return nil, &AuthError{Op: "sign in", Err: fmt.Errorf("token request failed: %w", err)}
	}

	session, err := a.sessionFromToken(ctx, token, nil)
	if err != nil {
		return nil, &AuthError{Op: "sign in", Err: err}
	}

	a.log.WithField("user_id", session.UserID()).Info("User signed in")
	return session, nil
}

// SignUp is not available: users are registered at the provider
func (a *OIDCAuthenticator) SignUp(ctx context.Context, email, password string) (*Session, error) {
	return nil, &AuthError{Op: "sign up", Err: ErrSignUpUnsupported}
}

// SignOut drops the session locally. The provider's tokens expire on their own.
func (a *OIDCAuthenticator) SignOut(ctx context.Context, session *Session) error {
	if session != nil {
		a.log.WithField("user_id", session.UserID()).Info("User signed out")
	}
	return nil
}

// Refresh uses the refresh token grant. A response without an ID token
// keeps the previous user.
func (a *OIDCAuthenticator) Refresh(ctx context.Context, session *Session) (*Session, error) {
	if session == nil || session.RefreshToken == "" {
		return nil, ErrNoSession
	}

	// An empty access token is never valid, so the source always refreshes
	source := a.oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: session.RefreshToken})
	token, err := source.Token()
	if err != nil {
		if isCredentialRejection(err) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRefreshToken, err)
		}
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}

	return a.sessionFromToken(ctx, token, session.User)
}

func (a *OIDCAuthenticator) sessionFromToken(ctx context.Context, token *oauth2.Token, previous *User) (*Session, error) {
	session := &Session{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
		User:         previous,
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		if previous == nil {
			return nil, fmt.Errorf("missing id_token in response")
		}
		if session.ExpiresAt.IsZero() {
			session.ExpiresAt = a.clock.Now().Add(DefaultAccessTokenTTL)
		}
		return session, nil
	}

	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}
	if idToken.Subject == "" {
		return nil, fmt.Errorf("missing subject in ID token")
	}

	session.User = &User{
		ID:            idToken.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
	}
	if session.ExpiresAt.IsZero() {
		session.ExpiresAt = idToken.Expiry
	}
	return session, nil
}

// isCredentialRejection reports whether the provider refused the grant
// itself rather than failing to answer
func isCredentialRejection(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return false
	}
	if retrieveErr.ErrorCode == "invalid_grant" {
		return true
	}
	if retrieveErr.Response == nil {
		return false
	}
	switch retrieveErr.Response.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized:
		return true
	}
	return false
}
