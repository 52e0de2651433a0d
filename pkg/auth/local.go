package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/tenancy/pkg/async"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

const (
	// DefaultAccessTokenTTL is the lifetime of an access JWT
	DefaultAccessTokenTTL = time.Hour
	// DefaultRefreshTokenTTL is the lifetime of a refresh token
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
	// MinPasswordLength is the shortest accepted password
	MinPasswordLength = 8
	// signUpHookTimeout bounds each sign-up hook
	signUpHookTimeout = 30 * time.Second
)

// AccessClaims are the claims carried by a local access token
type AccessClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// SignUpHook runs in the background after a user registers
type SignUpHook func(ctx context.Context, user *User) error

// LocalConfig configures a LocalAuthenticator
type LocalConfig struct {
	JWTSecret       []byte
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	BcryptCost      int
	Clock           clockwork.Clock
	Logger          *logrus.Entry
}

// LocalAuthenticator keeps users, bcrypt password hashes and refresh tokens
// in the service database and signs HS256 access tokens. Refresh tokens are
// stored hashed and rotated on every use.
type LocalAuthenticator struct {
	db     *sql.DB
	config LocalConfig
	hooks  []SignUpHook
	log    *logrus.Entry
}

var _ Authenticator = (*LocalAuthenticator)(nil)

// NewLocalAuthenticator creates an authenticator over db. The schema comes
// from accounts.RunMigrations.
func NewLocalAuthenticator(db *sql.DB, config LocalConfig) (*LocalAuthenticator, error) {
	if len(config.JWTSecret) == 0 {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if config.Issuer == "" {
		config.Issuer = "tenancy"
	}
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.RefreshTokenTTL <= 0 {
		config.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Logger == nil {
		config.Logger = observability.NewNopLogger()
	}

	return &LocalAuthenticator{
		db:     db,
		config: config,
		log:    config.Logger,
	}, nil
}

// OnSignUp registers a hook run asynchronously after each successful sign-up
func (a *LocalAuthenticator) OnSignUp(hook SignUpHook) {
	a.hooks = append(a.hooks, hook)
}

// SignUp registers a user and signs them in
func (a *LocalAuthenticator) SignUp(ctx context.Context, email, password string) (*Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, &AuthError{Op: "sign up", Err: err}
	}
	if len(password) < MinPasswordLength {
		return nil, &AuthError{Op: "sign up", Err: ErrWeakPassword}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.config.BcryptCost)
	if err != nil {
		return nil, &AuthError{Op: "sign up", Err: fmt.Errorf("failed to hash password: %w", err)}
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &AuthError{Op: "sign up", Err: fmt.Errorf("failed to start transaction: %w", err)}
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE email = $1`, email).Scan(&count); err != nil {
		return nil, &AuthError{Op: "sign up", Err: fmt.Errorf("failed to check email: %w", err)}
	}
	if count > 0 {
		return nil, &AuthError{Op: "sign up", Err: ErrEmailTaken}
	}

	user := &User{ID: uuid.NewString(), Email: email}
	now := a.config.Clock.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, email, email_verified, password_hash, created_at) VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Email, user.EmailVerified, string(hash), now,
	); err != nil {
		return nil, &AuthError{Op: "sign up", Err: fmt.Errorf("failed to create user: %w", err)}
	}

	session, err := a.issueSession(ctx, tx, user)
	if err != nil {
		return nil, &AuthError{Op: "sign up", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &AuthError{Op: "sign up", Err: fmt.Errorf("failed to commit user: %w", err)}
	}

	a.log.WithField("user_id", user.ID).Info("User signed up")

	hookCtx := context.WithoutCancel(ctx)
	for _, hook := range a.hooks {
		hook := hook
		async.SafeGo(hookCtx, signUpHookTimeout, "sign-up-hook", a.log.WithField("user_id", user.ID), func(ctx context.Context) error {
			return hook(ctx, user)
		})
	}

	return session, nil
}

// SignIn verifies the email and password and starts a new session
func (a *LocalAuthenticator) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var (
		user         User
		passwordHash sql.NullString
	)
	err := a.db.QueryRowContext(ctx,
		`SELECT id, email, email_verified, password_hash FROM users WHERE email = $1`,
		email,
	).Scan(&user.ID, &user.Email, &user.EmailVerified, &passwordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &AuthError{Op: "sign in", Err: ErrInvalidCredentials}
	}
	if err != nil {
		return nil, &AuthError{Op: "sign in", Err: fmt.Errorf("failed to look up user: %w", err)}
	}

	if !passwordHash.Valid ||
		bcrypt.CompareHashAndPassword([]byte(passwordHash.String), []byte(password)) != nil {
		a.log.WithField("user_id", user.ID).Info("Sign-in rejected: wrong password")
		return nil, &AuthError{Op: "sign in", Err: ErrInvalidCredentials}
	}

	session, err := a.issueSession(ctx, a.db, &user)
	if err != nil {
		return nil, &AuthError{Op: "sign in", Err: err}
	}

	a.log.WithField("user_id", user.ID).Info("User signed in")
	return session, nil
}

// SignOut revokes the session's refresh token. A nil session is a no-op.
func (a *LocalAuthenticator) SignOut(ctx context.Context, session *Session) error {
	if session == nil || session.RefreshToken == "" {
		return nil
	}

	_, err := a.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = $1 WHERE token_hash = $2 AND revoked_at IS NULL`,
		a.config.Clock.Now().UTC(), refreshTokenDigest(session.RefreshToken),
	)
	if err != nil {
		return &AuthError{Op: "sign out", Err: fmt.Errorf("failed to revoke refresh token: %w", err)}
	}

	a.log.WithField("user_id", session.UserID()).Info("User signed out")
	return nil
}

// Refresh exchanges the session's refresh token for a new session. The old
// refresh token is revoked in the same transaction.
func (a *LocalAuthenticator) Refresh(ctx context.Context, session *Session) (*Session, error) {
	if session == nil || session.RefreshToken == "" {
		return nil, ErrNoSession
	}
	if err := checkRefreshToken(session.RefreshToken); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRefreshToken, err)
	}
	hash := refreshTokenDigest(session.RefreshToken)

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		user      User
		expiresAt time.Time
		revokedAt sql.NullTime
	)
	err = tx.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.email_verified, rt.expires_at, rt.revoked_at
		FROM refresh_tokens rt
		JOIN users u ON u.id = rt.user_id
		WHERE rt.token_hash = $1
	`, hash).Scan(&user.ID, &user.Email, &user.EmailVerified, &expiresAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up refresh token: %w", err)
	}

	now := a.config.Clock.Now().UTC()
	if revokedAt.Valid || !now.Before(expiresAt) {
		return nil, ErrInvalidRefreshToken
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = $1 WHERE token_hash = $2 AND revoked_at IS NULL`,
		now, hash,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	if rows, err := result.RowsAffected(); err != nil || rows != 1 {
		return nil, ErrInvalidRefreshToken
	}

	next, err := a.issueSession(ctx, tx, &user)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit refresh: %w", err)
	}
	return next, nil
}

// VerifyAccessToken checks an access token's signature, issuer and expiry
// and returns its user
func (a *LocalAuthenticator) VerifyAccessToken(tokenString string) (*User, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return a.config.JWTSecret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.config.Clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}

	return &User{
		ID:            claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
	}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// issueSession signs an access token and stores a new refresh token
func (a *LocalAuthenticator) issueSession(ctx context.Context, db execer, user *User) (*Session, error) {
	now := a.config.Clock.Now().UTC()
	expiresAt := now.Add(a.config.AccessTokenTTL)

	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.config.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshToken, hash, err := newRefreshToken()
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (token_hash, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4)`,
		hash, user.ID, now.Add(a.config.RefreshTokenTTL), now,
	); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		User:         user,
	}, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
