// Package auth provides authentication for the tenancy service: the session
// model, the Authenticator implementations that issue and refresh sessions,
// and the TokenScheduler that keeps a session's access token alive.
//
// # Overview
//
// A Session pairs a short-lived access token with a refresh token and the
// authenticated User. Sessions are replaced wholesale on sign-in and on every
// refresh.
//
// # Authenticators
//
// LocalAuthenticator: users, bcrypt password hashes and rotating refresh
// tokens stored in the service database; access tokens are HS256 JWTs.
//
//	authn, err := auth.NewLocalAuthenticator(db, auth.LocalConfig{JWTSecret: secret})
//	session, err := authn.SignIn(ctx, "alice@example.com", "correct horse")
//
// OIDCAuthenticator: an external OpenID Connect provider, using the password
// grant for sign-in and the refresh-token grant for renewal.
//
// # Token Scheduler
//
// TokenScheduler refreshes the access token a safety buffer before it
// expires, independent of any request or render cycle:
//
//	scheduler := auth.NewTokenScheduler(authn)
//	defer scheduler.Dispose()
//	scheduler.OnExpire(func(err error) { forceSignOut(err) })
//	scheduler.UpdateSession(session)
//	token, err := scheduler.AccessToken(ctx)
//
// A failed silent refresh fires the expiry callbacks exactly once; the owner
// is expected to sign the user out.
package auth
