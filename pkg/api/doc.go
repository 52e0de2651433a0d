// Package api exposes the identity service over HTTP.
//
// Each browser session owns one identity.Facade, held by a SessionRegistry
// and addressed by a uuid carried in the session cookie or the X-Session-ID
// header. Sign-in and sign-up create the session when the request has none.
//
// # Routes
//
//	POST   /v1/auth/signup         register and sign in
//	POST   /v1/auth/signin         sign in
//	POST   /v1/auth/signout        sign out and drop the session
//	GET    /v1/identity            current snapshot (signed-out snapshot without a session)
//	POST   /v1/identity/account    switch the active account {"account_id": "..."}
//	POST   /v1/identity/refresh    invalidate caches and re-resolve
//	DELETE /v1/identity/cache      invalidate caches
//	GET    /v1/identity/token      a valid access token
//	GET    /v1/identity/accounts   the user's memberships
//	POST   /v1/identity/businesses create a business under the active account
//	GET    /v1/identity/audit      the user's own audit events (?limit=, default 50)
//	GET    /healthz, /readyz, /metrics
//
// # Errors
//
// Errors use httputil.ErrorResponse. Failed credentials map to 401, a
// switch to an account the user does not belong to maps to 403, and a taken
// email maps to 409.
//
// Sign-ups, sign-ins, sign-outs, account switches and business creation are
// written to the audit.Logger in ServerDeps.
package api
