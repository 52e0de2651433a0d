// Package middleware provides the HTTP middleware placed in front of the
// identity API.
//
//   - RequestID: X-Request-ID in and out, stored in the request context
//   - Session: session id from cookie or X-Session-ID, plus its user id
//   - RateLimit: per client address, backed by RateLimiter (in process) or
//     DistributedRateLimiter (Redis)
//
// Typical ordering:
//
//	router.Use(middleware.RequestID)
//	router.Use(middleware.Session(cfg.Server.SessionCookie, registry))
//	auth.Use(middleware.RateLimit("auth", limiter, time.Minute, log, metrics))
package middleware
