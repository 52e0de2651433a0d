// Package audit records identity events: sign-ups, sign-ins and their
// failures, sign-outs, session expiry, account switches and business
// creation.
//
// Events carry the request, session and user ids from the request context
// along with the client address. Sinks implement Logger:
//
//   - FileLogger appends JSON lines to audit.log with size based rotation
//   - DBLogger inserts into the audit_events table and answers Search
//   - MultiLogger fans one event out to several sinks
//
// Usage:
//
//	event := audit.NewEvent(r.Context(), r, audit.EventSignIn, audit.StatusSuccess)
//	event.UserID = user.ID
//	if err := logger.Log(r.Context(), event); err != nil {
//		log.WithError(err).Warn("Failed to write audit event")
//	}
//
// Audit failures never fail the request that produced them.
package audit
