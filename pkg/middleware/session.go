package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenancy/pkg/contextkeys"
)

// SessionHeader lets non-browser clients pass the session id without a cookie
const SessionHeader = "X-Session-ID"

// SessionLookup reports the signed-in user of a live session, or "" when
// the session is unknown or signed out
type SessionLookup interface {
	SessionUser(sessionID string) string
}

// Session reads the session id from the named cookie or the X-Session-ID
// header and stores it in the request context together with the session's
// user id. Ids that are not uuids are ignored. Requests without a session
// pass through untouched; handlers decide whether one is required.
func Session(cookieName string, sessions SessionLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := sessionIDFromRequest(r, cookieName)
			if sessionID == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := contextkeys.WithSessionID(r.Context(), sessionID)
			if sessions != nil {
				if userID := sessions.SessionUser(sessionID); userID != "" {
					ctx = contextkeys.WithUserID(ctx, userID)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionIDFromRequest(r *http.Request, cookieName string) string {
	candidate := r.Header.Get(SessionHeader)
	if candidate == "" && cookieName != "" {
		if cookie, err := r.Cookie(cookieName); err == nil {
			candidate = cookie.Value
		}
	}
	if candidate == "" {
		return ""
	}

	id, err := uuid.Parse(candidate)
	if err != nil {
		return ""
	}
	return id.String()
}
