// Package contextkeys holds the request-scoped values shared between the
// HTTP middleware, the handlers and the log and audit helpers.
//
//	ctx = contextkeys.WithSessionID(ctx, id)
//	id := contextkeys.GetSessionID(ctx)
//
// Missing values read back as "".
package contextkeys

import "context"

// key is unexported so no other package can collide with these entries
type key int

const (
	// requestIDKey is set by middleware.RequestID
	requestIDKey key = iota
	// sessionIDKey is set by the session middleware from the session cookie
	sessionIDKey
	// userIDKey is set once the session has a signed-in user
	userIDKey
)

func with(ctx context.Context, k key, value string) context.Context {
	return context.WithValue(ctx, k, value)
}

func get(ctx context.Context, k key) string {
	value, _ := ctx.Value(k).(string)
	return value
}

// WithRequestID returns ctx carrying the request id
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return with(ctx, requestIDKey, requestID)
}

// WithSessionID returns ctx carrying the browser session id
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return with(ctx, sessionIDKey, sessionID)
}

// WithUserID returns ctx carrying the signed-in user id
func WithUserID(ctx context.Context, userID string) context.Context {
	return with(ctx, userIDKey, userID)
}

func GetRequestID(ctx context.Context) string { return get(ctx, requestIDKey) }

func GetSessionID(ctx context.Context) string { return get(ctx, sessionIDKey) }

func GetUserID(ctx context.Context) string { return get(ctx, userIDKey) }
