package contextkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))
	assert.Empty(t, GetSessionID(ctx))
	assert.Empty(t, GetUserID(ctx))

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithSessionID(ctx, "sess-1")
	ctx = WithUserID(ctx, "user-1")

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "sess-1", GetSessionID(ctx))
	assert.Equal(t, "user-1", GetUserID(ctx))
}

func TestKeys_DoNotCollideWithStrings(t *testing.T) {
	ctx := context.WithValue(context.Background(), "session_id", "spoofed")
	assert.Empty(t, GetSessionID(ctx))

	ctx = WithSessionID(ctx, "sess-1")
	assert.Equal(t, "spoofed", ctx.Value("session_id"))
	assert.Equal(t, "sess-1", GetSessionID(ctx))
}
