package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLogger_Basic(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewFileLogger(FileLoggerConfig{Dir: dir})
	require.NoError(t, err)
	defer logger.Close()

	ctx := context.Background()
	event := NewEvent(ctx, nil, EventSignIn, StatusSuccess)
	event.UserID = "user-1"
	event.Email = "user@example.com"
	require.NoError(t, logger.Log(ctx, event))

	failed := NewEvent(ctx, nil, EventSignIn, StatusFailure)
	failed.Email = "user@example.com"
	require.NoError(t, logger.Log(ctx, failed))

	assert.FileExists(t, filepath.Join(dir, "audit.log"))

	events, err := logger.ReadLogs(0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventSignIn, events[0].Type)
	assert.Equal(t, "user-1", events[0].UserID)
	assert.Equal(t, StatusFailure, events[1].Status)

	events, err = logger.ReadLogs(1)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestFileLogger_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewFileLogger(FileLoggerConfig{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, first.Log(ctx, NewEvent(ctx, nil, EventSignUp, StatusSuccess)))
	require.NoError(t, first.Close())

	second, err := NewFileLogger(FileLoggerConfig{Dir: dir})
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Log(ctx, NewEvent(ctx, nil, EventSignIn, StatusSuccess)))

	events, err := second.ReadLogs(0)
	require.NoError(t, err)
	assert.Len(t, events, 2, "events are appended across restarts")
}

func TestFileLogger_Rotation(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	logger, err := NewFileLogger(FileLoggerConfig{Dir: dir, MaxSize: 1, MaxFiles: 2})
	require.NoError(t, err)
	defer logger.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, logger.Log(ctx, NewEvent(ctx, nil, EventAccountSwitch, StatusSuccess)))
	}

	rotated, err := filepath.Glob(filepath.Join(dir, "audit-*.log"))
	require.NoError(t, err)
	assert.Len(t, rotated, 2, "old rotations are pruned")

	events, err := logger.ReadLogs(0)
	require.NoError(t, err)
	assert.Len(t, events, 1, "each event starts a new file at this size")
}

func TestFileLogger_Errors(t *testing.T) {
	t.Run("directory required", func(t *testing.T) {
		_, err := NewFileLogger(FileLoggerConfig{})
		assert.Error(t, err)
	})

	t.Run("log after close", func(t *testing.T) {
		logger, err := NewFileLogger(FileLoggerConfig{Dir: t.TempDir()})
		require.NoError(t, err)
		require.NoError(t, logger.Close())
		require.NoError(t, logger.Close())

		err = logger.Log(context.Background(), NewEvent(context.Background(), nil, EventSignOut, StatusSuccess))
		assert.ErrorIs(t, err, ErrLoggerClosed)
	})
}
