package accounts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisSelectionTest creates a miniredis instance and returns the store and cleanup function
func setupRedisSelectionTest(t *testing.T) (*RedisSelectionStore, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	store, err := NewRedisSelectionStore(RedisConfig{
		URL:        "redis://" + mr.Addr(),
		MaxRetries: 3,
		PoolSize:   10,
	})
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create Redis selection store: %v", err)
	}

	cleanup := func() {
		store.Close()
		mr.Close()
	}

	return store, mr, cleanup
}

// exerciseSelectionStore runs the behaviour every SelectionStore shares
func exerciseSelectionStore(t *testing.T, store SelectionStore) {
	ctx := context.Background()

	selected, err := store.GetSelection(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, selected)

	require.NoError(t, store.SetSelection(ctx, "u1", "A"))
	require.NoError(t, store.SetSelection(ctx, "u2", "B"))

	selected, err = store.GetSelection(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "A", selected)

	require.NoError(t, store.SetSelection(ctx, "u1", "C"))
	selected, err = store.GetSelection(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "C", selected)

	require.NoError(t, store.ClearSelection(ctx, "u1"))
	selected, err = store.GetSelection(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, selected)

	// clearing one user leaves others alone
	selected, err = store.GetSelection(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "B", selected)

	// setting "" clears
	require.NoError(t, store.SetSelection(ctx, "u2", ""))
	selected, err = store.GetSelection(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, selected)

	// clearing a missing selection is fine
	require.NoError(t, store.ClearSelection(ctx, "nobody"))
}

func TestMemorySelectionStore(t *testing.T) {
	exerciseSelectionStore(t, NewMemorySelectionStore())
}

func TestFileSelectionStore(t *testing.T) {
	t.Run("shared behaviour", func(t *testing.T) {
		store, err := NewFileSelectionStore(filepath.Join(t.TempDir(), "nested", "selections.json"))
		require.NoError(t, err)
		exerciseSelectionStore(t, store)
	})

	t.Run("persists across instances with owner-only permissions", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "selections.json")
		first, err := NewFileSelectionStore(path)
		require.NoError(t, err)
		require.NoError(t, first.SetSelection(context.Background(), "u1", "A"))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

		second, err := NewFileSelectionStore(path)
		require.NoError(t, err)
		selected, err := second.GetSelection(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, "A", selected)
		assert.Equal(t, path, second.Path())
	})

	t.Run("corrupt file is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "selections.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

		store, err := NewFileSelectionStore(path)
		require.NoError(t, err)
		_, err = store.GetSelection(context.Background(), "u1")
		assert.Error(t, err)
	})
}

func TestRedisSelectionStore(t *testing.T) {
	t.Run("shared behaviour", func(t *testing.T) {
		store, _, cleanup := setupRedisSelectionTest(t)
		defer cleanup()
		exerciseSelectionStore(t, store)
	})

	t.Run("keys are prefixed and do not expire", func(t *testing.T) {
		store, mr, cleanup := setupRedisSelectionTest(t)
		defer cleanup()

		require.NoError(t, store.SetSelection(context.Background(), "u1", "A"))
		value, err := mr.Get(DefaultSelectionKeyPrefix + "u1")
		require.NoError(t, err)
		assert.Equal(t, "A", value)
		assert.Zero(t, mr.TTL(DefaultSelectionKeyPrefix+"u1"))
	})

	t.Run("custom prefix", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		store := NewRedisSelectionStoreFromClient(client, "custom:")
		defer store.Close()

		require.NoError(t, store.SetSelection(context.Background(), "u1", "A"))
		assert.True(t, mr.Exists("custom:u1"))
		require.NoError(t, store.Ping(context.Background()))
	})

	t.Run("server down", func(t *testing.T) {
		store, mr, _ := setupRedisSelectionTest(t)
		defer store.Close()
		mr.Close()

		_, err := store.GetSelection(context.Background(), "u1")
		assert.Error(t, err)
	})

	t.Run("invalid url", func(t *testing.T) {
		_, err := NewRedisSelectionStore(RedisConfig{URL: "not-a-url"})
		assert.Error(t, err)
	})
}
