package history

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/cadence/internal/config"
	"github.com/zsiec/cadence/internal/logger"
)

func setupTestStore(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := config.Default().History
	cfg.RedisAddr = mr.Addr()
	cfg.TTL = time.Hour

	store, err := Connect(context.Background(), cfg, logger.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return mr, store
}

func TestSaveAndLoad(t *testing.T) {
	mr, store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "/media/film.mkv", 42.5, 5400))

	entry, ok, err := store.Load(ctx, "/media/film.mkv")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/media/film.mkv", entry.URL)
	assert.Equal(t, 42.5, entry.Position)
	assert.Equal(t, 5400.0, entry.Duration)
	assert.WithinDuration(t, time.Now(), entry.UpdatedAt, 5*time.Second)

	key := store.key("/media/film.mkv")
	assert.Equal(t, time.Hour, mr.TTL(key))
	assert.Contains(t, key, "cadence:history:")
}

func TestLoadMissing(t *testing.T) {
	_, store := setupTestStore(t)
	_, ok, err := store.Load(context.Background(), "/nowhere.mp4")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveBelowMinimumClearsEntry(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "a.mp4", 100, 200))
	require.NoError(t, store.Save(ctx, "a.mp4", 1, 200))

	_, ok, err := store.Load(ctx, "a.mp4")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "a.mp4", 30, 60))
	require.NoError(t, store.Delete(ctx, "a.mp4"))

	_, ok, err := store.Load(ctx, "a.mp4")
	require.NoError(t, err)
	assert.False(t, ok)

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestRecentOrderAndPruning(t *testing.T) {
	mr, store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "new.mp4", 20, 60))
	// Backdate the first entry so ordering does not depend on clock resolution.
	require.NoError(t, store.client.ZAdd(ctx, store.recentKey(), redis.Z{Score: 1, Member: store.key("old.mp4")}).Err())
	require.NoError(t, store.Save(ctx, "old.mp4", 10, 60))
	require.NoError(t, store.client.ZAdd(ctx, store.recentKey(), redis.Z{Score: 1, Member: store.key("old.mp4")}).Err())

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "new.mp4", recent[0].URL)
	assert.Equal(t, "old.mp4", recent[1].URL)

	// An expired entry disappears from the index.
	mr.FastForward(2 * time.Hour)
	recent, err = store.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)

	n, err := store.client.ZCard(ctx, store.recentKey()).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConnectFailure(t *testing.T) {
	cfg := config.Default().History
	cfg.RedisAddr = "127.0.0.1:1"
	cfg.DialTimeout = 100 * time.Millisecond

	_, err := Connect(context.Background(), cfg, nil)
	assert.Error(t, err)
}
