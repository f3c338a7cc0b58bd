package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/mcp-directory/mcp-directory/internal/config"
)

func openTestBolt(t *testing.T) (*BoltStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "cache.db")
	store, err := OpenBoltStore(path)
	require.NoError(t, err)
	return store, path
}

func TestBoltStore_RoundTrip(t *testing.T) {
	store, _ := openTestBolt(t)
	defer store.Close()
	ctx := context.Background()

	rec, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec, "fresh store is empty")

	fetchedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	orig, err := NewRecord(catalogWith("foo-bar", "baz"), fetchedAt)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, orig))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, fetchedAt.Equal(got.FetchedAt))
	assert.Equal(t, orig.Body, got.Body)
	assert.Equal(t, orig.ETag, got.ETag)
	assert.Equal(t, 2, got.Catalog.ToolCount())
}

func TestBoltStore_CorruptSnapshot(t *testing.T) {
	store, _ := openTestBolt(t)
	defer store.Close()

	bad := []byte(`{"fetchedAt":"2026-01-01T00:00:00Z","sha256":"0000","catalog":{"categories":[]}}`)
	require.NoError(t, store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put(snapshotKey, bad)
	}))

	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestBoltStore_RequiresPath(t *testing.T) {
	_, err := OpenBoltStore("  ")
	assert.Error(t, err)
}

func TestCache_RestoreServesSnapshotAndRefreshes(t *testing.T) {
	store, _ := openTestBolt(t)
	defer store.Close()
	ctx := context.Background()

	clock := &fakeClock{now: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)}
	old, err := NewRecord(catalogWith("persisted"), clock.Now().Add(-3*time.Hour))
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, old))

	refreshed := make(chan error, 1)
	f := &fakeFetcher{cat: catalogWith("live")}
	c := newTestCache(f, clock, Options{Snapshot: store, OnRefresh: func(err error) { refreshed <- err }})

	ok, err := c.Restore(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	got := c.Get(ctx)
	assert.Equal(t, "persisted", got.Catalog.Categories[0].Tools[0].ID)

	require.NoError(t, <-refreshed)
	assert.Equal(t, "live", c.Peek().Catalog.Categories[0].Tools[0].ID)

	saved, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, c.Peek().ETag, saved.ETag, "successful refresh is persisted")
	assert.True(t, clock.Now().Equal(saved.FetchedAt))
}

func TestCache_RestoreWithoutStoreOrData(t *testing.T) {
	c := New(&fakeFetcher{}, Options{})
	ok, err := c.Restore(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)

	store, _ := openTestBolt(t)
	defer store.Close()
	c = New(&fakeFetcher{}, Options{Snapshot: store})
	ok, err = c.Restore(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenSnapshotStore(t *testing.T) {
	store, err := OpenSnapshotStore(config.SnapshotConfig{Backend: "none"}, nil)
	assert.NoError(t, err)
	assert.Nil(t, store)

	_, err = OpenSnapshotStore(config.SnapshotConfig{Backend: "memcached"}, nil)
	assert.Error(t, err)

	_, err = OpenSnapshotStore(config.SnapshotConfig{Backend: "redis"}, nil)
	assert.Error(t, err)

	store, err = OpenSnapshotStore(config.SnapshotConfig{Backend: "bolt", BoltPath: filepath.Join(t.TempDir(), "s.db")}, nil)
	require.NoError(t, err)
	assert.IsType(t, &BoltStore{}, store)
	assert.NoError(t, store.Close())
}

// Redis tests run only when MCPD_TEST_REDIS_ADDR points at a disposable server.
func TestRedisStore_RoundTrip(t *testing.T) {
	addr := os.Getenv("MCPD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MCPD_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()

	key := "mcp-directory:test:" + t.Name()
	defer rdb.Del(ctx, key)
	store := NewRedisStore(rdb, key)

	rec, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec)

	orig, err := NewRecord(catalogWith("from-redis"), time.Now().UTC().Truncate(time.Second))
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, orig))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, orig.ETag, got.ETag)
}

func TestNewRedisStore_DefaultKey(t *testing.T) {
	s := NewRedisStore(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "")
	assert.Equal(t, DefaultRedisKey, s.key)
}

func TestOpenSnapshotStore_LoadedConfigUsesDefaultKey(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Cache.Snapshot.Backend = "redis"

	store, err := OpenSnapshotStore(cfg.Cache.Snapshot, redis.NewClient(&redis.Options{Addr: "localhost:0"}))
	require.NoError(t, err)
	rs, ok := store.(*RedisStore)
	require.True(t, ok)
	assert.Equal(t, DefaultRedisKey, rs.key)
}
