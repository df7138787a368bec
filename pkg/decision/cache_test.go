package decision

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisCache(client, time.Minute), mr
}

func TestRedisCachePutGet(t *testing.T) {
	cache, _ := setupRedisCache(t)
	ctx := context.Background()

	d, err := cache.Get(ctx, "u1", "o1", "doc.write")
	require.NoError(t, err)
	assert.Nil(t, d, "expected miss on empty cache")

	put := Decision{Allowed: true, PolicyVersion: 3, CachedAt: time.Now().UTC()}
	require.NoError(t, cache.Put(ctx, "u1", "o1", "doc.write", put))

	got, err := cache.Get(ctx, "u1", "o1", "doc.write")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Allowed)
	assert.Equal(t, int64(3), got.PolicyVersion)

	// Different permission remains a miss.
	got, err = cache.Get(ctx, "u1", "o1", "doc.delete")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisCacheInvalidateOrgStalesAllEntries(t *testing.T) {
	cache, _ := setupRedisCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "u1", "o1", "doc.write", Decision{Allowed: true, PolicyVersion: 1}))
	require.NoError(t, cache.Put(ctx, "u2", "o1", "doc.read", Decision{Allowed: true, PolicyVersion: 1}))
	require.NoError(t, cache.Put(ctx, "u1", "o2", "doc.write", Decision{Allowed: true, PolicyVersion: 1}))

	require.NoError(t, cache.InvalidateOrg(ctx, "o1"))

	got, err := cache.Get(ctx, "u1", "o1", "doc.write")
	require.NoError(t, err)
	assert.Nil(t, got, "o1 entries must be unreachable after epoch bump")

	got, err = cache.Get(ctx, "u2", "o1", "doc.read")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Other organizations are unaffected.
	got, err = cache.Get(ctx, "u1", "o2", "doc.write")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestRedisCacheInvalidateUserDropsOnlyThatPair(t *testing.T) {
	cache, _ := setupRedisCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "u1", "o1", "doc.write", Decision{Allowed: true, PolicyVersion: 1}))
	require.NoError(t, cache.Put(ctx, "u1", "o1", "doc.read", Decision{Allowed: false, PolicyVersion: 1}))
	require.NoError(t, cache.Put(ctx, "u2", "o1", "doc.write", Decision{Allowed: true, PolicyVersion: 1}))

	require.NoError(t, cache.InvalidateUser(ctx, "u1", "o1"))

	got, err := cache.Get(ctx, "u1", "o1", "doc.write")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = cache.Get(ctx, "u1", "o1", "doc.read")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = cache.Get(ctx, "u2", "o1", "doc.write")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestRedisCacheTTLExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cache := NewRedisCache(client, time.Second)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "u1", "o1", "doc.write", Decision{Allowed: true, PolicyVersion: 1}))

	mr.FastForward(2 * time.Second)

	got, err := cache.Get(ctx, "u1", "o1", "doc.write")
	require.NoError(t, err)
	assert.Nil(t, got, "entry must expire after TTL")
}

func TestRedisCacheCorruptEntryIsMiss(t *testing.T) {
	cache, mr := setupRedisCache(t)
	ctx := context.Background()

	mr.Set(decisionKey(0, "u1", "o1", "doc.write"), "not-json")

	got, err := cache.Get(ctx, "u1", "o1", "doc.write")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLocalCacheEpochSemantics(t *testing.T) {
	cache := NewLocalCache(100, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "u1", "o1", "doc.write", Decision{Allowed: true, PolicyVersion: 1}))
	require.NoError(t, cache.Put(ctx, "u2", "o1", "doc.write", Decision{Allowed: true, PolicyVersion: 1}))

	got, err := cache.Get(ctx, "u1", "o1", "doc.write")
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, cache.InvalidateOrg(ctx, "o1"))

	got, err = cache.Get(ctx, "u1", "o1", "doc.write")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLocalCacheInvalidateUser(t *testing.T) {
	cache := NewLocalCache(100, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "u1", "o1", "doc.write", Decision{Allowed: true, PolicyVersion: 1}))
	require.NoError(t, cache.Put(ctx, "u2", "o1", "doc.write", Decision{Allowed: false, PolicyVersion: 1}))

	require.NoError(t, cache.InvalidateUser(ctx, "u1", "o1"))

	got, err := cache.Get(ctx, "u1", "o1", "doc.write")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = cache.Get(ctx, "u2", "o1", "doc.write")
	require.NoError(t, err)
	require.NotNil(t, got)
}
