package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), RedisConfig{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func permSet(perms ...Permission) *PermissionSet {
	return &PermissionSet{Permissions: perms}
}

func TestLRUCache(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(2, time.Minute)

	set := &PermissionSet{Permissions: []Permission{PermissionViewProject}}
	c.Set(ctx, "u1", set)
	set.Permissions[0] = PermissionAdminAccess

	got, ok := c.Get(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, []Permission{PermissionViewProject}, got.Permissions, "the cache keeps its own copy")

	c.Set(ctx, "u2", &PermissionSet{})
	c.Set(ctx, "u3", &PermissionSet{})
	assert.Equal(t, 2, c.Len())
	_, ok = c.Get(ctx, "u1")
	assert.False(t, ok, "least recently used entry is evicted")

	c.Invalidate(ctx, "u2")
	_, ok = c.Get(ctx, "u2")
	assert.False(t, ok)

	c.Purge(ctx)
	assert.Zero(t, c.Len())
}

func TestLRUCacheExpiry(t *testing.T) {
	c := NewLRUCache(10, 20*time.Millisecond)
	c.Set(context.Background(), "u1", permSet(PermissionViewProject))

	assert.Eventually(t, func() bool {
		_, ok := c.Get(context.Background(), "u1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestRedisCache(t *testing.T) {
	mr, client := newTestRedis(t)
	log, _ := test.NewNullLogger()
	ctx := context.Background()
	c := NewRedisCache(client, "gk:", time.Minute, log)

	_, ok := c.Get(ctx, "u1")
	assert.False(t, ok)

	c.Set(ctx, "u1", permSet(PermissionViewProject, PermissionEditProject))
	c.Set(ctx, "u2", permSet(PermissionViewProject))
	assert.True(t, mr.Exists("gk:perms:u1"))

	got, ok := c.Get(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, []Permission{PermissionViewProject, PermissionEditProject}, got.Permissions)
	assert.Nil(t, got.ValidUntil)

	mr.FastForward(2 * time.Minute)
	_, ok = c.Get(ctx, "u1")
	assert.False(t, ok, "entries expire with the ttl")

	c.Set(ctx, "u1", permSet(PermissionViewProject))
	c.Invalidate(ctx, "u1")
	assert.False(t, mr.Exists("gk:perms:u1"))

	c.Set(ctx, "u1", &PermissionSet{})
	require.NoError(t, mr.Set("other:key", "kept"))
	c.Purge(ctx)
	assert.False(t, mr.Exists("gk:perms:u1"))
	assert.True(t, mr.Exists("other:key"), "purge only touches the prefix")
}

func TestRedisCacheBoundsTTLByValidUntil(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	c := NewRedisCache(client, "gk:", time.Hour, nil)

	until := time.Now().Add(30 * time.Second).UTC()
	c.Set(ctx, "u1", &PermissionSet{Permissions: []Permission{PermissionViewProject}, ValidUntil: &until})
	ttl := mr.TTL("gk:perms:u1")
	assert.True(t, ttl > 0 && ttl <= 30*time.Second, "ttl %v is capped by the earliest expiry", ttl)

	got, ok := c.Get(ctx, "u1")
	require.True(t, ok)
	require.NotNil(t, got.ValidUntil)
	assert.True(t, until.Equal(*got.ValidUntil))

	past := time.Now().Add(-time.Second)
	c.Set(ctx, "u2", &PermissionSet{ValidUntil: &past})
	assert.False(t, mr.Exists("gk:perms:u2"), "an already expired set is not stored")
}

func TestRedisCacheCorruptEntry(t *testing.T) {
	mr, client := newTestRedis(t)
	c := NewRedisCache(client, "gk:", time.Minute, nil)
	require.NoError(t, mr.Set("gk:perms:u1", "not json"))

	_, ok := c.Get(context.Background(), "u1")
	assert.False(t, ok)
	assert.False(t, mr.Exists("gk:perms:u1"), "corrupt entries are dropped")
}

func TestRedisCacheUnavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	log, hook := test.NewNullLogger()
	c := NewRedisCache(client, "gk:", time.Minute, log)
	mr.Close()

	_, ok := c.Get(context.Background(), "u1")
	assert.False(t, ok)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "redis get failed", hook.LastEntry().Message)
}

func TestNewRedisClientErrors(t *testing.T) {
	_, err := NewRedisClient(context.Background(), RedisConfig{URL: "://bad"})
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err = NewRedisClient(context.Background(), RedisConfig{URL: "redis://" + addr})
	assert.Error(t, err)
}

func TestTieredCache(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	local := NewLRUCache(10, time.Minute)
	shared := NewRedisCache(client, "gk:", time.Minute, nil)
	tiered := NewTieredCache(local, nil, shared)

	shared.Set(ctx, "u1", permSet(PermissionViewProject))
	got, ok := tiered.Get(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, []Permission{PermissionViewProject}, got.Permissions)

	_, ok = local.Get(ctx, "u1")
	assert.True(t, ok, "a hit in a slower tier back-fills faster ones")

	tiered.Invalidate(ctx, "u1")
	_, ok = local.Get(ctx, "u1")
	assert.False(t, ok)
	_, ok = shared.Get(ctx, "u1")
	assert.False(t, ok)

	tiered.Set(ctx, "u2", permSet(PermissionEditProject))
	tiered.Purge(ctx)
	_, ok = tiered.Get(ctx, "u2")
	assert.False(t, ok)
}
