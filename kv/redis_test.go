package kv

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, Backend) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedis(client)
}

func TestRedisSetGet(t *testing.T) {
	ctx := context.Background()
	_, b := newTestRedis(t)

	_, found, err := b.Get(ctx, "missing")
	assert.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, b.Set(ctx, "key", []byte("value"), time.Minute))
	data, found, err := b.Get(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("value"), data)
}

func TestRedisExpiry(t *testing.T) {
	ctx := context.Background()
	mr, b := newTestRedis(t)

	assert.NoError(t, b.Set(ctx, "key", []byte("value"), time.Second))
	_, found, err := b.Get(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, found)

	mr.FastForward(2 * time.Second)
	_, found, err = b.Get(ctx, "key")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestRedisDelete(t *testing.T) {
	ctx := context.Background()
	_, b := newTestRedis(t)

	require.NoError(t, b.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, b.Set(ctx, "b", []byte("2"), time.Minute))
	n, err := b.Delete(ctx, "a", "b", "missing")
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = b.Delete(ctx)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisKeysPattern(t *testing.T) {
	ctx := context.Background()
	_, b := newTestRedis(t)

	require.NoError(t, b.Set(ctx, "app:query:abc", []byte("1"), time.Minute))
	require.NoError(t, b.Set(ctx, "app:query:def", []byte("2"), time.Minute))
	require.NoError(t, b.Set(ctx, "other:query:abc", []byte("3"), time.Minute))

	keys, err := b.Keys(ctx, "app:*")
	assert.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"app:query:abc", "app:query:def"}, keys)
}

func TestRedisSets(t *testing.T) {
	ctx := context.Background()
	mr, b := newTestRedis(t)

	assert.NoError(t, b.SAdd(ctx, "tags", "k1", "k2"))
	members, err := b.SMembers(ctx, "tags")
	assert.NoError(t, err)
	sort.Strings(members)
	assert.Equal(t, []string{"k1", "k2"}, members)

	ok, err := b.Expire(ctx, "tags", time.Second)
	assert.NoError(t, err)
	assert.True(t, ok)
	mr.FastForward(2 * time.Second)
	members, err = b.SMembers(ctx, "tags")
	assert.NoError(t, err)
	assert.Empty(t, members)
}

func TestRedisTTL(t *testing.T) {
	ctx := context.Background()
	_, b := newTestRedis(t)

	_, exists, err := b.TTL(ctx, "missing")
	assert.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, b.Set(ctx, "key", []byte("v"), time.Minute))
	d, exists, err := b.TTL(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, exists)
	assert.Greater(t, d, 50*time.Second)

	// SAdd creates a set without an expiry.
	require.NoError(t, b.SAdd(ctx, "tags", "k1"))
	d, exists, err = b.TTL(ctx, "tags")
	assert.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, time.Duration(0), d)
}

func TestRedisIncr(t *testing.T) {
	ctx := context.Background()
	_, b := newTestRedis(t)

	n, err := b.Incr(ctx, "counter")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = b.Incr(ctx, "counter")
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
