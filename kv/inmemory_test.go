package kv

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemorySetGet(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(ctx, WithExpiryCheck(time.Minute))
	defer b.Close()

	_, found, err := b.Get(ctx, "missing")
	assert.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, b.Set(ctx, "key", []byte("value"), time.Minute))
	data, found, err := b.Get(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("value"), data)
}

func TestInMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(ctx, WithExpiryCheck(time.Minute))
	defer b.Close()

	assert.NoError(t, b.Set(ctx, "key", []byte("value"), 20*time.Millisecond))
	_, found, err := b.Get(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, found)

	time.Sleep(30 * time.Millisecond)
	_, found, err = b.Get(ctx, "key")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestInMemoryBackgroundSweep(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(ctx, WithExpiryCheck(50*time.Millisecond))
	defer b.Close()

	assert.NoError(t, b.Set(ctx, "key", []byte("value"), 20*time.Millisecond))
	time.Sleep(120 * time.Millisecond)

	mem := b.(*inMemoryBackend)
	mem.mutex.Lock()
	assert.Empty(t, mem.values)
	mem.mutex.Unlock()
}

func TestInMemoryDelete(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(ctx, WithExpiryCheck(time.Minute))
	defer b.Close()

	assert.NoError(t, b.Set(ctx, "a", []byte("1"), time.Minute))
	assert.NoError(t, b.Set(ctx, "b", []byte("2"), time.Minute))
	n, err := b.Delete(ctx, "a", "b", "c")
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	_, found, _ := b.Get(ctx, "a")
	assert.False(t, found)
}

func TestInMemoryKeysPattern(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(ctx, WithExpiryCheck(time.Minute))
	defer b.Close()

	require.NoError(t, b.Set(ctx, "app:table:users:id:1", []byte("u"), time.Minute))
	require.NoError(t, b.Set(ctx, "app:table:users:id:2", []byte("u"), time.Minute))
	require.NoError(t, b.Set(ctx, "other:table:users:id:1", []byte("u"), time.Minute))

	keys, err := b.Keys(ctx, "app:*")
	assert.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"app:table:users:id:1", "app:table:users:id:2"}, keys)
}

func TestInMemorySets(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(ctx, WithExpiryCheck(time.Minute))
	defer b.Close()

	assert.NoError(t, b.SAdd(ctx, "tags", "k1", "k2"))
	assert.NoError(t, b.SAdd(ctx, "tags", "k2", "k3"))
	members, err := b.SMembers(ctx, "tags")
	assert.NoError(t, err)
	sort.Strings(members)
	assert.Equal(t, []string{"k1", "k2", "k3"}, members)

	// Missing set yields empty, not error.
	members, err = b.SMembers(ctx, "absent")
	assert.NoError(t, err)
	assert.Empty(t, members)
}

func TestInMemorySetExpire(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(ctx, WithExpiryCheck(time.Minute))
	defer b.Close()

	require.NoError(t, b.SAdd(ctx, "tags", "k1"))
	ok, err := b.Expire(ctx, "tags", 20*time.Millisecond)
	assert.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	members, err := b.SMembers(ctx, "tags")
	assert.NoError(t, err)
	assert.Empty(t, members)
}

func TestInMemoryTTL(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(ctx, WithExpiryCheck(time.Minute))
	defer b.Close()

	_, exists, err := b.TTL(ctx, "missing")
	assert.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, b.Set(ctx, "key", []byte("v"), time.Minute))
	d, exists, err := b.TTL(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, exists)
	assert.Greater(t, d, 50*time.Second)

	// No expiry reads back as zero duration on an existing key.
	require.NoError(t, b.Set(ctx, "forever", []byte("v"), 0))
	d, exists, err = b.TTL(ctx, "forever")
	assert.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, time.Duration(0), d)
}

func TestInMemoryIncr(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(ctx, WithExpiryCheck(time.Minute))
	defer b.Close()

	n, err := b.Incr(ctx, "counter")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = b.Incr(ctx, "counter")
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.NoError(t, b.Set(ctx, "text", []byte("abc"), time.Minute))
	_, err = b.Incr(ctx, "text")
	assert.Error(t, err)
}

func TestInMemoryIncrPreservesTTL(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(ctx, WithExpiryCheck(time.Minute))
	defer b.Close()

	require.NoError(t, b.Set(ctx, "counter", []byte("1"), time.Minute))
	n, err := b.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	d, exists, err := b.TTL(ctx, "counter")
	assert.NoError(t, err)
	assert.True(t, exists)
	assert.Greater(t, d, 50*time.Second)
}

func TestInMemoryExpireMissing(t *testing.T) {
	ctx := context.Background()
	b := NewInMemory(ctx, WithExpiryCheck(time.Minute))
	defer b.Close()

	ok, err := b.Expire(ctx, "missing", time.Minute)
	assert.NoError(t, err)
	assert.False(t, ok)
}
