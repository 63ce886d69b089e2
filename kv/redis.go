package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisBackend struct {
	client *redis.Client
	cfg    config
}

var _ Backend = (*redisBackend)(nil)

// NewRedis returns a Backend backed by Redis. Expiry uses native Redis TTL.
// The caller owns the redis.Client lifecycle — Close is a no-op on the client.
func NewRedis(client *redis.Client, opts ...Option) Backend {
	return &redisBackend{
		client: client,
		cfg:    applyOptions(opts),
	}
}

func (b *redisBackend) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, b.cfg.queryTimeout)
}

func (b *redisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	data, err := b.client.Get(qctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (b *redisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	if ttl <= 0 {
		ttl = 0 // no expiry
	}
	return b.client.Set(qctx, key, value, ttl).Err()
}

func (b *redisBackend) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	n, err := b.client.Del(qctx, keys...).Result()
	return int(n), err
}

func (b *redisBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	var keys []string
	iter := b.client.Scan(qctx, 0, pattern, 0).Iterator()
	for iter.Next(qctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (b *redisBackend) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	d, err := b.client.TTL(qctx, key).Result()
	if err != nil {
		return 0, false, err
	}
	// go-redis passes the sentinel replies through: -2 means the key does
	// not exist, -1 means it exists without an expiry.
	switch {
	case d == -2:
		return 0, false, nil
	case d == -1:
		return 0, true, nil
	default:
		return d, true, nil
	}
}

func (b *redisBackend) Incr(ctx context.Context, key string) (int64, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	return b.client.Incr(qctx, key).Result()
}

func (b *redisBackend) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return b.client.SAdd(qctx, key, args...).Err()
}

func (b *redisBackend) SMembers(ctx context.Context, key string) ([]string, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	members, err := b.client.SMembers(qctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return members, err
}

func (b *redisBackend) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	if ttl <= 0 {
		return b.client.Persist(qctx, key).Result()
	}
	return b.client.Expire(qctx, key, ttl).Result()
}

// Close is a no-op — the caller owns the redis.Client lifecycle.
func (b *redisBackend) Close() error {
	return nil
}
