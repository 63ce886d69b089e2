package kv

import (
	"context"
	"time"
)

// Backend is the minimal key-value capability the caching engine consumes.
// Any conforming store can be plugged in; the engine never assumes more than
// these operations. Implementations must honor native TTL semantics; the
// engine never polls for expiry itself.
type Backend interface {
	// Get returns the value stored at key. The bool reports whether the key
	// exists (an expired key does not exist).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value at key. If ttl > 0 the key expires after ttl; if
	// ttl <= 0 the key has no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the given keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int, error)

	// Keys returns all keys matching a glob pattern (*, ?, [..] as in
	// Redis KEYS / path.Match).
	Keys(ctx context.Context, pattern string) ([]string, error)

	// TTL returns the remaining time to live of key. The bool reports
	// whether the key exists; a zero duration on an existing key means it
	// has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, bool, error)

	// Incr atomically increments the integer value at key, creating it at
	// 1 if absent, and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// SAdd adds members to the set stored at key, creating it if absent.
	SAdd(ctx context.Context, key string, members ...string) error

	// SMembers returns all members of the set stored at key. A missing set
	// yields an empty slice, not an error.
	SMembers(ctx context.Context, key string) ([]string, error)

	// Expire sets or refreshes the TTL of key (value or set). The bool
	// reports whether the key existed.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Close releases any resources held by the backend.
	Close() error
}

// DefaultQueryTimeout is the per-operation timeout for backends that perform
// I/O (SQLite, Redis). Prevents indefinite hangs on slow or unresponsive
// storage.
const DefaultQueryTimeout = 5 * time.Second

// config holds the resolved configuration for a Backend implementation.
type config struct {
	queryTimeout time.Duration
	expiryCheck  time.Duration
}

// Option configures a Backend implementation.
type Option func(*config)

func defaultConfig() config {
	return config{
		queryTimeout: DefaultQueryTimeout,
		expiryCheck:  time.Minute,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithQueryTimeout sets the per-operation timeout for I/O-backed backends
// (SQLite, Redis). Defaults to DefaultQueryTimeout (5 seconds).
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithExpiryCheck sets the interval for background expired entry cleanup.
// Applies to the InMemory and SQLite backends. Defaults to 1 minute.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}
