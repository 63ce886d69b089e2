package kv

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

type memValue struct {
	data    []byte
	expires time.Time // zero = no expiry
}

type memSet struct {
	members map[string]struct{}
	expires time.Time // zero = no expiry
}

type inMemoryBackend struct {
	ctx       context.Context
	cancel    context.CancelFunc
	mutex     sync.Mutex
	values    map[string]*memValue
	sets      map[string]*memSet
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Backend = (*inMemoryBackend)(nil)

// NewInMemory returns a new in-memory Backend implementation. Expired keys
// are removed lazily on access and swept by a background goroutine at the
// configured expiry-check interval.
func NewInMemory(parent context.Context, opts ...Option) Backend {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	b := &inMemoryBackend{
		ctx:    ctx,
		cancel: cancel,
		values: make(map[string]*memValue),
		sets:   make(map[string]*memSet),
		cfg:    cfg,
	}
	b.waitGroup.Add(1)
	go b.run()
	return b
}

func expired(at time.Time, now time.Time) bool {
	return !at.IsZero() && at.Before(now)
}

func (b *inMemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	val, ok := b.values[key]
	if !ok {
		return nil, false, nil
	}
	if expired(val.expires, time.Now()) {
		delete(b.values, key)
		return nil, false, nil
	}
	return val.data, true, nil
}

func (b *inMemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	b.mutex.Lock()
	b.values[key] = &memValue{data: value, expires: expires}
	b.mutex.Unlock()
	return nil
}

func (b *inMemoryBackend) Delete(_ context.Context, keys ...string) (int, error) {
	now := time.Now()
	b.mutex.Lock()
	defer b.mutex.Unlock()
	var count int
	for _, key := range keys {
		if val, ok := b.values[key]; ok {
			if !expired(val.expires, now) {
				count++
			}
			delete(b.values, key)
		}
		if set, ok := b.sets[key]; ok {
			if !expired(set.expires, now) {
				count++
			}
			delete(b.sets, key)
		}
	}
	return count, nil
}

func (b *inMemoryBackend) Keys(_ context.Context, pattern string) ([]string, error) {
	now := time.Now()
	b.mutex.Lock()
	defer b.mutex.Unlock()
	var matched []string
	for key, val := range b.values {
		if expired(val.expires, now) {
			continue
		}
		if ok, err := path.Match(pattern, key); err != nil {
			return nil, errors.Wrapf(err, "kv: bad pattern %q", pattern)
		} else if ok {
			matched = append(matched, key)
		}
	}
	for key, set := range b.sets {
		if expired(set.expires, now) {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			matched = append(matched, key)
		}
	}
	return matched, nil
}

func (b *inMemoryBackend) TTL(_ context.Context, key string) (time.Duration, bool, error) {
	now := time.Now()
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if val, ok := b.values[key]; ok && !expired(val.expires, now) {
		if val.expires.IsZero() {
			return 0, true, nil
		}
		return val.expires.Sub(now), true, nil
	}
	if set, ok := b.sets[key]; ok && !expired(set.expires, now) {
		if set.expires.IsZero() {
			return 0, true, nil
		}
		return set.expires.Sub(now), true, nil
	}
	return 0, false, nil
}

func (b *inMemoryBackend) Incr(_ context.Context, key string) (int64, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	var n int64
	var expires time.Time // incrementing keeps the existing expiry, as Redis does
	if val, ok := b.values[key]; ok && !expired(val.expires, time.Now()) {
		parsed, err := strconv.ParseInt(string(val.data), 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "kv: value at %q is not an integer", key)
		}
		n = parsed
		expires = val.expires
	}
	n++
	b.values[key] = &memValue{data: []byte(strconv.FormatInt(n, 10)), expires: expires}
	return n, nil
}

func (b *inMemoryBackend) SAdd(_ context.Context, key string, members ...string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	set, ok := b.sets[key]
	if !ok || expired(set.expires, time.Now()) {
		set = &memSet{members: make(map[string]struct{})}
		b.sets[key] = set
	}
	for _, m := range members {
		set.members[m] = struct{}{}
	}
	return nil
}

func (b *inMemoryBackend) SMembers(_ context.Context, key string) ([]string, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	set, ok := b.sets[key]
	if !ok || expired(set.expires, time.Now()) {
		return nil, nil
	}
	members := make([]string, 0, len(set.members))
	for m := range set.members {
		members = append(members, m)
	}
	return members, nil
}

func (b *inMemoryBackend) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if val, ok := b.values[key]; ok && !expired(val.expires, now) {
		val.expires = expires
		return true, nil
	}
	if set, ok := b.sets[key]; ok && !expired(set.expires, now) {
		set.expires = expires
		return true, nil
	}
	return false, nil
}

func (b *inMemoryBackend) Close() error {
	b.once.Do(func() {
		b.cancel()
		b.waitGroup.Wait()
	})
	return nil
}

func (b *inMemoryBackend) run() {
	defer b.waitGroup.Done()
	ticker := time.NewTicker(b.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			b.mutex.Lock()
			for key, val := range b.values {
				if expired(val.expires, now) {
					delete(b.values, key)
				}
			}
			for key, set := range b.sets {
				if expired(set.expires, now) {
					delete(b.sets, key)
				}
			}
			b.mutex.Unlock()
		}
	}
}
