package cache

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mosaicdb/querycache/keys"
	"github.com/mosaicdb/querycache/kv"
)

// DefaultTTL is the entry TTL used when Set is called without one.
const DefaultTTL = 5 * time.Minute

// DefaultNamespace prefixes all keys when no namespace is configured.
const DefaultNamespace = "cache"

// config holds the resolved configuration for a Manager.
type config struct {
	namespace            string
	defaultTTL           time.Duration
	enableStats          bool
	compressionThreshold int
	strictReads          bool
	singleFlight         bool
}

// Option configures a Manager.
type Option func(*config)

func defaultManagerConfig() config {
	return config{
		namespace:            DefaultNamespace,
		defaultTTL:           DefaultTTL,
		enableStats:          true,
		compressionThreshold: DefaultCompressionThreshold,
	}
}

// WithNamespace sets the string prefix isolating this manager's keys from
// other users of the same backend. Defaults to DefaultNamespace.
func WithNamespace(ns string) Option {
	return func(c *config) { c.namespace = ns }
}

// WithDefaultTTL sets the TTL used when Set is called without one.
// Defaults to DefaultTTL (5 minutes).
func WithDefaultTTL(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.defaultTTL = d
		}
	}
}

// WithoutStats disables hit/miss/set/invalidation counting.
func WithoutStats() Option {
	return func(c *config) { c.enableStats = false }
}

// WithCompressionThreshold sets the payload size in bytes at or above which
// values are gzip-compressed. Zero disables compression. Defaults to
// DefaultCompressionThreshold.
func WithCompressionThreshold(n int) Option {
	return func(c *config) { c.compressionThreshold = n }
}

// WithStrictReads makes Get propagate backend failures instead of treating
// them as misses. By default reads fail open so the caller can fall through
// to the real data source.
func WithStrictReads() Option {
	return func(c *config) { c.strictReads = true }
}

// WithSingleFlight de-duplicates concurrent GetOrSet misses for the same key
// within this process, so the supplier runs once per key per flight. Off by
// default: without it two simultaneous miss-callers both invoke the supplier
// and both write the result (last write wins), which is safe for derived
// data but wastes work. Cross-process de-duplication still requires an
// external lock.
func WithSingleFlight() Option {
	return func(c *config) { c.singleFlight = true }
}

// Manager is the public cache façade: get/set/get-or-set, invalidation by
// key, tag, or table, statistics, scoped sub-caches, and warmup. It composes
// an entry store (namespacing, compression, TTL) and a tag index over an
// injected key-value backend. The Manager does not own the backend's
// connection lifecycle.
//
// All methods are safe for concurrent use. Concurrent Set calls to the same
// key race at the backend with last-write-wins semantics; cache entries are
// derived data, never the system of record.
type Manager struct {
	backend kv.Backend
	cfg     config
	stats   *counters
	log     *zap.Logger
	group   *singleflight.Group
}

// New returns a Manager over the given backend.
func New(backend kv.Backend, opts ...Option) *Manager {
	cfg := defaultManagerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	m := &Manager{
		backend: backend,
		cfg:     cfg,
		stats:   &counters{enabled: cfg.enableStats},
		log:     zap.NewNop(),
	}
	if cfg.singleFlight {
		m.group = new(singleflight.Group)
	}
	return m
}

// SetLogger replaces the manager's logger. Defaults to a no-op logger.
func (m *Manager) SetLogger(log *zap.Logger) {
	if log != nil {
		m.log = log
	}
}

// Namespace returns the manager's key prefix.
func (m *Manager) Namespace() string {
	return m.cfg.namespace
}

// Scope returns a manager view bound to a sub-namespace: every key it reads
// or writes is additionally prefixed with name. The scope shares the parent's
// backend and statistics counters and has no independent lifecycle.
func (m *Manager) Scope(name string) *Manager {
	child := *m
	child.cfg.namespace = m.cfg.namespace + ":" + name
	return &child
}

func (m *Manager) fullKey(key string) string {
	if m.cfg.namespace == "" {
		return key
	}
	return m.cfg.namespace + ":" + key
}

func (m *Manager) tagIndexKey(tag string) string {
	return m.fullKey("idx:tag:" + tag)
}

// payload fetches and unwraps the stored envelope for key. Backend and
// envelope failures fail open (miss) unless strict reads are configured.
// Misses are counted here; hits are counted by the callers once the payload
// actually decodes into the requested type.
func (m *Manager) payload(ctx context.Context, key string) ([]byte, bool, error) {
	data, found, err := m.backend.Get(ctx, m.fullKey(key))
	if err != nil {
		if m.cfg.strictReads {
			return nil, false, newCacheError("get", key, err)
		}
		m.log.Warn("cache read failed, serving as miss",
			zap.String("key", key), zap.Error(err))
		m.stats.miss()
		return nil, false, nil
	}
	if !found {
		m.stats.miss()
		return nil, false, nil
	}
	payload, err := decodeEntry(data)
	if err != nil {
		if m.cfg.strictReads {
			return nil, false, newCacheError("decode", key, err)
		}
		m.log.Warn("cache entry undecodable, serving as miss",
			zap.String("key", key), zap.Error(err))
		m.stats.miss()
		return nil, false, nil
	}
	return payload, true, nil
}

// Get returns the value stored at key, decoded into its natural Go shape
// (maps, slices, primitives). The bool reports whether the key was present.
// Use Value for typed retrieval.
func (m *Manager) Get(ctx context.Context, key string) (any, bool, error) {
	return Value[any](ctx, m, key)
}

// Value retrieves a typed value from the cache. An entry that does not decode
// into T follows the read error policy: a miss by default, a CacheError under
// strict reads.
func Value[T any](ctx context.Context, m *Manager, key string) (T, bool, error) {
	var zero T
	payload, found, err := m.payload(ctx, key)
	if err != nil || !found {
		return zero, false, err
	}
	var v T
	if err := msgpack.Unmarshal(payload, &v); err != nil {
		if m.cfg.strictReads {
			return zero, false, newCacheError("decode", key, err)
		}
		m.log.Warn("cache value does not decode into requested type, serving as miss",
			zap.String("key", key), zap.Error(err))
		m.stats.miss()
		return zero, false, nil
	}
	m.stats.hit()
	return v, true, nil
}

// SetOption configures a single Set or GetOrSet call.
type SetOption func(*setOptions)

type setOptions struct {
	ttl    time.Duration
	tags   []string
	tables []string
}

// WithTTL overrides the default TTL for this entry.
func WithTTL(d time.Duration) SetOption {
	return func(o *setOptions) { o.ttl = d }
}

// WithTags attaches invalidation tags to this entry.
func WithTags(tags ...string) SetOption {
	return func(o *setOptions) { o.tags = append(o.tags, tags...) }
}

// WithTables attaches table tags to this entry, so invalidating the table
// removes it.
func WithTables(tables ...string) SetOption {
	return func(o *setOptions) { o.tables = append(o.tables, tables...) }
}

func (m *Manager) resolveSet(opts []SetOption) setOptions {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		o.ttl = m.cfg.defaultTTL
	}
	return o
}

// Set stores val at key. Payloads at or above the compression threshold are
// gzipped. Every tag (explicit plus table tags) gains key in its index set
// with an index TTL at least as long as the entry's, so index entries can
// outlive their members but never expire first. Backend failures propagate
// as CacheError; a silently dropped write would be invisible to the caller.
func (m *Manager) Set(ctx context.Context, key string, val any, opts ...SetOption) error {
	o := m.resolveSet(opts)
	data, err := encodeEntry(val, m.cfg.compressionThreshold, o.ttl)
	if err != nil {
		return newCacheError("set", key, err)
	}
	full := m.fullKey(key)
	if err := m.backend.Set(ctx, full, data, o.ttl); err != nil {
		return newCacheError("set", key, err)
	}
	tags := make([]string, 0, len(o.tags)+len(o.tables))
	tags = append(tags, o.tags...)
	for _, table := range o.tables {
		tags = append(tags, keys.TableTag(table))
	}
	for _, tag := range tags {
		if err := m.indexAdd(ctx, tag, full, o.ttl); err != nil {
			return err
		}
	}
	m.stats.set()
	return nil
}

// indexAdd registers member under tag and keeps the index TTL at or above
// the longest member TTL observed, refreshed on each add.
func (m *Manager) indexAdd(ctx context.Context, tag, member string, ttl time.Duration) error {
	idx := m.tagIndexKey(tag)
	if err := m.backend.SAdd(ctx, idx, member); err != nil {
		return newCacheError("tag-index", idx, err)
	}
	remaining, exists, err := m.backend.TTL(ctx, idx)
	if err != nil {
		return newCacheError("tag-index", idx, err)
	}
	if !exists || remaining < ttl {
		if _, err := m.backend.Expire(ctx, idx, ttl); err != nil {
			return newCacheError("tag-index", idx, err)
		}
	}
	return nil
}

// GetOrSet returns the value at key, invoking supplier to produce and store
// it on a miss. Supplier errors propagate unchanged and nothing is cached.
// Without WithSingleFlight, concurrent misses for the same key each invoke
// the supplier (accepted stampede risk, see WithSingleFlight).
func (m *Manager) GetOrSet(ctx context.Context, key string, supplier func(context.Context) (any, error), opts ...SetOption) (any, error) {
	return Fetch(ctx, m, key, supplier, opts...)
}

// Fetch is the typed form of GetOrSet.
func Fetch[T any](ctx context.Context, m *Manager, key string, supplier func(context.Context) (T, error), opts ...SetOption) (T, error) {
	var zero T
	v, found, err := Value[T](ctx, m, key)
	if err != nil {
		return zero, err
	}
	if found {
		return v, nil
	}
	if m.group != nil {
		res, err, _ := m.group.Do(m.fullKey(key), func() (any, error) {
			return fetchMiss(ctx, m, key, supplier, opts)
		})
		if err != nil {
			return zero, err
		}
		return res.(T), nil
	}
	return fetchMiss(ctx, m, key, supplier, opts)
}

func fetchMiss[T any](ctx context.Context, m *Manager, key string, supplier func(context.Context) (T, error), opts []SetOption) (T, error) {
	v, err := supplier(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := m.Set(ctx, key, v, opts...); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// Invalidation names what to remove: any combination of tags, tables, and
// explicit keys.
type Invalidation struct {
	Tags   []string
	Tables []string
	Keys   []string
}

// Invalidate removes every entry referenced by the given tags and tables
// (via their index sets), plus any explicit keys, and drops the consumed
// indexes. Returns how many entries were actually removed. Backend failures
// propagate as CacheError; swallowing a failed invalidation would break the
// no-stale-read guarantee.
func (m *Manager) Invalidate(ctx context.Context, inv Invalidation) (int, error) {
	tags := make([]string, 0, len(inv.Tags)+len(inv.Tables))
	tags = append(tags, inv.Tags...)
	for _, table := range inv.Tables {
		tags = append(tags, keys.TableTag(table))
	}

	var victims []string
	var indexes []string
	for _, tag := range tags {
		idx := m.tagIndexKey(tag)
		members, err := m.backend.SMembers(ctx, idx)
		if err != nil {
			return 0, newCacheError("invalidate", idx, err)
		}
		victims = append(victims, members...)
		indexes = append(indexes, idx)
	}
	for _, key := range inv.Keys {
		victims = append(victims, m.fullKey(key))
	}

	removed := 0
	if len(victims) > 0 {
		n, err := m.backend.Delete(ctx, victims...)
		if err != nil {
			return n, newCacheError("invalidate", victims[0], err)
		}
		removed = n
	}
	if len(indexes) > 0 {
		if _, err := m.backend.Delete(ctx, indexes...); err != nil {
			return removed, newCacheError("invalidate", indexes[0], err)
		}
	}
	m.stats.invalidated(removed)
	return removed, nil
}

// InvalidateTag removes every entry carrying tag.
func (m *Manager) InvalidateTag(ctx context.Context, tag string) (int, error) {
	return m.Invalidate(ctx, Invalidation{Tags: []string{tag}})
}

// InvalidateTable removes every entry derived from table.
func (m *Manager) InvalidateTable(ctx context.Context, table string) (int, error) {
	return m.Invalidate(ctx, Invalidation{Tables: []string{table}})
}

// InvalidateRecord removes the point-lookup entry for a single record.
func (m *Manager) InvalidateRecord(ctx context.Context, table string, id any) (int, error) {
	key, err := keys.New("").ForTable(table).WithID(id).Build()
	if err != nil {
		return 0, err
	}
	return m.Invalidate(ctx, Invalidation{Keys: []string{key}})
}

// Clear wipes the manager's entire namespace, indexes included. Use
// InvalidateTable for table-scoped resets.
func (m *Manager) Clear(ctx context.Context) (int, error) {
	pattern := m.cfg.namespace + ":*"
	if m.cfg.namespace == "" {
		pattern = "*"
	}
	matched, err := m.backend.Keys(ctx, pattern)
	if err != nil {
		return 0, newCacheError("clear", m.cfg.namespace, err)
	}
	if len(matched) == 0 {
		return 0, nil
	}
	n, err := m.backend.Delete(ctx, matched...)
	if err != nil {
		return n, newCacheError("clear", m.cfg.namespace, err)
	}
	m.stats.deleted(n)
	return n, nil
}

// TTL returns the remaining time to live of key. The bool reports whether
// the key exists.
func (m *Manager) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	d, ok, err := m.backend.TTL(ctx, m.fullKey(key))
	if err != nil {
		return 0, false, newCacheError("ttl", key, err)
	}
	return d, ok, nil
}

// Stats returns a snapshot of the manager's counters. Scopes share their
// parent's counters.
func (m *Manager) Stats() Stats {
	return m.stats.snapshot()
}

// ResetStats zeroes all counters.
func (m *Manager) ResetStats() {
	m.stats.reset()
}
