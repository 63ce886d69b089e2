package adapter

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mosaicdb/querycache/cache"
	"github.com/mosaicdb/querycache/keys"
)

// Executor is the only capability the adapter needs from the real backend.
type Executor interface {
	Execute(ctx context.Context, sql string, args []any) (*Result, error)
}

// Result is the outcome of one executed command.
type Result struct {
	Rows     []map[string]any `msgpack:"rows"`
	RowCount int              `msgpack:"rowCount"`
	Command  string           `msgpack:"command"`
}

// DefaultCacheableCommands are the leading keywords treated as read-only and
// therefore cacheable.
var DefaultCacheableCommands = []string{"SELECT", "SHOW", "DESCRIBE", "EXPLAIN"}

type config struct {
	cacheable  map[string]struct{}
	defaultTTL time.Duration
	log        *zap.Logger
	warmup     []WarmupQuery
}

// Option configures an Adapter.
type Option func(*config)

// WithCacheableCommands replaces the allow-list of leading keywords whose
// results may be cached.
func WithCacheableCommands(cmds ...string) Option {
	return func(c *config) {
		c.cacheable = make(map[string]struct{}, len(cmds))
		for _, cmd := range cmds {
			c.cacheable[strings.ToUpper(cmd)] = struct{}{}
		}
	}
}

// WithDefaultTTL sets the TTL applied to entries cached by this adapter when
// a call does not override it. Zero defers to the manager's default.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *config) { c.defaultTTL = d }
}

// WithLogger sets the adapter's logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.log = log
		}
	}
}

// WithWarmup registers queries executed once, eagerly, while the adapter is
// being constructed, before the first application call is accepted. Warmup
// is best-effort: failures are logged and never fatal.
func WithWarmup(queries ...WarmupQuery) Option {
	return func(c *config) { c.warmup = append(c.warmup, queries...) }
}

// Adapter decorates an Executor with transparent result caching. Read
// commands are served through the cache manager; mutating commands execute
// directly and then invalidate the tables they touch (write-then-invalidate,
// never the reverse). Hit, miss, and invalidation events are delivered to
// subscribed listeners.
type Adapter struct {
	exec    Executor
	cache   *cache.Manager
	cfg     config
	enabled atomic.Bool
	tracer  trace.Tracer
	subs    subscribers
}

// New wraps exec with caching through manager. Warmup queries registered via
// WithWarmup run to completion (best-effort) before New returns.
func New(ctx context.Context, exec Executor, manager *cache.Manager, opts ...Option) *Adapter {
	cfg := config{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.cacheable == nil {
		cfg.cacheable = make(map[string]struct{}, len(DefaultCacheableCommands))
		for _, cmd := range DefaultCacheableCommands {
			cfg.cacheable[cmd] = struct{}{}
		}
	}
	a := &Adapter{
		exec:   exec,
		cache:  manager,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/mosaicdb/querycache/adapter"),
	}
	a.enabled.Store(true)
	a.runWarmup(ctx, cfg.warmup)
	return a
}

// SetEnabled toggles caching at runtime. While disabled every call passes
// through to the bare executor; re-enabling restores normal operation.
func (a *Adapter) SetEnabled(on bool) {
	a.enabled.Store(on)
}

// Enabled reports whether caching is active.
func (a *Adapter) Enabled() bool {
	return a.enabled.Load()
}

// CallOption overrides caching behavior for a single Execute call.
type CallOption func(*callOptions)

type callOptions struct {
	skip bool
	ttl  time.Duration
	tags []string
	key  string
}

// NoCache bypasses caching entirely for this call: no lookup, no store, no
// invalidation.
func NoCache() CallOption {
	return func(o *callOptions) { o.skip = true }
}

// CacheTTL overrides the entry TTL for this call.
func CacheTTL(d time.Duration) CallOption {
	return func(o *callOptions) { o.ttl = d }
}

// CacheTags attaches extra invalidation tags for this call.
func CacheTags(tags ...string) CallOption {
	return func(o *callOptions) { o.tags = append(o.tags, tags...) }
}

// CacheKey pins an explicit cache key for this call instead of the derived
// query-hash key.
func CacheKey(key string) CallOption {
	return func(o *callOptions) { o.key = key }
}

// Execute runs a command. Cacheable commands (classified by leading keyword)
// are served through the cache; everything else executes directly and then
// invalidates the tables the command targets.
func (a *Adapter) Execute(ctx context.Context, sql string, args []any, opts ...CallOption) (*Result, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	cmd := leadingCommand(sql)

	ctx, span := a.tracer.Start(ctx, "querycache.execute",
		trace.WithAttributes(attribute.String("db.operation", cmd)))
	defer span.End()

	if !a.enabled.Load() || o.skip {
		span.SetAttributes(attribute.Bool("cache.bypassed", true))
		res, err := a.exec.Execute(ctx, sql, args)
		if err != nil {
			span.RecordError(err)
		}
		return res, err
	}

	if _, ok := a.cfg.cacheable[cmd]; ok {
		return a.executeCached(ctx, span, sql, args, o)
	}
	return a.executeMutating(ctx, span, sql, args, cmd)
}

func (a *Adapter) executeCached(ctx context.Context, span trace.Span, sql string, args []any, o callOptions) (*Result, error) {
	key := o.key
	if key == "" {
		built, err := keys.New("").ForQuery(sql, args...).Build()
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		key = built
	}
	span.SetAttributes(attribute.String("cache.key", key))

	setOpts := []cache.SetOption{
		cache.WithTags(o.tags...),
		cache.WithTables(SourceTables(sql)...),
	}
	ttl := o.ttl
	if ttl <= 0 {
		ttl = a.cfg.defaultTTL
	}
	if ttl > 0 {
		setOpts = append(setOpts, cache.WithTTL(ttl))
	}

	start := time.Now()
	// The supplier only runs on a miss, and at most once per flight when the
	// manager de-duplicates concurrent misses. A call whose supplier never
	// ran was served from the cache (or from a shared flight).
	var missed bool
	res, err := cache.Fetch(ctx, a.cache, key, func(ctx context.Context) (*Result, error) {
		missed = true
		return a.exec.Execute(ctx, sql, args)
	}, setOpts...)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("cache.hit", !missed))
	kind := EventHit
	if missed {
		kind = EventMiss
	}
	a.subs.emit(Event{Kind: kind, Key: key, SQL: sql, Duration: time.Since(start)})
	return res, nil
}

func (a *Adapter) executeMutating(ctx context.Context, span trace.Span, sql string, args []any, cmd string) (*Result, error) {
	// The real write must complete before invalidation is attempted.
	res, err := a.exec.Execute(ctx, sql, args)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	tables := MutationTargets(sql)
	if len(tables) == 0 {
		// Known heuristic gap: nothing discovered means nothing invalidated.
		a.cfg.log.Debug("no target tables discovered, skipping invalidation",
			zap.String("command", cmd))
		return res, nil
	}
	for _, table := range tables {
		if _, err := a.cache.InvalidateTable(ctx, table); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}
	span.SetAttributes(attribute.StringSlice("cache.invalidated_tables", tables))
	a.subs.emit(Event{Kind: EventInvalidated, SQL: sql, Tables: tables, Command: cmd})
	return res, nil
}

// leadingCommand returns the first keyword of a command, uppercased, with
// leading whitespace and SQL comments skipped.
func leadingCommand(sql string) string {
	s := sql
	for {
		s = strings.TrimLeft(s, " \t\r\n")
		switch {
		case strings.HasPrefix(s, "--"):
			if i := strings.IndexByte(s, '\n'); i >= 0 {
				s = s[i+1:]
				continue
			}
			return ""
		case strings.HasPrefix(s, "/*"):
			if i := strings.Index(s, "*/"); i >= 0 {
				s = s[i+2:]
				continue
			}
			return ""
		}
		break
	}
	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			end++
			continue
		}
		break
	}
	return strings.ToUpper(s[:end])
}
