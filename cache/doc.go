// Package cache implements the query-result cache manager: namespacing,
// TTL bookkeeping, tag and table invalidation, statistics, payload
// compression, scoped sub-caches, and warmup, all over an injected
// key-value backend.
//
// # Storage model
//
// Every value is stored under "{namespace}:{key}" as a msgpack envelope
// holding the serialized payload, a compression flag, the store time, and
// the TTL. Payloads at or above the compression threshold
// ([DefaultCompressionThreshold]) are gzipped. Expiry relies entirely on the
// backend's native TTL semantics; the manager never caches an entry's
// existence locally.
//
// Tags are opaque labels for bulk invalidation. For each tag the manager
// keeps a backend set at "{namespace}:idx:tag:{tag}" whose members are the
// full keys carrying that tag. Table invalidation uses the same machinery
// through the canonical "table:{name}" tags produced by
// [github.com/mosaicdb/querycache/keys.TableTag]. Index sets get a TTL at
// least as long as the longest member TTL, refreshed on every add, so an
// index may slightly outlive its members (a stale member just means a
// redundant delete) but never expires while a member is still valid.
//
// # Reads fail open, writes fail loud
//
// [Manager.Get] treats a backend failure as a miss by default, preserving
// availability of the real data path; [WithStrictReads] switches to
// propagation. [Manager.Set] and [Manager.Invalidate] always propagate
// failures as [CacheError]: silently dropping an invalidation would allow
// stale reads after a write.
//
// # Typed access
//
// The interface-level methods traffic in [any]. [Value] and [Fetch] are the
// generic counterparts:
//
//	user, found, err := cache.Value[User](ctx, m, "table:users:id:42")
//
//	user, err := cache.Fetch(ctx, m, key,
//	    func(ctx context.Context) (User, error) {
//	        return loadUser(ctx, id)
//	    },
//	    cache.WithTTL(time.Minute), cache.WithTables("users"),
//	)
//
// [Fetch] does not de-duplicate concurrent misses for the same key unless
// the manager was built with [WithSingleFlight]: by default two simultaneous
// miss-callers both invoke the supplier and both write the result.
package cache
