// Package adapter wraps a query executor with transparent result caching.
//
// Each incoming command is classified by its leading keyword against a
// configurable allow-list of cacheable commands (by default SELECT, SHOW,
// DESCRIBE, EXPLAIN). Cacheable commands are keyed by a hash of their
// normalized text and parameters, or an explicit per-call key, and served
// through a [github.com/mosaicdb/querycache/cache.Manager], with the real
// executor as the supplier on a miss. Everything else is treated as
// mutating: it executes first, then the adapter scans the command for its
// target tables and invalidates every cached entry derived from them. The
// write always completes before invalidation is attempted, bounding the
// staleness window to the gap between commit and invalidation. A reader
// racing inside that gap can still repopulate the cache with pre-write data;
// that second window is inherent to look-aside caching and is not closed
// here.
//
// Table discovery is a documented heuristic (see [MutationTargets]): when it
// finds nothing, nothing is invalidated and the miss is logged, not raised.
//
// Subscribers receive typed notifications:
//
//	unsub := a.Subscribe(adapter.EventMiss, func(e adapter.Event) {
//	    log.Printf("miss %s in %s", e.Key, e.Duration)
//	})
//	defer unsub()
//
// Per-call behavior is overridden with call options: [NoCache] bypasses the
// cache for one call, [CacheTTL], [CacheTags], and [CacheKey] override the
// defaults for one call only.
package adapter
