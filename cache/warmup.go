package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mosaicdb/querycache/keys"
)

// WarmupEntry pre-populates one query-keyed cache entry. The manager does
// not know how to run SQL; Fetch produces the value (usually by executing
// the query against the real data source).
type WarmupEntry struct {
	SQL    string
	Params []any
	TTL    time.Duration
	Tags   []string
	Fetch  func(ctx context.Context) (any, error)
}

// Warmup eagerly populates the cache from the given entries. Each entry is
// keyed by its query hash, exactly as a live read of the same SQL would be.
// Entries are processed independently; failures are collected and returned
// combined so one bad entry does not abandon the rest.
func (m *Manager) Warmup(ctx context.Context, entries []WarmupEntry) error {
	var combined error
	for _, e := range entries {
		if e.Fetch == nil {
			combined = errors.CombineErrors(combined,
				errors.Newf("cache: warmup entry %q has no fetch callback", e.SQL))
			continue
		}
		key, tags, err := keys.New("").ForQuery(e.SQL, e.Params...).WithTags(e.Tags...).BuildWithTags()
		if err != nil {
			combined = errors.CombineErrors(combined, err)
			continue
		}
		val, err := e.Fetch(ctx)
		if err != nil {
			combined = errors.CombineErrors(combined,
				errors.Wrapf(err, "cache: warmup fetch %q", e.SQL))
			continue
		}
		opts := []SetOption{WithTags(tags...)}
		if e.TTL > 0 {
			opts = append(opts, WithTTL(e.TTL))
		}
		if err := m.Set(ctx, key, val, opts...); err != nil {
			combined = errors.CombineErrors(combined, err)
		}
	}
	return combined
}
