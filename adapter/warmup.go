package adapter

import (
	"context"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	str2duration "github.com/xhit/go-str2duration/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// WarmupQuery is one query executed eagerly at adapter construction so its
// result is already cached before the first application call.
type WarmupQuery struct {
	SQL  string
	Args []any
	TTL  time.Duration
	Tags []string
}

// UnmarshalYAML accepts TTLs as duration strings ("30s", "5m", "1d12h").
func (w *WarmupQuery) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		SQL  string   `yaml:"sql"`
		Args []any    `yaml:"args"`
		TTL  string   `yaml:"ttl"`
		Tags []string `yaml:"tags"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	w.SQL = raw.SQL
	w.Args = raw.Args
	w.Tags = raw.Tags
	if raw.TTL != "" {
		d, err := str2duration.ParseDuration(raw.TTL)
		if err != nil {
			return errors.Wrapf(err, "adapter: bad warmup ttl %q", raw.TTL)
		}
		w.TTL = d
	}
	return nil
}

// LoadWarmupFile reads a YAML list of warmup queries:
//
//	- sql: SELECT * FROM products WHERE featured = ?
//	  args: [true]
//	  ttl: 10m
//	  tags: [products]
func LoadWarmupFile(path string) ([]WarmupQuery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "adapter: read warmup file %s", path)
	}
	var queries []WarmupQuery
	if err := yaml.Unmarshal(data, &queries); err != nil {
		return nil, errors.Wrapf(err, "adapter: parse warmup file %s", path)
	}
	return queries, nil
}

// runWarmup executes the configured warmup queries through the normal cached
// path. Failures are logged and never fatal; the adapter becomes ready
// regardless.
func (a *Adapter) runWarmup(ctx context.Context, queries []WarmupQuery) {
	for _, q := range queries {
		opts := []CallOption{CacheTags(q.Tags...)}
		if q.TTL > 0 {
			opts = append(opts, CacheTTL(q.TTL))
		}
		if _, err := a.Execute(ctx, q.SQL, q.Args, opts...); err != nil {
			a.cfg.log.Warn("warmup query failed",
				zap.String("sql", q.SQL), zap.Error(err))
		}
	}
}
