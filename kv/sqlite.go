package kv

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

type sqliteBackend struct {
	db        *sql.DB
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Backend = (*sqliteBackend)(nil)

// NewSQLite returns a Backend backed by SQLite. If dbPath is empty or
// ":memory:", an in-memory database is used. Expired keys are removed lazily
// on access and swept by a background goroutine.
func NewSQLite(ctx context.Context, dbPath string, opts ...Option) (Backend, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv_sets (
		key TEXT NOT NULL,
		member TEXT NOT NULL,
		PRIMARY KEY (key, member)
	)`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv_set_expiry (
		key TEXT PRIMARY KEY,
		expires_at INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_kv_expires_at ON kv(expires_at)`); err != nil {
		db.Close()
		return nil, err
	}

	cfg := applyOptions(opts)
	childCtx, cancel := context.WithCancel(ctx)
	b := &sqliteBackend{
		db:     db,
		ctx:    childCtx,
		cancel: cancel,
		cfg:    cfg,
	}
	b.waitGroup.Add(1)
	go b.run()
	return b, nil
}

func (b *sqliteBackend) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, b.cfg.queryTimeout)
}

// expiresAt converts a ttl into an absolute UnixNano deadline; 0 means never.
func expiresAt(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return time.Now().Add(ttl).UnixNano()
}

func alive(deadline int64, now int64) bool {
	return deadline == 0 || deadline >= now
}

func (b *sqliteBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	var data []byte
	var deadline int64
	err := b.db.QueryRowContext(qctx,
		`SELECT value, expires_at FROM kv WHERE key = ?`, key,
	).Scan(&data, &deadline)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !alive(deadline, time.Now().UnixNano()) {
		_, _ = b.db.ExecContext(qctx, `DELETE FROM kv WHERE key = ?`, key)
		return nil, false, nil
	}
	return data, true, nil
}

func (b *sqliteBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	_, err := b.db.ExecContext(qctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt(ttl),
	)
	return err
}

func (b *sqliteBackend) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	now := time.Now().UnixNano()
	var count int
	for _, key := range keys {
		res, err := b.db.ExecContext(qctx,
			`DELETE FROM kv WHERE key = ? AND (expires_at = 0 OR expires_at >= ?)`, key, now)
		if err != nil {
			return count, err
		}
		n, _ := res.RowsAffected()
		count += int(n)
		res, err = b.db.ExecContext(qctx, `DELETE FROM kv_sets WHERE key = ?`, key)
		if err != nil {
			return count, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			count++
		}
		_, _ = b.db.ExecContext(qctx, `DELETE FROM kv_set_expiry WHERE key = ?`, key)
	}
	return count, nil
}

// globToLike translates a glob pattern into a SQL LIKE pattern. Character
// classes are approximated by a single-character wildcard.
func globToLike(pattern string) string {
	var sb strings.Builder
	inClass := false
	for _, r := range pattern {
		switch {
		case inClass:
			if r == ']' {
				inClass = false
				sb.WriteByte('_')
			}
		case r == '[':
			inClass = true
		case r == '*':
			sb.WriteByte('%')
		case r == '?':
			sb.WriteByte('_')
		case r == '%' || r == '_' || r == '\\':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func (b *sqliteBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	like := globToLike(pattern)
	now := time.Now().UnixNano()
	rows, err := b.db.QueryContext(qctx,
		`SELECT key FROM kv WHERE key LIKE ? ESCAPE '\' AND (expires_at = 0 OR expires_at >= ?)
		UNION SELECT DISTINCT key FROM kv_sets WHERE key LIKE ? ESCAPE '\'`,
		like, now, like)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (b *sqliteBackend) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	now := time.Now()
	var deadline int64
	err := b.db.QueryRowContext(qctx, `SELECT expires_at FROM kv WHERE key = ?`, key).Scan(&deadline)
	if err == sql.ErrNoRows {
		// Fall back to set expiry.
		err = b.db.QueryRowContext(qctx,
			`SELECT e.expires_at FROM kv_set_expiry e
			WHERE e.key = ? AND EXISTS (SELECT 1 FROM kv_sets s WHERE s.key = e.key)`, key).Scan(&deadline)
		if err == sql.ErrNoRows {
			// A set without a recorded expiry still exists.
			var n int
			if err := b.db.QueryRowContext(qctx,
				`SELECT COUNT(1) FROM kv_sets WHERE key = ?`, key).Scan(&n); err != nil {
				return 0, false, err
			}
			return 0, n > 0, nil
		}
	}
	if err != nil {
		return 0, false, err
	}
	if deadline == 0 {
		return 0, true, nil
	}
	remaining := time.Unix(0, deadline).Sub(now)
	if remaining <= 0 {
		return 0, false, nil
	}
	return remaining, true, nil
}

func (b *sqliteBackend) Incr(ctx context.Context, key string) (int64, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	var n int64
	err := b.db.QueryRowContext(qctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, '1', 0)
		ON CONFLICT(key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) + 1 AS TEXT)
		RETURNING CAST(value AS INTEGER)`, key).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, "kv: increment %q", key)
	}
	return n, nil
}

func (b *sqliteBackend) SAdd(ctx context.Context, key string, members ...string) error {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	for _, m := range members {
		if _, err := b.db.ExecContext(qctx,
			`INSERT INTO kv_sets (key, member) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			key, m); err != nil {
			return err
		}
	}
	return nil
}

func (b *sqliteBackend) SMembers(ctx context.Context, key string) ([]string, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	var deadline int64
	err := b.db.QueryRowContext(qctx,
		`SELECT expires_at FROM kv_set_expiry WHERE key = ?`, key).Scan(&deadline)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if err == nil && !alive(deadline, time.Now().UnixNano()) {
		_, _ = b.db.ExecContext(qctx, `DELETE FROM kv_sets WHERE key = ?`, key)
		_, _ = b.db.ExecContext(qctx, `DELETE FROM kv_set_expiry WHERE key = ?`, key)
		return nil, nil
	}
	rows, err := b.db.QueryContext(qctx, `SELECT member FROM kv_sets WHERE key = ?`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (b *sqliteBackend) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	qctx, cancel := b.queryCtx(ctx)
	defer cancel()
	deadline := expiresAt(ttl)
	res, err := b.db.ExecContext(qctx,
		`UPDATE kv SET expires_at = ? WHERE key = ? AND (expires_at = 0 OR expires_at >= ?)`,
		deadline, key, time.Now().UnixNano())
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	var exists int
	if err := b.db.QueryRowContext(qctx,
		`SELECT COUNT(1) FROM kv_sets WHERE key = ?`, key).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}
	_, err = b.db.ExecContext(qctx,
		`INSERT INTO kv_set_expiry (key, expires_at) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET expires_at = excluded.expires_at`,
		key, deadline)
	return err == nil, err
}

func (b *sqliteBackend) Close() error {
	b.once.Do(func() {
		b.cancel()
		b.waitGroup.Wait()
	})
	return b.db.Close()
}

func (b *sqliteBackend) run() {
	defer b.waitGroup.Done()
	ticker := time.NewTicker(b.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UnixNano()
			_, _ = b.db.Exec(`DELETE FROM kv WHERE expires_at != 0 AND expires_at < ?`, now)
			_, _ = b.db.Exec(`DELETE FROM kv_sets WHERE key IN
				(SELECT key FROM kv_set_expiry WHERE expires_at != 0 AND expires_at < ?)`, now)
			_, _ = b.db.Exec(`DELETE FROM kv_set_expiry WHERE expires_at != 0 AND expires_at < ?`, now)
		}
	}
}
