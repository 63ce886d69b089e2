// Package kv defines the minimal key-value capability the caching engine
// consumes, plus three conforming backends.
//
//   - [NewInMemory] — in-process maps guarded by a mutex, with a background
//     goroutine sweeping expired keys. Fastest option; lost on restart.
//   - [NewRedis] — backed by Redis via [github.com/redis/go-redis/v9].
//     Expiry uses native Redis TTL, sets are Redis sets, pattern listing
//     uses SCAN. The caller owns the redis.Client lifecycle; Close is a
//     no-op.
//   - [NewSQLite] — backed by SQLite via [modernc.org/sqlite] (pure Go, no
//     CGO). Supports file-backed and ":memory:" modes; WAL mode is enabled.
//     Expired keys are removed lazily on access and swept in the background.
//
// The I/O-backed implementations apply a per-operation timeout
// ([DefaultQueryTimeout]) so a slow store cannot hang the engine.
//
// Values are opaque byte slices: serialization is the caller's concern. Set
// membership ([Backend.SAdd], [Backend.SMembers]) exists for secondary
// indexes such as tag-to-keys maps, and [Backend.Expire] applies TTLs to
// those sets as well as to plain values.
package kv
