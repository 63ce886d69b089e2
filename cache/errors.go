package cache

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// CacheError reports a failed backend operation. It carries the offending
// key and the operation so callers can decide whether to log-and-continue or
// abort. Unwrap exposes the underlying cause for errors.Is / errors.As.
type CacheError struct {
	Op    string
	Key   string
	cause error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache: %s %q: %v", e.Op, e.Key, e.cause)
}

func (e *CacheError) Unwrap() error {
	return e.cause
}

func newCacheError(op, key string, cause error) error {
	return &CacheError{Op: op, Key: key, cause: cause}
}

// IsCacheError reports whether err is (or wraps) a CacheError.
func IsCacheError(err error) bool {
	var ce *CacheError
	return errors.As(err, &ce)
}
