package cache

import (
	"bytes"
	"compress/gzip"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultCompressionThreshold is the payload size in bytes at or above which
// values are gzip-compressed before storage.
const DefaultCompressionThreshold = 1024

// entry is the stored envelope around a cached payload. The payload is the
// msgpack encoding of the caller's value, gzipped when it meets the
// compression threshold.
type entry struct {
	Payload    []byte `msgpack:"p"`
	Compressed bool   `msgpack:"c"`
	StoredAt   int64  `msgpack:"s"`
	TTLSeconds uint32 `msgpack:"t"`
}

// encodeEntry serializes val into a storable envelope.
func encodeEntry(val any, threshold int, ttl time.Duration) ([]byte, error) {
	payload, err := msgpack.Marshal(val)
	if err != nil {
		return nil, errors.Wrap(err, "cache: marshal value")
	}
	e := entry{
		Payload:    payload,
		StoredAt:   time.Now().Unix(),
		TTLSeconds: uint32(ttl / time.Second),
	}
	if threshold > 0 && len(payload) >= threshold {
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, errors.Wrap(err, "cache: compress value")
		}
		if err := w.Close(); err != nil {
			return nil, errors.Wrap(err, "cache: compress value")
		}
		e.Payload = buf.Bytes()
		e.Compressed = true
	}
	data, err := msgpack.Marshal(&e)
	if err != nil {
		return nil, errors.Wrap(err, "cache: marshal entry")
	}
	return data, nil
}

// decodeEntry unwraps a stored envelope and returns the raw msgpack payload.
func decodeEntry(data []byte) ([]byte, error) {
	var e entry
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrap(err, "cache: unmarshal entry")
	}
	if !e.Compressed {
		return e.Payload, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(e.Payload))
	if err != nil {
		return nil, errors.Wrap(err, "cache: decompress value")
	}
	defer r.Close()
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "cache: decompress value")
	}
	return payload, nil
}
