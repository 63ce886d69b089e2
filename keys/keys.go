// Package keys builds deterministic cache keys for query results.
//
// A key is "{namespace}:{kind}:{discriminator}" where kind is one of table,
// query, field, or custom. Table/id keys embed literal identifiers and stay
// human readable; query keys hash the normalized SQL text together with the
// serialized parameters so that identical queries always map to the same key
// and different parameters never collide.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrValidation marks errors caused by malformed builder input.
var ErrValidation = errors.New("keys: invalid input")

// Builder assembles a cache key from a table, id, field, query, or custom
// parts. Builders are cheap values; methods return the receiver for chaining.
// A Builder is not safe for concurrent use.
type Builder struct {
	ns         string
	table      string
	id         string
	field      string
	fieldValue any
	hasField   bool
	sql        string
	params     []any
	isQuery    bool
	custom     []string
	tags       []string
}

// New returns a Builder scoped to the given namespace. An empty namespace
// produces keys without a leading prefix, which is what callers want when the
// cache manager applies its own namespace.
func New(namespace string) *Builder {
	return &Builder{ns: namespace}
}

// ForTable sets the table context. Table names are lowercased so that
// differently quoted spellings of the same table share keys and tags.
func (b *Builder) ForTable(table string) *Builder {
	b.table = strings.ToLower(strings.TrimSpace(table))
	return b
}

// WithID sets a literal record id for a point-lookup key.
func (b *Builder) WithID(id any) *Builder {
	b.id = fmt.Sprint(id)
	return b
}

// WithField sets a field lookup. The value is hashed rather than embedded raw
// to bound key length and avoid illegal characters.
func (b *Builder) WithField(name string, value any) *Builder {
	b.field = strings.ToLower(strings.TrimSpace(name))
	b.fieldValue = value
	b.hasField = true
	return b
}

// ForQuery sets the SQL text and bound parameters for a query-result key.
func (b *Builder) ForQuery(sql string, params ...any) *Builder {
	b.sql = sql
	b.params = params
	b.isQuery = true
	return b
}

// ForCustom builds a key from caller-supplied parts.
func (b *Builder) ForCustom(parts ...string) *Builder {
	b.custom = parts
	return b
}

// WithTags attaches explicit invalidation tags, returned by BuildWithTags.
func (b *Builder) WithTags(tags ...string) *Builder {
	b.tags = append(b.tags, tags...)
	return b
}

// Build assembles the key.
func (b *Builder) Build() (string, error) {
	var parts []string
	switch {
	case b.isQuery:
		if strings.TrimSpace(b.sql) == "" {
			return "", errors.Mark(errors.New("keys: query SQL must not be empty"), ErrValidation)
		}
		digest, err := queryDigest(b.sql, b.params)
		if err != nil {
			return "", err
		}
		parts = []string{"query", digest}
	case len(b.custom) > 0:
		parts = append([]string{"custom"}, b.custom...)
	case b.table != "":
		parts = []string{"table", b.table}
		switch {
		case b.hasField:
			digest, err := valueDigest(b.fieldValue)
			if err != nil {
				return "", err
			}
			parts = append(parts, "field", b.field, digest)
		case b.id != "":
			parts = append(parts, "id", b.id)
		}
	default:
		return "", errors.Mark(errors.New("keys: nothing to build a key from"), ErrValidation)
	}
	if b.ns != "" {
		parts = append([]string{b.ns}, parts...)
	}
	return strings.Join(parts, ":"), nil
}

// BuildWithTags assembles the key plus its invalidation tags. When a table
// context is known an implicit "table:{table}" tag is always included, so
// table-level invalidation covers query-keyed entries even if the caller
// forgot to tag them.
func (b *Builder) BuildWithTags() (string, []string, error) {
	key, err := b.Build()
	if err != nil {
		return "", nil, err
	}
	tags := make([]string, 0, len(b.tags)+1)
	tags = append(tags, b.tags...)
	if b.table != "" {
		implicit := TableTag(b.table)
		found := false
		for _, t := range tags {
			if t == implicit {
				found = true
				break
			}
		}
		if !found {
			tags = append(tags, implicit)
		}
	}
	return key, tags, nil
}

// TableTag returns the canonical invalidation tag for a table name.
func TableTag(table string) string {
	return "table:" + strings.ToLower(strings.TrimSpace(table))
}

// NormalizeSQL collapses runs of whitespace to single spaces and trims the
// ends, so semantically identical queries emitted with different formatting
// hash to the same key. No further canonicalization is attempted: clause
// reordering or case folding of keywords would risk conflating distinct
// queries.
func NormalizeSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

// queryDigest hashes the normalized SQL together with the serialized
// parameters. SHA-256 keeps the collision probability negligible.
func queryDigest(sql string, params []any) (string, error) {
	h := sha256.New()
	h.Write([]byte(NormalizeSQL(sql)))
	h.Write([]byte{0})
	if len(params) > 0 {
		serialized, err := msgpack.Marshal(params)
		if err != nil {
			return "", errors.Mark(errors.Wrap(err, "keys: serialize query params"), ErrValidation)
		}
		h.Write(serialized)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// valueDigest hashes a field value to a short fixed-length token. xxhash is
// plenty here: field keys only need to avoid accidental collisions within one
// table's field space, not resist adversarial input.
func valueDigest(value any) (string, error) {
	serialized, err := msgpack.Marshal(value)
	if err != nil {
		return "", errors.Mark(errors.Wrap(err, "keys: serialize field value"), ErrValidation)
	}
	return strconv.FormatUint(xxhash.Sum64(serialized), 16), nil
}
