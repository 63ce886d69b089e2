package keys

import (
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableIDKey(t *testing.T) {
	key, err := New("app").ForTable("Users").WithID(42).Build()
	assert.NoError(t, err)
	assert.Equal(t, "app:table:users:id:42", key)

	// Idempotent across calls.
	again, err := New("app").ForTable("Users").WithID(42).Build()
	assert.NoError(t, err)
	assert.Equal(t, key, again)

	// Different ids never collide.
	other, err := New("app").ForTable("Users").WithID(43).Build()
	assert.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestFieldKeyHashesValue(t *testing.T) {
	key, err := New("app").ForTable("users").WithField("Email", "alice@example.com").Build()
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "app:table:users:field:email:"), key)
	// The raw value must not appear in the key.
	assert.NotContains(t, key, "alice@example.com")

	other, err := New("app").ForTable("users").WithField("Email", "bob@example.com").Build()
	assert.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestQueryKeyDeterminism(t *testing.T) {
	k1, err := New("app").ForQuery("SELECT * FROM users WHERE id = ?", 1).Build()
	require.NoError(t, err)
	k2, err := New("app").ForQuery("SELECT * FROM users WHERE id = ?", 1).Build()
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.True(t, strings.HasPrefix(k1, "app:query:"), k1)

	// One parameter changed yields a different key.
	k3, err := New("app").ForQuery("SELECT * FROM users WHERE id = ?", 2).Build()
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	// Same SQL, extra parameter.
	k4, err := New("app").ForQuery("SELECT * FROM users WHERE id = ?", 1, "x").Build()
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4)
}

func TestQueryKeyWhitespaceNormalization(t *testing.T) {
	k1, err := New("app").ForQuery("SELECT  *\n  FROM users\tWHERE id = ?", 1).Build()
	require.NoError(t, err)
	k2, err := New("app").ForQuery("SELECT * FROM users WHERE id = ?", 1).Build()
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	// Case differences are NOT canonicalized away.
	k3, err := New("app").ForQuery("select * from users where id = ?", 1).Build()
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestEmptyQueryFails(t *testing.T) {
	_, err := New("app").ForQuery("   ").Build()
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestEmptyBuilderFails(t *testing.T) {
	_, err := New("app").Build()
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestCustomKey(t *testing.T) {
	key, err := New("app").ForCustom("session", "abc", "permissions").Build()
	assert.NoError(t, err)
	assert.Equal(t, "app:custom:session:abc:permissions", key)
}

func TestEmptyNamespace(t *testing.T) {
	key, err := New("").ForTable("users").WithID(1).Build()
	assert.NoError(t, err)
	assert.Equal(t, "table:users:id:1", key)
}

func TestBuildWithTagsImplicitTableTag(t *testing.T) {
	_, tags, err := New("app").ForTable("Products").WithID(7).WithTags("featured").BuildWithTags()
	assert.NoError(t, err)
	assert.Equal(t, []string{"featured", "table:products"}, tags)

	// Already-present table tag is not duplicated.
	_, tags, err = New("app").ForTable("products").WithID(7).WithTags("table:products").BuildWithTags()
	assert.NoError(t, err)
	assert.Equal(t, []string{"table:products"}, tags)
}

func TestBuildWithTagsNoTableContext(t *testing.T) {
	_, tags, err := New("app").ForQuery("SELECT 1").BuildWithTags()
	assert.NoError(t, err)
	assert.Empty(t, tags)
}

func TestNormalizeSQL(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t", NormalizeSQL("  SELECT\n\t*   FROM  t  "))
	assert.Equal(t, "", NormalizeSQL("   "))
}

func TestTableTag(t *testing.T) {
	assert.Equal(t, "table:users", TableTag(" Users "))
}
