package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestEncodeEntryBelowThreshold(t *testing.T) {
	data, err := encodeEntry("small", 1024, time.Minute)
	require.NoError(t, err)

	var e entry
	require.NoError(t, msgpack.Unmarshal(data, &e))
	assert.False(t, e.Compressed)
	assert.Equal(t, uint32(60), e.TTLSeconds)
	assert.NotZero(t, e.StoredAt)

	payload, err := decodeEntry(data)
	require.NoError(t, err)
	var got string
	require.NoError(t, msgpack.Unmarshal(payload, &got))
	assert.Equal(t, "small", got)
}

func TestEncodeEntryCompressesAtThreshold(t *testing.T) {
	big := strings.Repeat("padding ", 256)
	data, err := encodeEntry(big, 64, time.Minute)
	require.NoError(t, err)

	var e entry
	require.NoError(t, msgpack.Unmarshal(data, &e))
	assert.True(t, e.Compressed)
	// Highly repetitive input must actually shrink.
	assert.Less(t, len(e.Payload), len(big))

	payload, err := decodeEntry(data)
	require.NoError(t, err)
	var got string
	require.NoError(t, msgpack.Unmarshal(payload, &got))
	assert.Equal(t, big, got)
}

func TestEncodeEntryCompressionDisabled(t *testing.T) {
	big := strings.Repeat("padding ", 256)
	data, err := encodeEntry(big, 0, time.Minute)
	require.NoError(t, err)

	var e entry
	require.NoError(t, msgpack.Unmarshal(data, &e))
	assert.False(t, e.Compressed)
}

func TestDecodeEntryGarbage(t *testing.T) {
	_, err := decodeEntry([]byte{0x01, 0x02, 0x03})
	assert.Error(t, err)
}
