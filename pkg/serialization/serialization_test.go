package serialization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONRoundTrip(t *testing.T) {
	h, err := NewHandler(FormatJSON, false, 0)
	require.NoError(t, err)

	encoded, err := h.Encode(map[string]any{"x": float64(1)})
	require.NoError(t, err)

	data, version, err := h.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, EnvelopeMajorVersion, version)
	assert.Equal(t, map[string]any{"x": float64(1)}, data)
}

func TestMsgpackRoundTrip(t *testing.T) {
	h, err := NewHandler(FormatMsgpack, false, 0)
	require.NoError(t, err)

	encoded, err := h.Encode("hello")
	require.NoError(t, err)

	data, _, err := h.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, "hello", data)
}

func TestCompressedRoundTrip(t *testing.T) {
	h, err := NewHandler(FormatJSON, true, 6)
	require.NoError(t, err)

	encoded, err := h.Encode("payload")
	require.NoError(t, err)

	data, _, err := h.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, "payload", data)
}

func TestDecodeRejectsFutureMajorVersion(t *testing.T) {
	h, err := NewHandler(FormatJSON, false, 0)
	require.NoError(t, err)

	encoded, err := h.Encode("x")
	require.NoError(t, err)

	future := &Handler{format: FormatJSON, codec: jsonCodec{}}
	_ = future
	// Simulate a newer envelope by round-tripping through a codec
	// directly with an inflated version number.
	env := envelope{Version: EnvelopeMajorVersion + 1, Format: FormatJSON, Data: "x"}
	raw, err := jsonCodec{}.Marshal(env)
	require.NoError(t, err)

	_, _, err = h.Decode(raw)
	require.Error(t, err)
	_ = encoded
}

func TestMigrateAppliesInOrder(t *testing.T) {
	migrators := map[int]Migrator{
		1: func(d any) any { return d.(int) + 1 },
		2: func(d any) any { return d.(int) * 10 },
	}
	result := Migrate(1, 1, 3, migrators)
	assert.Equal(t, 20, result)
}
