package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

func TestPrimitiveDecode(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		codec    string
		input    []byte
		expected any
	}{
		{codec: "uint8", input: []byte{0x2a}, expected: uint8(42)},
		{codec: "uint8enum", input: []byte{0x03}, expected: uint8(3)},
		{codec: "uint16", input: []byte{0x2c, 0x01}, expected: uint16(300)},
		{codec: "uint32", input: []byte{0x01, 0x00, 0x01, 0x00}, expected: uint32(65537)},
		{codec: "sint8", input: []byte{0xff}, expected: int8(-1)},
		{codec: "sint16", input: []byte{0xfe, 0xff}, expected: int16(-2)},
		{codec: "bitfield8", input: []byte{0x05}, expected: Bitfield(5)},
		{codec: "battery_power_state", input: []byte{0x81}, expected: Bitfield(0x81)},
		{codec: "temperature_celsius", input: []byte{0xeb, 0x00}, expected: 23.5},
		{codec: "temperature_celsius", input: []byte{0xce, 0xff}, expected: -5.0},
		{codec: "utf8", input: []byte("1.4.2\x00"), expected: "1.4.2"},
		{codec: "raw", input: []byte{0xde, 0xad}, expected: "dead"},
	}

	for _, tt := range tests {
		t.Run(tt.codec, func(t *testing.T) {
			c, err := reg.Lookup(tt.codec, nil)
			require.NoError(t, err)
			got, err := c.Decode(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestPrimitiveEncode(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		codec    string
		input    any
		expected []byte
	}{
		{codec: "uint8", input: 7, expected: []byte{0x07}},
		{codec: "uint16", input: uint16(600), expected: []byte{0x58, 0x02}},
		{codec: "sint16", input: -2, expected: []byte{0xfe, 0xff}},
		{codec: "temperature_celsius", input: 23.5, expected: []byte{0xeb, 0x00}},
		{codec: "utf8", input: "abc", expected: []byte("abc")},
		{codec: "raw", input: "0xdead", expected: []byte{0xde, 0xad}},
		{codec: "bitfield8", input: Bitfield(3), expected: []byte{0x03}},
	}

	for _, tt := range tests {
		t.Run(tt.codec, func(t *testing.T) {
			c, err := reg.Lookup(tt.codec, nil)
			require.NoError(t, err)
			got, err := c.Encode(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestEncodeErrors(t *testing.T) {
	reg := NewRegistry()

	u8, _ := reg.Lookup("uint8", nil)
	_, err := u8.Encode(256)
	assert.ErrorContains(t, err, "out of range")

	_, err = u8.Encode("x")
	var te *TypeError
	assert.ErrorAs(t, err, &te)

	_, err = u8.Decode([]byte{1, 2})
	var le *LengthError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 1, le.Want)
	assert.Equal(t, 2, le.Got)

	s8, _ := reg.Lookup("sint8", nil)
	_, err = s8.Encode(-129)
	assert.Error(t, err)
}

func TestTuple(t *testing.T) {
	reg := NewRegistry()

	// GOAL: Verify that comma separated references decode to named, ordered fields
	//
	// TEST SCENARIO: lookup "uint16,uint16" with names → decode 4 bytes → fields in order → encode back
	c, err := reg.Lookup("uint16,uint16", []string{"standby_to", "sleep_to"})
	require.NoError(t, err)
	assert.Equal(t, 4, c.Size())

	v, err := c.Decode([]byte{0x3c, 0x00, 0x2c, 0x01})
	require.NoError(t, err)
	om, ok := v.(*orderedmap.OrderedMap[string, any])
	require.True(t, ok, "tuple MUST decode into an ordered map")

	var keys []string
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	assert.Equal(t, []string{"standby_to", "sleep_to"}, keys)
	standby, _ := om.Get("standby_to")
	assert.Equal(t, uint16(60), standby)

	encoded, err := c.Encode(om)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x3c, 0x00, 0x2c, 0x01}, encoded)

	encoded, err = c.Encode(map[string]any{"standby_to": 1, "sleep_to": 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00, 0x02, 0x00}, encoded)

	_, err = c.Encode(map[string]any{"standby_to": 1})
	assert.ErrorContains(t, err, "missing fields sleep_to")

	_, err = c.Decode([]byte{0x01})
	var le *LengthError
	assert.ErrorAs(t, err, &le)
}

func TestTupleDefaultFieldNames(t *testing.T) {
	c, err := NewRegistry().Lookup("uint8, bitfield8", nil)
	require.NoError(t, err)

	tuple, ok := c.(*Tuple)
	require.True(t, ok)
	assert.Equal(t, []string{"f0", "f1"}, tuple.Fields())

	encoded, err := c.Encode([]any{1, Bitfield(2)})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, encoded)
}

func TestTupleVariablePartMustBeLast(t *testing.T) {
	_, err := NewRegistry().Lookup("utf8,uint8", nil)
	assert.ErrorContains(t, err, "must be last")

	c, err := NewRegistry().Lookup("uint8,utf8", []string{"code", "label"})
	require.NoError(t, err)
	v, err := c.Decode([]byte{0x01, 'o', 'k'})
	require.NoError(t, err)
	label, _ := v.(*orderedmap.OrderedMap[string, any]).Get("label")
	assert.Equal(t, "ok", label)
}

func TestBuiltinBatteryLevelState(t *testing.T) {
	c, err := NewRegistry().Lookup("battery_level_state", nil)
	require.NoError(t, err)

	v, err := c.Decode([]byte{0x55, 0x02})
	require.NoError(t, err)
	om := v.(*orderedmap.OrderedMap[string, any])
	level, _ := om.Get("level")
	state, _ := om.Get("state")
	assert.Equal(t, uint8(85), level)
	assert.Equal(t, Bitfield(2), state)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Lookup("float128", nil)
	assert.True(t, errors.Is(err, ErrUnknownCodec))

	_, err = reg.Lookup("uint8,float128", nil)
	assert.ErrorIs(t, err, ErrUnknownCodec)

	custom := &FuncCodec{
		CodecName: "percent",
		FixedSize: 1,
		DecodeFn:  func(b []byte) (any, error) { return float64(b[0]) / 2, nil },
	}
	require.NoError(t, reg.Register(custom))
	assert.ErrorIs(t, reg.Register(custom), ErrDuplicate)
	assert.Contains(t, reg.Names(), "percent")

	c, err := reg.Lookup("percent", nil)
	require.NoError(t, err)
	v, err := c.Decode([]byte{101})
	require.NoError(t, err)
	assert.Equal(t, 50.5, v)

	_, err = c.Encode(1)
	assert.ErrorIs(t, err, errors.ErrUnsupported)

	// A single codec with a field name becomes a one-field tuple.
	named, err := reg.Lookup("uint8", []string{"long_push_duration"})
	require.NoError(t, err)
	v, err = named.Decode([]byte{9})
	require.NoError(t, err)
	d, _ := v.(*orderedmap.OrderedMap[string, any]).Get("long_push_duration")
	assert.Equal(t, uint8(9), d)
}

func TestBitfield(t *testing.T) {
	b := Bitfield(0x81)
	assert.Equal(t, "0b10000001", b.String())
	assert.True(t, b.Bit(0))
	assert.True(t, b.Bit(7))
	assert.False(t, b.Bit(1))
	text, err := b.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "0b10000001", string(text))
}

func TestFormat(t *testing.T) {
	c, err := NewRegistry().Lookup("uint8enum,bitfield8", []string{"state", "error"})
	require.NoError(t, err)
	v, err := c.Decode([]byte{2, 1})
	require.NoError(t, err)

	assert.Equal(t, "{state=2 error=0b00000001}", Format(v))
	assert.Equal(t, `"1.4.2"`, Format("1.4.2"))
	assert.Equal(t, "23.5", Format(23.5))
	assert.Equal(t, "<nil>", Format(nil))
}
