package codec

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// Bitfield is a decoded flag byte. It prints as binary so state dumps stay readable.
type Bitfield uint8

func (b Bitfield) String() string { return fmt.Sprintf("0b%08b", uint8(b)) }

// MarshalText keeps the binary rendering when values are published as JSON.
func (b Bitfield) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

// Bit reports whether bit n (0 = least significant) is set.
func (b Bitfield) Bit(n uint) bool { return b&(1<<n) != 0 }

func builtins() []Codec {
	return []Codec{
		&FuncCodec{CodecName: "raw", DecodeFn: decodeRaw, EncodeFn: encodeRaw},
		&FuncCodec{CodecName: "utf8", DecodeFn: decodeUTF8, EncodeFn: encodeUTF8},
		&FuncCodec{CodecName: "uint8", FixedSize: 1, DecodeFn: decodeUint8, EncodeFn: unsignedEncoder("uint8", 1)},
		&FuncCodec{CodecName: "uint8enum", FixedSize: 1, DecodeFn: decodeUint8, EncodeFn: unsignedEncoder("uint8enum", 1)},
		&FuncCodec{CodecName: "uint16", FixedSize: 2, DecodeFn: decodeUint16, EncodeFn: unsignedEncoder("uint16", 2)},
		&FuncCodec{CodecName: "uint32", FixedSize: 4, DecodeFn: decodeUint32, EncodeFn: unsignedEncoder("uint32", 4)},
		&FuncCodec{CodecName: "sint8", FixedSize: 1, DecodeFn: decodeSint8, EncodeFn: signedEncoder("sint8", 1)},
		&FuncCodec{CodecName: "sint16", FixedSize: 2, DecodeFn: decodeSint16, EncodeFn: signedEncoder("sint16", 2)},
		&FuncCodec{CodecName: "bitfield8", FixedSize: 1, DecodeFn: decodeBitfield, EncodeFn: unsignedEncoder("bitfield8", 1)},
		&FuncCodec{CodecName: "temperature_celsius", FixedSize: 2, DecodeFn: decodeTemperature, EncodeFn: encodeTemperature},
		&FuncCodec{CodecName: "battery_power_state", FixedSize: 1, DecodeFn: decodeBitfield, EncodeFn: unsignedEncoder("battery_power_state", 1)},
	}
}

// builtinTuples are named multi-field formats for assigned-number characteristics.
var builtinTuples = map[string]struct {
	parts  string
	fields []string
}{
	// 0x2A1B: level percentage followed by the power state flags.
	"battery_level_state": {parts: "uint8,bitfield8", fields: []string{"level", "state"}},
}

func decodeRaw(data []byte) (any, error) {
	return hex.EncodeToString(data), nil
}

func encodeRaw(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return append([]byte(nil), t...), nil
	case string:
		b, err := hex.DecodeString(strings.TrimPrefix(strings.ReplaceAll(t, " ", ""), "0x"))
		if err != nil {
			return nil, fmt.Errorf("raw: %w", err)
		}
		return b, nil
	default:
		return nil, &TypeError{Codec: "raw", Value: v}
	}
}

func decodeUTF8(data []byte) (any, error) {
	s := strings.TrimRight(string(data), "\x00")
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("utf8: invalid encoding %x", data)
	}
	return s, nil
}

func encodeUTF8(v any) ([]byte, error) {
	switch t := v.(type) {
	case string:
		return []byte(t), nil
	case fmt.Stringer:
		return []byte(t.String()), nil
	default:
		return nil, &TypeError{Codec: "utf8", Value: v}
	}
}

func decodeUint8(data []byte) (any, error)    { return data[0], nil }
func decodeSint8(data []byte) (any, error)    { return int8(data[0]), nil }
func decodeBitfield(data []byte) (any, error) { return Bitfield(data[0]), nil }

func decodeUint16(data []byte) (any, error) {
	return binary.LittleEndian.Uint16(data), nil
}

func decodeUint32(data []byte) (any, error) {
	return binary.LittleEndian.Uint32(data), nil
}

func decodeSint16(data []byte) (any, error) {
	return int16(binary.LittleEndian.Uint16(data)), nil
}

// decodeTemperature handles 0x2A1F: sint16 in units of 0.1 degree Celsius.
func decodeTemperature(data []byte) (any, error) {
	raw := int16(binary.LittleEndian.Uint16(data))
	return float64(raw) / 10, nil
}

func encodeTemperature(v any) ([]byte, error) {
	f, ok := toFloat(v)
	if !ok {
		return nil, &TypeError{Codec: "temperature_celsius", Value: v}
	}
	scaled := math.Round(f * 10)
	if scaled < math.MinInt16 || scaled > math.MaxInt16 {
		return nil, fmt.Errorf("temperature_celsius: %v out of range", v)
	}
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, uint16(int16(scaled)))
	return out, nil
}

func unsignedEncoder(name string, size int) func(any) ([]byte, error) {
	limit := uint64(1)<<(8*uint(size)) - 1
	return func(v any) ([]byte, error) {
		n, ok := toInt(v)
		if !ok {
			return nil, &TypeError{Codec: name, Value: v}
		}
		if n < 0 || uint64(n) > limit {
			return nil, fmt.Errorf("%s: %d out of range", name, n)
		}
		return putLE(uint64(n), size), nil
	}
}

func signedEncoder(name string, size int) func(any) ([]byte, error) {
	maxV := int64(1)<<(8*uint(size)-1) - 1
	minV := -maxV - 1
	return func(v any) ([]byte, error) {
		n, ok := toInt(v)
		if !ok {
			return nil, &TypeError{Codec: name, Value: v}
		}
		if n < minV || n > maxV {
			return nil, fmt.Errorf("%s: %d out of range", name, n)
		}
		return putLE(uint64(n), size), nil
	}
}

func putLE(v uint64, size int) []byte {
	out := make([]byte, size)
	for i := 0; i < size; i++ {
		out[i] = byte(v >> (8 * uint(i)))
	}
	return out
}

func toInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int8:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint:
		return int64(t), true
	case uint8:
		return int64(t), true
	case uint16:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		if t > math.MaxInt64 {
			return 0, false
		}
		return int64(t), true
	case Bitfield:
		return int64(t), true
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), true
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	default:
		n, ok := toInt(v)
		return float64(n), ok
	}
}
