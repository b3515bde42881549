// Package codec converts raw characteristic bytes to typed values and back.
//
// Codecs are referenced by name from the GATT schema. A reference may name a
// single codec ("uint8") or a comma separated tuple ("uint8,bitfield8") whose
// decoded value is an ordered map of field name to value.
package codec

import (
	"errors"
	"fmt"
)

// Codec decodes and encodes one characteristic value format.
type Codec interface {
	Name() string
	// Size is the fixed encoded length in bytes, or 0 for variable length.
	Size() int
	Decode(data []byte) (any, error)
	Encode(v any) ([]byte, error)
}

var (
	ErrUnknownCodec = errors.New("unknown codec")
	ErrDuplicate    = errors.New("codec already registered")
)

// LengthError is returned when a value does not have the length a codec expects.
type LengthError struct {
	Codec string
	Want  int
	Got   int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("%s: expected %d bytes, got %d", e.Codec, e.Want, e.Got)
}

// TypeError is returned by Encode when the value cannot be represented.
type TypeError struct {
	Codec string
	Value any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s: cannot encode %T (%v)", e.Codec, e.Value, e.Value)
}

// FuncCodec adapts a pair of functions to the Codec interface.
type FuncCodec struct {
	CodecName string
	FixedSize int
	DecodeFn  func([]byte) (any, error)
	EncodeFn  func(any) ([]byte, error)
}

func (c *FuncCodec) Name() string { return c.CodecName }
func (c *FuncCodec) Size() int    { return c.FixedSize }

func (c *FuncCodec) Decode(data []byte) (any, error) {
	if c.FixedSize > 0 && len(data) != c.FixedSize {
		return nil, &LengthError{Codec: c.CodecName, Want: c.FixedSize, Got: len(data)}
	}
	return c.DecodeFn(data)
}

func (c *FuncCodec) Encode(v any) ([]byte, error) {
	if c.EncodeFn == nil {
		return nil, fmt.Errorf("%s: %w", c.CodecName, errors.ErrUnsupported)
	}
	return c.EncodeFn(v)
}
