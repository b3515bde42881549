package codec

import (
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Tuple decodes consecutive fields into an ordered map keyed by field name.
// Only the last part may be variable length.
type Tuple struct {
	name   string
	parts  []Codec
	fields []string
}

// NewTuple builds a tuple codec. Missing field names default to f0, f1, ...
func NewTuple(name string, parts []Codec, fields []string) (*Tuple, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("tuple %q: no parts", name)
	}
	if len(fields) > len(parts) {
		return nil, fmt.Errorf("tuple %q: %d field names for %d parts", name, len(fields), len(parts))
	}
	for i, p := range parts[:len(parts)-1] {
		if p.Size() == 0 {
			return nil, fmt.Errorf("tuple %q: variable length part %d (%s) must be last", name, i, p.Name())
		}
	}

	names := make([]string, len(parts))
	for i := range parts {
		if i < len(fields) && fields[i] != "" {
			names[i] = fields[i]
		} else {
			names[i] = fmt.Sprintf("f%d", i)
		}
	}
	return &Tuple{name: name, parts: parts, fields: names}, nil
}

func (t *Tuple) Name() string { return t.name }

// Fields returns the field names in encoding order.
func (t *Tuple) Fields() []string { return append([]string(nil), t.fields...) }

func (t *Tuple) Size() int {
	total := 0
	for _, p := range t.parts {
		if p.Size() == 0 {
			return 0
		}
		total += p.Size()
	}
	return total
}

func (t *Tuple) Decode(data []byte) (any, error) {
	if size := t.Size(); size > 0 && len(data) != size {
		return nil, &LengthError{Codec: t.name, Want: size, Got: len(data)}
	}

	out := orderedmap.New[string, any]()
	offset := 0
	for i, p := range t.parts {
		end := len(data)
		if p.Size() > 0 {
			end = offset + p.Size()
		}
		if end > len(data) {
			return nil, &LengthError{Codec: t.name, Want: end, Got: len(data)}
		}
		v, err := p.Decode(data[offset:end])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.name, t.fields[i], err)
		}
		out.Set(t.fields[i], v)
		offset = end
	}
	return out, nil
}

// Encode accepts a positional slice, a map keyed by field name, or an
// ordered map as produced by Decode.
func (t *Tuple) Encode(v any) ([]byte, error) {
	values, err := t.positional(v)
	if err != nil {
		return nil, err
	}

	var out []byte
	for i, p := range t.parts {
		b, err := p.Encode(values[i])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.name, t.fields[i], err)
		}
		out = append(out, b...)
	}
	return out, nil
}

func (t *Tuple) positional(v any) ([]any, error) {
	switch in := v.(type) {
	case []any:
		if len(in) != len(t.parts) {
			return nil, fmt.Errorf("%s: expected %d values, got %d", t.name, len(t.parts), len(in))
		}
		return in, nil
	case map[string]any:
		return t.byName(func(k string) (any, bool) { val, ok := in[k]; return val, ok })
	case *orderedmap.OrderedMap[string, any]:
		return t.byName(in.Get)
	default:
		return nil, &TypeError{Codec: t.name, Value: v}
	}
}

func (t *Tuple) byName(get func(string) (any, bool)) ([]any, error) {
	out := make([]any, len(t.fields))
	var missing []string
	for i, f := range t.fields {
		val, ok := get(f)
		if !ok {
			missing = append(missing, f)
			continue
		}
		out[i] = val
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s: missing fields %s", t.name, strings.Join(missing, ", "))
	}
	return out, nil
}
