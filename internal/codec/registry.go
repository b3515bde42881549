package codec

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry resolves codec references by name.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

// NewRegistry returns a registry preloaded with the built-in codecs.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[string]Codec)}
	for _, c := range builtins() {
		r.codecs[c.Name()] = c
	}
	for name, def := range builtinTuples {
		parts, err := r.parts(def.parts)
		if err != nil {
			panic(fmt.Sprintf("codec: built-in tuple %s: %v", name, err))
		}
		tuple, err := NewTuple(name, parts, def.fields)
		if err != nil {
			panic(fmt.Sprintf("codec: built-in tuple %s: %v", name, err))
		}
		r.codecs[name] = tuple
	}
	return r
}

// Register adds c under its name.
func (r *Registry) Register(c Codec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.codecs[c.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, c.Name())
	}
	r.codecs[c.Name()] = c
	return nil
}

// Lookup resolves ref. A comma separated ref builds a tuple whose fields are
// named by fields; a single ref ignores fields.
func (r *Registry) Lookup(ref string, fields []string) (Codec, error) {
	ref = strings.TrimSpace(ref)
	if !strings.Contains(ref, ",") {
		r.mu.RLock()
		c, ok := r.codecs[ref]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, ref)
		}
		if len(fields) == 0 {
			return c, nil
		}
		// A single-field tuple keeps the schema's field name in decoded output.
		return NewTuple(ref, []Codec{c}, fields)
	}

	r.mu.RLock()
	parts, err := r.parts(ref)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return NewTuple(ref, parts, fields)
}

// Names lists registered codec names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.codecs))
	for name := range r.codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) parts(ref string) ([]Codec, error) {
	var parts []Codec
	for _, name := range strings.Split(ref, ",") {
		name = strings.TrimSpace(name)
		c, ok := r.codecs[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q in %q", ErrUnknownCodec, name, ref)
		}
		parts = append(parts, c)
	}
	return parts, nil
}
