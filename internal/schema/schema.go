// Package schema describes the expected GATT layout of a tracked peripheral
// and binds it to the live service tree once the device resolves services.
package schema

import (
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/srg/blimd/internal/bledb"
	"github.com/srg/blimd/internal/codec"
)

//go:embed default.yaml
var defaultSchema []byte

// Entry describes one characteristic of a service group.
type Entry struct {
	Name     string   `yaml:"name"`
	UUID     string   `yaml:"uuid"`
	Codec    string   `yaml:"codec"`
	Fields   []string `yaml:"fields,omitempty"`
	Required bool     `yaml:"required,omitempty"`
}

// ServiceGroup is a named GATT service and the characteristics expected in it.
// A group is required when it is flagged so or holds a required entry.
type ServiceGroup struct {
	Name            string  `yaml:"name"`
	UUID            string  `yaml:"uuid"`
	Required        bool    `yaml:"required,omitempty"`
	Characteristics []Entry `yaml:"characteristics"`
}

// IsRequired reports whether a missing service fails the bind.
func (g *ServiceGroup) IsRequired() bool {
	if g.Required {
		return true
	}
	for i := range g.Characteristics {
		if g.Characteristics[i].Required {
			return true
		}
	}
	return false
}

// Schema is the full set of service groups. It is read-only after loading.
type Schema struct {
	Services []ServiceGroup `yaml:"services"`
}

// Default returns the built-in schema.
func Default() *Schema {
	s, err := Parse(defaultSchema)
	if err != nil {
		panic(fmt.Sprintf("schema: built-in schema is invalid: %v", err))
	}
	return s
}

// Load reads a YAML schema from path.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("schema file %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes a YAML schema document.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	if len(s.Services) == 0 {
		return nil, fmt.Errorf("schema has no services")
	}
	return &s, nil
}

// Validate checks names, UUIDs and codec references against reg.
func (s *Schema) Validate(reg *codec.Registry) error {
	seen := make(map[string]bool)
	for gi := range s.Services {
		g := &s.Services[gi]
		if g.Name == "" {
			return fmt.Errorf("service %d: name is required", gi)
		}
		if seen[g.Name] {
			return fmt.Errorf("service %q: duplicate name", g.Name)
		}
		seen[g.Name] = true
		if !bledb.IsValidUUID(bledb.NormalizeUUID(g.UUID)) {
			return fmt.Errorf("service %q: invalid uuid %q", g.Name, g.UUID)
		}

		chars := make(map[string]bool)
		for ci := range g.Characteristics {
			e := &g.Characteristics[ci]
			if e.Name == "" {
				return fmt.Errorf("service %q characteristic %d: name is required", g.Name, ci)
			}
			if chars[e.Name] {
				return fmt.Errorf("characteristic %s/%s: duplicate name", g.Name, e.Name)
			}
			chars[e.Name] = true
			if !bledb.IsValidUUID(bledb.NormalizeUUID(e.UUID)) {
				return fmt.Errorf("characteristic %s/%s: invalid uuid %q", g.Name, e.Name, e.UUID)
			}
			if _, err := reg.Lookup(e.Codec, e.Fields); err != nil {
				return fmt.Errorf("characteristic %s/%s: %w", g.Name, e.Name, err)
			}
		}
	}
	return nil
}

// Lookup finds an entry by service and characteristic name.
func (s *Schema) Lookup(service, characteristic string) (*Entry, bool) {
	for gi := range s.Services {
		g := &s.Services[gi]
		if g.Name != service {
			continue
		}
		for ci := range g.Characteristics {
			if g.Characteristics[ci].Name == characteristic {
				return &g.Characteristics[ci], true
			}
		}
	}
	return nil, false
}

// Dump writes the schema as YAML.
func (s *Schema) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return err
	}
	return enc.Close()
}
