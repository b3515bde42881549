package schema

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/blimd/internal/bledb"
	"github.com/srg/blimd/internal/codec"
	"github.com/srg/blimd/internal/device"
)

// Binder matches a schema against resolved device services.
// Codec references are resolved once, when the binder is built.
type Binder struct {
	schema *Schema
	codecs map[string]codec.Codec // key: service/characteristic
	logger logrus.FieldLogger
}

// NewBinder validates s against reg and prepares codecs for every entry.
func NewBinder(s *Schema, reg *codec.Registry, logger logrus.FieldLogger) (*Binder, error) {
	if err := s.Validate(reg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	b := &Binder{schema: s, codecs: make(map[string]codec.Codec), logger: logger}
	for gi := range s.Services {
		g := &s.Services[gi]
		for ci := range g.Characteristics {
			e := &g.Characteristics[ci]
			c, err := reg.Lookup(e.Codec, e.Fields)
			if err != nil {
				return nil, fmt.Errorf("characteristic %s/%s: %w", g.Name, e.Name, err)
			}
			b.codecs[path(g.Name, e.Name)] = c
		}
	}
	return b, nil
}

// Schema returns the schema the binder was built from.
func (b *Binder) Schema() *Schema { return b.schema }

// Bind walks the device's resolved services and returns the bound tree.
//
// Service and characteristic matching is by normalized UUID within the owning
// service; device characteristics the schema does not name are ignored. A
// missing required service or characteristic fails the bind with a
// *device.SchemaBindError listing everything that was missing.
func (b *Binder) Bind(dev device.Device) (*BoundTree, error) {
	address := dev.Address()

	services, err := dev.Services()
	if err != nil {
		return nil, &device.SchemaBindError{
			Address: address,
			Err:     device.NewTransportError("services", address, err),
		}
	}

	byUUID := make(map[string]device.Service, len(services))
	for _, svc := range services {
		byUUID[bledb.NormalizeUUID(svc.UUID())] = svc
	}
	b.logUnknownServices(address, byUUID)

	var (
		bindErr = &device.SchemaBindError{Address: address}
		tree    = newBoundTree(address)
	)

	for gi := range b.schema.Services {
		g := &b.schema.Services[gi]
		svc, ok := byUUID[bledb.NormalizeUUID(g.UUID)]
		if !ok {
			if g.IsRequired() {
				bindErr.MissingServices = append(bindErr.MissingServices, g.Name)
			} else {
				b.logger.WithFields(logrus.Fields{
					"address": address,
					"service": g.Name,
				}).Debug("Optional service not present")
			}
			continue
		}

		chars, err := svc.Characteristics()
		if err != nil {
			return nil, &device.SchemaBindError{
				Address: address,
				Err:     device.NewTransportError("characteristics "+g.Name, address, err),
			}
		}
		charByUUID := make(map[string]device.Characteristic, len(chars))
		for _, ch := range chars {
			charByUUID[bledb.NormalizeUUID(ch.UUID())] = ch
		}

		bs := tree.addService(g)
		for ci := range g.Characteristics {
			e := &g.Characteristics[ci]
			ch, ok := charByUUID[bledb.NormalizeUUID(e.UUID)]
			if !ok {
				if e.Required {
					bindErr.MissingCharacteristics = append(bindErr.MissingCharacteristics, path(g.Name, e.Name))
				} else {
					b.logger.WithFields(logrus.Fields{
						"address":        address,
						"characteristic": path(g.Name, e.Name),
					}).Debug("Optional characteristic not present")
				}
				continue
			}
			bs.add(&BoundCharacteristic{
				service: g.Name,
				entry:   *e,
				codec:   b.codecs[path(g.Name, e.Name)],
				char:    ch,
			})
		}
	}

	if len(bindErr.MissingServices) > 0 || len(bindErr.MissingCharacteristics) > 0 {
		return nil, bindErr
	}
	return tree, nil
}

func path(service, characteristic string) string {
	return service + "/" + characteristic
}

// logUnknownServices lists at debug level the device services the schema does
// not describe, with their assigned names where known.
func (b *Binder) logUnknownServices(address string, byUUID map[string]device.Service) {
	known := make(map[string]bool, len(b.schema.Services))
	for gi := range b.schema.Services {
		known[bledb.NormalizeUUID(b.schema.Services[gi].UUID)] = true
	}
	for uuid := range byUUID {
		if known[uuid] {
			continue
		}
		entry := b.logger.WithFields(logrus.Fields{"address": address, "uuid": uuid})
		if name := bledb.Lookup(uuid); name != "" {
			entry = entry.WithField("name", name)
		}
		entry.Debug("Service not in schema")
	}
}
