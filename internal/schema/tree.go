package schema

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blimd/internal/codec"
	"github.com/srg/blimd/internal/device"
)

// BoundTree maps schema names to live characteristics of one device.
// Iteration follows schema declaration order.
type BoundTree struct {
	address  string
	services *orderedmap.OrderedMap[string, *BoundService]
}

func newBoundTree(address string) *BoundTree {
	return &BoundTree{
		address:  address,
		services: orderedmap.New[string, *BoundService](),
	}
}

// Address returns the device address the tree was bound for.
func (t *BoundTree) Address() string { return t.address }

// Service returns the bound service group by name.
func (t *BoundTree) Service(name string) (*BoundService, bool) {
	return t.services.Get(name)
}

// Characteristic returns service/characteristic by name.
func (t *BoundTree) Characteristic(service, characteristic string) (*BoundCharacteristic, bool) {
	svc, ok := t.services.Get(service)
	if !ok {
		return nil, false
	}
	return svc.Characteristic(characteristic)
}

// Characteristics returns every bound characteristic in declaration order.
func (t *BoundTree) Characteristics() []*BoundCharacteristic {
	var out []*BoundCharacteristic
	for pair := t.services.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value.Characteristics()...)
	}
	return out
}

// Len returns the number of bound characteristics.
func (t *BoundTree) Len() int {
	n := 0
	for pair := t.services.Oldest(); pair != nil; pair = pair.Next() {
		n += pair.Value.chars.Len()
	}
	return n
}

func (t *BoundTree) addService(g *ServiceGroup) *BoundService {
	bs := &BoundService{
		name:  g.Name,
		uuid:  g.UUID,
		chars: orderedmap.New[string, *BoundCharacteristic](),
	}
	t.services.Set(g.Name, bs)
	return bs
}

// BoundService is a service group present on the device.
type BoundService struct {
	name  string
	uuid  string
	chars *orderedmap.OrderedMap[string, *BoundCharacteristic]
}

func (s *BoundService) Name() string { return s.name }
func (s *BoundService) UUID() string { return s.uuid }

// Characteristic returns a bound characteristic by schema name.
func (s *BoundService) Characteristic(name string) (*BoundCharacteristic, bool) {
	return s.chars.Get(name)
}

// Characteristics returns the bound characteristics in declaration order.
func (s *BoundService) Characteristics() []*BoundCharacteristic {
	out := make([]*BoundCharacteristic, 0, s.chars.Len())
	for pair := s.chars.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

func (s *BoundService) add(c *BoundCharacteristic) {
	s.chars.Set(c.entry.Name, c)
}

// Value is one decoded characteristic value. Err is set when the raw bytes
// could not be decoded; Raw is always populated.
type Value struct {
	Decoded any
	Raw     []byte
	Err     error
}

// BoundCharacteristic is a live characteristic paired with its schema entry and codec.
type BoundCharacteristic struct {
	service string
	entry   Entry
	codec   codec.Codec
	char    device.Characteristic
}

func (c *BoundCharacteristic) Service() string { return c.service }
func (c *BoundCharacteristic) Name() string    { return c.entry.Name }
func (c *BoundCharacteristic) UUID() string    { return c.char.UUID() }
func (c *BoundCharacteristic) Entry() Entry    { return c.entry }

// Path returns "service/characteristic".
func (c *BoundCharacteristic) Path() string { return path(c.service, c.entry.Name) }

func (c *BoundCharacteristic) Capabilities() (device.Capability, error) {
	return c.char.Capabilities()
}

// Decode runs raw through the characteristic codec.
func (c *BoundCharacteristic) Decode(raw []byte) Value {
	v, err := c.codec.Decode(raw)
	return Value{Decoded: v, Raw: raw, Err: err}
}

// ReadAsync issues a read and decodes the result.
func (c *BoundCharacteristic) ReadAsync(onOK func(Value), onFail func(error)) {
	c.char.ReadAsync(func(raw []byte) {
		onOK(c.Decode(raw))
	}, onFail)
}

// WriteAsync encodes v and writes it. Encoding failures are reported through
// onFail before any transport call is made.
func (c *BoundCharacteristic) WriteAsync(v any, onOK func(), onFail func(error)) {
	raw, err := c.codec.Encode(v)
	if err != nil {
		onFail(err)
		return
	}
	c.char.WriteAsync(raw, onOK, onFail)
}

// OnValueChanged registers fn for decoded value updates.
func (c *BoundCharacteristic) OnValueChanged(fn func(Value)) {
	c.char.OnValueChanged(func(raw []byte) {
		fn(c.Decode(raw))
	})
}

func (c *BoundCharacteristic) StartNotify() error { return c.char.StartNotify() }
func (c *BoundCharacteristic) Notifying() bool    { return c.char.Notifying() }
