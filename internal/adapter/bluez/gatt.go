package bluez

import (
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/srg/blimd/internal/device"
)

// Service is one org.bluez.GattService1 object.
type Service struct {
	adapter *Adapter
	device  *Device
	path    dbus.ObjectPath
	uuid    string
}

var _ device.Service = (*Service)(nil)

func (s *Service) UUID() string { return s.uuid }

func (s *Service) Characteristics() ([]device.Characteristic, error) {
	chars := s.adapter.characteristics(s)
	out := make([]device.Characteristic, len(chars))
	for i, c := range chars {
		out[i] = c
	}
	return out, nil
}

// Characteristic is one org.bluez.GattCharacteristic1 object.
type Characteristic struct {
	adapter *Adapter
	address string
	path    dbus.ObjectPath
	uuid    string
	flags   []string

	mu        sync.Mutex
	notifying bool
	callbacks []func([]byte)
}

var _ device.Characteristic = (*Characteristic)(nil)

func newCharacteristic(a *Adapter, address string, path dbus.ObjectPath, props map[string]dbus.Variant) *Characteristic {
	c := &Characteristic{adapter: a, address: address, path: path}
	c.uuid, _ = variantValue[string](props, "UUID")
	c.flags, _ = variantValue[[]string](props, "Flags")
	c.notifying, _ = variantValue[bool](props, "Notifying")
	return c
}

func (c *Characteristic) UUID() string { return c.uuid }

// Capabilities maps the BlueZ Flags property. Flags without a GATT property
// bit (encrypt-read, reliable-write, ...) are ignored.
func (c *Characteristic) Capabilities() (device.Capability, error) {
	caps, _ := device.ParseCapabilities(c.flags)
	return caps, nil
}

func (c *Characteristic) ReadAsync(onOK func([]byte), onFail func(error)) {
	var value []byte
	c.adapter.callAsync("bluez-read", c.adapter.opts.CallTimeout, c.path, ifaceCharacteristic+".ReadValue", &value, func(err error) {
		if err != nil {
			onFail(err)
			return
		}
		onOK(value)
	}, map[string]dbus.Variant{})
}

// WriteAsync writes with response when the characteristic supports it and
// falls back to a write command otherwise.
func (c *Characteristic) WriteAsync(value []byte, onOK func(), onFail func(error)) {
	caps, _ := c.Capabilities()
	mode := "request"
	if !caps.Has(device.CapWrite) && caps.Has(device.CapWriteWithoutResponse) {
		mode = "command"
	}
	opts := map[string]dbus.Variant{"type": dbus.MakeVariant(mode)}
	c.adapter.callAsync("bluez-write", c.adapter.opts.CallTimeout, c.path, ifaceCharacteristic+".WriteValue", nil, func(err error) {
		if err != nil {
			onFail(err)
			return
		}
		onOK()
	}, value, opts)
}

func (c *Characteristic) OnValueChanged(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, fn)
}

func (c *Characteristic) StartNotify() error {
	if c.Notifying() {
		return nil
	}
	if err := c.adapter.call(c.path, ifaceCharacteristic+".StartNotify"); err != nil {
		return err
	}
	c.mu.Lock()
	c.notifying = true
	c.mu.Unlock()
	return nil
}

func (c *Characteristic) Notifying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifying
}

// apply handles a PropertiesChanged batch: Value goes to every callback,
// Notifying updates the cached flag.
func (c *Characteristic) apply(changed map[string]dbus.Variant) {
	c.mu.Lock()
	if v, ok := variantValue[bool](changed, "Notifying"); ok {
		c.notifying = v
	}
	value, hasValue := variantValue[[]byte](changed, "Value")
	callbacks := append([]func([]byte){}, c.callbacks...)
	c.mu.Unlock()

	if !hasValue {
		return
	}
	for _, fn := range callbacks {
		fn(append([]byte(nil), value...))
	}
}
