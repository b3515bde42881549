package goble

import (
	"context"
	"sync"

	"github.com/go-ble/ble"

	"github.com/srg/blimd/internal/device"
	"github.com/srg/blimd/internal/groutine"
)

type Service struct {
	device *Device
	client ble.Client
	svc    *ble.Service
}

var _ device.Service = (*Service)(nil)

func (s *Service) UUID() string { return s.svc.UUID.String() }

func (s *Service) Characteristics() ([]device.Characteristic, error) {
	out := make([]device.Characteristic, len(s.svc.Characteristics))
	for i, c := range s.svc.Characteristics {
		out[i] = &Characteristic{device: s.device, client: s.client, char: c}
	}
	return out, nil
}

// Characteristic is bound to the client that discovered it. Once that link
// is gone every operation fails with device.ErrNotConnected.
type Characteristic struct {
	device *Device
	client ble.Client
	char   *ble.Characteristic

	mu        sync.Mutex
	notifying bool
	callbacks []func([]byte)
}

var _ device.Characteristic = (*Characteristic)(nil)

func (c *Characteristic) UUID() string { return c.char.UUID.String() }

// Capabilities returns the GATT property bits, which go-ble keeps in their
// on-air encoding.
func (c *Characteristic) Capabilities() (device.Capability, error) {
	return device.Capability(c.char.Property), nil
}

func (c *Characteristic) live() bool {
	c.device.mu.RLock()
	defer c.device.mu.RUnlock()
	return c.device.client == c.client
}

// ReadAsync reads the value and hands it to OnValueChanged callbacks as
// well, the way BlueZ republishes read results.
func (c *Characteristic) ReadAsync(onOK func([]byte), onFail func(error)) {
	if !c.live() {
		onFail(device.ErrNotConnected)
		return
	}
	c.run("goble-read", func() {
		data, err := c.client.ReadCharacteristic(c.char)
		if err != nil {
			err = NormalizeError(err)
			c.device.clientFailed(c.client, err)
			onFail(err)
			return
		}
		c.deliver(data)
		onOK(append([]byte(nil), data...))
	})
}

// WriteAsync writes with response when supported and falls back to a write
// command otherwise.
func (c *Characteristic) WriteAsync(value []byte, onOK func(), onFail func(error)) {
	if !c.live() {
		onFail(device.ErrNotConnected)
		return
	}
	caps, _ := c.Capabilities()
	noRsp := !caps.Has(device.CapWrite) && caps.Has(device.CapWriteWithoutResponse)
	value = append([]byte(nil), value...)
	c.run("goble-write", func() {
		if err := c.client.WriteCharacteristic(c.char, value, noRsp); err != nil {
			err = NormalizeError(err)
			c.device.clientFailed(c.client, err)
			onFail(err)
			return
		}
		onOK()
	})
}

func (c *Characteristic) run(name string, fn func()) {
	groutine.Go(context.Background(), name, c.device.adapter.logger.WithField("address", c.device.address), func(context.Context) {
		fn()
	})
}

func (c *Characteristic) OnValueChanged(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, fn)
}

// StartNotify subscribes to notifications, or to indications when the
// characteristic only indicates.
func (c *Characteristic) StartNotify() error {
	if c.Notifying() {
		return nil
	}
	if !c.live() {
		return device.ErrNotConnected
	}
	caps, _ := c.Capabilities()
	if !caps.CanNotify() {
		return device.ErrUnsupported
	}
	indicate := !caps.Has(device.CapNotify) && caps.Has(device.CapIndicate)
	if err := c.client.Subscribe(c.char, indicate, c.deliver); err != nil {
		return NormalizeError(err)
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

func (c *Characteristic) deliver(data []byte) {
	c.mu.Lock()
	callbacks := append([]func([]byte){}, c.callbacks...)
	c.mu.Unlock()
	for _, fn := range callbacks {
		fn(append([]byte(nil), data...))
	}
}
