package bluez

import (
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/blimd/internal/device"
)

// Device is one org.bluez.Device1 object. A new Device is created every time
// BlueZ re-adds the object, so a handle never outlives its object.
type Device struct {
	adapter *Adapter
	path    dbus.ObjectPath
	address string

	mu        sync.RWMutex
	name      string
	connected bool
	resolved  bool
	rssi      *int16
	watchers  []func(device.PropertyChange)
}

var _ device.Device = (*Device)(nil)

func newDevice(a *Adapter, path dbus.ObjectPath, props map[string]dbus.Variant) *Device {
	address, _ := variantValue[string](props, "Address")
	if n, err := device.NormalizeAddress(address); err == nil {
		address = n
	} else if fromPath, ok := AddressFromPath(path); ok {
		address = fromPath
	}

	d := &Device{adapter: a, path: path, address: address}
	d.update(props)
	return d
}

func (d *Device) update(props map[string]dbus.Variant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if alias, ok := variantValue[string](props, "Alias"); ok && alias != "" {
		d.name = alias
	}
	if name, ok := variantValue[string](props, "Name"); ok && name != "" {
		d.name = name
	}
	if v, ok := variantValue[bool](props, "Connected"); ok {
		d.connected = v
	}
	if v, ok := variantValue[bool](props, "ServicesResolved"); ok {
		d.resolved = v
	}
	if v, ok := variantValue[int16](props, "RSSI"); ok {
		d.rssi = &v
	}
}

// apply updates the cached properties and notifies watchers with the
// recognized subset, if any.
func (d *Device) apply(changed map[string]dbus.Variant) {
	d.update(changed)
	pc := deviceChange(changed)
	if pc.Empty() {
		return
	}
	d.mu.RLock()
	watchers := append([]func(device.PropertyChange){}, d.watchers...)
	d.mu.RUnlock()
	for _, fn := range watchers {
		fn(pc)
	}
}

func (d *Device) watch(fn func(device.PropertyChange)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.watchers = append(d.watchers, fn)
}

// Path returns the D-Bus object path.
func (d *Device) Path() dbus.ObjectPath { return d.path }

func (d *Device) Address() string { return d.address }

func (d *Device) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

func (d *Device) Connected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

func (d *Device) ServicesResolved() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.resolved
}

// RSSI returns the last advertised signal strength, if any.
func (d *Device) RSSI() (int16, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.rssi == nil {
		return 0, false
	}
	return *d.rssi, true
}

// ConnectAsync calls Device1.Connect on its own goroutine. BlueZ keeps the
// call pending until the link is up or the attempt failed.
func (d *Device) ConnectAsync(onOK func(), onFail func(error)) {
	d.adapter.callAsync("bluez-connect", d.adapter.opts.ConnectTimeout, d.path, ifaceDevice+".Connect", nil, func(err error) {
		if err != nil {
			onFail(err)
			return
		}
		onOK()
	})
}

// Disconnect requests a disconnect without waiting for the reply.
func (d *Device) Disconnect() error {
	d.adapter.callAsync("bluez-disconnect", d.adapter.opts.CallTimeout, d.path, ifaceDevice+".Disconnect", nil, func(err error) {
		if err != nil {
			d.adapter.logger.WithError(err).WithField("address", d.address).Warn("Disconnect request failed")
		}
	})
	return nil
}

func (d *Device) Services() ([]device.Service, error) {
	if !d.ServicesResolved() {
		return nil, device.ErrNotConnected
	}
	svcs := d.adapter.services(d)
	out := make([]device.Service, len(svcs))
	for i, s := range svcs {
		out[i] = s
	}
	d.adapter.logger.WithFields(logrus.Fields{"address": d.address, "services": len(out)}).Debug("Services listed")
	return out, nil
}
