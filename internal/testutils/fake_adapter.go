package testutils

import (
	"sync"

	"github.com/srg/blimd/internal/device"
)

// FakeAdapter is an in-memory device.Adapter. Tests drive it with AddDevice,
// RemoveDevice, SetPowered and EmitChange; every call fires the registered
// callbacks synchronously on the calling goroutine.
type FakeAdapter struct {
	mu       sync.Mutex
	name     string
	powered  bool
	scanning bool
	devices  []*FakeDevice

	onAdded        []func(device.Device)
	onRemoved      []func(string)
	onAdapterProps []func(device.PropertyChange)
	deviceWatchers map[*FakeDevice][]func(device.PropertyChange)

	// ScanCalls records every enable value passed to Scan, in order.
	ScanCalls []bool
	// ScanFilters records the filter passed with each Scan call.
	ScanFilters []device.ScanFilter
	// ScanErr, when set, is returned by Scan and leaves Scanning unchanged.
	ScanErr error
	// DevicesErr, when set, is returned by Devices.
	DevicesErr error
}

var _ device.Adapter = (*FakeAdapter)(nil)

// NewFakeAdapter returns a powered, idle adapter named hci0.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		name:           "hci0",
		powered:        true,
		deviceWatchers: make(map[*FakeDevice][]func(device.PropertyChange)),
	}
}

func (a *FakeAdapter) Name() string { return a.name }

func (a *FakeAdapter) Powered() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.powered
}

func (a *FakeAdapter) Scanning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanning
}

func (a *FakeAdapter) Scan(enable bool, filter device.ScanFilter) error {
	a.mu.Lock()
	a.ScanCalls = append(a.ScanCalls, enable)
	a.ScanFilters = append(a.ScanFilters, filter)
	if a.ScanErr != nil {
		err := a.ScanErr
		a.mu.Unlock()
		return device.NewTransportError("scan", "", err)
	}
	a.scanning = enable
	a.mu.Unlock()
	return nil
}

func (a *FakeAdapter) Devices() ([]device.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.DevicesErr != nil {
		return nil, a.DevicesErr
	}
	out := make([]device.Device, len(a.devices))
	for i, d := range a.devices {
		out[i] = d
	}
	return out, nil
}

func (a *FakeAdapter) OnDeviceAdded(fn func(device.Device)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onAdded = append(a.onAdded, fn)
}

func (a *FakeAdapter) OnDeviceRemoved(fn func(string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onRemoved = append(a.onRemoved, fn)
}

func (a *FakeAdapter) OnAdapterPropertiesChanged(fn func(device.PropertyChange)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onAdapterProps = append(a.onAdapterProps, fn)
}

func (a *FakeAdapter) OnDevicePropertiesChanged(dev device.Device, fn func(device.PropertyChange)) {
	fd, ok := dev.(*FakeDevice)
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deviceWatchers[fd] = append(a.deviceWatchers[fd], fn)
}

// WatcherCount returns how many property callbacks are registered for dev.
func (a *FakeAdapter) WatcherCount(dev *FakeDevice) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.deviceWatchers[dev])
}

// AddDevice registers dev with the adapter and fires device-added callbacks.
func (a *FakeAdapter) AddDevice(dev *FakeDevice) {
	a.mu.Lock()
	dev.adapter = a
	a.devices = append(a.devices, dev)
	callbacks := append([]func(device.Device){}, a.onAdded...)
	a.mu.Unlock()

	for _, fn := range callbacks {
		fn(dev)
	}
}

// SeedDevice registers dev without firing callbacks, as if it had been known
// to the adapter before the manager started.
func (a *FakeAdapter) SeedDevice(dev *FakeDevice) {
	a.mu.Lock()
	defer a.mu.Unlock()
	dev.adapter = a
	a.devices = append(a.devices, dev)
}

// RemoveDevice drops every device object with address, along with their
// property watchers, and fires device-removed callbacks.
func (a *FakeAdapter) RemoveDevice(address string) {
	a.mu.Lock()
	kept := a.devices[:0]
	for _, d := range a.devices {
		if d.address == address {
			delete(a.deviceWatchers, d)
			continue
		}
		kept = append(kept, d)
	}
	a.devices = kept
	callbacks := append([]func(string){}, a.onRemoved...)
	a.mu.Unlock()

	for _, fn := range callbacks {
		fn(address)
	}
}

// SetPowered changes the powered state and fires adapter property callbacks.
// Powering off also stops discovery, as BlueZ does.
func (a *FakeAdapter) SetPowered(powered bool) {
	a.mu.Lock()
	a.powered = powered
	if !powered {
		a.scanning = false
	}
	callbacks := append([]func(device.PropertyChange){}, a.onAdapterProps...)
	a.mu.Unlock()

	pc := device.PropertyChange{Powered: device.Bool(powered)}
	for _, fn := range callbacks {
		fn(pc)
	}
}

// EmitAdapterChange fires adapter property callbacks with pc.
func (a *FakeAdapter) EmitAdapterChange(pc device.PropertyChange) {
	a.mu.Lock()
	if pc.Discovering != nil {
		a.scanning = *pc.Discovering
	}
	callbacks := append([]func(device.PropertyChange){}, a.onAdapterProps...)
	a.mu.Unlock()

	for _, fn := range callbacks {
		fn(pc)
	}
}

// EmitChange applies pc to dev's state and fires its property callbacks.
func (a *FakeAdapter) EmitChange(dev *FakeDevice, pc device.PropertyChange) {
	dev.apply(pc)

	a.mu.Lock()
	callbacks := append([]func(device.PropertyChange){}, a.deviceWatchers[dev]...)
	a.mu.Unlock()

	for _, fn := range callbacks {
		fn(pc)
	}
}

// ResetScanCalls clears the recorded Scan calls.
func (a *FakeAdapter) ResetScanCalls() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ScanCalls = nil
	a.ScanFilters = nil
}

// ScanCallCount returns the number of Scan calls recorded so far.
func (a *FakeAdapter) ScanCallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.ScanCalls)
}
