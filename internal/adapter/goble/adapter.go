// Package goble implements the device facade over github.com/go-ble/ble, for
// hosts without BlueZ (raw HCI sockets on Linux, CoreBluetooth on macOS).
//
// go-ble has no object tree: devices are learned from advertisements while
// scanning and forgotten after DeviceTTL without one. GATT handles exist only
// while a client connection is up.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blimd/internal/device"
	"github.com/srg/blimd/internal/groutine"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultDeviceTTL      = 2 * time.Minute
)

// DeviceFactory opens the platform go-ble device for the named adapter.
// Tests replace it.
var DeviceFactory = newPlatformDevice

type Options struct {
	ConnectTimeout time.Duration
	// DeviceTTL is how long a disconnected device is kept without an advertisement.
	DeviceTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.DeviceTTL <= 0 {
		o.DeviceTTL = defaultDeviceTTL
	}
	return o
}

// Adapter implements device.Adapter over a single go-ble device.
type Adapter struct {
	dev    ble.Device
	name   string
	opts   Options
	logger logrus.FieldLogger
	now    func() time.Time

	mu         sync.RWMutex
	powered    bool
	scanning   bool
	filter     []string
	scanCancel context.CancelFunc
	scanDone   <-chan struct{}
	devices    map[string]*Device

	cbMu      sync.RWMutex
	onAdded   []func(device.Device)
	onRemoved []func(string)
	onAdapter []func(device.PropertyChange)

	cancel context.CancelFunc
	done   <-chan struct{}
}

var _ device.Adapter = (*Adapter)(nil)

// Open creates the platform device through DeviceFactory and starts the
// stale-device sweeper.
func Open(ctx context.Context, name string, opts Options, logger logrus.FieldLogger) (*Adapter, error) {
	dev, err := DeviceFactory(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open go-ble device %q: %w", name, NormalizeError(err))
	}
	a := newAdapter(dev, name, opts, logger)

	sweepCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = groutine.Go(sweepCtx, "goble-sweep", a.logger, a.sweepLoop)

	a.logger.WithField("adapter", name).Info("go-ble adapter opened")
	return a, nil
}

func newAdapter(dev ble.Device, name string, opts Options, logger logrus.FieldLogger) *Adapter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Adapter{
		dev:     dev,
		name:    name,
		opts:    opts.withDefaults(),
		logger:  logger.WithField("backend", "goble"),
		now:     time.Now,
		powered: true,
		devices: make(map[string]*Device),
	}
}

// hciIndex parses "hciN". An empty name selects hci0.
func hciIndex(name string) (int, error) {
	if name == "" {
		return 0, nil
	}
	n, ok := strings.CutPrefix(name, "hci")
	if !ok {
		return 0, fmt.Errorf("invalid adapter name %q: expected hciN", name)
	}
	id, err := strconv.Atoi(n)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid adapter name %q: expected hciN", name)
	}
	return id, nil
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Powered() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.powered
}

func (a *Adapter) Scanning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.scanning
}

// Scan starts or stops the advertisement scan. go-ble scans on the calling
// goroutine until its context ends, so an enabled scan owns a worker.
// Transport is ignored: go-ble only scans LE.
func (a *Adapter) Scan(enable bool, filter device.ScanFilter) error {
	if !enable {
		a.stopScan()
		return nil
	}

	a.mu.Lock()
	if !a.powered {
		a.mu.Unlock()
		return device.ErrAdapterUnpowered
	}
	if a.scanning {
		a.filter = append([]string(nil), filter.UUIDs...)
		a.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.scanning = true
	a.filter = append([]string(nil), filter.UUIDs...)
	a.scanCancel = cancel
	a.scanDone = groutine.Go(ctx, "goble-scan", a.logger, a.scan)
	a.mu.Unlock()

	a.fireAdapter(device.PropertyChange{Discovering: device.Bool(true)})
	return nil
}

func (a *Adapter) scan(ctx context.Context) {
	err := a.dev.Scan(ctx, true, a.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) {
		err = NormalizeError(err)
		a.logger.WithError(err).Warn("Scan stopped")
		if errors.Is(err, device.ErrBluetoothOff) {
			a.powerLost()
			return
		}
	}
	if ctx.Err() != nil {
		// stopScan owns the transition.
		return
	}
	a.mu.Lock()
	a.scanning = false
	a.scanCancel = nil
	a.mu.Unlock()
	a.fireAdapter(device.PropertyChange{Discovering: device.Bool(false)})
}

func (a *Adapter) stopScan() {
	a.mu.Lock()
	cancel, done := a.scanCancel, a.scanDone
	wasScanning := a.scanning
	a.scanning = false
	a.scanCancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if wasScanning {
		a.fireAdapter(device.PropertyChange{Discovering: device.Bool(false)})
	}
}

func (a *Adapter) powerLost() {
	a.mu.Lock()
	wasPowered := a.powered
	cancel := a.scanCancel
	a.powered = false
	a.scanning = false
	a.scanCancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if wasPowered {
		a.fireAdapter(device.PropertyChange{Powered: device.Bool(false), Discovering: device.Bool(false)})
	}
}

func (a *Adapter) matchesFilter(adv ble.Advertisement) bool {
	a.mu.RLock()
	filter := a.filter
	a.mu.RUnlock()
	if len(filter) == 0 {
		return true
	}
	for _, u := range adv.Services() {
		for _, want := range filter {
			if device.SameUUID(u.String(), want) {
				return true
			}
		}
	}
	return false
}

// handleAdvertisement registers unknown devices and reports RSSI changes.
func (a *Adapter) handleAdvertisement(adv ble.Advertisement) {
	if adv == nil || adv.Addr() == nil || !a.matchesFilter(adv) {
		return
	}
	address := adv.Addr().String()
	if n, err := device.NormalizeAddress(address); err == nil {
		address = n
	} else {
		address = strings.ToUpper(address)
	}

	a.mu.Lock()
	d, ok := a.devices[address]
	if !ok {
		d = newDevice(a, adv.Addr(), address)
		a.devices[address] = d
	}
	a.mu.Unlock()

	changed := d.seen(a.now(), adv.LocalName(), int16(adv.RSSI()))
	if !ok {
		a.logger.WithFields(logrus.Fields{"address": address, "name": adv.LocalName()}).Debug("Device discovered")
		a.cbMu.RLock()
		added := append([]func(device.Device){}, a.onAdded...)
		a.cbMu.RUnlock()
		for _, fn := range added {
			fn(d)
		}
		return
	}
	if changed {
		rssi, _ := d.RSSI()
		d.notify(device.PropertyChange{RSSI: device.Int16(rssi)})
	}
}

func (a *Adapter) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.opts.DeviceTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep(a.now())
		}
	}
}

// sweep forgets disconnected devices that have not advertised for DeviceTTL.
func (a *Adapter) sweep(now time.Time) {
	var gone []string
	a.mu.Lock()
	for address, d := range a.devices {
		if d.expired(now, a.opts.DeviceTTL) {
			delete(a.devices, address)
			gone = append(gone, address)
		}
	}
	a.mu.Unlock()
	if len(gone) == 0 {
		return
	}

	sort.Strings(gone)
	a.cbMu.RLock()
	removed := append([]func(string){}, a.onRemoved...)
	a.cbMu.RUnlock()
	for _, address := range gone {
		a.logger.WithField("address", address).Debug("Device expired")
		for _, fn := range removed {
			fn(address)
		}
	}
}

// Devices returns the devices seen recently, sorted by address.
func (a *Adapter) Devices() ([]device.Device, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]device.Device, 0, len(a.devices))
	for _, d := range a.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address() < out[j].Address() })
	return out, nil
}

func (a *Adapter) OnDeviceAdded(fn func(device.Device)) {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()
	a.onAdded = append(a.onAdded, fn)
}

func (a *Adapter) OnDeviceRemoved(fn func(address string)) {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()
	a.onRemoved = append(a.onRemoved, fn)
}

func (a *Adapter) OnAdapterPropertiesChanged(fn func(device.PropertyChange)) {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()
	a.onAdapter = append(a.onAdapter, fn)
}

func (a *Adapter) OnDevicePropertiesChanged(dev device.Device, fn func(device.PropertyChange)) {
	d, ok := dev.(*Device)
	if !ok || d.adapter != a {
		a.logger.WithField("address", dev.Address()).Warn("Ignoring watcher for a device of another adapter")
		return
	}
	d.watch(fn)
}

func (a *Adapter) fireAdapter(pc device.PropertyChange) {
	a.cbMu.RLock()
	fns := append([]func(device.PropertyChange){}, a.onAdapter...)
	a.cbMu.RUnlock()
	for _, fn := range fns {
		fn(pc)
	}
}

// Close stops scanning and the sweeper, then releases the go-ble device.
func (a *Adapter) Close() error {
	a.stopScan()
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
	if a.dev == nil {
		return nil
	}
	return a.dev.Stop()
}
