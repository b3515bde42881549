package bluez

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/blimd/internal/bledb"
	"github.com/srg/blimd/internal/device"
	"github.com/srg/blimd/internal/groutine"
)

const (
	defaultCallTimeout    = 5 * time.Second
	defaultConnectTimeout = 30 * time.Second
	signalBuffer          = 256
)

// Options tune bus call timeouts. Zero values select the defaults.
type Options struct {
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
}

// Adapter is a BlueZ adapter (hci0, hci1, ...) on the system bus.
type Adapter struct {
	conn   *dbus.Conn
	name   string
	path   dbus.ObjectPath
	opts   Options
	logger logrus.FieldLogger

	mu          sync.RWMutex
	objects     managedObjects
	powered     bool
	discovering bool
	devices     map[dbus.ObjectPath]*Device
	chars       map[dbus.ObjectPath]*Characteristic

	cbMu      sync.RWMutex
	onAdded   []func(device.Device)
	onRemoved []func(string)
	onAdapter []func(device.PropertyChange)

	signals chan *dbus.Signal
	cancel  context.CancelFunc
	done    <-chan struct{}
}

var _ device.Adapter = (*Adapter)(nil)

// Open connects to the system bus, loads the object tree and starts the
// signal pump. It fails with a *device.NotFoundError when the adapter does
// not exist.
func Open(ctx context.Context, name string, opts Options, logger logrus.FieldLogger) (*Adapter, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	a := newAdapter(conn, name, opts, logger)
	if err := a.start(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return a, nil
}

func newAdapter(conn *dbus.Conn, name string, opts Options, logger logrus.FieldLogger) *Adapter {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Adapter{
		conn:    conn,
		name:    name,
		path:    AdapterPath(name),
		opts:    opts,
		logger:  logger.WithFields(logrus.Fields{"backend": "bluez", "adapter": name}),
		objects: make(managedObjects),
		devices: make(map[dbus.ObjectPath]*Device),
		chars:   make(map[dbus.ObjectPath]*Characteristic),
	}
}

func (a *Adapter) start(ctx context.Context) error {
	// Subscribe before loading so nothing between the snapshot and the pump is lost.
	for _, rule := range []string{
		fmt.Sprintf("type='signal',sender='%s',interface='%s'", busName, ifaceObjectManager),
		fmt.Sprintf("type='signal',sender='%s',interface='%s',member='PropertiesChanged'", busName, ifaceProperties),
	} {
		if call := a.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule); call.Err != nil {
			return fmt.Errorf("failed to add match rule: %w", call.Err)
		}
	}
	a.signals = make(chan *dbus.Signal, signalBuffer)
	a.conn.Signal(a.signals)

	var objects managedObjects
	callCtx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	defer cancel()
	call := a.conn.Object(busName, "/").CallWithContext(callCtx, ifaceObjectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return fmt.Errorf("GetManagedObjects failed: %w", busError(call.Err))
	}
	if err := call.Store(&objects); err != nil {
		return fmt.Errorf("failed to parse managed objects: %w", err)
	}
	if err := a.load(objects); err != nil {
		return err
	}

	pumpCtx, stop := context.WithCancel(ctx)
	a.cancel = stop
	a.done = groutine.Go(pumpCtx, "bluez-signals", a.logger, a.pump)

	a.logger.WithFields(logrus.Fields{
		"powered": a.Powered(),
		"devices": len(a.devices),
	}).Info("BlueZ adapter opened")
	return nil
}

// load seeds the mirror from a GetManagedObjects snapshot.
func (a *Adapter) load(objects managedObjects) error {
	adapterProps, ok := objects[a.path][ifaceAdapter]
	if !ok {
		return &device.NotFoundError{Resource: "adapter", UUIDs: []string{a.name}}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for path, ifaces := range objects {
		if path == a.path || isChild(a.path, path) {
			a.objects[path] = ifaces
		}
	}
	a.powered, _ = variantValue[bool](adapterProps, "Powered")
	a.discovering, _ = variantValue[bool](adapterProps, "Discovering")
	for path, ifaces := range a.objects {
		if props, ok := ifaces[ifaceDevice]; ok {
			a.devices[path] = newDevice(a, path, props)
		}
	}
	return nil
}

func (a *Adapter) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-a.signals:
			if !ok {
				return
			}
			if ev, ok := decodeSignal(sig); ok {
				a.handle(ev)
			}
		}
	}
}

// handle applies one bus event to the mirror and fires the matching
// callbacks outside the locks.
func (a *Adapter) handle(ev busEvent) {
	if ev.path != a.path && !isChild(a.path, ev.path) {
		return
	}
	switch ev.kind {
	case eventInterfacesAdded:
		a.interfacesAdded(ev.path, ev.interfaces)
	case eventInterfacesRemoved:
		a.interfacesRemoved(ev.path, ev.removed)
	case eventPropertiesChanged:
		a.propertiesChanged(ev.path, ev.iface, ev.changed)
	}
}

func (a *Adapter) interfacesAdded(path dbus.ObjectPath, ifaces map[string]map[string]dbus.Variant) {
	var (
		added  *Device
		change device.PropertyChange
	)

	a.mu.Lock()
	current, ok := a.objects[path]
	if !ok {
		current = make(map[string]map[string]dbus.Variant)
		a.objects[path] = current
	}
	for iface, props := range ifaces {
		current[iface] = props
	}
	if props, ok := ifaces[ifaceDevice]; ok {
		if _, known := a.devices[path]; !known {
			added = newDevice(a, path, props)
			a.devices[path] = added
		}
	}
	if props, ok := ifaces[ifaceAdapter]; ok && path == a.path {
		change = adapterChange(props)
		a.applyAdapterChange(change)
	}
	a.mu.Unlock()

	if added != nil {
		a.logger.WithField("address", added.Address()).Debug("Device object added")
		for _, fn := range a.addedCallbacks() {
			fn(added)
		}
	}
	if !change.Empty() {
		a.fireAdapterChange(change)
	}
}

func (a *Adapter) interfacesRemoved(path dbus.ObjectPath, ifaces []string) {
	var (
		removed *Device
		change  device.PropertyChange
	)

	a.mu.Lock()
	if current, ok := a.objects[path]; ok {
		for _, iface := range ifaces {
			delete(current, iface)
		}
		if len(current) == 0 {
			delete(a.objects, path)
		}
	}
	for _, iface := range ifaces {
		switch iface {
		case ifaceDevice:
			if dev, ok := a.devices[path]; ok {
				removed = dev
				delete(a.devices, path)
				for p := range a.chars {
					if isChild(path, p) {
						delete(a.chars, p)
					}
				}
			}
		case ifaceCharacteristic:
			delete(a.chars, path)
		case ifaceAdapter:
			if path == a.path && a.powered {
				change.Powered = device.Bool(false)
				a.applyAdapterChange(change)
			}
		}
	}
	a.mu.Unlock()

	if removed != nil {
		a.logger.WithField("address", removed.Address()).Debug("Device object removed")
		for _, fn := range a.removedCallbacks() {
			fn(removed.Address())
		}
	}
	if !change.Empty() {
		a.fireAdapterChange(change)
	}
}

func (a *Adapter) propertiesChanged(path dbus.ObjectPath, iface string, changed map[string]dbus.Variant) {
	a.mu.Lock()
	if current, ok := a.objects[path]; ok {
		if props, ok := current[iface]; ok {
			for k, v := range changed {
				props[k] = v
			}
		}
	}
	var (
		dev  *Device
		char *Characteristic
		pc   device.PropertyChange
	)
	switch iface {
	case ifaceAdapter:
		if path == a.path {
			pc = adapterChange(changed)
			a.applyAdapterChange(pc)
		}
	case ifaceDevice:
		dev = a.devices[path]
	case ifaceCharacteristic:
		char = a.chars[path]
	}
	a.mu.Unlock()

	switch {
	case iface == ifaceAdapter && !pc.Empty():
		a.fireAdapterChange(pc)
	case dev != nil:
		dev.apply(changed)
	case char != nil:
		char.apply(changed)
	}
}

// applyAdapterChange updates cached adapter state. Callers hold a.mu.
func (a *Adapter) applyAdapterChange(pc device.PropertyChange) {
	if pc.Powered != nil {
		a.powered = *pc.Powered
		if !a.powered {
			a.discovering = false
		}
	}
	if pc.Discovering != nil {
		a.discovering = *pc.Discovering
	}
}

func (a *Adapter) fireAdapterChange(pc device.PropertyChange) {
	a.cbMu.RLock()
	callbacks := append([]func(device.PropertyChange){}, a.onAdapter...)
	a.cbMu.RUnlock()
	for _, fn := range callbacks {
		fn(pc)
	}
}

func (a *Adapter) addedCallbacks() []func(device.Device) {
	a.cbMu.RLock()
	defer a.cbMu.RUnlock()
	return append([]func(device.Device){}, a.onAdded...)
}

func (a *Adapter) removedCallbacks() []func(string) {
	a.cbMu.RLock()
	defer a.cbMu.RUnlock()
	return append([]func(string){}, a.onRemoved...)
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
	return a.discovering
}

// Scan starts or stops discovery. Starting always installs filter first.
// "already discovering" and "no discovery started" replies count as success.
func (a *Adapter) Scan(enable bool, filter device.ScanFilter) error {
	if !enable {
		err := a.call(a.path, ifaceAdapter+".StopDiscovery")
		if err != nil && strings.Contains(err.Error(), "No discovery started") {
			return nil
		}
		return err
	}

	if err := a.call(a.path, ifaceAdapter+".SetDiscoveryFilter", discoveryFilter(filter)); err != nil {
		return fmt.Errorf("failed to set discovery filter: %w", err)
	}
	err := a.call(a.path, ifaceAdapter+".StartDiscovery")
	if errors.Is(device.NormalizeError(err), device.ErrInProgress) {
		return nil
	}
	return err
}

func discoveryFilter(filter device.ScanFilter) map[string]dbus.Variant {
	out := make(map[string]dbus.Variant)
	if filter.Transport != "" {
		out["Transport"] = dbus.MakeVariant(filter.Transport)
	}
	if len(filter.UUIDs) > 0 {
		uuids := make([]string, len(filter.UUIDs))
		for i, u := range filter.UUIDs {
			uuids[i] = bledb.ExpandUUID(u)
		}
		out["UUIDs"] = dbus.MakeVariant(uuids)
	}
	return out
}

// Devices lists the device objects currently known below the adapter,
// ordered by address.
func (a *Adapter) Devices() ([]device.Device, error) {
	a.mu.RLock()
	devs := make([]*Device, 0, len(a.devices))
	for _, d := range a.devices {
		devs = append(devs, d)
	}
	a.mu.RUnlock()

	sort.Slice(devs, func(i, j int) bool { return devs[i].address < devs[j].address })
	out := make([]device.Device, len(devs))
	for i, d := range devs {
		out[i] = d
	}
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

// services returns the GattService1 objects of dev ordered by path.
func (a *Adapter) services(dev *Device) []*Service {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []*Service
	for path, ifaces := range a.objects {
		props, ok := ifaces[ifaceService]
		if !ok || !isChild(dev.path, path) {
			continue
		}
		uuid, _ := variantValue[string](props, "UUID")
		out = append(out, &Service{adapter: a, device: dev, path: path, uuid: uuid})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

// characteristics creates fresh handles for the characteristics of svc. The
// new handles replace earlier ones for the same paths, so value updates only
// reach the most recent bind.
func (a *Adapter) characteristics(svc *Service) []*Characteristic {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []*Characteristic
	for path, ifaces := range a.objects {
		props, ok := ifaces[ifaceCharacteristic]
		if !ok || !isChild(svc.path, path) {
			continue
		}
		c := newCharacteristic(a, svc.device.address, path, props)
		a.chars[path] = c
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

// call performs a blocking method call bounded by the call timeout.
func (a *Adapter) call(path dbus.ObjectPath, method string, args ...any) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.CallTimeout)
	defer cancel()
	return busError(a.conn.Object(busName, path).CallWithContext(ctx, method, 0, args...).Err)
}

// callAsync performs a method call on its own goroutine and reports the
// outcome through done.
func (a *Adapter) callAsync(name string, timeout time.Duration, path dbus.ObjectPath, method string, store any, done func(error), args ...any) {
	groutine.Go(context.Background(), name, a.logger, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		call := a.conn.Object(busName, path).CallWithContext(ctx, method, 0, args...)
		err := busError(call.Err)
		if err == nil && store != nil {
			err = call.Store(store)
		}
		done(err)
	})
}

// Close stops the signal pump and closes the bus connection.
func (a *Adapter) Close() error {
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
	if a.conn == nil {
		return nil
	}
	a.conn.RemoveSignal(a.signals)
	return a.conn.Close()
}
