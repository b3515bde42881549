// Package bluez implements the device facade over BlueZ on the system D-Bus.
//
// The adapter keeps a mirror of the org.bluez object tree, seeded with
// GetManagedObjects and maintained from InterfacesAdded, InterfacesRemoved and
// PropertiesChanged signals. Device and GATT lookups are answered from the
// mirror; only operations that talk to the radio (connect, read, write,
// discovery, notify) go over the bus.
package bluez

import (
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/srg/blimd/internal/device"
)

const (
	busName = "org.bluez"

	ifaceAdapter        = "org.bluez.Adapter1"
	ifaceDevice         = "org.bluez.Device1"
	ifaceService        = "org.bluez.GattService1"
	ifaceCharacteristic = "org.bluez.GattCharacteristic1"
	ifaceProperties     = "org.freedesktop.DBus.Properties"
	ifaceObjectManager  = "org.freedesktop.DBus.ObjectManager"

	signalInterfacesAdded   = ifaceObjectManager + ".InterfacesAdded"
	signalInterfacesRemoved = ifaceObjectManager + ".InterfacesRemoved"
	signalPropertiesChanged = ifaceProperties + ".PropertiesChanged"
)

// managedObjects is the shape returned by ObjectManager.GetManagedObjects.
type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// AdapterPath returns the object path of a local adapter ("hci0" -> /org/bluez/hci0).
func AdapterPath(name string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + name)
}

// DevicePath returns the object path BlueZ uses for address under adapter.
func DevicePath(adapter dbus.ObjectPath, address string) dbus.ObjectPath {
	s := strings.ReplaceAll(strings.ToUpper(address), ":", "_")
	return dbus.ObjectPath(string(adapter) + "/dev_" + s)
}

// AddressFromPath extracts the device address from a device object path
// (.../dev_AA_BB_CC_DD_EE_FF). GATT object paths below a device are accepted.
func AddressFromPath(path dbus.ObjectPath) (string, bool) {
	for _, part := range strings.Split(string(path), "/") {
		if !strings.HasPrefix(part, "dev_") {
			continue
		}
		addr, err := device.NormalizeAddress(strings.TrimPrefix(part, "dev_"))
		if err != nil {
			return "", false
		}
		return addr, true
	}
	return "", false
}

// isChild reports whether path lies strictly below parent.
func isChild(parent, path dbus.ObjectPath) bool {
	return strings.HasPrefix(string(path), string(parent)+"/")
}

// busError keeps the BlueZ error name in the message. dbus.Error renders only
// its body when one is present, which would hide names like
// org.bluez.Error.NotConnected from device.NormalizeError.
func busError(err error) error {
	if err == nil {
		return nil
	}
	var name, msg string
	var derr dbus.Error
	var perr *dbus.Error
	switch {
	case errors.As(err, &derr):
		name, msg = derr.Name, derr.Error()
	case errors.As(err, &perr):
		name, msg = perr.Name, perr.Error()
	default:
		return err
	}
	if msg == name || msg == "" {
		return errors.New(name)
	}
	return fmt.Errorf("%s: %s", name, msg)
}

func variantValue[T any](props map[string]dbus.Variant, key string) (T, bool) {
	var zero T
	v, ok := props[key]
	if !ok {
		return zero, false
	}
	t, ok := v.Value().(T)
	return t, ok
}

// deviceChange extracts the recognized Device1 properties.
func deviceChange(props map[string]dbus.Variant) device.PropertyChange {
	var pc device.PropertyChange
	if v, ok := variantValue[bool](props, "Connected"); ok {
		pc.Connected = device.Bool(v)
	}
	if v, ok := variantValue[bool](props, "ServicesResolved"); ok {
		pc.ServicesResolved = device.Bool(v)
	}
	if v, ok := variantValue[int16](props, "RSSI"); ok {
		pc.RSSI = device.Int16(v)
	}
	return pc
}

// adapterChange extracts the recognized Adapter1 properties.
func adapterChange(props map[string]dbus.Variant) device.PropertyChange {
	var pc device.PropertyChange
	if v, ok := variantValue[bool](props, "Powered"); ok {
		pc.Powered = device.Bool(v)
	}
	if v, ok := variantValue[bool](props, "Discovering"); ok {
		pc.Discovering = device.Bool(v)
	}
	return pc
}

type eventKind int

const (
	eventInterfacesAdded eventKind = iota + 1
	eventInterfacesRemoved
	eventPropertiesChanged
)

// busEvent is a decoded org.bluez signal.
type busEvent struct {
	kind eventKind
	path dbus.ObjectPath

	// InterfacesAdded
	interfaces map[string]map[string]dbus.Variant
	// InterfacesRemoved
	removed []string
	// PropertiesChanged
	iface   string
	changed map[string]dbus.Variant
}

func decodeSignal(sig *dbus.Signal) (busEvent, bool) {
	if sig == nil {
		return busEvent{}, false
	}
	switch sig.Name {
	case signalInterfacesAdded:
		if len(sig.Body) < 2 {
			return busEvent{}, false
		}
		path, ok1 := sig.Body[0].(dbus.ObjectPath)
		ifaces, ok2 := sig.Body[1].(map[string]map[string]dbus.Variant)
		if !ok1 || !ok2 {
			return busEvent{}, false
		}
		return busEvent{kind: eventInterfacesAdded, path: path, interfaces: ifaces}, true

	case signalInterfacesRemoved:
		if len(sig.Body) < 2 {
			return busEvent{}, false
		}
		path, ok1 := sig.Body[0].(dbus.ObjectPath)
		removed, ok2 := sig.Body[1].([]string)
		if !ok1 || !ok2 {
			return busEvent{}, false
		}
		return busEvent{kind: eventInterfacesRemoved, path: path, removed: removed}, true

	case signalPropertiesChanged:
		if len(sig.Body) < 2 {
			return busEvent{}, false
		}
		iface, ok1 := sig.Body[0].(string)
		changed, ok2 := sig.Body[1].(map[string]dbus.Variant)
		if !ok1 || !ok2 {
			return busEvent{}, false
		}
		return busEvent{kind: eventPropertiesChanged, path: sig.Path, iface: iface, changed: changed}, true
	}
	return busEvent{}, false
}
