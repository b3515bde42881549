package device

// ScanFilter narrows adapter discovery. Transport mirrors the BlueZ
// SetDiscoveryFilter "Transport" key ("le", "bredr", "auto").
type ScanFilter struct {
	Transport string
	UUIDs     []string
}

// DefaultScanFilter restricts discovery to LE advertisements.
func DefaultScanFilter() ScanFilter {
	return ScanFilter{Transport: "le"}
}

// Adapter is the local BLE controller as seen by the connection manager.
//
// Callbacks registered through the On* methods may be invoked from any
// goroutine; callers are expected to hand them over to their own event loop.
type Adapter interface {
	Name() string
	Powered() bool
	Scanning() bool

	Scan(enable bool, filter ScanFilter) error
	Devices() ([]Device, error)

	OnDeviceAdded(fn func(Device))
	OnDeviceRemoved(fn func(address string))
	OnAdapterPropertiesChanged(fn func(PropertyChange))
	OnDevicePropertiesChanged(dev Device, fn func(PropertyChange))
}

// Device is a remote peripheral object owned by the adapter.
type Device interface {
	Address() string
	Name() string
	Connected() bool
	ServicesResolved() bool

	// ConnectAsync requests a connection and returns immediately. Exactly one
	// of onOK or onFail is invoked once the request completes.
	ConnectAsync(onOK func(), onFail func(error))
	Disconnect() error

	Services() ([]Service, error)
}

// Service is a resolved GATT service.
type Service interface {
	UUID() string
	Characteristics() ([]Characteristic, error)
}

// Characteristic is a resolved GATT characteristic.
type Characteristic interface {
	UUID() string
	Capabilities() (Capability, error)

	ReadAsync(onOK func([]byte), onFail func(error))
	WriteAsync(value []byte, onOK func(), onFail func(error))

	// OnValueChanged registers fn for every value update, whether it came from
	// a notification, an indication or a read issued by any client.
	OnValueChanged(fn func([]byte))
	StartNotify() error
	Notifying() bool
}
