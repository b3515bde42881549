package testutils

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/srg/blimd/internal/device"
)

// ConnectMode controls how FakeDevice answers ConnectAsync.
type ConnectMode int

const (
	// ConnectManual keeps the request pending until CompleteConnect or FailConnect.
	ConnectManual ConnectMode = iota
	// ConnectAuto connects immediately and resolves services.
	ConnectAuto
)

// CharacteristicConfig represents a characteristic in a JSON device profile
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g. "read,notify"
	Value      []int  `json:"value,omitempty"`
	Text       string `json:"text,omitempty"` // UTF-8 shortcut for Value
}

// ServiceConfig represents a service in a JSON device profile
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// Bytes returns Value, falling back to Text.
func (c CharacteristicConfig) Bytes() []byte {
	if c.Value == nil {
		if c.Text == "" {
			return nil
		}
		return []byte(c.Text)
	}
	out := make([]byte, len(c.Value))
	for i, b := range c.Value {
		out[i] = byte(b)
	}
	return out
}

// DeviceProfileConfig is the JSON shape accepted by NewFakeDeviceFromJSON
// and PeripheralDeviceBuilder.FromJSON.
type DeviceProfileConfig struct {
	Address   string          `json:"address"`
	Name      string          `json:"name,omitempty"`
	Connected bool            `json:"connected,omitempty"`
	Resolved  bool            `json:"services_resolved,omitempty"`
	Services  []ServiceConfig `json:"services"`
}

// HGPPeripheralJSON is a profile that satisfies the built-in schema. The
// address is left as a format verb.
const HGPPeripheralJSON = `{
	"address": "%s",
	"name": "HGP",
	"services": [
		{
			"uuid": "0000180a-0000-1000-8000-00805f9b34fb",
			"characteristics": [
				{ "uuid": "2a24", "properties": "read", "text": "HGP-1" },
				{ "uuid": "2a28", "properties": "read", "text": "1.4.2" },
				{ "uuid": "2a29", "properties": "read", "text": "ACME" }
			]
		},
		{
			"uuid": "1abe0020-f938-452d-ad9e-76ee1b548e51",
			"characteristics": [
				{ "uuid": "2a1b", "properties": "read,notify", "value": [85, 2] },
				{ "uuid": "1abe0022-f938-452d-ad9e-76ee1b548e51", "properties": "read", "value": [44, 1] }
			]
		},
		{
			"uuid": "1abe0030-f938-452d-ad9e-76ee1b548e51",
			"characteristics": [
				{ "uuid": "1abe0036-f938-452d-ad9e-76ee1b548e51", "properties": "notify", "value": [0] },
				{ "uuid": "1abe0034-f938-452d-ad9e-76ee1b548e51", "properties": "indicate", "value": [1, 0] }
			]
		}
	]
}`

// FakeDevice is an in-memory device.Device.
type FakeDevice struct {
	mu        sync.Mutex
	adapter   *FakeAdapter
	address   string
	name      string
	connected bool
	resolved  bool
	services  []*FakeService

	pendingOK   func()
	pendingFail func(error)

	Mode            ConnectMode
	ConnectCalls    int
	DisconnectCalls int
	ServicesCalls   int
	ServicesErr     error
	DisconnectErr   error
}

var _ device.Device = (*FakeDevice)(nil)

// NewFakeDevice returns a disconnected device with no services.
func NewFakeDevice(address string) *FakeDevice {
	return &FakeDevice{address: address}
}

// NewFakeDeviceFromJSON builds a device from a JSON profile.
// It panics on malformed JSON, which is fine for tests.
func NewFakeDeviceFromJSON(jsonStrFmt string, args ...interface{}) *FakeDevice {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var cfg DeviceProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &cfg); err != nil {
		panic(fmt.Sprintf("NewFakeDeviceFromJSON: failed to unmarshal: %v", err))
	}

	d := &FakeDevice{
		address:   cfg.Address,
		name:      cfg.Name,
		connected: cfg.Connected,
		resolved:  cfg.Resolved,
	}
	for _, sc := range cfg.Services {
		svc := d.WithService(sc.UUID)
		for _, cc := range sc.Characteristics {
			svc.WithCharacteristic(cc.UUID, cc.Properties, cc.Bytes())
		}
	}
	return d
}

// WithService appends a service and returns it for further configuration.
func (d *FakeDevice) WithService(uuid string) *FakeService {
	d.mu.Lock()
	defer d.mu.Unlock()
	svc := &FakeService{uuid: uuid}
	d.services = append(d.services, svc)
	return svc
}

func (d *FakeDevice) Address() string { return d.address }
func (d *FakeDevice) Name() string    { return d.name }

func (d *FakeDevice) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *FakeDevice) ServicesResolved() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resolved
}

func (d *FakeDevice) ConnectAsync(onOK func(), onFail func(error)) {
	d.mu.Lock()
	d.ConnectCalls++
	mode := d.Mode
	d.pendingOK, d.pendingFail = onOK, onFail
	d.mu.Unlock()

	if mode == ConnectAuto {
		d.CompleteConnect(true)
	}
}

// CompleteConnect finishes a pending connect: the link comes up, the caller's
// onOK runs and, when resolve is set, services resolve.
func (d *FakeDevice) CompleteConnect(resolve bool) {
	d.mu.Lock()
	onOK := d.pendingOK
	d.pendingOK, d.pendingFail = nil, nil
	d.mu.Unlock()

	d.emit(device.PropertyChange{Connected: device.Bool(true)})
	if onOK != nil {
		onOK()
	}
	if resolve {
		d.emit(device.PropertyChange{ServicesResolved: device.Bool(true)})
	}
}

// FailConnect fails a pending connect with err.
func (d *FakeDevice) FailConnect(err error) {
	d.mu.Lock()
	onFail := d.pendingFail
	d.pendingOK, d.pendingFail = nil, nil
	d.mu.Unlock()

	if onFail != nil {
		onFail(err)
	}
}

// HasPendingConnect reports whether a connect request awaits completion.
func (d *FakeDevice) HasPendingConnect() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pendingOK != nil || d.pendingFail != nil
}

func (d *FakeDevice) Disconnect() error {
	d.mu.Lock()
	d.DisconnectCalls++
	err := d.DisconnectErr
	wasConnected := d.connected
	d.mu.Unlock()

	if err != nil {
		return err
	}
	if wasConnected {
		d.emit(device.PropertyChange{Connected: device.Bool(false), ServicesResolved: device.Bool(false)})
	}
	return nil
}

func (d *FakeDevice) Services() ([]device.Service, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ServicesCalls++
	if d.ServicesErr != nil {
		return nil, d.ServicesErr
	}
	out := make([]device.Service, len(d.services))
	for i, s := range d.services {
		out[i] = s
	}
	return out, nil
}

// Characteristic finds a characteristic by service and characteristic UUID.
func (d *FakeDevice) Characteristic(serviceUUID, charUUID string) *FakeCharacteristic {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.services {
		if !device.SameUUID(s.uuid, serviceUUID) {
			continue
		}
		for _, c := range s.chars {
			if device.SameUUID(c.uuid, charUUID) {
				return c
			}
		}
	}
	return nil
}

// SetLinkState changes the link flags without emitting property changes, as
// when a disconnect signal is lost.
func (d *FakeDevice) SetLinkState(connected, resolved bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = connected
	d.resolved = resolved
}

func (d *FakeDevice) apply(pc device.PropertyChange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pc.Connected != nil {
		d.connected = *pc.Connected
		if !d.connected {
			d.resolved = false
		}
	}
	if pc.ServicesResolved != nil {
		d.resolved = *pc.ServicesResolved
	}
}

func (d *FakeDevice) emit(pc device.PropertyChange) {
	if d.adapter != nil {
		d.adapter.EmitChange(d, pc)
		return
	}
	d.apply(pc)
}

// FakeService is an in-memory device.Service.
type FakeService struct {
	uuid     string
	chars    []*FakeCharacteristic
	CharsErr error
}

func (s *FakeService) UUID() string { return s.uuid }

func (s *FakeService) Characteristics() ([]device.Characteristic, error) {
	if s.CharsErr != nil {
		return nil, s.CharsErr
	}
	out := make([]device.Characteristic, len(s.chars))
	for i, c := range s.chars {
		out[i] = c
	}
	return out, nil
}

// WithCharacteristic adds a characteristic with comma separated properties.
func (s *FakeService) WithCharacteristic(uuid, properties string, value []byte) *FakeService {
	caps, _ := device.ParseCapabilities(strings.Split(properties, ","))
	s.chars = append(s.chars, &FakeCharacteristic{uuid: uuid, caps: caps, value: value})
	return s
}

// FakeCharacteristic is an in-memory device.Characteristic.
type FakeCharacteristic struct {
	mu        sync.Mutex
	uuid      string
	caps      device.Capability
	value     []byte
	notifying bool
	callbacks []func([]byte)
	held      []func()

	CapsErr        error
	ReadErr        error
	WriteErr       error
	StartNotifyErr error
	// RefuseNotify makes StartNotify succeed without Notifying turning true.
	RefuseNotify bool
	// HoldReads queues read completions until ReleaseReads.
	HoldReads bool

	Reads            int
	Writes           [][]byte
	StartNotifyCalls int
}

var _ device.Characteristic = (*FakeCharacteristic)(nil)

func (c *FakeCharacteristic) UUID() string { return c.uuid }

func (c *FakeCharacteristic) Capabilities() (device.Capability, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CapsErr != nil {
		return 0, c.CapsErr
	}
	return c.caps, nil
}

func (c *FakeCharacteristic) ReadAsync(onOK func([]byte), onFail func(error)) {
	c.mu.Lock()
	c.Reads++
	err := c.ReadErr
	value := append([]byte(nil), c.value...)
	complete := func() {
		if err != nil {
			onFail(err)
			return
		}
		onOK(value)
	}
	if c.HoldReads {
		c.held = append(c.held, complete)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	complete()
}

// ReleaseReads completes every held read in order.
func (c *FakeCharacteristic) ReleaseReads() {
	c.mu.Lock()
	held := c.held
	c.held = nil
	c.mu.Unlock()
	for _, fn := range held {
		fn()
	}
}

func (c *FakeCharacteristic) WriteAsync(value []byte, onOK func(), onFail func(error)) {
	c.mu.Lock()
	if c.WriteErr != nil {
		err := c.WriteErr
		c.mu.Unlock()
		onFail(err)
		return
	}
	c.Writes = append(c.Writes, append([]byte(nil), value...))
	c.value = append([]byte(nil), value...)
	c.mu.Unlock()
	onOK()
}

func (c *FakeCharacteristic) OnValueChanged(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, fn)
}

// CallbackCount returns the number of registered value callbacks.
func (c *FakeCharacteristic) CallbackCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.callbacks)
}

func (c *FakeCharacteristic) StartNotify() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StartNotifyCalls++
	if c.StartNotifyErr != nil {
		return c.StartNotifyErr
	}
	c.notifying = !c.RefuseNotify
	return nil
}

func (c *FakeCharacteristic) Notifying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifying
}

// Notify stores value and fires the value-changed callbacks.
func (c *FakeCharacteristic) Notify(value []byte) {
	c.mu.Lock()
	c.value = append([]byte(nil), value...)
	callbacks := append([]func([]byte){}, c.callbacks...)
	c.mu.Unlock()
	for _, fn := range callbacks {
		fn(value)
	}
}
