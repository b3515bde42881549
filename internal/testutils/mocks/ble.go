// Package mocks holds testify mocks of the go-ble interfaces. Each mock embeds
// the interface it stands in for, so calling a method without an override
// panics on the nil embedded value.
package mocks

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

type MockDevice struct {
	mock.Mock
	ble.Device
}

func (m *MockDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	return m.Called(ctx, allowDup, h).Error(0)
}

func (m *MockDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := m.Called(ctx, a)
	client, _ := args.Get(0).(ble.Client)
	return client, args.Error(1)
}

func (m *MockDevice) Stop() error {
	return m.Called().Error(0)
}

// MockClient records the notification handlers passed to Subscribe so tests
// can push values, and exposes a Disconnected channel closed by Drop.
type MockClient struct {
	mock.Mock
	ble.Client

	mu       sync.Mutex
	handlers map[*ble.Characteristic]ble.NotificationHandler
	dropped  chan struct{}
	dropOnce sync.Once
}

func NewMockClient() *MockClient {
	return &MockClient{
		handlers: make(map[*ble.Characteristic]ble.NotificationHandler),
		dropped:  make(chan struct{}),
	}
}

func (m *MockClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	profile, _ := args.Get(0).(*ble.Profile)
	return profile, args.Error(1)
}

func (m *MockClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	value, _ := args.Get(0).([]byte)
	return value, args.Error(1)
}

func (m *MockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	return m.Called(c, value, noRsp).Error(0)
}

func (m *MockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	err := m.Called(c, ind, h).Error(0)
	if err == nil {
		m.mu.Lock()
		m.handlers[c] = h
		m.mu.Unlock()
	}
	return err
}

func (m *MockClient) CancelConnection() error {
	return m.Called().Error(0)
}

func (m *MockClient) Disconnected() <-chan struct{} {
	return m.dropped
}

// Notify invokes the handler subscribed for c, if any.
func (m *MockClient) Notify(c *ble.Characteristic, data []byte) bool {
	m.mu.Lock()
	h, ok := m.handlers[c]
	m.mu.Unlock()
	if ok {
		h(data)
	}
	return ok
}

// Drop closes the Disconnected channel.
func (m *MockClient) Drop() {
	m.dropOnce.Do(func() { close(m.dropped) })
}

type MockAdvertisement struct {
	mock.Mock
	ble.Advertisement
}

func (m *MockAdvertisement) LocalName() string {
	return m.Called().String(0)
}

func (m *MockAdvertisement) RSSI() int {
	return m.Called().Int(0)
}

func (m *MockAdvertisement) Addr() ble.Addr {
	addr, _ := m.Called().Get(0).(ble.Addr)
	return addr
}

func (m *MockAdvertisement) Services() []ble.UUID {
	uuids, _ := m.Called().Get(0).([]ble.UUID)
	return uuids
}

func (m *MockAdvertisement) Connectable() bool {
	return m.Called().Bool(0)
}
