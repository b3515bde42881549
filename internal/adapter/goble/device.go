package goble

import (
	"context"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blimd/internal/device"
	"github.com/srg/blimd/internal/groutine"
)

// Device is a peripheral learned from advertisements. The go-ble client and
// its discovered profile live here while the link is up.
type Device struct {
	adapter *Adapter
	addr    ble.Addr
	address string

	mu         sync.RWMutex
	name       string
	rssi       *int16
	lastSeen   time.Time
	connecting bool
	client     ble.Client
	profile    *ble.Profile
	watchers   []func(device.PropertyChange)
}

var _ device.Device = (*Device)(nil)

func newDevice(a *Adapter, addr ble.Addr, address string) *Device {
	return &Device{adapter: a, addr: addr, address: address}
}

// seen records an advertisement and reports whether the RSSI changed.
func (d *Device) seen(at time.Time, name string, rssi int16) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSeen = at
	if name != "" {
		d.name = name
	}
	changed := d.rssi == nil || *d.rssi != rssi
	d.rssi = &rssi
	return changed
}

func (d *Device) expired(now time.Time, ttl time.Duration) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.client == nil && !d.connecting && now.Sub(d.lastSeen) > ttl
}

func (d *Device) watch(fn func(device.PropertyChange)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.watchers = append(d.watchers, fn)
}

func (d *Device) notify(pc device.PropertyChange) {
	d.mu.RLock()
	watchers := append([]func(device.PropertyChange){}, d.watchers...)
	d.mu.RUnlock()
	for _, fn := range watchers {
		fn(pc)
	}
}

func (d *Device) Address() string { return d.address }

func (d *Device) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

func (d *Device) Connected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.client != nil
}

// ServicesResolved is true whenever connected: the profile is discovered
// before the link is reported up.
func (d *Device) ServicesResolved() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.profile != nil
}

func (d *Device) RSSI() (int16, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.rssi == nil {
		return 0, false
	}
	return *d.rssi, true
}

// ConnectAsync dials and discovers the full profile on its own goroutine.
// Success is reported as a single Connected+ServicesResolved change followed
// by onOK.
func (d *Device) ConnectAsync(onOK func(), onFail func(error)) {
	d.mu.Lock()
	switch {
	case d.connecting:
		d.mu.Unlock()
		onFail(device.ErrInProgress)
		return
	case d.client != nil:
		d.mu.Unlock()
		onFail(device.ErrAlreadyConnected)
		return
	}
	d.connecting = true
	d.mu.Unlock()

	logger := d.adapter.logger.WithField("address", d.address)
	groutine.Go(context.Background(), "goble-connect", logger, func(ctx context.Context) {
		client, profile, err := d.dial(ctx)

		d.mu.Lock()
		d.connecting = false
		if err == nil {
			d.client, d.profile = client, profile
		}
		d.mu.Unlock()

		if err != nil {
			onFail(err)
			return
		}
		logger.WithField("services", len(profile.Services)).Debug("Profile discovered")
		d.notify(device.PropertyChange{Connected: device.Bool(true), ServicesResolved: device.Bool(true)})
		d.monitor(client, logger)
		onOK()
	})
}

func (d *Device) dial(ctx context.Context) (ble.Client, *ble.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, d.adapter.opts.ConnectTimeout)
	defer cancel()

	client, err := d.adapter.dev.Dial(ctx, d.addr)
	if err != nil {
		return nil, nil, NormalizeError(err)
	}
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		_ = client.CancelConnection()
		return nil, nil, NormalizeError(err)
	}
	return client, profile, nil
}

// monitor watches the client's Disconnected channel where the platform
// provides one.
func (d *Device) monitor(client ble.Client, logger logrus.FieldLogger) {
	dc, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		logger.Debug("Client does not expose Disconnected(); link loss is reported on the next failed operation")
		return
	}
	groutine.Go(context.Background(), "goble-link-monitor", logger, func(context.Context) {
		<-dc.Disconnected()
		d.linkLost(client)
	})
}

// linkLost drops the client if it is still the current one.
func (d *Device) linkLost(client ble.Client) {
	d.mu.Lock()
	if d.client != client {
		d.mu.Unlock()
		return
	}
	d.client, d.profile = nil, nil
	d.lastSeen = d.adapter.now()
	d.mu.Unlock()

	d.adapter.logger.WithField("address", d.address).Debug("Link lost")
	d.notify(device.PropertyChange{Connected: device.Bool(false), ServicesResolved: device.Bool(false)})
}

// Disconnect cancels the connection without waiting for the controller.
func (d *Device) Disconnect() error {
	d.mu.RLock()
	client := d.client
	d.mu.RUnlock()
	if client == nil {
		return nil
	}
	logger := d.adapter.logger.WithField("address", d.address)
	groutine.Go(context.Background(), "goble-disconnect", logger, func(context.Context) {
		if err := client.CancelConnection(); err != nil {
			logger.WithError(err).Warn("Disconnect request failed")
		}
		d.linkLost(client)
	})
	return nil
}

// Services wraps the profile discovered at connect time. Every call returns
// fresh characteristic handles bound to the current client.
func (d *Device) Services() ([]device.Service, error) {
	d.mu.RLock()
	client, profile := d.client, d.profile
	d.mu.RUnlock()
	if profile == nil {
		return nil, device.ErrNotConnected
	}
	out := make([]device.Service, len(profile.Services))
	for i, s := range profile.Services {
		out[i] = &Service{device: d, client: client, svc: s}
	}
	return out, nil
}

// clientFailed is called when an operation on client fails with a link
// error, for platforms without a Disconnected channel.
func (d *Device) clientFailed(client ble.Client, err error) {
	if device.IsConnectionState(err, device.NotConnected) {
		d.linkLost(client)
	}
}
