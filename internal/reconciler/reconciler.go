// Package reconciler owns the fixed set of tracked sessions, dispatches
// adapter events to them and keeps the scan switch in line with their
// aggregate state.
package reconciler

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/blimd/internal/device"
	"github.com/srg/blimd/internal/loop"
	"github.com/srg/blimd/internal/schema"
	"github.com/srg/blimd/internal/session"
	"github.com/srg/blimd/internal/sink"
)

// ErrNotTracked is returned for addresses outside the tracked set.
var ErrNotTracked = errors.New("address is not tracked")

// Config carries the reconciler's collaborators and policy switches.
type Config struct {
	Addresses []string
	Adapter   device.Adapter
	Binder    *schema.Binder
	Executor  loop.Executor
	Publisher sink.Publisher
	Logger    logrus.FieldLogger

	ScanExclusive   bool
	ScanFilter      device.ScanFilter
	InitialRead     bool
	ExitOnPowerLoss bool

	// OnFatal is called once when the adapter loses power and
	// ExitOnPowerLoss is set.
	OnFatal func(error)

	Now func() time.Time
}

// Snapshot is a point-in-time view of the manager, safe to take from any goroutine.
type Snapshot struct {
	Adapter     string        `json:"adapter"`
	Powered     bool          `json:"powered"`
	Scanning    bool          `json:"scanning"`
	Discovering bool          `json:"discovering"`
	Sessions    []sink.Status `json:"sessions"`
}

// Reconciler dispatches adapter events to sessions. All methods except
// Snapshot and Write must run on the loop.
type Reconciler struct {
	adapter         device.Adapter
	exec            loop.Executor
	logger          logrus.FieldLogger
	scan            *ScanSwitch
	scanExclusive   bool
	exitOnPowerLoss bool
	onFatal         func(error)

	addresses []string
	sessions  map[string]*session.Session
	watched   map[device.Device]string

	status      *hashmap.Map[string, sink.Status]
	powered     atomic.Bool
	discovering atomic.Bool
	started     bool
}

// New creates one UNBOUND session per tracked address.
func New(cfg Config) (*Reconciler, error) {
	if cfg.Adapter == nil {
		return nil, errors.New("adapter is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = sink.Discard
	}
	if cfg.ScanFilter.Transport == "" {
		cfg.ScanFilter = device.DefaultScanFilter()
	}
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("no tracked addresses")
	}

	r := &Reconciler{
		adapter:         cfg.Adapter,
		exec:            cfg.Executor,
		logger:          cfg.Logger,
		scan:            NewScanSwitch(cfg.Adapter, cfg.ScanFilter, cfg.Logger),
		scanExclusive:   cfg.ScanExclusive,
		exitOnPowerLoss: cfg.ExitOnPowerLoss,
		onFatal:         cfg.OnFatal,
		sessions:        make(map[string]*session.Session, len(cfg.Addresses)),
		watched:         make(map[device.Device]string),
		status:          hashmap.New[string, sink.Status](),
	}

	for _, raw := range cfg.Addresses {
		addr, err := device.NormalizeAddress(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := r.sessions[addr]; dup {
			return nil, fmt.Errorf("duplicate tracked address %s", addr)
		}
		sess := session.New(session.Config{
			Address:     addr,
			Binder:      cfg.Binder,
			Executor:    cfg.Executor,
			Publisher:   cfg.Publisher,
			Logger:      cfg.Logger,
			InitialRead: cfg.InitialRead,
			OnChange:    r.onSessionChange,
			Now:         cfg.Now,
		})
		r.sessions[addr] = sess
		r.addresses = append(r.addresses, addr)
		r.status.Set(addr, sess.Status())
	}
	sort.Strings(r.addresses)
	return r, nil
}

// Start registers the adapter callbacks and posts the initial enumeration of
// devices the adapter already knows. Safe to call from any goroutine, once.
func (r *Reconciler) Start() {
	r.adapter.OnDeviceAdded(func(dev device.Device) {
		r.exec.Post(func() { r.deviceAdded(dev) })
	})
	r.adapter.OnDeviceRemoved(func(address string) {
		r.exec.Post(func() { r.deviceRemoved(address) })
	})
	r.adapter.OnAdapterPropertiesChanged(func(pc device.PropertyChange) {
		r.exec.Post(func() { r.adapterChanged(pc) })
	})
	r.exec.Post(r.bootstrap)
}

func (r *Reconciler) bootstrap() {
	r.started = true
	powered := r.adapter.Powered()
	r.powered.Store(powered)
	r.discovering.Store(r.adapter.Scanning())
	r.logger.WithFields(logrus.Fields{
		"adapter":  r.adapter.Name(),
		"powered":  powered,
		"tracking": len(r.addresses),
	}).Info("Reconciler started")

	if !powered {
		r.scan.Suppress(true)
		r.logger.Warn("Adapter is not powered, waiting")
		return
	}
	r.enumerate()
	r.settle()
}

// enumerate re-dispatches every device the adapter already knows as a discovery.
func (r *Reconciler) enumerate() {
	devices, err := r.adapter.Devices()
	if err != nil {
		r.logger.WithError(device.NewTransportError("devices", "", err)).Warn("Failed to enumerate known devices")
		return
	}
	for _, dev := range devices {
		r.deviceAdded(dev)
	}
}

func (r *Reconciler) lookup(address string) (string, *session.Session, bool) {
	addr, err := device.NormalizeAddress(address)
	if err != nil {
		return "", nil, false
	}
	sess, ok := r.sessions[addr]
	return addr, sess, ok
}

func (r *Reconciler) deviceAdded(dev device.Device) {
	addr, sess, ok := r.lookup(dev.Address())
	if !ok {
		return
	}
	if !r.powered.Load() {
		r.logger.WithField("address", addr).Debug("Ignoring discovery while adapter is unpowered")
		return
	}

	if _, seen := r.watched[dev]; sess.Discovered(dev) && !seen {
		r.watched[dev] = addr
		r.adapter.OnDevicePropertiesChanged(dev, func(pc device.PropertyChange) {
			r.exec.Post(func() { r.deviceChanged(addr, dev, pc) })
		})
	}
	r.settle()
}

func (r *Reconciler) deviceChanged(addr string, dev device.Device, pc device.PropertyChange) {
	sess := r.sessions[addr]
	if !sess.Owns(dev) {
		r.logger.WithFields(logrus.Fields{
			"address": addr,
			"change":  pc.String(),
		}).Debug("Ignoring change from a released handle")
		return
	}
	sess.HandleChange(pc)
	r.settle()
}

func (r *Reconciler) deviceRemoved(address string) {
	addr, sess, ok := r.lookup(address)
	if !ok {
		return
	}
	for dev, a := range r.watched {
		if a == addr {
			delete(r.watched, dev)
		}
	}
	sess.Removed()
	r.settle()
}

func (r *Reconciler) adapterChanged(pc device.PropertyChange) {
	if pc.Discovering != nil {
		r.discovering.Store(*pc.Discovering)
		r.logger.WithField("discovering", *pc.Discovering).Info("Adapter discovery changed")
	}

	if pc.Powered != nil {
		was := r.powered.Swap(*pc.Powered)
		switch {
		case was && !*pc.Powered:
			r.powerLost()
		case !was && *pc.Powered:
			r.powerRestored()
		}
	}
	r.settle()
}

func (r *Reconciler) powerLost() {
	r.logger.Warn("Adapter powered off, releasing all sessions")
	r.scan.Suppress(true)
	for _, addr := range r.addresses {
		r.sessions[addr].PowerLost()
	}
	if r.exitOnPowerLoss && r.onFatal != nil {
		r.onFatal(device.ErrAdapterUnpowered)
	}
}

func (r *Reconciler) powerRestored() {
	r.logger.Info("Adapter powered on, re-enumerating devices")
	r.scan.Suppress(false)
	r.scan.Reset()
	if r.started {
		r.enumerate()
	}
}

func (r *Reconciler) onSessionChange(sess *session.Session) {
	r.status.Set(sess.Address(), sess.Status())
	r.ApplyScanPolicy()
}

// settle refreshes the status snapshot and re-applies the scan policy after
// an event has been dispatched.
func (r *Reconciler) settle() {
	for _, addr := range r.addresses {
		r.status.Set(addr, r.sessions[addr].Status())
	}
	r.ApplyScanPolicy()
}

// DesiredScan computes the scan policy for the current session states.
func (r *Reconciler) DesiredScan() bool {
	states := make([]session.State, 0, len(r.addresses))
	for _, addr := range r.addresses {
		states = append(states, r.sessions[addr].State())
	}
	return DesiredScan(r.powered.Load(), r.scanExclusive, states)
}

// ApplyScanPolicy applies DesiredScan through the scan switch.
func (r *Reconciler) ApplyScanPolicy() {
	if !r.started {
		return
	}
	r.scan.Apply(r.DesiredScan())
}

// SuspendScan turns scanning off for the duration of a poll.
func (r *Reconciler) SuspendScan() {
	r.scan.Apply(false)
}

// ResumeScan turns scanning back on regardless of the session states.
func (r *Reconciler) ResumeScan() {
	r.scan.Apply(true)
}

// Session returns the session tracking address.
func (r *Reconciler) Session(address string) (*session.Session, bool) {
	_, sess, ok := r.lookup(address)
	return sess, ok
}

// Sessions returns every tracked session in address order.
func (r *Reconciler) Sessions() []*session.Session {
	out := make([]*session.Session, 0, len(r.addresses))
	for _, addr := range r.addresses {
		out = append(out, r.sessions[addr])
	}
	return out
}

// Snapshot returns the current status of the adapter and every session.
func (r *Reconciler) Snapshot() Snapshot {
	scanning, _ := r.scan.Enabled()
	snap := Snapshot{
		Adapter:     r.adapter.Name(),
		Powered:     r.powered.Load(),
		Scanning:    scanning,
		Discovering: r.discovering.Load(),
		Sessions:    make([]sink.Status, 0, len(r.addresses)),
	}
	for _, addr := range r.addresses {
		if st, ok := r.status.Get(addr); ok {
			snap.Sessions = append(snap.Sessions, st)
		}
	}
	return snap
}

// Write posts a characteristic write for address onto the loop. done runs on
// the loop with the outcome, including lookup failures.
func (r *Reconciler) Write(address, service, characteristic string, value any, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	r.exec.Post(func() {
		sess, ok := r.Session(address)
		if !ok {
			done(fmt.Errorf("%w: %s", ErrNotTracked, address))
			return
		}
		if err := sess.Write(service, characteristic, value, done); err != nil {
			done(err)
		}
	})
}
