// Package session implements the per-peripheral connection state machine.
//
// A Session is owned by the event loop: every method must be called from the
// loop, and every asynchronous completion it triggers is posted back to the
// loop and checked against the session generation before it takes effect.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blimd/internal/device"
	"github.com/srg/blimd/internal/loop"
	"github.com/srg/blimd/internal/schema"
	"github.com/srg/blimd/internal/sink"
)

// ErrNotReady is returned by Read and Write when the session is not READY.
var ErrNotReady = errors.New("session not ready")

// Config carries a session's collaborators.
type Config struct {
	Address   string
	Binder    *schema.Binder
	Executor  loop.Executor
	Publisher sink.Publisher
	Logger    logrus.FieldLogger

	// InitialRead issues one read of every readable characteristic after the
	// session becomes READY.
	InitialRead bool

	// OnChange runs on the loop after every state transition, before any
	// transport call the transition triggers, and after last-error updates.
	OnChange func(*Session)

	Now func() time.Time
}

// Session tracks one peripheral address.
type Session struct {
	address     string
	binder      *schema.Binder
	exec        loop.Executor
	publisher   sink.Publisher
	logger      logrus.FieldLogger
	initialRead bool
	onChange    func(*Session)
	now         func() time.Time

	state      State
	since      time.Time
	dev        device.Device
	tree       *schema.BoundTree
	lastErr    error
	generation uint64
	rssi       *int16
}

// New creates an UNBOUND session.
func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = sink.Discard
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Session{
		address:     cfg.Address,
		binder:      cfg.Binder,
		exec:        cfg.Executor,
		publisher:   cfg.Publisher,
		logger:      cfg.Logger.WithField("address", cfg.Address),
		initialRead: cfg.InitialRead,
		onChange:    cfg.OnChange,
		now:         cfg.Now,
		state:       Unbound,
		since:       cfg.Now(),
	}
}

func (s *Session) Address() string         { return s.address }
func (s *Session) State() State            { return s.state }
func (s *Session) Generation() uint64      { return s.generation }
func (s *Session) LastError() error        { return s.lastErr }
func (s *Session) Device() device.Device   { return s.dev }
func (s *Session) Tree() *schema.BoundTree { return s.tree }
func (s *Session) HasHandle() bool         { return s.dev != nil }

// Owns reports whether dev is the handle currently bound to the session.
func (s *Session) Owns(dev device.Device) bool {
	return s.dev != nil && s.dev == dev
}

// Status returns the externally visible state of the session.
func (s *Session) Status() sink.Status {
	st := sink.Status{
		Address:    s.address,
		State:      s.state.String(),
		Generation: s.generation,
		Since:      s.since,
	}
	if s.dev != nil {
		st.Name = s.dev.Name()
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if s.rssi != nil {
		v := *s.rssi
		st.RSSI = &v
	}
	if s.tree != nil {
		st.Bound = s.tree.Len()
	}
	return st
}

// Discovered binds dev to the session and drives it towards a connection.
// It returns true when dev is a new handle the caller has to watch for
// property changes.
func (s *Session) Discovered(dev device.Device) bool {
	if s.dev == dev {
		s.logger.WithField("state", s.state).Debug("Device rediscovered")
		if s.state.in(Discovered, Degraded) && !dev.Connected() {
			s.connect()
		}
		return false
	}

	if s.dev != nil {
		s.logger.WithField("state", s.state).Warn("Replacing device handle")
		s.release()
	}

	s.dev = dev
	s.lastErr = nil
	s.logger.WithField("name", dev.Name()).Info("Device discovered")
	s.setState(Discovered)

	if dev.Connected() {
		s.logger.Info("Device already connected")
		s.HandleChange(device.PropertyChange{
			Connected:        device.Bool(true),
			ServicesResolved: device.Bool(dev.ServicesResolved()),
		})
	} else {
		s.connect()
	}
	return true
}

// HandleChange applies one batch of device property changes. Connected is
// processed before ServicesResolved, which is processed before RSSI.
func (s *Session) HandleChange(pc device.PropertyChange) {
	if s.dev == nil {
		s.logger.WithField("change", pc.String()).Debug("Ignoring property change without device handle")
		return
	}
	s.logger.WithFields(logrus.Fields{"state": s.state, "change": pc.String()}).Debug("Property change")

	if pc.Connected != nil {
		if *pc.Connected {
			s.linkUp()
		} else {
			s.linkDown()
		}
	}
	if pc.ServicesResolved != nil {
		if *pc.ServicesResolved {
			s.servicesResolved()
		} else {
			s.servicesUnresolved()
		}
	}
	if pc.RSSI != nil {
		s.rssiUpdate(*pc.RSSI)
	}
}

// Removed handles the adapter dropping the device object.
func (s *Session) Removed() {
	if s.dev == nil {
		return
	}
	s.release()
	s.dev = nil
	s.rssi = nil
	s.logger.Info("Device removed")
	s.setState(Unbound)
}

// PowerLost forces the session to DEGRADED and releases the handle.
func (s *Session) PowerLost() {
	if s.dev != nil {
		s.release()
		s.dev = nil
	}
	s.rssi = nil
	s.lastErr = device.ErrAdapterUnpowered
	s.setState(Degraded)
}

func (s *Session) connect() {
	if s.dev == nil {
		return
	}
	s.setState(Connecting)
	s.logger.Info("Connecting")

	gen := s.generation
	dev := s.dev
	dev.ConnectAsync(
		func() {
			s.exec.Post(func() {
				if err := s.checkStale("connect", gen); err != nil {
					s.logger.WithError(err).Debug("Discarding connect completion")
					return
				}
				s.logger.Debug("Connect request completed")
			})
		},
		func(cerr error) {
			s.exec.Post(func() {
				if err := s.checkStale("connect", gen, Connecting); err != nil {
					s.logger.WithError(err).Debug("Discarding connect failure")
					return
				}
				s.lastErr = device.NewTransportError("connect", s.address, cerr)
				s.logger.WithError(s.lastErr).Warn("Connect failed")
				s.setState(Discovered)
			})
		},
	)
}

func (s *Session) linkUp() {
	if !s.state.in(Connecting, Discovered) {
		s.logger.WithField("state", s.state).Debug("Ignoring Connected=true")
		return
	}
	s.lastErr = nil
	s.logger.Info("Connected")
	s.setState(Connected)
}

func (s *Session) linkDown() {
	if s.state.in(Unbound, Discovered) {
		return
	}
	s.release()
	s.logger.Info("Disconnected")
	s.setState(Discovered)
}

func (s *Session) servicesResolved() {
	switch {
	case s.state == Connected:
	case s.state == Degraded && s.dev.Connected():
		s.logger.Info("Services resolved again, retrying schema bind")
	default:
		s.logger.WithField("state", s.state).Debug("Ignoring ServicesResolved=true")
		return
	}

	s.logger.Info("Services resolved")
	s.setState(Resolving)
	s.bind()
}

func (s *Session) servicesUnresolved() {
	if !s.state.in(Resolving, Ready, Degraded) || !s.dev.Connected() {
		return
	}
	s.release()
	s.logger.Info("Services no longer resolved")
	s.setState(Connected)
}

func (s *Session) rssiUpdate(rssi int16) {
	v := rssi
	s.rssi = &v
	if s.dev.Connected() {
		return
	}

	switch s.state {
	case Ready, Connected, Resolving:
		s.logger.WithField("rssi", rssi).Info("Advertisement from a device believed connected, reconnecting")
		s.release()
		s.setState(Discovered)
		s.connect()
	case Discovered, Degraded:
		s.logger.WithField("rssi", rssi).Debug("Advertisement received, reconnecting")
		s.connect()
	}
}

func (s *Session) bind() {
	tree, err := s.binder.Bind(s.dev)
	if err != nil {
		s.lastErr = err
		s.logger.WithError(err).Error("Schema bind failed")
		s.setState(Degraded)
		return
	}

	s.tree = tree
	s.lastErr = nil
	s.logger.WithField("characteristics", tree.Len()).Info("Device ready")
	s.setState(Ready)
	s.attach(tree, s.generation)
}

// release drops the bound tree and invalidates outstanding callbacks. The
// device handle is kept.
func (s *Session) release() {
	s.tree = nil
	s.generation++
}

func (s *Session) setState(next State) {
	if s.state == next {
		return
	}
	prev := s.state
	s.state = next
	s.since = s.now()
	s.logger.WithFields(logrus.Fields{
		"from":       prev,
		"to":         next,
		"generation": s.generation,
	}).Debug("State transition")

	s.publisher.PublishStatus(s.Status())
	if s.onChange != nil {
		s.onChange(s)
	}
}

// recordError stores err as the last error without changing state.
func (s *Session) recordError(err error) {
	s.lastErr = err
	if s.onChange != nil {
		s.onChange(s)
	}
}

// checkStale returns a *device.StaleCallbackError when the generation moved
// on, or when states is non-empty and the session is in none of them.
func (s *Session) checkStale(op string, gen uint64, states ...State) error {
	if gen == s.generation && (len(states) == 0 || s.state.in(states...)) {
		return nil
	}
	return &device.StaleCallbackError{
		Address:    s.address,
		Op:         fmt.Sprintf("%s in %s", op, s.state),
		Generation: gen,
		Current:    s.generation,
	}
}
