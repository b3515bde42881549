package session

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/blimd/internal/codec"
	"github.com/srg/blimd/internal/device"
	"github.com/srg/blimd/internal/schema"
	"github.com/srg/blimd/internal/sink"
)

// attach wires value callbacks for every bound characteristic and, when
// enabled, issues the initial read of everything readable. Subscriptions are
// never torn down explicitly; they die with the handle and callbacks from an
// older generation are discarded.
func (s *Session) attach(tree *schema.BoundTree, gen uint64) {
	var readable []*schema.BoundCharacteristic

	for _, bc := range tree.Characteristics() {
		log := s.logger.WithField("characteristic", bc.Path())

		caps, err := bc.Capabilities()
		if err != nil {
			log.WithError(err).Warn("Skipping characteristic, inspection failed")
			continue
		}

		switch {
		case caps.CanNotify():
			bc.OnValueChanged(s.valueCallback(bc, gen, sink.KindNotification))
			if err := bc.StartNotify(); err != nil {
				log.WithError(device.NewTransportError("start-notify", s.address, err)).Warn("Failed to enable notifications")
			} else if !bc.Notifying() {
				log.Warn("Notifications did not enable")
			} else {
				log.Debug("Notifications enabled")
			}
		case caps.CanRead():
			bc.OnValueChanged(s.valueCallback(bc, gen, sink.KindChanged))
			log.Debug("Watching value changes")
		default:
			log.WithField("capabilities", caps).Debug("Characteristic is neither readable nor notifying")
		}

		if caps.CanRead() {
			readable = append(readable, bc)
		}
	}

	if !s.initialRead {
		return
	}
	for _, bc := range readable {
		s.read(bc, gen)
	}
}

func (s *Session) valueCallback(bc *schema.BoundCharacteristic, gen uint64, kind sink.Kind) func(schema.Value) {
	return func(v schema.Value) {
		s.exec.Post(func() {
			if err := s.checkStale("value", gen, Ready); err != nil {
				s.logger.WithError(err).WithField("characteristic", bc.Path()).Debug("Discarding stale value")
				return
			}
			s.deliver(bc, kind, v)
		})
	}
}

// Read issues one asynchronous read of service/characteristic. It returns an
// error only when the read could not be issued; transport failures are
// recorded as the session's last error and logged.
func (s *Session) Read(service, characteristic string) error {
	bc, err := s.lookup(service, characteristic)
	if err != nil {
		return err
	}
	s.read(bc, s.generation)
	return nil
}

// Write encodes value through the characteristic codec and writes it.
// done, when set, runs on the loop with the outcome.
func (s *Session) Write(service, characteristic string, value any, done func(error)) error {
	bc, err := s.lookup(service, characteristic)
	if err != nil {
		return err
	}
	if done == nil {
		done = func(error) {}
	}

	gen := s.generation
	log := s.logger.WithField("characteristic", bc.Path())
	bc.WriteAsync(value,
		func() {
			s.exec.Post(func() {
				if err := s.checkStale("write", gen); err != nil {
					log.WithError(err).Debug("Discarding write completion")
					done(err)
					return
				}
				log.WithField("value", value).Info("Write completed")
				done(nil)
			})
		},
		func(werr error) {
			s.exec.Post(func() {
				if err := s.checkStale("write", gen); err != nil {
					log.WithError(err).Debug("Discarding write failure")
					done(err)
					return
				}
				s.recordError(device.NewTransportError("write", s.address, werr))
				log.WithError(s.lastErr).Warn("Write failed")
				done(s.lastErr)
			})
		},
	)
	return nil
}

func (s *Session) lookup(service, characteristic string) (*schema.BoundCharacteristic, error) {
	if s.state != Ready || s.tree == nil {
		return nil, ErrNotReady
	}
	bc, ok := s.tree.Characteristic(service, characteristic)
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, characteristic}}
	}
	return bc, nil
}

func (s *Session) read(bc *schema.BoundCharacteristic, gen uint64) {
	log := s.logger.WithField("characteristic", bc.Path())
	bc.ReadAsync(
		func(v schema.Value) {
			s.exec.Post(func() {
				if err := s.checkStale("read", gen, Ready); err != nil {
					log.WithError(err).Debug("Discarding stale read")
					return
				}
				s.deliver(bc, sink.KindRead, v)
			})
		},
		func(rerr error) {
			s.exec.Post(func() {
				if err := s.checkStale("read", gen); err != nil {
					log.WithError(err).Debug("Discarding stale read failure")
					return
				}
				s.recordError(device.NewTransportError("read", s.address, rerr))
				log.WithError(s.lastErr).Warn("Read failed")
			})
		},
	)
}

var kindLabel = map[sink.Kind]string{
	sink.KindNotification: "Notification:",
	sink.KindChanged:      "Changed value:",
	sink.KindRead:         "Read value:",
}

func (s *Session) deliver(bc *schema.BoundCharacteristic, kind sink.Kind, v schema.Value) {
	fields := logrus.Fields{
		"service":        bc.Service(),
		"characteristic": bc.Name(),
	}
	rec := sink.Value{
		Address:        s.address,
		Service:        bc.Service(),
		Characteristic: bc.Name(),
		Kind:           kind,
		Value:          v.Decoded,
		Raw:            v.Raw,
		Time:           s.now(),
	}
	if v.Err != nil {
		rec.DecodeError = v.Err.Error()
		s.logger.WithFields(fields).WithError(v.Err).Warnf("%s undecodable value %x", kindLabel[kind], v.Raw)
	} else {
		s.logger.WithFields(fields).Infof("%s %s", kindLabel[kind], codec.Format(v.Decoded))
	}
	s.publisher.PublishValue(rec)
}
