package reconciler

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/blimd/internal/device"
	"github.com/srg/blimd/internal/session"
)

// DesiredScan computes the scan policy from the adapter power state and the
// aggregate of all session states.
//
// Scanning is off while the adapter is unpowered, and off while any session is
// CONNECTING when exclusive is set. Otherwise it is on as long as at least one
// session is neither linked nor bound (DEGRADED counts as needing scan).
func DesiredScan(powered, exclusive bool, states []session.State) bool {
	if !powered {
		return false
	}
	need := false
	for _, st := range states {
		switch st {
		case session.Connecting:
			if exclusive {
				return false
			}
		case session.Connected, session.Resolving, session.Ready:
		default:
			need = true
		}
	}
	return need
}

// ScanSwitch is the shared scan enable/disable switch. It remembers the last
// applied value and only calls the adapter when the requested value differs.
type ScanSwitch struct {
	mu         sync.Mutex
	adapter    device.Adapter
	filter     device.ScanFilter
	logger     logrus.FieldLogger
	applied    bool
	known      bool
	suppressed bool
}

// NewScanSwitch returns a switch with no applied value; the first Apply
// always reaches the adapter.
func NewScanSwitch(adapter device.Adapter, filter device.ScanFilter, logger logrus.FieldLogger) *ScanSwitch {
	return &ScanSwitch{adapter: adapter, filter: filter, logger: logger}
}

// Apply sets scanning to enable unless that is already the last applied
// value or the switch is suppressed. It reports whether the adapter was called.
// A failed call leaves the last applied value untouched so the next Apply retries.
func (s *ScanSwitch) Apply(enable bool) bool {
	s.mu.Lock()
	if s.suppressed || (s.known && s.applied == enable) {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	if err := s.adapter.Scan(enable, s.filter); err != nil {
		s.logger.WithError(err).WithField("enable", enable).Warn("Scan switch failed")
		return true
	}

	s.mu.Lock()
	s.applied, s.known = enable, true
	s.mu.Unlock()

	s.logger.WithField("enable", enable).Debug("Scan switched")
	return true
}

// Reset forgets the last applied value.
func (s *ScanSwitch) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known = false
}

// Suppress blocks or unblocks adapter calls. Used while the adapter is unpowered.
func (s *ScanSwitch) Suppress(suppressed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppressed = suppressed
}

// Enabled returns the last applied value and whether one is known.
func (s *ScanSwitch) Enabled() (enabled, known bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied, s.known
}
