package device

import (
	"fmt"
	"strings"
)

// PropertyChange is a batch of recognized property updates delivered by an
// adapter or device. A nil field means the property was not part of the batch.
type PropertyChange struct {
	Connected        *bool
	ServicesResolved *bool
	RSSI             *int16
	Powered          *bool
	Discovering      *bool
}

// Bool returns a pointer to v, for building PropertyChange literals.
func Bool(v bool) *bool { return &v }

// Int16 returns a pointer to v, for building PropertyChange literals.
func Int16(v int16) *int16 { return &v }

// Empty reports whether the batch carries no recognized property.
func (p PropertyChange) Empty() bool {
	return p.Connected == nil && p.ServicesResolved == nil && p.RSSI == nil &&
		p.Powered == nil && p.Discovering == nil
}

// Merge overlays the fields set in other onto p.
func (p PropertyChange) Merge(other PropertyChange) PropertyChange {
	if other.Connected != nil {
		p.Connected = other.Connected
	}
	if other.ServicesResolved != nil {
		p.ServicesResolved = other.ServicesResolved
	}
	if other.RSSI != nil {
		p.RSSI = other.RSSI
	}
	if other.Powered != nil {
		p.Powered = other.Powered
	}
	if other.Discovering != nil {
		p.Discovering = other.Discovering
	}
	return p
}

func (p PropertyChange) String() string {
	var parts []string
	if p.Connected != nil {
		parts = append(parts, fmt.Sprintf("Connected=%t", *p.Connected))
	}
	if p.ServicesResolved != nil {
		parts = append(parts, fmt.Sprintf("ServicesResolved=%t", *p.ServicesResolved))
	}
	if p.RSSI != nil {
		parts = append(parts, fmt.Sprintf("RSSI=%d", *p.RSSI))
	}
	if p.Powered != nil {
		parts = append(parts, fmt.Sprintf("Powered=%t", *p.Powered))
	}
	if p.Discovering != nil {
		parts = append(parts, fmt.Sprintf("Discovering=%t", *p.Discovering))
	}
	return "{" + strings.Join(parts, " ") + "}"
}
