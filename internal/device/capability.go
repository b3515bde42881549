package device

import (
	"sort"
	"strings"
)

// Capability is the set of GATT characteristic property flags.
// Bit values follow the Bluetooth Core specification (Vol 3, Part G, 3.3.1.1).
type Capability uint8

const (
	CapBroadcast Capability = 1 << iota
	CapRead
	CapWriteWithoutResponse
	CapWrite
	CapNotify
	CapIndicate
	CapAuthenticatedSignedWrites
	CapExtendedProperties
)

var capabilityNames = map[Capability]string{
	CapBroadcast:                 "broadcast",
	CapRead:                      "read",
	CapWriteWithoutResponse:      "write-without-response",
	CapWrite:                     "write",
	CapNotify:                    "notify",
	CapIndicate:                  "indicate",
	CapAuthenticatedSignedWrites: "authenticated-signed-writes",
	CapExtendedProperties:        "extended-properties",
}

// Has reports whether every flag in other is set.
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

// CanNotify reports whether the characteristic supports notify or indicate.
func (c Capability) CanNotify() bool {
	return c&(CapNotify|CapIndicate) != 0
}

// CanRead reports whether the characteristic is readable.
func (c Capability) CanRead() bool {
	return c&CapRead != 0
}

// Names returns the flag names in bit order.
func (c Capability) Names() []string {
	var names []string
	for bit := CapBroadcast; bit != 0; bit <<= 1 {
		if c&bit != 0 {
			names = append(names, capabilityNames[bit])
		}
		if bit == CapExtendedProperties {
			break
		}
	}
	return names
}

func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	return strings.Join(c.Names(), ",")
}

// ParseCapabilities converts BlueZ style flag names ("read", "notify",
// "write-without-response", ...) into a Capability set. Unknown names are
// returned separately so callers can log them.
func ParseCapabilities(flags []string) (Capability, []string) {
	var (
		caps    Capability
		unknown []string
	)
	for _, flag := range flags {
		name := strings.ToLower(strings.TrimSpace(flag))
		found := false
		for bit, n := range capabilityNames {
			if n == name {
				caps |= bit
				found = true
				break
			}
		}
		if !found && name != "" {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	return caps, unknown
}
