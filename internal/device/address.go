package device

import (
	"fmt"
	"strings"
)

// NormalizeAddress converts a Bluetooth device address into the canonical
// upper-case, colon-separated form. Dashes and underscores (as found in BlueZ
// object paths) are accepted as separators.
func NormalizeAddress(addr string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(addr))
	s = strings.NewReplacer("-", ":", "_", ":").Replace(s)

	octets := strings.Split(s, ":")
	if len(octets) != 6 {
		return "", fmt.Errorf("invalid device address %q: expected six octets", addr)
	}
	for _, o := range octets {
		if len(o) != 2 || !isHex(o[0]) || !isHex(o[1]) {
			return "", fmt.Errorf("invalid device address %q: bad octet %q", addr, o)
		}
	}
	return s, nil
}

// MustNormalizeAddress is NormalizeAddress for addresses known to be valid.
// It returns the input unchanged when normalization fails.
func MustNormalizeAddress(addr string) string {
	n, err := NormalizeAddress(addr)
	if err != nil {
		return addr
	}
	return n
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')
}
