// Package bledb normalizes BLE UUIDs and maps the assigned numbers used by the
// tracked peripherals to human readable names.
package bledb

import "strings"

// sigBaseSuffix is the Bluetooth SIG base UUID without the 16-bit slot.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal form: lowercase, no
// dashes, no braces, no 0x prefix. Full 128-bit UUIDs built on the Bluetooth
// SIG base (0000xxxx-0000-1000-8000-00805f9b34fb) are shortened to xxxx.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "{")
	u = strings.TrimSuffix(u, "}")
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")

	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// NormalizeUUIDs normalizes a slice of UUID strings to internal format.
func NormalizeUUIDs(uuids []string) []string {
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = NormalizeUUID(u)
	}
	return out
}

// IsValidUUID reports whether a normalized UUID has a 16, 32 or 128-bit length
// and consists of hex digits only.
func IsValidUUID(normalized string) bool {
	switch len(normalized) {
	case 4, 8, 32:
	default:
		return false
	}
	for i := 0; i < len(normalized); i++ {
		c := normalized[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ExpandUUID returns the dashed 128-bit form of a normalized UUID, as BlueZ
// reports it on D-Bus.
func ExpandUUID(uuid string) string {
	u := NormalizeUUID(uuid)
	switch len(u) {
	case 4:
		u = "0000" + u + sigBaseSuffix
	case 8:
		u = u + sigBaseSuffix
	case 32:
	default:
		return u
	}
	return u[0:8] + "-" + u[8:12] + "-" + u[12:16] + "-" + u[16:20] + "-" + u[20:32]
}

// LookupService returns the assigned name of a service UUID, or "".
func LookupService(uuid string) string {
	return services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the assigned name of a characteristic UUID, or "".
func LookupCharacteristic(uuid string) string {
	return characteristics[NormalizeUUID(uuid)]
}

// LookupDescriptor returns the assigned name of a descriptor UUID, or "".
func LookupDescriptor(uuid string) string {
	return descriptors[NormalizeUUID(uuid)]
}

// Lookup tries services, characteristics and descriptors in that order.
func Lookup(uuid string) string {
	for _, lookup := range []func(string) string{LookupService, LookupCharacteristic, LookupDescriptor} {
		if name := lookup(uuid); name != "" {
			return name
		}
	}
	return ""
}

var services = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery Service",
	"181a": "Environmental Sensing",
}

var characteristics = map[string]string{
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a05": "Service Changed",
	"2a19": "Battery Level",
	"2a1a": "Battery Power State",
	"2a1b": "Battery Level State",
	"2a1f": "Temperature Celsius",
	"2a24": "Model Number String",
	"2a25": "Serial Number String",
	"2a26": "Firmware Revision String",
	"2a27": "Hardware Revision String",
	"2a28": "Software Revision String",
	"2a29": "Manufacturer Name String",
	"2a37": "Heart Rate Measurement",
	"2a38": "Body Sensor Location",
	"2a6e": "Temperature",
}

var descriptors = map[string]string{
	"2900": "Characteristic Extended Properties",
	"2901": "Characteristic User Descriptor",
	"2902": "Client Characteristic Configuration",
	"2903": "Server Characteristic Configuration",
	"2904": "Characteristic Presentation Format",
}
