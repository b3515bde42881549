package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/blimd/internal/device"
	"github.com/srg/blimd/internal/sink"
)

// Command-level errors
var (
	// ErrAdapterLost is returned by run when the adapter lost power and
	// exit_on_power_loss is set, so a supervisor can restart the process.
	ErrAdapterLost = errors.New("adapter lost power")

	errNotRunning = errors.New("connection manager is not running yet")
)

// FormatUserError turns an error returned by a command into the single line
// printed before exiting.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, ErrAdapterLost):
		return "bluetooth adapter lost power (exit_on_power_loss is set)"
	case errors.Is(err, device.ErrBluetoothOff):
		return "bluetooth is turned off or no adapter is available"
	case errors.Is(err, device.ErrAdapterUnpowered):
		return "bluetooth adapter is powered off"
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("%v; use --backend bluez or run on Linux", err)
	case errors.Is(err, sink.ErrMQTTConnect):
		return fmt.Sprintf("cannot reach the MQTT broker: %v", err)
	case errors.Is(err, sink.ErrInfluxConnect):
		return fmt.Sprintf("cannot reach InfluxDB: %v", err)
	}

	// errors.Join output spans lines; keep it on one.
	return strings.ReplaceAll(err.Error(), "\n", "; ")
}
