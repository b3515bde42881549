package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/blimd/internal/device"
)

// NormalizeError maps go-ble specific failures onto the device error kinds and
// defers everything else to device.NormalizeError.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", device.ErrTimeout, err)
	case strings.Contains(msg, "central manager has invalid state"),
		strings.Contains(msg, "bluetooth is turned off"),
		strings.Contains(msg, "can't init hci"),
		strings.Contains(msg, "no devices available"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case strings.Contains(msg, "disconnected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	default:
		return device.NormalizeError(err)
	}
}
