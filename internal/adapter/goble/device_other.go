//go:build !linux && !darwin

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"

	"github.com/srg/blimd/internal/device"
)

func newPlatformDevice(string) (ble.Device, error) {
	return nil, fmt.Errorf("%w: go-ble backend on %s", device.ErrUnsupported, runtime.GOOS)
}
