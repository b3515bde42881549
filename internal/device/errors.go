package device

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "adapter", "device", "service", "characteristic"
	UUIDs    []string // One or more identifiers, outermost first
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// Operation errors
var (
	ErrTimeout          = errors.New("timeout")
	ErrUnsupported      = errors.New("unsupported")
	ErrBluetoothOff     = errors.New("bluetooth is turned off")
	ErrAdapterUnpowered = errors.New("adapter is not powered")
	ErrInProgress       = errors.New("operation already in progress")
)

// TransportError is returned when the adapter or the radio rejects an
// operation on a device.
type TransportError struct {
	Op      string // "connect", "read", "write", "start-notify", "scan", ...
	Address string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.Address, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err, normalizing known transport messages first.
// A nil err yields nil.
func NewTransportError(op, address string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Address: address, Err: NormalizeError(err)}
}

// SchemaBindError reports why a resolved GATT tree could not be bound.
// MissingCharacteristics entries are "service/characteristic" names.
type SchemaBindError struct {
	Address                string
	MissingServices        []string
	MissingCharacteristics []string
	Err                    error
}

func (e *SchemaBindError) Error() string {
	var parts []string
	if len(e.MissingServices) > 0 {
		parts = append(parts, "missing services ["+strings.Join(e.MissingServices, ", ")+"]")
	}
	if len(e.MissingCharacteristics) > 0 {
		parts = append(parts, "missing characteristics ["+strings.Join(e.MissingCharacteristics, ", ")+"]")
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	if len(parts) == 0 {
		parts = append(parts, "unknown reason")
	}
	return fmt.Sprintf("schema bind failed for %s: %s", e.Address, strings.Join(parts, "; "))
}

func (e *SchemaBindError) Unwrap() error { return e.Err }

// StaleCallbackError signals that an asynchronous completion was discarded
// because the session moved on since the operation was issued.
type StaleCallbackError struct {
	Address    string
	Op         string
	Generation uint64
	Current    uint64
}

func (e *StaleCallbackError) Error() string {
	return fmt.Sprintf("stale %s callback for %s (generation %d, current %d)", e.Op, e.Address, e.Generation, e.Current)
}

// IsStale reports whether err is a StaleCallbackError.
func IsStale(err error) bool {
	var serr *StaleCallbackError
	return errors.As(err, &serr)
}

// NormalizeError maps known go-ble and BlueZ error strings to structured error types.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "org.bluez.Error.NotConnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"),
		containsIgnoreCase(msg, "org.bluez.Error.AlreadyConnected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	case containsIgnoreCase(msg, "org.bluez.Error.InProgress"):
		return fmt.Errorf("%w: %v", ErrInProgress, err)
	case containsIgnoreCase(msg, "org.bluez.Error.NotReady"),
		containsIgnoreCase(msg, "powered off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "timeout"),
		containsIgnoreCase(msg, "timed out"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case containsIgnoreCase(msg, "org.bluez.Error.NotSupported"),
		containsIgnoreCase(msg, "not supported"):
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}
