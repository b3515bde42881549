// Package device defines the adapter facade the connection manager is written
// against: the local adapter, remote devices, their GATT services and
// characteristics, and the typed property-change events they emit.
//
// Concrete transports live under internal/adapter:
//   - bluez: BlueZ over the system D-Bus (Linux)
//   - goble: go-ble/ble HCI or CoreBluetooth backend
//
// The package also owns the error taxonomy shared by every layer:
//   - TransportError: the adapter or radio rejected an operation
//   - SchemaBindError: a resolved GATT tree does not satisfy a schema
//   - StaleCallbackError: a completion arrived after its context was superseded
package device
