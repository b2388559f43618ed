// Package ble owns the Bluetooth LE side of trionesctl: the session with the
// one paired Triones bulb and the channel that serialises writes to it.
package ble

import "context"

// Triones BLE identifiers.
const (
	ServiceUUID        = "0000ffd5-0000-1000-8000-00805f9b34fb"
	CharacteristicUUID = "0000ffd9-0000-1000-8000-00805f9b34fb"
	// StatusServiceUUID carries the bulb's notify characteristic. Advertised
	// next to ServiceUUID; unused for writes.
	StatusServiceUUID = "0000ffd0-0000-1000-8000-00805f9b34fb"
	DefaultNamePrefix = "Triones"
)

// Characteristic represents a writable BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
}

// Device represents a discovered BLE peripheral. On macOS Address is a
// CoreBluetooth UUID rather than a MAC.
type Device struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	RSSI    int    `json:"rssi"`
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the peripheral drops
	// the connection on its own.
	OnDisconnect(callback func())
}

// ScanFilter narrows a scan.
type ScanFilter struct {
	NamePrefix  string // match on advertised local name, empty matches all
	ServiceUUID string // optional advertised service
	Limit       int    // stop after this many matches, 0 scans until ctx ends
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers peripherals matching filter until ctx ends or the
	// limit is reached.
	Scan(ctx context.Context, filter ScanFilter) ([]Device, error)
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}
