// Package ble provides the Bluetooth client for controlling a motorized
// TV wall mount. It handles connection management, characteristic reads
// and writes, permission gating, and error classification over a small
// transport abstraction so the protocol logic is testable without radio
// hardware.
package ble

import "context"

// Mount GATT UUIDs. These values are the contract with the physical
// device and must be reproduced bit-exact.
const (
	ServiceUUID = "3e6fe65d-ed78-11e4-895e-00026fd5c52c"

	CharDistanceUUID       = "c005fa01-0651-4800-b000-000000000000"
	CharRotationUUID       = "c005fa02-0651-4800-b000-000000000000"
	CharAutoMoveUUID       = "c005fa03-0651-4800-b000-000000000000"
	CharFreezeUUID         = "c005fa04-0651-4800-b000-000000000000"
	CharCalibrateUUID      = "c005fa05-0651-4800-b000-000000000000"
	CharSelectPresetUUID   = "c005fa06-0651-4800-b000-000000000000"
	CharDisableChannelUUID = "c005fa07-0651-4800-b000-000000000000"
	CharVersionsCEBUUID    = "c005fa08-0651-4800-b000-000000000000"
	CharVersionsMCPUUID    = "c005fa09-0651-4800-b000-000000000000"
	CharChangePinUUID      = "c005fa0a-0651-4800-b000-000000000000"
	CharMultiPinUUID       = "c005fa0b-0651-4800-b000-000000000000"
	CharPinSettingUUID     = "c005fa0c-0651-4800-b000-000000000000"
	CharAuthStatusUUID     = "c005fa0d-0651-4800-b000-000000000000"
	CharAuthenticateUUID   = "c005fa0e-0651-4800-b000-000000000000"
)

// CharPresetUUIDs holds the 20-byte preset data characteristics, one per
// slot; CharPresetNameUUIDs holds the paired 17-byte name suffixes. Index
// order is stable and matches the device's slot numbering.
var (
	CharPresetUUIDs = []string{
		"c005fa10-0651-4800-b000-000000000000",
		"c005fa11-0651-4800-b000-000000000000",
		"c005fa12-0651-4800-b000-000000000000",
		"c005fa13-0651-4800-b000-000000000000",
		"c005fa14-0651-4800-b000-000000000000",
		"c005fa15-0651-4800-b000-000000000000",
		"c005fa16-0651-4800-b000-000000000000",
	}
	CharPresetNameUUIDs = []string{
		"c005fa20-0651-4800-b000-000000000000",
		"c005fa21-0651-4800-b000-000000000000",
		"c005fa22-0651-4800-b000-000000000000",
		"c005fa23-0651-4800-b000-000000000000",
		"c005fa24-0651-4800-b000-000000000000",
		"c005fa25-0651-4800-b000-000000000000",
		"c005fa26-0651-4800-b000-000000000000",
	}
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Read returns the current characteristic value.
	Read() ([]byte, error)
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// Characteristic finds a characteristic by UUID within a service.
	// Returns an error wrapping mount.UnsupportedError when the connected
	// firmware does not expose the characteristic.
	Characteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Connected reports whether the link is still up. Used to detect
	// stale sessions before reuse.
	Connected() bool
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers BLE peripherals advertising the given service UUID.
	// Returns discovered devices until ctx is cancelled or timeout.
	Scan(ctx context.Context, serviceUUID string) ([]Device, error)
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
	// Rediscover drops any cached handle for the address so the next
	// Connect resolves the device from scratch.
	Rediscover(address string)
}
