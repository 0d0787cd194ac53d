// Package mount defines the data model for a motorized TV wall mount:
// the device state snapshot, presets, permissions, and the error taxonomy
// surfaced to callers. It has no I/O and no dependencies on the BLE layer.
package mount

import "fmt"

// NumPresets is the number of preset slots the device exposes. The slot
// count is fixed by firmware; preset indexes 0..NumPresets-1 map one-to-one
// onto GATT characteristics.
const NumPresets = 7

// AutoMoveType encodes the HDMI-port/on-off combination that triggers an
// automatic move. Off variants are odd, on variants are even, and the
// 1-based HDMI port for an "on" value is value/4 + 1.
type AutoMoveType uint16

const (
	AutoMoveHdmi1On  AutoMoveType = 0
	AutoMoveHdmi1Off AutoMoveType = 1
	AutoMoveHdmi2On  AutoMoveType = 4
	AutoMoveHdmi2Off AutoMoveType = 5
	AutoMoveHdmi3On  AutoMoveType = 8
	AutoMoveHdmi3Off AutoMoveType = 9
	AutoMoveHdmi4On  AutoMoveType = 12
	AutoMoveHdmi4Off AutoMoveType = 13
	AutoMoveHdmi5On  AutoMoveType = 16
	AutoMoveHdmi5Off AutoMoveType = 17

	// AutoMoveReserved is emitted by some firmware revisions and has no
	// user-facing meaning.
	AutoMoveReserved AutoMoveType = 256
)

// Known reports whether t is a value this library recognizes. Unknown
// values are preserved rather than rejected so a firmware update cannot
// break a full refresh.
func (t AutoMoveType) Known() bool {
	switch t {
	case AutoMoveHdmi1On, AutoMoveHdmi1Off, AutoMoveHdmi2On, AutoMoveHdmi2Off,
		AutoMoveHdmi3On, AutoMoveHdmi3Off, AutoMoveHdmi4On, AutoMoveHdmi4Off,
		AutoMoveHdmi5On, AutoMoveHdmi5Off, AutoMoveReserved:
		return true
	}
	return false
}

// On reports whether t is an "on" variant (TV powered on detection).
func (t AutoMoveType) On() bool {
	return t != AutoMoveReserved && t%2 == 0
}

// Port returns the 1-based HDMI port for "on" variants, 0 otherwise.
func (t AutoMoveType) Port() int {
	if !t.On() {
		return 0
	}
	return int(t)/4 + 1
}

// Option renders the value the way the device's own UI presents it: "0"
// for all off variants, the HDMI port number for on variants.
func (t AutoMoveType) Option() string {
	if !t.On() {
		return "0"
	}
	return fmt.Sprintf("%d", t.Port())
}

func (t AutoMoveType) String() string {
	if t == AutoMoveReserved {
		return "reserved"
	}
	if !t.Known() {
		return fmt.Sprintf("unknown(%d)", uint16(t))
	}
	state := "off"
	port := int(t) / 4
	if t.On() {
		state = "on"
		port = t.Port() - 1
	}
	return fmt.Sprintf("hdmi_%d_%s", port+1, state)
}

// AuthType is the device's verdict on the PIN presented at connect time.
type AuthType uint8

const (
	AuthWrong   AuthType = 0
	AuthControl AuthType = 1
	AuthFull    AuthType = 2
)

func (t AuthType) String() string {
	switch t {
	case AuthWrong:
		return "wrong"
	case AuthControl:
		return "control"
	case AuthFull:
		return "full"
	}
	return fmt.Sprintf("auth(%d)", uint8(t))
}

// AuthStatus is reported by firmware that supports PIN authentication.
// A Wrong status with a positive cooldown means the device refuses new
// authentication attempts until the cooldown expires.
type AuthStatus struct {
	Type     AuthType
	Cooldown int // seconds, 0 if none
}

// PinSetting describes which PIN scheme the device has active.
type PinSetting uint8

const (
	PinDeactivated PinSetting = 12
	PinSingle      PinSetting = 13
	PinMulti       PinSetting = 15
)

// Permissions is the set of write capabilities granted for the current
// session. It is read once at connect time and cached on the session.
// A nil AuthStatus means the firmware has no PIN support at all.
type Permissions struct {
	AuthStatus             *AuthStatus
	ChangeSettings         bool
	ChangeDefaultPosition  bool
	ChangeName             bool
	ChangePresets          bool
	ChangeTVOnOffDetection bool
	DisableChannel         bool
	StartCalibration       bool
}

// FullPermissions returns the permissive default used for devices without
// PIN/auth support: every write is allowed.
func FullPermissions() Permissions {
	return Permissions{
		ChangeSettings:         true,
		ChangeDefaultPosition:  true,
		ChangeName:             true,
		ChangePresets:          true,
		ChangeTVOnOffDetection: true,
		DisableChannel:         true,
		StartCalibration:       true,
	}
}

// MultiPinFeatures is the per-feature grant set for the authorised (non
// supervisor) user on devices with the multi-PIN scheme.
type MultiPinFeatures struct {
	ChangeDefaultPosition  bool
	ChangeName             bool
	ChangePresets          bool
	ChangeTVOnOffDetection bool
	DisableChannel         bool
	StartCalibration       bool
}

// PresetData is the stored content of a preset slot.
type PresetData struct {
	Distance int    // 0..100
	Rotation int    // -100..100
	Name     string // 1..32 bytes UTF-8
}

// Preset is one device slot. A nil Data means the slot is empty.
type Preset struct {
	Index int
	Data  *PresetData
}

// UnknownVersion is the sentinel for a version characteristic the
// connected firmware does not expose.
const UnknownVersion = "Unknown"

// Versions holds the four independent firmware component versions. Any
// field may be UnknownVersion without the overall read failing.
type Versions struct {
	CEBBootloader string
	MCPHardware   string
	MCPBootloader string
	MCPFirmware   string
}

// UnknownVersions returns a Versions with every field set to the sentinel.
func UnknownVersions() Versions {
	return Versions{
		CEBBootloader: UnknownVersion,
		MCPHardware:   UnknownVersion,
		MCPBootloader: UnknownVersion,
		MCPFirmware:   UnknownVersion,
	}
}

// Snapshot is the immutable aggregate of all device state read in one
// refresh cycle. Holders must never mutate a Snapshot in place; derive a
// modified copy instead so concurrent observers cannot see torn state.
type Snapshot struct {
	// Available tracks transport-level discoverability; Connected tracks
	// whether a GATT session is currently open. They move independently.
	Available bool
	Connected bool

	Distance int
	Rotation int

	// RequestedDistance/RequestedRotation are optimistic values set by a
	// caller-issued move before the device confirms. They are cleared by
	// the next full refresh.
	RequestedDistance *int
	RequestedRotation *int

	AutoMove          *AutoMoveType
	FreezePresetIndex int
	Presets           [NumPresets]Preset
	Permissions       Permissions
	Versions          Versions
}
