// Package protocol implements the byte-level wire formats of the mount's
// GATT characteristics. Every function is a pure transform; errors are
// returned only for structurally malformed input, never for out-of-range
// values (those are clamped, matching device behavior).
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/tbeylen/motionmount/internal/mount"
)

// Preset slots span two characteristics: a 20-byte data block
// (flag + distance + rotation + name prefix) and a 17-byte name suffix.
const (
	PresetDataLen = 20
	PresetNameLen = 17

	// MaxPresetName is the longest encodable preset name in bytes.
	MaxPresetName = PresetDataLen + PresetNameLen - 5
)

// EncodeDistance encodes a distance as a 2-byte big-endian unsigned value.
func EncodeDistance(distance int) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(clamp(distance, 0, 100)))
	return buf
}

// DecodeDistance decodes a 2-byte big-endian unsigned distance, clamping
// to 0..100. Values outside the observed range are clamped, not rejected.
func DecodeDistance(data []byte) (int, error) {
	if len(data) != 2 {
		return 0, fmt.Errorf("protocol: distance: want 2 bytes, got %d", len(data))
	}
	return clamp(int(binary.BigEndian.Uint16(data)), 0, 100), nil
}

// EncodeRotation encodes a rotation as a 2-byte big-endian signed value.
func EncodeRotation(rotation int) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(int16(clamp(rotation, -100, 100))))
	return buf
}

// DecodeRotation decodes a 2-byte big-endian signed rotation, clamping
// to -100..100.
func DecodeRotation(data []byte) (int, error) {
	if len(data) != 2 {
		return 0, fmt.Errorf("protocol: rotation: want 2 bytes, got %d", len(data))
	}
	return clamp(int(int16(binary.BigEndian.Uint16(data))), -100, 100), nil
}

// EncodePreset encodes a preset slot into its two characteristic blocks.
// A nil preset encodes as an empty slot (presence flag 0). The name is
// truncated to MaxPresetName bytes and NUL-padded to the fixed widths.
func EncodePreset(p *mount.PresetData) (data, name []byte) {
	blob := make([]byte, 0, PresetDataLen+PresetNameLen)
	if p != nil {
		blob = append(blob, 0x01)
		blob = append(blob, EncodeDistance(p.Distance)...)
		blob = append(blob, EncodeRotation(p.Rotation)...)
		raw := []byte(p.Name)
		if len(raw) > MaxPresetName {
			raw = raw[:MaxPresetName]
		}
		blob = append(blob, raw...)
	} else {
		blob = append(blob, 0x00)
	}
	blob = append(blob, make([]byte, PresetDataLen+PresetNameLen-len(blob))...)
	return blob[:PresetDataLen], blob[PresetDataLen:]
}

// DecodePreset decodes the concatenation of a preset's data and name
// characteristics. Presence flag 0 yields nil (empty slot).
func DecodePreset(data []byte) (*mount.PresetData, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("protocol: preset: want at least 5 bytes, got %d", len(data))
	}
	if data[0] == 0 {
		return nil, nil
	}
	distance, err := DecodeDistance(data[1:3])
	if err != nil {
		return nil, err
	}
	rotation, err := DecodeRotation(data[3:5])
	if err != nil {
		return nil, err
	}
	return &mount.PresetData{
		Distance: distance,
		Rotation: rotation,
		Name:     string(bytes.TrimRight(data[5:], "\x00")),
	}, nil
}

// EncodeAutoMove encodes an automove type as a 2-byte big-endian value.
func EncodeAutoMove(t mount.AutoMoveType) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(t))
	return buf
}

// DecodeAutoMove decodes a 2-byte big-endian automove value. Unrecognized
// values decode without error (AutoMoveType.Known reports false); callers
// treat those as absent rather than failing a refresh.
func DecodeAutoMove(data []byte) (mount.AutoMoveType, error) {
	if len(data) != 2 {
		return 0, fmt.Errorf("protocol: automove: want 2 bytes, got %d", len(data))
	}
	return mount.AutoMoveType(binary.BigEndian.Uint16(data)), nil
}

// DecodeFreezeIndex decodes the single-byte freeze preset index.
func DecodeFreezeIndex(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("protocol: freeze index: empty characteristic")
	}
	return int(data[0]), nil
}

// DecodeVersion renders raw version bytes as dot-joined decimal octets,
// e.g. {1, 4, 2} -> "1.4.2". Empty input yields the Unknown sentinel.
func DecodeVersion(data []byte) string {
	if len(data) == 0 {
		return mount.UnknownVersion
	}
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = strconv.Itoa(int(b))
	}
	return strings.Join(parts, ".")
}

// DecodeMCPVersions splits the 7-byte MCP characteristic into hardware(3),
// bootloader(2) and firmware(2) version strings.
func DecodeMCPVersions(data []byte) (hw, bl, fw string, err error) {
	if len(data) < 7 {
		return "", "", "", fmt.Errorf("protocol: mcp versions: want 7 bytes, got %d", len(data))
	}
	return DecodeVersion(data[0:3]), DecodeVersion(data[3:5]), DecodeVersion(data[5:7]), nil
}

// Multi-PIN feature bit assignment, fixed by device firmware.
const (
	featChangePresets          = 1 << 0
	featChangeName             = 1 << 1
	featDisableChannel         = 1 << 2
	featChangeTVOnOffDetection = 1 << 3
	featChangeDefaultPosition  = 1 << 4
	featStartCalibration       = 1 << 7
)

// EncodeMultiPinFeatures packs the feature grants into the device's
// single-byte bitfield.
func EncodeMultiPinFeatures(f mount.MultiPinFeatures) []byte {
	var v byte
	if f.ChangePresets {
		v |= featChangePresets
	}
	if f.ChangeName {
		v |= featChangeName
	}
	if f.DisableChannel {
		v |= featDisableChannel
	}
	if f.ChangeTVOnOffDetection {
		v |= featChangeTVOnOffDetection
	}
	if f.ChangeDefaultPosition {
		v |= featChangeDefaultPosition
	}
	if f.StartCalibration {
		v |= featStartCalibration
	}
	return []byte{v}
}

// DecodeMultiPinFeatures unpacks the feature bitfield.
func DecodeMultiPinFeatures(data []byte) (mount.MultiPinFeatures, error) {
	if len(data) == 0 {
		return mount.MultiPinFeatures{}, fmt.Errorf("protocol: multi-pin features: empty characteristic")
	}
	v := data[0]
	return mount.MultiPinFeatures{
		ChangePresets:          v&featChangePresets != 0,
		ChangeName:             v&featChangeName != 0,
		DisableChannel:         v&featDisableChannel != 0,
		ChangeTVOnOffDetection: v&featChangeTVOnOffDetection != 0,
		ChangeDefaultPosition:  v&featChangeDefaultPosition != 0,
		StartCalibration:       v&featStartCalibration != 0,
	}, nil
}

// DecodeAuthStatus decodes the authentication status characteristic: auth
// type in byte 0, optional big-endian cooldown seconds in bytes 1..2.
func DecodeAuthStatus(data []byte) (mount.AuthStatus, error) {
	if len(data) == 0 {
		return mount.AuthStatus{}, fmt.Errorf("protocol: auth status: empty characteristic")
	}
	if data[0] > uint8(mount.AuthFull) {
		return mount.AuthStatus{}, fmt.Errorf("protocol: auth status: unknown type %d", data[0])
	}
	status := mount.AuthStatus{Type: mount.AuthType(data[0])}
	if len(data) >= 3 {
		status.Cooldown = int(binary.BigEndian.Uint16(data[1:3]))
	}
	return status, nil
}

// DecodePinSetting decodes the active PIN scheme.
func DecodePinSetting(data []byte) (mount.PinSetting, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("protocol: pin setting: empty characteristic")
	}
	switch s := mount.PinSetting(data[0]); s {
	case mount.PinDeactivated, mount.PinSingle, mount.PinMulti:
		return s, nil
	default:
		return 0, fmt.Errorf("protocol: pin setting: unknown value %d", data[0])
	}
}

// EncodeUserPIN encodes an authorised-user PIN as 2 bytes little-endian.
func EncodeUserPIN(pin int) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, uint16(pin))
	return buf
}

// EncodeSupervisorPIN encodes a supervisor PIN with the firmware's
// obfuscation transform: low byte verbatim, high byte offset by 0x40.
// This is the exact formula the device expects; it is not cryptography.
func EncodeSupervisorPIN(pin int) []byte {
	return []byte{byte(pin), byte((pin>>8)+0x40) & 0xFF}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
