package bridge

import (
	"testing"

	"github.com/tbeylen/motionmount/internal/mount"
)

func TestFieldsFlattensBaseState(t *testing.T) {
	automove := mount.AutoMoveHdmi2On
	snap := mount.Snapshot{
		Available:         true,
		Connected:         true,
		Distance:          42,
		Rotation:          -17,
		AutoMove:          &automove,
		FreezePresetIndex: 3,
		Versions: mount.Versions{
			CEBBootloader: "1.2.3",
			MCPHardware:   "2.0.1",
			MCPBootloader: "3.7",
			MCPFirmware:   "1.25",
		},
	}

	fields := Fields(snap)

	want := map[string]string{
		"available":       "true",
		"connected":       "true",
		"distance":        "42",
		"rotation":        "-17",
		"freeze_preset":   "3",
		"automove":        "hdmi_2_on",
		"automove_option": "2",
		"version_ceb_bl":  "1.2.3",
		"version_mcp_hw":  "2.0.1",
		"version_mcp_bl":  "3.7",
		"version_mcp_fw":  "1.25",
	}
	for field, value := range want {
		if fields[field] != value {
			t.Errorf("fields[%q] = %q, want %q", field, fields[field], value)
		}
	}
	if _, ok := fields["requested_distance"]; ok {
		t.Error("requested_distance should be absent when no move is pending")
	}
}

func TestFieldsIncludesRequestedPosition(t *testing.T) {
	distance := 80
	snap := mount.Snapshot{RequestedDistance: &distance}

	fields := Fields(snap)
	if fields["requested_distance"] != "80" {
		t.Errorf("requested_distance = %q, want %q", fields["requested_distance"], "80")
	}
	if _, ok := fields["requested_rotation"]; ok {
		t.Error("requested_rotation should be absent")
	}
}

func TestFieldsSkipsEmptyPresets(t *testing.T) {
	snap := mount.Snapshot{}
	snap.Presets[2] = mount.Preset{
		Index: 2,
		Data:  &mount.PresetData{Distance: 60, Rotation: 10, Name: "Sofa"},
	}

	fields := Fields(snap)

	if fields["preset_2_name"] != "Sofa" {
		t.Errorf("preset_2_name = %q, want %q", fields["preset_2_name"], "Sofa")
	}
	if fields["preset_2_distance"] != "60" {
		t.Errorf("preset_2_distance = %q, want %q", fields["preset_2_distance"], "60")
	}
	if fields["preset_2_rotation"] != "10" {
		t.Errorf("preset_2_rotation = %q, want %q", fields["preset_2_rotation"], "10")
	}
	if _, ok := fields["preset_0_name"]; ok {
		t.Error("empty preset slots should produce no fields")
	}
}

func TestFieldsAutoMoveOff(t *testing.T) {
	automove := mount.AutoMoveHdmi3Off
	snap := mount.Snapshot{AutoMove: &automove}

	fields := Fields(snap)
	if fields["automove_option"] != "0" {
		t.Errorf("automove_option = %q, want %q for an off variant", fields["automove_option"], "0")
	}
}
