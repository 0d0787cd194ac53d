package mount

import "testing"

func TestAutoMoveTypeClassification(t *testing.T) {
	tests := []struct {
		value  AutoMoveType
		on     bool
		port   int
		option string
	}{
		{AutoMoveHdmi1On, true, 1, "1"},
		{AutoMoveHdmi1Off, false, 0, "0"},
		{AutoMoveHdmi3On, true, 3, "3"},
		{AutoMoveHdmi3Off, false, 0, "0"},
		{AutoMoveHdmi4On, true, 4, "4"},
		{AutoMoveHdmi5Off, false, 0, "0"},
		{AutoMoveReserved, false, 0, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.value.String(), func(t *testing.T) {
			if got := tt.value.On(); got != tt.on {
				t.Errorf("On() = %v, want %v", got, tt.on)
			}
			if got := tt.value.Port(); got != tt.port {
				t.Errorf("Port() = %d, want %d", got, tt.port)
			}
			if got := tt.value.Option(); got != tt.option {
				t.Errorf("Option() = %q, want %q", got, tt.option)
			}
		})
	}
}

func TestAutoMoveTypeUnknownPreserved(t *testing.T) {
	v := AutoMoveType(99)
	if v.Known() {
		t.Error("Known() = true for unrecognized value")
	}
	if v.String() != "unknown(99)" {
		t.Errorf("String() = %q, want %q", v.String(), "unknown(99)")
	}
}

func TestFullPermissionsGrantsEverything(t *testing.T) {
	p := FullPermissions()
	if p.AuthStatus != nil {
		t.Error("FullPermissions().AuthStatus should be nil (no auth support)")
	}
	for name, granted := range map[string]bool{
		"ChangeSettings":         p.ChangeSettings,
		"ChangeDefaultPosition":  p.ChangeDefaultPosition,
		"ChangeName":             p.ChangeName,
		"ChangePresets":          p.ChangePresets,
		"ChangeTVOnOffDetection": p.ChangeTVOnOffDetection,
		"DisableChannel":         p.DisableChannel,
		"StartCalibration":       p.StartCalibration,
	} {
		if !granted {
			t.Errorf("%s = false, want true", name)
		}
	}
}

func TestUnknownVersions(t *testing.T) {
	v := UnknownVersions()
	if v.CEBBootloader != UnknownVersion || v.MCPHardware != UnknownVersion ||
		v.MCPBootloader != UnknownVersion || v.MCPFirmware != UnknownVersion {
		t.Errorf("UnknownVersions() = %+v, want all %q", v, UnknownVersion)
	}
}
