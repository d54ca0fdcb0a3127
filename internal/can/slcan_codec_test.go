package can

import (
	"can-telemetry-bridge/internal/models"
	"fmt"
	"strings"
	"testing"
)

// encodeSLCAN formats a frame the way an SLCAN device sends it, without the terminator
func encodeSLCAN(frame models.CANFrame) string {
	var b strings.Builder
	switch {
	case frame.Extended && frame.Remote:
		fmt.Fprintf(&b, "R%08X", frame.ID)
	case frame.Extended:
		fmt.Fprintf(&b, "T%08X", frame.ID)
	case frame.Remote:
		fmt.Fprintf(&b, "r%03X", frame.ID)
	default:
		fmt.Fprintf(&b, "t%03X", frame.ID)
	}
	fmt.Fprintf(&b, "%X", frame.DLC)
	if !frame.Remote {
		for _, v := range frame.Payload() {
			fmt.Fprintf(&b, "%02X", v)
		}
	}
	return b.String()
}

func TestDecodeSLCAN_Frames(t *testing.T) {
	frames := []models.CANFrame{
		{ID: 0xB4, DLC: 8, Data: [8]byte{1, 2, 3, 4, 5, 0x02, 0x6C, 8}},
		{ID: 0x7FF, DLC: 0},
		{ID: 0x18DAF110, DLC: 3, Data: [8]byte{0xAA, 0xBB, 0xCC}, Extended: true},
		{ID: 0x123, DLC: 4, Remote: true},
		{ID: 0x1FFFFFFF, DLC: 2, Extended: true, Remote: true},
	}

	for _, want := range frames {
		line := encodeSLCAN(want)
		got, _, hasTS, err := decodeSLCAN(line)
		if err != nil {
			t.Errorf("decodeSLCAN(%q) returned error: %v", line, err)
			continue
		}
		if hasTS {
			t.Errorf("decodeSLCAN(%q) reported a timestamp", line)
		}
		if got != want {
			t.Errorf("decodeSLCAN(%q) = %+v, want %+v", line, got, want)
		}
	}
}

func TestDecodeSLCAN_Timestamp(t *testing.T) {
	frame, ts, hasTS, err := decodeSLCAN("t1B4201021F3A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasTS || ts != 0x1F3A {
		t.Errorf("expected timestamp 0x1F3A, got 0x%X (present=%v)", ts, hasTS)
	}
	if frame.ID != 0x1B4 || frame.DLC != 2 || frame.Data[0] != 0x01 || frame.Data[1] != 0x02 {
		t.Errorf("unexpected frame: %+v", frame)
	}
}

func TestDecodeSLCAN_Invalid(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"empty", ""},
		{"unknown type", "x1230"},
		{"short header", "t12"},
		{"bad id", "tXYZ0"},
		{"std id too large", "t8001"},
		{"bad dlc", "t1239"},
		{"short data", "t123201"},
		{"bad data", "t1231ZZ"},
		{"trailing bytes", "t123101FF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, _, err := decodeSLCAN(tt.line); err == nil {
				t.Errorf("expected error for %q", tt.line)
			}
		})
	}
}

func TestBitrateCommand(t *testing.T) {
	cmd, err := bitrateCommand(500000)
	if err != nil || cmd != "S6" {
		t.Errorf("bitrateCommand(500000) = %q, %v", cmd, err)
	}
	cmd, err = bitrateCommand(1000000)
	if err != nil || cmd != "S8" {
		t.Errorf("bitrateCommand(1000000) = %q, %v", cmd, err)
	}
	if _, err := bitrateCommand(33333); err == nil {
		t.Error("expected error for unsupported bitrate")
	}
}

func TestBusStateFromFlags(t *testing.T) {
	tests := []struct {
		resp string
		want string
	}{
		{"F00", "ERROR-ACTIVE"},
		{"F04", "ERROR-WARNING"},
		{"F24", "ERROR-PASSIVE"},
		{"F80", "BUS-ERROR"},
		{"FA4", "BUS-ERROR"},
	}

	for _, tt := range tests {
		flags, err := parseStatusFlags(tt.resp)
		if err != nil {
			t.Errorf("parseStatusFlags(%q) returned error: %v", tt.resp, err)
			continue
		}
		if got := busStateFromFlags(flags); got != tt.want {
			t.Errorf("busStateFromFlags(%q) = %s, want %s", tt.resp, got, tt.want)
		}
	}

	for _, resp := range []string{"", "F", "V1013", "FZZ"} {
		if _, err := parseStatusFlags(resp); err == nil {
			t.Errorf("expected error for status response %q", resp)
		}
	}
}
