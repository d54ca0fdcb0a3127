//go:build linux

package can

import (
	"encoding/binary"
	"testing"
)

func rawFrame(id uint32, dlc uint8, data ...byte) []byte {
	buf := make([]byte, frameSize)
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = dlc
	copy(buf[8:], data)
	return buf
}

func TestParseFrame(t *testing.T) {
	msg, busOff := parseFrame(rawFrame(0xB4, 8, 1, 2, 3, 4, 5, 0x02, 0x6C, 8), "can0")
	if busOff || msg == nil {
		t.Fatalf("expected data frame, got msg=%v busOff=%v", msg, busOff)
	}
	if msg.Frame.ID != 0xB4 || msg.Frame.Extended || msg.Frame.DLC != 8 || msg.Frame.Data[6] != 0x6C {
		t.Errorf("unexpected frame: %+v", msg.Frame)
	}
	if msg.Interface != "can0" {
		t.Errorf("unexpected interface %q", msg.Interface)
	}

	msg, _ = parseFrame(rawFrame(0x18DAF110|canEffFlag, 2, 0xAA, 0xBB), "can0")
	if msg == nil || !msg.Frame.Extended || msg.Frame.ID != 0x18DAF110 {
		t.Errorf("unexpected extended frame: %+v", msg)
	}

	msg, _ = parseFrame(rawFrame(0x123|canRtrFlag, 15), "can0")
	if msg == nil || !msg.Frame.Remote || msg.Frame.DLC != 8 {
		t.Errorf("expected remote frame with clamped dlc, got %+v", msg)
	}
}

func TestParseFrame_ErrorFrames(t *testing.T) {
	msg, busOff := parseFrame(rawFrame(canErrFlag|canErrBusOff, 8), "can0")
	if msg != nil || !busOff {
		t.Errorf("expected bus-off, got msg=%v busOff=%v", msg, busOff)
	}

	// other error classes are ignored
	msg, busOff = parseFrame(rawFrame(canErrFlag|0x04, 8), "can0")
	if msg != nil || busOff {
		t.Errorf("expected ignored error frame, got msg=%v busOff=%v", msg, busOff)
	}
}

func TestSetFilters_Empty(t *testing.T) {
	if err := setFilters(-1, nil); err != nil {
		t.Errorf("empty filter list should be a no-op, got %v", err)
	}
}
