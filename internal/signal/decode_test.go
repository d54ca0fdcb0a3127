package signal

import (
	"can-telemetry-bridge/internal/models"
	"errors"
	"math"
	"testing"
)

func frame(id uint32, data ...byte) models.CANMessage {
	f := models.CANFrame{ID: id, DLC: uint8(len(data))}
	copy(f.Data[:], data)
	return models.CANMessage{Frame: f}
}

func speedSpec() models.SignalSpec {
	return models.DefaultSignals()["speed"]
}

func TestDecode_ToyotaSpeed(t *testing.T) {
	batch := []models.CANMessage{
		frame(0x25, 1, 2, 3),
		frame(180, 0, 0, 0, 0, 0, 0x03, 0xE8, 0),
	}

	value, ok, err := Decode(batch, speedSpec())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a value")
	}

	want := 1000 * 0.01 * 0.621371
	if math.Abs(value-want) > 1e-9 {
		t.Errorf("expected %v, got %v", want, value)
	}
}

func TestDecode_FirstMatchWins(t *testing.T) {
	spec := models.SignalSpec{Name: "raw", Address: 0x10, ByteOffset: 0, ByteLength: 1, Scale: 1}
	batch := []models.CANMessage{
		frame(0x10, 7),
		frame(0x10, 9),
	}

	value, ok, err := Decode(batch, spec)
	if err != nil || !ok || value != 7 {
		t.Errorf("expected 7 from the first frame, got %v %v %v", value, ok, err)
	}
}

func TestDecode_NoMatchingFrame(t *testing.T) {
	batch := []models.CANMessage{frame(0x25, 1, 2, 3), frame(0x3E8, 0, 0, 0, 0, 0, 0, 0, 0)}

	value, ok, err := Decode(batch, speedSpec())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || value != 0 {
		t.Errorf("expected no value, got %v (ok=%v)", value, ok)
	}

	if _, ok, _ := Decode(nil, speedSpec()); ok {
		t.Error("expected no value for empty batch")
	}
}

func TestDecode_ShortPayload(t *testing.T) {
	batch := []models.CANMessage{frame(180, 0, 0, 0, 0, 0, 0x03)}

	_, ok, err := Decode(batch, speedSpec())
	if ok {
		t.Error("expected no value on range error")
	}

	var rangeErr *DecodeRangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("expected DecodeRangeError, got %v", err)
	}
	if rangeErr.PayloadLen != 6 || rangeErr.Offset != 5 || rangeErr.Length != 2 {
		t.Errorf("unexpected error fields: %+v", rangeErr)
	}
	if !errors.Is(err, ErrOutOfRange) {
		t.Error("expected errors.Is(err, ErrOutOfRange)")
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		spec    models.SignalSpec
		want    float64
	}{
		{"single byte", []byte{0xFF}, models.SignalSpec{ByteLength: 1, Scale: 1}, 255},
		{"big endian pair", []byte{0x01, 0x02}, models.SignalSpec{ByteLength: 2, Scale: 1}, 258},
		{"offset and scale", []byte{0, 0, 0x00, 0x64}, models.SignalSpec{ByteOffset: 2, ByteLength: 2, Scale: 0.5}, 50},
		{"full payload", []byte{0, 0, 0, 0, 0, 0, 0x01, 0x00}, models.SignalSpec{ByteLength: 8, Scale: 1}, 256},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.payload, tt.spec)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestDecodeAll(t *testing.T) {
	rpm := models.SignalSpec{Name: "rpm", Address: 0x1C4, ByteLength: 2, Scale: 1}
	specs := []models.SignalSpec{speedSpec(), rpm}

	values, err := DecodeAll([]models.CANMessage{frame(0x1C4, 0x0B, 0xB8)}, specs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(values) != 1 || values["rpm"] != 3000 {
		t.Errorf("expected only rpm=3000, got %v", values)
	}

	values, err = DecodeAll([]models.CANMessage{frame(0x1C4, 0x0B, 0xB8), frame(180, 0)}, specs)
	if !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected range error, got %v", err)
	}
	if values != nil {
		t.Errorf("expected no values on error, got %v", values)
	}
}

func TestDecode_SkipsRemoteFrames(t *testing.T) {
	remote := frame(180, 0, 0, 0, 0, 0, 0, 0, 0)
	remote.Frame.Remote = true

	batch := []models.CANMessage{remote, frame(180, 0, 0, 0, 0, 0, 0x03, 0xE8, 0)}
	value, ok, err := Decode(batch, speedSpec())
	if err != nil || !ok {
		t.Fatalf("expected a value from the data frame, got ok=%v err=%v", ok, err)
	}
	if math.Abs(value-6.21371) > 1e-9 {
		t.Errorf("expected the data frame value, got %v", value)
	}

	if _, ok, _ := Decode([]models.CANMessage{remote}, speedSpec()); ok {
		t.Error("a remote frame alone must not produce a value")
	}
}

func TestDecode_MatchesIDFormat(t *testing.T) {
	extended := frame(180, 0, 0, 0, 0, 0, 0x00, 0x64, 0)
	extended.Frame.Extended = true
	standard := frame(180, 0, 0, 0, 0, 0, 0x03, 0xE8, 0)

	value, ok, err := Decode([]models.CANMessage{extended, standard}, speedSpec())
	if err != nil || !ok || math.Abs(value-6.21371) > 1e-9 {
		t.Errorf("expected the standard frame to match, got %v %v %v", value, ok, err)
	}

	extSpec := models.SignalSpec{Name: "ext", Address: 180, ByteOffset: 6, ByteLength: 1, Scale: 1, Extended: true}
	value, ok, err = Decode([]models.CANMessage{standard, extended}, extSpec)
	if err != nil || !ok || value != 0x64 {
		t.Errorf("expected the extended frame to match, got %v %v %v", value, ok, err)
	}

	// ids above 0x7FF only exist as extended frames
	highSpec := models.SignalSpec{Name: "high", Address: 0x18DAF110, ByteOffset: 0, ByteLength: 1, Scale: 1}
	high := frame(0x18DAF110, 0x2A)
	if _, ok, _ := Decode([]models.CANMessage{high}, highSpec); ok {
		t.Error("a standard-flagged frame must not match a 29-bit signal")
	}
	high.Frame.Extended = true
	if value, ok, _ := Decode([]models.CANMessage{high}, highSpec); !ok || value != 0x2A {
		t.Errorf("expected 0x2A from the extended frame, got %v %v", value, ok)
	}
}
