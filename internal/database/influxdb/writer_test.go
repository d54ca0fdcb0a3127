package influxdb

import (
	"can-telemetry-bridge/internal/telemetry"
	"testing"
	"time"
)

func TestPointData(t *testing.T) {
	r := telemetry.Reading{
		Channel: telemetry.ChannelVoltage,
		Name:    "voltage",
		Value:   uint32(12345),
		Type:    telemetry.TypeVoltage,
		Unit:    telemetry.UnitMillivolts,
		Device:  "can0#3",
		Session: "abc",
		Time:    time.Now(),
	}

	tags, fields, ok := pointData(r)
	if !ok {
		t.Fatal("expected numeric reading to map")
	}
	want := map[string]string{
		"channel": "100",
		"name":    "voltage",
		"device":  "can0#3",
		"session": "abc",
		"type":    "voltage",
		"unit":    "mv",
	}
	for k, v := range want {
		if tags[k] != v {
			t.Errorf("tag %s = %q, want %q", k, tags[k], v)
		}
	}
	if fields["value"] != 12345.0 {
		t.Errorf("expected value field 12345, got %v", fields["value"])
	}
}

func TestPointData_BoolAndOptionalTags(t *testing.T) {
	tags, fields, ok := pointData(telemetry.Reading{Channel: 104, Name: "controls_allowed", Value: true})
	if !ok {
		t.Fatal("expected bool reading to map")
	}
	if fields["value"] != 1.0 {
		t.Errorf("expected true stored as 1, got %v", fields["value"])
	}
	for _, k := range []string{"device", "session", "type", "unit"} {
		if _, present := tags[k]; present {
			t.Errorf("expected empty tag %s to be omitted", k)
		}
	}

	if _, _, ok := pointData(telemetry.Reading{Value: "n/a"}); ok {
		t.Error("expected non-numeric reading to be rejected")
	}
}

func TestNew_CreatesWriter(t *testing.T) {
	w, err := New(Config{URL: "http://localhost:8181", Token: "t", Database: "can_telemetry"}, 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Publish(telemetry.Reading{Channel: 0, Value: 1.0})
	if err := w.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}
