package cayenne

import (
	"can-telemetry-bridge/internal/telemetry"
	"context"
	"errors"
	"testing"
	"time"
)

func TestTopic(t *testing.T) {
	got := Topic("user-1", "client-9", telemetry.ChannelVoltage)
	want := "v1/user-1/things/client-9/data/100"
	if got != want {
		t.Errorf("Topic() = %q, want %q", got, want)
	}
}

func TestPayload(t *testing.T) {
	tests := []struct {
		name    string
		reading telemetry.Reading
		want    string
	}{
		{"bare speed", telemetry.Reading{Channel: 0, Value: 6.21371}, "6.21371"},
		{"voltage", telemetry.Reading{Value: uint32(12345), Type: telemetry.TypeVoltage, Unit: telemetry.UnitMillivolts}, "voltage,mv=12345"},
		{"current", telemetry.Reading{Value: uint32(800), Type: telemetry.TypeCurrent, Unit: telemetry.UnitMilliamps}, "current,ma=800"},
		{"digital on", telemetry.Reading{Value: true, Type: telemetry.TypeDigitalSensor, Unit: telemetry.UnitDigital}, "digital_sensor,d=1"},
		{"digital off", telemetry.Reading{Value: false, Type: telemetry.TypeDigitalSensor, Unit: telemetry.UnitDigital}, "digital_sensor,d=0"},
		{"type only", telemetry.Reading{Value: 3, Type: "counter"}, "counter=3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Payload(tt.reading); got != tt.want {
				t.Errorf("Payload() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBrokerURL(t *testing.T) {
	tests := map[string]string{
		"mqtt.mydevices.com":       "tcp://mqtt.mydevices.com:1883",
		"mqtt.mydevices.com:8883":  "tcp://mqtt.mydevices.com:8883",
		"ssl://mqtt.mydevices.com": "ssl://mqtt.mydevices.com:1883",
		"tcp://10.0.0.5:1884":      "tcp://10.0.0.5:1884",
	}
	for in, want := range tests {
		if got := BrokerURL(in); got != want {
			t.Errorf("BrokerURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPublishBeforeConnectDrops(t *testing.T) {
	c := NewClient(Config{User: "u", ClientID: "c"}, nil)
	c.Publish(telemetry.Reading{Channel: 0, Value: 1.0})
	if c.Dropped() != 1 {
		t.Errorf("expected 1 dropped reading, got %d", c.Dropped())
	}
	if err := c.Close(); err != nil {
		t.Errorf("close without connect: %v", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	c := NewClient(Config{
		Host:           "127.0.0.1:1",
		User:           "u",
		ClientID:       "c",
		ConnectTimeout: 500 * time.Millisecond,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.Connect(ctx)
	var cerr *telemetry.ConnectError
	if !errors.As(err, &cerr) || cerr.Backend != "cayenne" {
		t.Fatalf("expected cayenne ConnectError, got %v", err)
	}
}
