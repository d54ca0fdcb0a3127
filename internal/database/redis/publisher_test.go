package redis

import (
	"can-telemetry-bridge/internal/telemetry"
	"context"
	"errors"
	"testing"
	"time"
)

func TestKeys(t *testing.T) {
	if got := ChannelName("can0#3", 0); got != "telemetry:can0#3:0" {
		t.Errorf("unexpected channel name %q", got)
	}
	if got := LatestKey("A1B2", 104); got != "telemetry:latest:A1B2:104" {
		t.Errorf("unexpected latest key %q", got)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	p := New(Config{Addr: "127.0.0.1:1"}, 10, nil)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := p.Connect(ctx)
	var cerr *telemetry.ConnectError
	if !errors.As(err, &cerr) || cerr.Backend != "redis" {
		t.Fatalf("expected redis ConnectError, got %v", err)
	}
}
