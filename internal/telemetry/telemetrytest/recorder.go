// Package telemetrytest provides a recording telemetry sink for tests.
package telemetrytest

import (
	"can-telemetry-bridge/internal/telemetry"
	"context"
	"sync"
)

// Recorder keeps every published reading
type Recorder struct {
	ConnectErr error

	mu        sync.Mutex
	readings  []telemetry.Reading
	connected bool
	closed    bool
}

func (r *Recorder) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ConnectErr != nil {
		return r.ConnectErr
	}
	r.connected = true
	return nil
}

func (r *Recorder) Publish(reading telemetry.Reading) {
	r.mu.Lock()
	r.readings = append(r.readings, reading)
	r.mu.Unlock()
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Readings returns a copy of everything published so far
func (r *Recorder) Readings() []telemetry.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]telemetry.Reading(nil), r.readings...)
}

// Channel returns the readings published on one channel
func (r *Recorder) Channel(ch int) []telemetry.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []telemetry.Reading
	for _, reading := range r.readings {
		if reading.Channel == ch {
			out = append(out, reading)
		}
	}
	return out
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.readings)
}

func (r *Recorder) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

var _ telemetry.Sink = (*Recorder)(nil)
