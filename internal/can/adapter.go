// Package can connects to a CAN bus adapter and delivers frames to subscribers.
//
// Two backends are provided: SocketCAN (Linux raw sockets) and SLCAN, the
// Lawicel ASCII protocol spoken by USB-serial CAN dongles. Both deliver
// frames in small batches through Subscribe and report fatal bus faults on
// Errors.
package can

import (
	"can-telemetry-bridge/internal/models"
	"context"
	"errors"
	"fmt"
)

// FrameHandler receives one batch of frames. The slice is reused after the
// handler returns and must not be retained.
type FrameHandler func(batch []models.CANMessage)

// Subscription is returned by Subscribe. Unsubscribe is idempotent and may be
// called from inside the handler.
type Subscription interface {
	Unsubscribe()
}

// Adapter is a CAN bus adapter
type Adapter interface {
	// Start connects to the device and begins reading frames
	Start(ctx context.Context) error

	// DeviceID identifies the connected device. Valid after Start.
	DeviceID() string

	// Subscribe registers a handler for frame batches
	Subscribe(handler FrameHandler) Subscription

	// Health queries the device status
	Health(ctx context.Context) (models.HealthSnapshot, error)

	// Errors delivers fatal adapter faults
	Errors() <-chan *AdapterError

	// Close stops reading and releases the device
	Close() error
}

var (
	ErrClosed        = errors.New("can adapter closed")
	ErrBusOff        = errors.New("can bus off")
	ErrNoHealthFrame = errors.New("no recent health frame")
)

// AdapterError is a bus-level fault. The bridge treats it as fatal.
type AdapterError struct {
	Event string
	Err   error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("can adapter %s: %v", e.Event, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}
