// Package cantest provides an in-memory CAN adapter for tests.
package cantest

import (
	"can-telemetry-bridge/internal/can"
	"can-telemetry-bridge/internal/models"
	"context"
	"sync"
	"sync/atomic"
)

// Adapter is a fake can.Adapter. Frames are pushed with Emit and delivered
// synchronously to the active subscribers.
type Adapter struct {
	ID       string
	StartErr error
	HealthFn func(ctx context.Context) (models.HealthSnapshot, error)

	mu         sync.Mutex
	subs       []*subscription
	subscribes int
	started    bool
	closed     bool
	errs       chan *can.AdapterError
}

type subscription struct {
	a       *Adapter
	handler can.FrameHandler
	active  atomic.Bool
}

func (s *subscription) Unsubscribe() {
	if !s.active.CompareAndSwap(true, false) {
		return
	}
	s.a.mu.Lock()
	defer s.a.mu.Unlock()
	for i, sub := range s.a.subs {
		if sub == s {
			s.a.subs = append(s.a.subs[:i], s.a.subs[i+1:]...)
			return
		}
	}
}

// New returns a fake adapter reporting the given device id
func New(id string) *Adapter {
	return &Adapter{ID: id, errs: make(chan *can.AdapterError, 1)}
}

func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return can.ErrClosed
	}
	if a.StartErr != nil {
		return a.StartErr
	}
	a.started = true
	return nil
}

func (a *Adapter) DeviceID() string {
	return a.ID
}

func (a *Adapter) Subscribe(handler can.FrameHandler) can.Subscription {
	s := &subscription{a: a, handler: handler}
	s.active.Store(true)

	a.mu.Lock()
	a.subs = append(a.subs, s)
	a.subscribes++
	a.mu.Unlock()
	return s
}

func (a *Adapter) Health(ctx context.Context) (models.HealthSnapshot, error) {
	if a.HealthFn == nil {
		return models.HealthSnapshot{}, nil
	}
	return a.HealthFn(ctx)
}

func (a *Adapter) Errors() <-chan *can.AdapterError {
	return a.errs
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Emit delivers one batch and returns how many subscribers received it
func (a *Adapter) Emit(batch ...models.CANMessage) int {
	a.mu.Lock()
	subs := make([]*subscription, len(a.subs))
	copy(subs, a.subs)
	a.mu.Unlock()

	delivered := 0
	for _, s := range subs {
		if s.active.Load() {
			s.handler(batch)
			delivered++
		}
	}
	return delivered
}

// Fail reports a fatal adapter error
func (a *Adapter) Fail(event string, err error) {
	a.errs <- &can.AdapterError{Event: event, Err: err}
}

// Active returns the number of live subscriptions
func (a *Adapter) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subs)
}

// Subscribes returns how many times Subscribe was called
func (a *Adapter) Subscribes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.subscribes
}

func (a *Adapter) Started() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}

func (a *Adapter) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Frame builds a message carrying the given payload
func Frame(id uint32, data ...byte) models.CANMessage {
	frame := models.CANFrame{ID: id, DLC: uint8(len(data))}
	copy(frame.Data[:], data)
	return models.CANMessage{Frame: frame}
}

var _ can.Adapter = (*Adapter)(nil)
