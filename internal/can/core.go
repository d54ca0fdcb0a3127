package can

import (
	"can-telemetry-bridge/internal/models"
	"can-telemetry-bridge/internal/signal"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBatchSize  = 64
	healthFrameMaxAge = time.Minute
)

// Options holds settings shared by all adapters
type Options struct {
	// BatchSize caps the number of frames delivered per batch
	BatchSize int

	// Signals is searched for the health signals (voltage, current, ...)
	Signals models.SignalSet

	Logger *slog.Logger
}

// core holds the parts every adapter shares: the frame queue, the batching
// dispatcher, subscriptions, the health frame cache and the fatal error channel.
type core struct {
	batchSize int
	logger    *slog.Logger

	msgChan   chan models.CANMessage
	errorChan chan *AdapterError
	fatalOnce sync.Once

	mu   sync.Mutex
	subs []*subscription

	healthSpecs []models.SignalSpec
	watch       map[uint32]bool // frame id -> extended
	healthMu    sync.Mutex
	healthCache map[uint32]cachedFrame

	dropped atomic.Uint64
	dropLog rate.Sometimes
	now     func() time.Time
}

type cachedFrame struct {
	payload []byte
	seen    time.Time
}

type subscription struct {
	core    *core
	handler FrameHandler
	active  atomic.Bool
}

func (s *subscription) Unsubscribe() {
	if s.active.CompareAndSwap(true, false) {
		s.core.remove(s)
	}
}

func newCore(opts Options) *core {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &core{
		batchSize:   batchSize,
		logger:      logger,
		msgChan:     make(chan models.CANMessage, 1000),
		errorChan:   make(chan *AdapterError, 1),
		watch:       make(map[uint32]bool),
		healthCache: make(map[uint32]cachedFrame),
		dropLog:     rate.Sometimes{First: 1, Interval: 10 * time.Second},
		now:         time.Now,
	}

	for _, name := range models.HealthSignals {
		spec, ok := opts.Signals[name]
		if !ok {
			continue
		}
		c.healthSpecs = append(c.healthSpecs, spec)
		c.watch[spec.Address] = spec.IsExtended()
	}

	return c
}

// Subscribe registers a handler for frame batches
func (c *core) Subscribe(handler FrameHandler) Subscription {
	s := &subscription{core: c, handler: handler}
	s.active.Store(true)

	c.mu.Lock()
	c.subs = append(c.subs, s)
	c.mu.Unlock()

	return s
}

func (c *core) remove(s *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, sub := range c.subs {
		if sub == s {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return
		}
	}
}

// Errors returns the channel for fatal adapter errors
func (c *core) Errors() <-chan *AdapterError {
	return c.errorChan
}

// Dropped returns the number of frames dropped because the queue was full
func (c *core) Dropped() uint64 {
	return c.dropped.Load()
}

// fatal reports the first fatal error; later ones are only logged
func (c *core) fatal(event string, err error) {
	reported := false
	c.fatalOnce.Do(func() {
		c.errorChan <- &AdapterError{Event: event, Err: err}
		reported = true
	})
	if !reported {
		c.logger.Debug("suppressed adapter error", "event", event, "error", err)
	}
}

// enqueue hands a frame to the dispatcher without blocking the reader
func (c *core) enqueue(msg models.CANMessage) {
	select {
	case c.msgChan <- msg:
	default:
		c.dropped.Add(1)
		c.dropLog.Do(func() {
			c.logger.Warn("frame queue full, dropping frames", "dropped_total", c.dropped.Load())
		})
	}
}

// dispatchLoop blocks for one frame, drains whatever else is already queued
// into the same batch and delivers it to the subscribers in arrival order
func (c *core) dispatchLoop(ctx context.Context) {
	batch := make([]models.CANMessage, 0, c.batchSize)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.msgChan:
			batch = append(batch[:0], msg)
		drain:
			for len(batch) < c.batchSize {
				select {
				case msg := <-c.msgChan:
					batch = append(batch, msg)
				default:
					break drain
				}
			}

			c.cacheHealthFrames(batch)
			c.deliver(batch)
		}
	}
}

func (c *core) deliver(batch []models.CANMessage) {
	c.mu.Lock()
	subs := make([]*subscription, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, s := range subs {
		// a handler earlier in this round may have unsubscribed it
		if s.active.Load() {
			s.handler(batch)
		}
	}
}

func (c *core) cacheHealthFrames(batch []models.CANMessage) {
	if len(c.watch) == 0 {
		return
	}

	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	for i := range batch {
		extended, ok := c.watch[batch[i].Frame.ID]
		if !ok || batch[i].Frame.Remote || batch[i].Frame.Extended != extended {
			continue
		}
		payload := batch[i].Frame.Payload()
		c.healthCache[batch[i].Frame.ID] = cachedFrame{
			payload: append([]byte(nil), payload...),
			seen:    c.now(),
		}
	}
}

// healthSnapshot decodes the configured health signals from the latest
// cached health frames. Fields without a configured signal stay zero; with
// no health signal configured at all the query fails.
func (c *core) healthSnapshot() (models.HealthSnapshot, error) {
	now := c.now()
	snap := models.HealthSnapshot{Taken: now}

	if len(c.healthSpecs) == 0 {
		return snap, fmt.Errorf("no health signals configured: %w", ErrNoHealthFrame)
	}

	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	for _, spec := range c.healthSpecs {
		cached, ok := c.healthCache[spec.Address]
		if !ok || now.Sub(cached.seen) > healthFrameMaxAge {
			return snap, fmt.Errorf("%s (frame 0x%X): %w", spec.Name, spec.Address, ErrNoHealthFrame)
		}

		value, err := signal.Extract(cached.payload, spec)
		if err != nil {
			return snap, err
		}
		applyHealthSignal(&snap, spec.Name, value)
	}

	return snap, nil
}

func applyHealthSignal(snap *models.HealthSnapshot, name string, value float64) {
	switch name {
	case models.SignalVoltage:
		snap.VoltageMillivolts = uint32(math.Round(value))
	case models.SignalCurrent:
		snap.CurrentMilliamps = uint32(math.Round(value))
	case models.SignalGasInterceptor:
		snap.GasInterceptorDetected = value != 0
	case models.SignalStartSignal:
		snap.StartSignalDetected = value != 0
	case models.SignalControlsAllowed:
		snap.ControlsAllowed = value != 0
	}
}
