// Package throttle gates the frame stream between the CAN adapter and the
// telemetry sink.
//
// The controller alternates between two states. While LISTENING it is
// subscribed to the frame source and decodes every batch it receives. Once
// it has processed the configured number of batches it unsubscribes,
// publishes the values decoded in that window and stays PAUSED for a fixed
// duration, after which it subscribes again. Ingestion is stopped at the
// source during the pause, so no frames are buffered.
package throttle

import (
	"can-telemetry-bridge/internal/can"
	"can-telemetry-bridge/internal/logging"
	"can-telemetry-bridge/internal/metrics"
	"can-telemetry-bridge/internal/models"
	"can-telemetry-bridge/internal/signal"
	"can-telemetry-bridge/internal/telemetry"
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultThreshold = 1
	DefaultPause     = time.Second
)

// State is the controller state
type State int

const (
	Listening State = iota
	Paused
)

func (s State) String() string {
	switch s {
	case Listening:
		return "LISTENING"
	case Paused:
		return "PAUSED"
	}
	return "UNKNOWN"
}

// FrameSource delivers frame batches to subscribers
type FrameSource interface {
	Subscribe(handler can.FrameHandler) can.Subscription
}

// Timer is a stoppable one-shot timer
type Timer interface {
	Stop() bool
}

// AfterFunc arms a one-shot timer calling f after d
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option configures a Controller
type Option func(*Controller)

// WithThreshold sets the number of batches processed per window. Values below 1 are ignored.
func WithThreshold(n int) Option {
	return func(c *Controller) {
		if n >= 1 {
			c.threshold = n
		}
	}
}

// WithPause sets how long ingestion stays paused. Non-positive values are ignored.
func WithPause(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.pause = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithAfterFunc replaces time.AfterFunc for the pause timer
func WithAfterFunc(f AfterFunc) Option {
	return func(c *Controller) {
		if f != nil {
			c.afterFunc = f
		}
	}
}

// Controller is the LISTENING/PAUSED state machine. All state is guarded by
// mu; the source's dispatcher and the pause timer are the two writers.
type Controller struct {
	source    FrameSource
	specs     []models.SignalSpec
	sink      telemetry.Sink
	threshold int
	pause     time.Duration
	afterFunc AfterFunc
	logger    *slog.Logger
	metrics   *metrics.Metrics
	decodeLog rate.Sometimes

	mu      sync.Mutex
	running bool
	gen     uint64
	state   State
	pending int
	window  map[string]float64
	latest  map[string]float64
	sub     can.Subscription
	timer   Timer
	dropped uint64
}

// New creates a controller for the given signals. A nil sink disables
// publishing; decoding still runs.
func New(source FrameSource, specs []models.SignalSpec, sink telemetry.Sink, opts ...Option) *Controller {
	c := &Controller{
		source:    source,
		specs:     specs,
		sink:      sink,
		threshold: DefaultThreshold,
		pause:     DefaultPause,
		afterFunc: realAfterFunc,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		decodeLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
		window:    make(map[string]float64),
		latest:    make(map[string]float64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start subscribes to the source and enters LISTENING
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	c.running = true
	c.gen++
	c.listen()

	c.logger.Info("throttle controller started", "threshold", c.threshold, "pause", c.pause, "signals", len(c.specs))
}

// listen enters LISTENING with a fresh window. Caller holds mu.
func (c *Controller) listen() {
	c.state = Listening
	c.pending = 0
	clear(c.window)
	c.sub = c.source.Subscribe(c.Handle)
	if c.metrics != nil {
		c.metrics.ControllerState.Set(0)
	}
}

// Stop unsubscribes and disposes of the pause timer. A timer that already
// fired becomes a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	c.running = false
	c.gen++

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.sub != nil {
		c.sub.Unsubscribe()
		c.sub = nil
	}
	c.state = Listening
	c.pending = 0
	clear(c.window)

	c.logger.Info("throttle controller stopped")
}

// Handle processes one frame batch. It is the handler registered with the source.
func (c *Controller) Handle(batch []models.CANMessage) {
	readings := c.process(batch)
	if c.sink == nil {
		return
	}
	for _, r := range readings {
		c.sink.Publish(r)
	}
}

// process runs the state machine for one batch and returns the readings to
// publish when the batch closes the window
func (c *Controller) process(batch []models.CANMessage) []telemetry.Reading {
	c.mu.Lock()
	defer c.mu.Unlock()

	// in flight at the source when the controller unsubscribed
	if !c.running || c.state == Paused {
		c.dropped++
		if c.metrics != nil {
			c.metrics.BatchesDropped.Inc()
		}
		return nil
	}

	values, err := signal.DecodeAll(batch, c.specs)
	if err != nil {
		if c.metrics != nil {
			c.metrics.DecodeErrors.Inc()
		}
		c.decodeLog.Do(func() {
			c.logger.Warn("skipping frame batch", "error", err)
		})
		return nil
	}

	for name, value := range values {
		c.window[name] = value
		c.latest[name] = value
		c.logger.Debug("decoded signal", "signal", name, "value", value)
	}

	c.pending++
	if c.metrics != nil {
		c.metrics.BatchesProcessed.Inc()
	}
	if c.pending < c.threshold {
		return nil
	}

	return c.pauseLocked()
}

// pauseLocked unsubscribes, arms the pause timer and drains the window. Caller holds mu.
func (c *Controller) pauseLocked() []telemetry.Reading {
	if c.sub != nil {
		c.sub.Unsubscribe()
		c.sub = nil
	}
	c.state = Paused

	gen := c.gen
	c.timer = c.afterFunc(c.pause, func() {
		c.resume(gen)
	})

	var readings []telemetry.Reading
	for _, spec := range c.specs {
		value, ok := c.window[spec.Name]
		if !ok {
			continue
		}
		readings = append(readings, telemetry.Reading{
			Channel: spec.Channel,
			Name:    spec.Name,
			Value:   value,
			Type:    spec.Type,
			Unit:    spec.Unit,
		})
	}
	clear(c.window)

	if c.metrics != nil {
		c.metrics.Pauses.Inc()
		c.metrics.ControllerState.Set(1)
	}
	c.logger.Log(context.Background(), logging.LevelVerbose, "paused frame ingestion", "pending", c.pending, "readings", len(readings), "pause", c.pause)

	return readings
}

// resume is the pause timer callback
func (c *Controller) resume(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || gen != c.gen || c.state != Paused {
		return
	}
	c.timer = nil
	c.listen()

	c.logger.Log(context.Background(), logging.LevelVerbose, "resumed frame ingestion")
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the batches processed in the current window
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Latest returns the most recent decoded value of a signal
func (c *Controller) Latest(name string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.latest[name]
	return v, ok
}

// Dropped returns the batches that reached the controller while it was paused
func (c *Controller) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Status is a point-in-time view of the controller
type Status struct {
	State     string             `json:"state"`
	Pending   int                `json:"pending"`
	Threshold int                `json:"threshold"`
	Pause     string             `json:"pause"`
	Dropped   uint64             `json:"dropped_batches"`
	Latest    map[string]float64 `json:"latest"`
}

// Status returns a copy of the controller state for reporting
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	latest := make(map[string]float64, len(c.latest))
	for k, v := range c.latest {
		latest[k] = v
	}
	return Status{
		State:     c.state.String(),
		Pending:   c.pending,
		Threshold: c.threshold,
		Pause:     c.pause.String(),
		Dropped:   c.dropped,
		Latest:    latest,
	}
}
