// Package bridge wires the CAN adapter, the throttle controller, the health
// scheduler and the telemetry sink together and owns their lifecycle.
package bridge

import (
	"can-telemetry-bridge/internal/api"
	"can-telemetry-bridge/internal/can"
	"can-telemetry-bridge/internal/health"
	"can-telemetry-bridge/internal/metrics"
	"can-telemetry-bridge/internal/models"
	"can-telemetry-bridge/internal/telemetry"
	"can-telemetry-bridge/internal/throttle"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

const shutdownTimeout = 5 * time.Second

// Deps holds everything the bridge runs
type Deps struct {
	Adapter can.Adapter

	// Sink receives readings. Nil disables telemetry: frames are still
	// decoded but nothing is published and health is never polled.
	Sink telemetry.Sink

	// Specs are the tracked signals decoded by the controller
	Specs []models.SignalSpec

	Throttle       []throttle.Option
	HealthInterval time.Duration
	HealthTimeout  time.Duration

	Session string
	APIPort int // 0 disables the status API

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Bridge is the composition root
type Bridge struct {
	adapter    can.Adapter
	publisher  *telemetry.Publisher
	controller *throttle.Controller
	scheduler  *health.Scheduler
	api        *api.Server
	session    string
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu       sync.Mutex
	deviceID string
	started  time.Time
}

// New builds the bridge. Nothing touches the bus or the network until Run.
func New(deps Deps) *Bridge {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}

	b := &Bridge{
		adapter: deps.Adapter,
		session: deps.Session,
		logger:  logger,
		metrics: m,
	}

	// a nil *Publisher must not reach the controller as a non-nil interface
	var sink telemetry.Sink
	if deps.Sink != nil {
		b.publisher = telemetry.NewPublisher(deps.Sink, deps.Session, m)
		sink = b.publisher
	}

	opts := append([]throttle.Option{
		throttle.WithLogger(logger.With("component", "throttle")),
		throttle.WithMetrics(m),
	}, deps.Throttle...)
	b.controller = throttle.New(deps.Adapter, deps.Specs, sink, opts...)

	if sink != nil {
		b.scheduler = health.NewScheduler(deps.Adapter, sink, deps.HealthInterval, deps.HealthTimeout,
			logger.With("component", "health"), m)
	}

	if deps.APIPort > 0 {
		b.api = api.NewServer(api.ServerConfig{
			Port:    deps.APIPort,
			Status:  func() any { return b.Status() },
			Metrics: m.Handler(),
			Logger:  logger.With("component", "api"),
		})
	}

	b.registerDropCounters()
	return b
}

func (b *Bridge) registerDropCounters() {
	if d, ok := b.adapter.(telemetry.Dropper); ok {
		if err := b.metrics.RegisterDropCounter("adapter_frames_dropped_total",
			"Frames dropped because the adapter queue was full.", d.Dropped); err != nil {
			b.logger.Warn("failed to register adapter drop counter", "error", err)
		}
	}
	if b.publisher != nil {
		if err := b.metrics.RegisterDropCounter("sink_readings_dropped_total",
			"Readings the telemetry backends dropped or failed to write.", b.publisher.Dropped); err != nil {
			b.logger.Warn("failed to register sink drop counter", "error", err)
		}
	}
}

// Run starts every component and blocks until ctx is cancelled or a fatal
// error occurs. Cancellation is a clean shutdown and returns nil. Fatal
// errors are *telemetry.ConnectError and *can.AdapterError; a status API
// failure is only logged.
func (b *Bridge) Run(ctx context.Context) error {
	if b.publisher != nil {
		if err := b.publisher.Connect(ctx); err != nil {
			// backends that did connect are released before failing
			if closeErr := b.publisher.Close(); closeErr != nil {
				b.logger.Warn("failed to close telemetry sink", "error", closeErr)
			}
			var cerr *telemetry.ConnectError
			if !errors.As(err, &cerr) {
				err = &telemetry.ConnectError{Backend: "telemetry", Err: err}
			}
			return err
		}
		defer func() {
			if err := b.publisher.Close(); err != nil {
				b.logger.Error("failed to close telemetry sink", "error", err)
			}
		}()
		b.logger.Info("telemetry sink connected")
	} else {
		b.logger.Info("telemetry disabled, readings will not be published")
	}

	if err := b.adapter.Start(ctx); err != nil {
		var aerr *can.AdapterError
		if errors.As(err, &aerr) {
			return aerr
		}
		return &can.AdapterError{Event: "start", Err: err}
	}
	defer func() {
		if err := b.adapter.Close(); err != nil {
			b.logger.Error("failed to close CAN adapter", "error", err)
		}
	}()

	deviceID := b.adapter.DeviceID()
	b.mu.Lock()
	b.deviceID = deviceID
	b.started = time.Now()
	b.mu.Unlock()
	if b.publisher != nil {
		b.publisher.SetDevice(deviceID)
	}
	b.logger.Info("CAN adapter started", "device", deviceID, "session", b.session)

	b.controller.Start()
	defer b.controller.Stop()

	if b.scheduler != nil {
		b.scheduler.Start(ctx)
		defer b.scheduler.Stop()
	}

	if b.api != nil {
		go func() {
			// the status API is optional; losing it never stops the bridge
			if err := b.api.Start(); err != nil {
				b.logger.Error("status API stopped", "addr", b.api.Addr(), "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := b.api.Stop(shutdownCtx); err != nil {
				b.logger.Error("failed to stop status API", "error", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down")
		return nil
	case aerr, ok := <-b.adapter.Errors():
		if !ok {
			return &can.AdapterError{Event: "closed", Err: can.ErrClosed}
		}
		return aerr
	}
}

// Status is the bridge state served on the status API
type Status struct {
	DeviceID         string          `json:"device_id"`
	Session          string          `json:"session"`
	Uptime           string          `json:"uptime,omitempty"`
	TelemetryEnabled bool            `json:"telemetry_enabled"`
	Controller       throttle.Status `json:"controller"`
	Health           *health.Status  `json:"health,omitempty"`
	AdapterDropped   uint64          `json:"adapter_dropped_frames"`
	SinkDropped      uint64          `json:"sink_dropped_readings"`
}

// Status returns a snapshot of every component
func (b *Bridge) Status() Status {
	b.mu.Lock()
	st := Status{
		DeviceID:         b.deviceID,
		Session:          b.session,
		TelemetryEnabled: b.publisher != nil,
	}
	if !b.started.IsZero() {
		st.Uptime = time.Since(b.started).Round(time.Second).String()
	}
	b.mu.Unlock()

	st.Controller = b.controller.Status()
	if b.scheduler != nil {
		hs := b.scheduler.Status()
		st.Health = &hs
	}
	if d, ok := b.adapter.(telemetry.Dropper); ok {
		st.AdapterDropped = d.Dropped()
	}
	if b.publisher != nil {
		st.SinkDropped = b.publisher.Dropped()
	}
	return st
}
