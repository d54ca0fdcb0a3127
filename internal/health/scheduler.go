// Package health polls the adapter for a device health snapshot on a fixed
// period and publishes each field on its own telemetry channel.
package health

import (
	"can-telemetry-bridge/internal/logging"
	"can-telemetry-bridge/internal/metrics"
	"can-telemetry-bridge/internal/models"
	"can-telemetry-bridge/internal/telemetry"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultInterval = 5 * time.Minute
	DefaultTimeout  = 10 * time.Second
)

// Source answers health queries
type Source interface {
	Health(ctx context.Context) (models.HealthSnapshot, error)
}

// QueryError is a failed health poll. It is reported and the next tick proceeds.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("health query: %v", e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Readings returns the five published fields of a snapshot in channel order
func Readings(snap models.HealthSnapshot) []telemetry.Reading {
	return []telemetry.Reading{
		{Channel: telemetry.ChannelVoltage, Name: models.SignalVoltage, Value: snap.VoltageMillivolts, Type: telemetry.TypeVoltage, Unit: telemetry.UnitMillivolts, Time: snap.Taken},
		{Channel: telemetry.ChannelCurrent, Name: models.SignalCurrent, Value: snap.CurrentMilliamps, Type: telemetry.TypeCurrent, Unit: telemetry.UnitMilliamps, Time: snap.Taken},
		{Channel: telemetry.ChannelGasInterceptor, Name: models.SignalGasInterceptor, Value: snap.GasInterceptorDetected, Type: telemetry.TypeDigitalSensor, Unit: telemetry.UnitDigital, Time: snap.Taken},
		{Channel: telemetry.ChannelStartSignal, Name: models.SignalStartSignal, Value: snap.StartSignalDetected, Type: telemetry.TypeDigitalSensor, Unit: telemetry.UnitDigital, Time: snap.Taken},
		{Channel: telemetry.ChannelControlsAllowed, Name: models.SignalControlsAllowed, Value: snap.ControlsAllowed, Type: telemetry.TypeDigitalSensor, Unit: telemetry.UnitDigital, Time: snap.Taken},
	}
}

// Scheduler polls the source every interval. The first poll happens one
// interval after Start. A tick arriving while a health query is still
// running is skipped.
//
// Start and Stop are safe for concurrent use and idempotent.
type Scheduler struct {
	source   Source
	sink     telemetry.Sink
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	inFlight atomic.Bool
	polls    atomic.Uint64
	skipped  atomic.Uint64

	lastMu  sync.Mutex
	last    *models.HealthSnapshot
	lastErr error
	lastAt  time.Time
}

// NewScheduler creates a health scheduler. Zero interval and timeout take
// the defaults; the timeout is clamped to the interval.
func NewScheduler(source Source, sink telemetry.Sink, interval, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout > interval {
		timeout = interval
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{
		source:   source,
		sink:     sink,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		metrics:  m,
	}
}

// Start begins the tick loop in a background goroutine. Start after Stop is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.tick(runCtx)
			}
		}
	}()

	s.logger.Info("health scheduler started", "interval", s.interval, "timeout", s.timeout)
}

// tick starts a health query unless the previous one is still running.
// Only the query holds the in-flight flag; publishing happens after it is
// released, so a slow sink never costs a scheduled query.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Warn("health query still in flight, skipping tick")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		snap, err := s.query(ctx)
		s.inFlight.Store(false)
		if err != nil {
			s.logger.Error("health poll failed", "error", err)
			return
		}
		s.publish(snap)
	}()
}

// PollNow queries the source once and publishes the result
func (s *Scheduler) PollNow(ctx context.Context) error {
	snap, err := s.query(ctx)
	if err != nil {
		return err
	}
	s.publish(snap)
	return nil
}

// query runs one bounded health query and records its outcome
func (s *Scheduler) query(ctx context.Context) (models.HealthSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.polls.Add(1)
	snap, err := s.source.Health(ctx)
	if err != nil {
		qerr := &QueryError{Err: err}
		s.record(nil, qerr)
		if s.metrics != nil {
			s.metrics.HealthPolls.WithLabelValues("failed").Inc()
		}
		return snap, qerr
	}

	if snap.Taken.IsZero() {
		snap.Taken = time.Now()
	}
	s.record(&snap, nil)
	if s.metrics != nil {
		s.metrics.HealthPolls.WithLabelValues("ok").Inc()
	}

	s.logger.Log(ctx, logging.LevelVerbose, "health snapshot",
		"voltage_mv", snap.VoltageMillivolts,
		"current_ma", snap.CurrentMilliamps,
		"gas_interceptor", snap.GasInterceptorDetected,
		"start_signal", snap.StartSignalDetected,
		"controls_allowed", snap.ControlsAllowed,
		"bus_state", snap.BusState,
	)
	return snap, nil
}

func (s *Scheduler) publish(snap models.HealthSnapshot) {
	if s.sink == nil {
		return
	}
	for _, r := range Readings(snap) {
		s.sink.Publish(r)
	}
}

func (s *Scheduler) record(snap *models.HealthSnapshot, err error) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	if snap != nil {
		s.last = snap
	}
	s.lastErr = err
	s.lastAt = time.Now()
}

// Stop cancels the loop and waits for an in-flight poll. Stop before Start is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Polls returns the number of health queries made
func (s *Scheduler) Polls() uint64 {
	return s.polls.Load()
}

// Skipped returns the ticks skipped because a query was still running
func (s *Scheduler) Skipped() uint64 {
	return s.skipped.Load()
}

// Status is the outcome of the most recent poll
type Status struct {
	Interval  string                 `json:"interval"`
	Polls     uint64                 `json:"polls"`
	Skipped   uint64                 `json:"skipped_ticks"`
	LastPoll  time.Time              `json:"last_poll,omitempty"`
	LastError string                 `json:"last_error,omitempty"`
	Snapshot  *models.HealthSnapshot `json:"snapshot,omitempty"`
}

// Status returns the scheduler counters and the last good snapshot
func (s *Scheduler) Status() Status {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()

	st := Status{
		Interval: s.interval.String(),
		Polls:    s.polls.Load(),
		Skipped:  s.skipped.Load(),
		LastPoll: s.lastAt,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if s.last != nil {
		snap := *s.last
		st.Snapshot = &snap
	}
	return st
}
