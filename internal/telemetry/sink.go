// Package telemetry defines the sink decoded values and health readings are
// published to, plus helpers to fan out and annotate readings.
package telemetry

import (
	"can-telemetry-bridge/internal/metrics"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Channel ids
const (
	ChannelSpeed           = 0
	ChannelVoltage         = 100
	ChannelCurrent         = 101
	ChannelGasInterceptor  = 102
	ChannelStartSignal     = 103
	ChannelControlsAllowed = 104
)

// Type and unit hints
const (
	TypeVoltage       = "voltage"
	TypeCurrent       = "current"
	TypeDigitalSensor = "digital_sensor"

	UnitMillivolts = "mv"
	UnitMilliamps  = "ma"
	UnitDigital    = "d"
)

// Reading is one value published on a channel
type Reading struct {
	Channel int       `json:"channel"`
	Name    string    `json:"name"`
	Value   any       `json:"value"`
	Type    string    `json:"type,omitempty"`
	Unit    string    `json:"unit,omitempty"`
	Device  string    `json:"device,omitempty"`
	Session string    `json:"session,omitempty"`
	Time    time.Time `json:"time"`
}

// Float returns the value as a number; booleans become 1 or 0
func (r Reading) Float() (float64, bool) {
	switch v := r.Value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// FormatValue renders the value for text transports
func (r Reading) FormatValue() string {
	if v, ok := r.Value.(bool); ok {
		if v {
			return "1"
		}
		return "0"
	}
	if f, ok := r.Float(); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(r.Value)
}

// Sink receives readings. Publish never blocks and gives no delivery guarantee.
type Sink interface {
	Connect(ctx context.Context) error
	Publish(r Reading)
	Close() error
}

// Dropper is implemented by sinks that count readings they had to drop
type Dropper interface {
	Dropped() uint64
}

// ConnectError means a sink could not reach its backend at startup
type ConnectError struct {
	Backend string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("telemetry %s connect: %v", e.Backend, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Multi fans every reading out to several sinks
type Multi []Sink

func (m Multi) Connect(ctx context.Context) error {
	for _, s := range m {
		if err := s.Connect(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) Publish(r Reading) {
	for _, s := range m {
		s.Publish(r)
	}
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Dropped() uint64 {
	var total uint64
	for _, s := range m {
		if d, ok := s.(Dropper); ok {
			total += d.Dropped()
		}
	}
	return total
}

// Publisher stamps the session and device id on every reading and counts
// publishes per channel before handing the reading to the sink
type Publisher struct {
	sink    Sink
	session string
	metrics *metrics.Metrics

	mu     sync.RWMutex
	device string
	now    func() time.Time
}

// NewPublisher wraps a sink. Metrics may be nil.
func NewPublisher(sink Sink, session string, m *metrics.Metrics) *Publisher {
	return &Publisher{sink: sink, session: session, metrics: m, now: time.Now}
}

// SetDevice sets the device id stamped on readings; known only after the adapter starts
func (p *Publisher) SetDevice(device string) {
	p.mu.Lock()
	p.device = device
	p.mu.Unlock()
}

func (p *Publisher) Connect(ctx context.Context) error {
	return p.sink.Connect(ctx)
}

func (p *Publisher) Publish(r Reading) {
	p.mu.RLock()
	if r.Device == "" {
		r.Device = p.device
	}
	p.mu.RUnlock()

	if r.Session == "" {
		r.Session = p.session
	}
	if r.Time.IsZero() {
		r.Time = p.now()
	}

	p.sink.Publish(r)

	if p.metrics != nil {
		p.metrics.Publishes.WithLabelValues(strconv.Itoa(r.Channel)).Inc()
	}
}

func (p *Publisher) Close() error {
	return p.sink.Close()
}

// Dropped reports the drops of the wrapped sink
func (p *Publisher) Dropped() uint64 {
	if d, ok := p.sink.(Dropper); ok {
		return d.Dropped()
	}
	return 0
}
