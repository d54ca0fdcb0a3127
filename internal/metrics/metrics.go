// Package metrics holds the Prometheus collectors of the bridge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "can_bridge"

// Metrics groups the bridge counters and gauges on a private registry
type Metrics struct {
	BatchesProcessed prometheus.Counter
	BatchesDropped   prometheus.Counter
	DecodeErrors     prometheus.Counter
	Publishes        *prometheus.CounterVec
	Pauses           prometheus.Counter
	HealthPolls      *prometheus.CounterVec
	ControllerState  prometheus.Gauge

	registry *prometheus.Registry
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		BatchesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_processed_total",
			Help:      "Frame batches decoded by the throttle controller.",
		}),
		BatchesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_dropped_total",
			Help:      "Frame batches that arrived while the controller was paused.",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Batches skipped because a signal did not fit the frame payload.",
		}),
		Publishes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Readings handed to the telemetry sink.",
		}, []string{"channel"}),
		Pauses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pauses_total",
			Help:      "Times the controller entered the paused state.",
		}),
		HealthPolls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_polls_total",
			Help:      "Health queries by result.",
		}, []string{"result"}),
		ControllerState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "controller_paused",
			Help:      "1 while the throttle controller is paused, 0 while listening.",
		}),
		registry: reg,
	}
}

// RegisterDropCounter exposes a drop count kept elsewhere (adapter queue, sink buffers)
func (m *Metrics) RegisterDropCounter(name, help string, fn func() uint64) error {
	return m.registry.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 {
		return float64(fn())
	}))
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
