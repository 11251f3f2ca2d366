package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	DispatchOutcomes    *prometheus.CounterVec
	ModelLatency        prometheus.Histogram
	DeliveryFailures    *prometheus.CounterVec
	PersistenceFailures *prometheus.CounterVec
	SynthesisFailures   prometheus.Counter
	MemoryTurns         prometheus.Gauge
	StickyEntries       prometheus.Gauge
	TransportConnected  prometheus.Gauge
	InboundEvents       *prometheus.CounterVec
}

// NewMetrics registers instruments on a fresh registry, so tests can build many.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		DispatchOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_outcomes_total",
			Help:      "Dispatch cycles by outcome and failure reason.",
		}, []string{"outcome", "reason"}),
		ModelLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_latency_ms",
			Help:      "Latency of model calls in milliseconds, including timed out calls.",
			Buckets:   []float64{250, 500, 1000, 2000, 5000, 10000, 20000, 40000, 60000},
		}),
		DeliveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Outbound sends that failed, by part kind.",
		}, []string{"kind"}),
		PersistenceFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Failed document writes, by document.",
		}, []string{"document"}),
		SynthesisFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_failures_total",
			Help:      "Speech synthesis attempts that fell back to text.",
		}),
		MemoryTurns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_turns",
			Help:      "Turns currently retained in the shared memory.",
		}),
		StickyEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sticky_entries",
			Help:      "Active sticky world-book entries across conversations.",
		}),
		TransportConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transport_connected",
			Help:      "1 while the messaging backend connection is up.",
		}),
		InboundEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_events_total",
			Help:      "Inbound chat events by kind.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) ObserveOutcome(outcome, reason string) {
	if m == nil {
		return
	}
	m.DispatchOutcomes.WithLabelValues(outcome, reason).Inc()
}

func (m *Metrics) ObserveModelLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.ModelLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) DeliveryFailed(kind string) {
	if m == nil {
		return
	}
	m.DeliveryFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) PersistenceFailed(document string) {
	if m == nil {
		return
	}
	m.PersistenceFailures.WithLabelValues(document).Inc()
}

func (m *Metrics) SynthesisFailed() {
	if m == nil {
		return
	}
	m.SynthesisFailures.Inc()
}

func (m *Metrics) SetMemoryTurns(n int) {
	if m == nil {
		return
	}
	m.MemoryTurns.Set(float64(n))
}

func (m *Metrics) SetStickyEntries(n int) {
	if m == nil {
		return
	}
	m.StickyEntries.Set(float64(n))
}

func (m *Metrics) SetTransportConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.TransportConnected.Set(1)
		return
	}
	m.TransportConnected.Set(0)
}

func (m *Metrics) InboundEvent(kind string) {
	if m == nil {
		return
	}
	m.InboundEvents.WithLabelValues(kind).Inc()
}

// Handler serves this instance's registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
