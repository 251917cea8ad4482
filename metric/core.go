package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the process-wide twin and transport metrics. Rule-level
// metrics live with the rule whiteboard.
type Metrics struct {
	UpdatesApplied  *prometheus.CounterVec
	UpdatesIgnored  *prometheus.CounterVec
	EventsPublished *prometheus.CounterVec
	Providers       prometheus.Gauge
	SnapshotBuilds  *prometheus.HistogramVec

	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
	NATSCircuit    prometheus.Gauge
}

// NewMetrics creates the core metrics without registering them
func NewMetrics() *Metrics {
	return &Metrics{
		UpdatesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semtwin",
			Subsystem: "twin",
			Name:      "updates_applied_total",
			Help:      "Resource updates applied to the twin",
		}, []string{"model"}),
		UpdatesIgnored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semtwin",
			Subsystem: "twin",
			Name:      "updates_ignored_total",
			Help:      "Resource updates ignored because a newer value was already held",
		}, []string{"model"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semtwin",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Data change events published",
		}, []string{"bus"}),
		Providers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "semtwin",
			Subsystem: "twin",
			Name:      "providers",
			Help:      "Number of providers held by the twin",
		}),
		SnapshotBuilds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "semtwin",
			Subsystem: "twin",
			Name:      "snapshot_duration_seconds",
			Help:      "Time spent building filtered snapshots",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"scope"}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "semtwin",
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		}),
		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "semtwin",
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total number of NATS reconnections",
		}),
		NATSCircuit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "semtwin",
			Subsystem: "nats",
			Name:      "circuit_breaker",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.UpdatesApplied,
		m.UpdatesIgnored,
		m.EventsPublished,
		m.Providers,
		m.SnapshotBuilds,
		m.NATSConnected,
		m.NATSReconnects,
		m.NATSCircuit,
	}
}

// RecordUpdateApplied counts an applied resource update
func (m *Metrics) RecordUpdateApplied(model string) {
	m.UpdatesApplied.WithLabelValues(model).Inc()
}

// RecordUpdateIgnored counts an update dropped as older than the held value
func (m *Metrics) RecordUpdateIgnored(model string) {
	m.UpdatesIgnored.WithLabelValues(model).Inc()
}

// RecordEventPublished counts a data change event sent on a bus
func (m *Metrics) RecordEventPublished(bus string) {
	m.EventsPublished.WithLabelValues(bus).Inc()
}

// RecordProviders sets the provider count
func (m *Metrics) RecordProviders(n int) {
	m.Providers.Set(float64(n))
}

// RecordSnapshot records how long a snapshot of the given scope took
func (m *Metrics) RecordSnapshot(scope string, d time.Duration) {
	m.SnapshotBuilds.WithLabelValues(scope).Observe(d.Seconds())
}

// RecordNATSStatus records connection status
func (m *Metrics) RecordNATSStatus(connected bool) {
	if connected {
		m.NATSConnected.Set(1)
		return
	}
	m.NATSConnected.Set(0)
}

// RecordNATSReconnect counts a reconnection
func (m *Metrics) RecordNATSReconnect() {
	m.NATSReconnects.Inc()
}

// RecordCircuitBreakerState records the breaker state
func (m *Metrics) RecordCircuitBreakerState(state int) {
	m.NATSCircuit.Set(float64(state))
}
