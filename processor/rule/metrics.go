package rule

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semtwin/metric"
)

// ruleMetrics are the per-rule engine metrics. A nil *ruleMetrics records
// nothing.
type ruleMetrics struct {
	delivered        *prometheus.CounterVec
	rejected         *prometheus.CounterVec
	evaluations      *prometheus.HistogramVec
	evaluationErrors *prometheus.CounterVec
	rebuilds         *prometheus.HistogramVec
	rebuildFailures  *prometheus.CounterVec
	abandoned        *prometheus.CounterVec
	activeRules      prometheus.Gauge
}

func newRuleMetrics(registry *metric.MetricsRegistry) (*ruleMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &ruleMetrics{
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semtwin",
			Subsystem: "rule",
			Name:      "events_delivered_total",
			Help:      "Data change events delivered to a rule",
		}, []string{"rule"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semtwin",
			Subsystem: "rule",
			Name:      "events_rejected_total",
			Help:      "Delivered events that failed the rule's input filter",
		}, []string{"rule"}),
		evaluations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "semtwin",
			Subsystem: "rule",
			Name:      "execution_duration_seconds",
			Help:      "Time spent in rule evaluation",
			Buckets:   []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}, []string{"rule"}),
		evaluationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semtwin",
			Subsystem: "rule",
			Name:      "evaluation_errors_total",
			Help:      "Rule evaluations that returned an error or panicked",
		}, []string{"rule"}),
		rebuilds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "semtwin",
			Subsystem: "rule",
			Name:      "snapshot_rebuild_duration_seconds",
			Help:      "Time spent rebuilding a rule's cached snapshot",
			Buckets:   []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}, []string{"rule"}),
		rebuildFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semtwin",
			Subsystem: "rule",
			Name:      "snapshot_rebuild_failures_total",
			Help:      "Failed snapshot rebuild attempts",
		}, []string{"rule"}),
		abandoned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semtwin",
			Subsystem: "rule",
			Name:      "abandoned_total",
			Help:      "Rules abandoned after exhausting rebuild attempts",
		}, []string{"rule"}),
		activeRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "semtwin",
			Subsystem: "rule",
			Name:      "active_rules",
			Help:      "Number of registered rules",
		}),
	}

	const service = "rule_engine"
	for name, vec := range map[string]*prometheus.CounterVec{
		"events_delivered_total":          m.delivered,
		"events_rejected_total":           m.rejected,
		"evaluation_errors_total":         m.evaluationErrors,
		"snapshot_rebuild_failures_total": m.rebuildFailures,
		"abandoned_total":                 m.abandoned,
	} {
		if err := registry.RegisterCounterVec(service, name, vec); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterHistogramVec(service, "execution_duration_seconds", m.evaluations); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec(service, "snapshot_rebuild_duration_seconds", m.rebuilds); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(service, "active_rules", m.activeRules); err != nil {
		return nil, err
	}
	return m, nil
}

// metricLabel turns a rule name into a label value
func metricLabel(name string) string {
	if name == "" {
		return defaultRuleName
	}
	return strings.Join(strings.Fields(name), "_")
}

func (m *ruleMetrics) recordDelivered(rule string) {
	if m != nil {
		m.delivered.WithLabelValues(rule).Inc()
	}
}

func (m *ruleMetrics) recordRejected(rule string) {
	if m != nil {
		m.rejected.WithLabelValues(rule).Inc()
	}
}

func (m *ruleMetrics) recordEvaluation(rule string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(rule).Observe(d.Seconds())
	if failed {
		m.evaluationErrors.WithLabelValues(rule).Inc()
	}
}

func (m *ruleMetrics) recordRebuild(rule string, d time.Duration) {
	if m != nil {
		m.rebuilds.WithLabelValues(rule).Observe(d.Seconds())
	}
}

func (m *ruleMetrics) recordRebuildFailure(rule string) {
	if m != nil {
		m.rebuildFailures.WithLabelValues(rule).Inc()
	}
}

func (m *ruleMetrics) recordAbandoned(rule string) {
	if m != nil {
		m.abandoned.WithLabelValues(rule).Inc()
	}
}

func (m *ruleMetrics) setActiveRules(n int) {
	if m != nil {
		m.activeRules.Set(float64(n))
	}
}
