package metric

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semtwin/errors"
)

func TestMetricsRegistry_RegisterAndUnregister(t *testing.T) {
	reg := NewMetricsRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "rule_test_total", Help: "test"})

	require.NoError(t, reg.RegisterCounter("rules", "test", counter))

	err := reg.RegisterCounter("rules", "test", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	assert.True(t, reg.Unregister("rules", "test"))
	assert.False(t, reg.Unregister("rules", "test"))
	require.NoError(t, reg.RegisterCounter("rules", "test", counter))
}

func TestMetricsRegistry_PrometheusConflict(t *testing.T) {
	reg := NewMetricsRegistry()
	a := prometheus.NewGauge(prometheus.GaugeOpts{Name: "same_name", Help: "a"})
	b := prometheus.NewGauge(prometheus.GaugeOpts{Name: "same_name", Help: "a"})

	require.NoError(t, reg.RegisterGauge("one", "g", a))
	err := reg.RegisterGauge("two", "g", b)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_VecKinds(t *testing.T) {
	reg := NewMetricsRegistry()
	require.NoError(t, reg.RegisterCounterVec("svc", "cv",
		prometheus.NewCounterVec(prometheus.CounterOpts{Name: "cv_total", Help: "h"}, []string{"l"})))
	require.NoError(t, reg.RegisterGaugeVec("svc", "gv",
		prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "gv", Help: "h"}, []string{"l"})))
	require.NoError(t, reg.RegisterHistogramVec("svc", "hv",
		prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "hv", Help: "h"}, []string{"l"})))
	require.NoError(t, reg.RegisterHistogram("svc", "h",
		prometheus.NewHistogram(prometheus.HistogramOpts{Name: "h", Help: "h"})))
}

func TestMetricsRegistry_ConcurrentRegistration(t *testing.T) {
	reg := NewMetricsRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := prometheus.NewCounter(prometheus.CounterOpts{
				Name: fmt.Sprintf("concurrent_%d_total", i), Help: "h",
			})
			assert.NoError(t, reg.RegisterCounter("svc", fmt.Sprintf("c%d", i), c))
		}(i)
	}
	wg.Wait()
}

func TestCoreMetrics_Record(t *testing.T) {
	reg := NewMetricsRegistry()
	m := reg.CoreMetrics()

	m.RecordUpdateApplied("sensor")
	m.RecordUpdateApplied("sensor")
	m.RecordUpdateIgnored("sensor")
	m.RecordEventPublished("local")
	m.RecordProviders(3)
	m.RecordNATSStatus(true)
	m.RecordNATSReconnect()
	m.RecordCircuitBreakerState(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.UpdatesApplied.WithLabelValues("sensor")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpdatesIgnored.WithLabelValues("sensor")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("local")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Providers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSReconnects))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.NATSCircuit))
}

func TestServer_Handler(t *testing.T) {
	reg := NewMetricsRegistry()
	reg.CoreMetrics().RecordProviders(7)

	healthy := true
	srv := NewServer(0, "", reg, func() error {
		if healthy {
			return nil
		}
		return fmt.Errorf("nats disconnected")
	})
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "semtwin_twin_providers 7"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	healthy = false
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "nats disconnected")

	assert.Equal(t, "http://localhost:9090/metrics", srv.Address())
}
