package health

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorAggregates(t *testing.T) {
	m := NewMonitor()
	s := m.Check()
	assert.True(t, s.IsHealthy())
	assert.Empty(t, s.SubStatuses)

	m.Register("twin", func() Status { return Healthy("3 providers") })
	m.Register("rules", func() Status { return Degraded("1 rule abandoned") })
	s = m.Check()
	assert.Equal(t, StateDegraded, s.State)
	assert.Equal(t, "degraded: rules", s.Message)
	require.Len(t, s.SubStatuses, 2)
	assert.Equal(t, "rules", s.SubStatuses[0].Component)
	assert.Equal(t, "twin", s.SubStatuses[1].Component)
	assert.NoError(t, m.Err())

	m.Register("nats", ErrorProbe(func() error { return errors.New("nats disconnected") }))
	s = m.Check()
	assert.Equal(t, StateUnhealthy, s.State)
	assert.Equal(t, "unhealthy: nats, rules", s.Message)
	assert.EqualError(t, m.Err(), "unhealthy: nats, rules")

	m.Remove("nats")
	assert.Equal(t, []string{"rules", "twin"}, m.Components())
	assert.NoError(t, m.Err())
}

func TestErrorProbeHealthy(t *testing.T) {
	s := ErrorProbe(func() error { return nil })()
	assert.True(t, s.IsHealthy())
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"dial nats://user:pw@10.0.0.1:4222 failed", "dial [URL] failed"},
		{"open /etc/semtwin/rules.yaml: denied", "open [PATH]: denied"},
		{"connect 192.168.1.7 refused", "connect [IP] refused"},
		{"auth token=abc123 rejected", "auth [REDACTED] rejected"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitize(tt.in))
		})
	}
	assert.Equal(t, "dial [URL]", Unhealthy("dial nats://localhost:4222").Message)
}
