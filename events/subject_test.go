package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDataSubject(t *testing.T) {
	assert.Equal(t, "twin.data.thermo.t1.sensor.temperature",
		DataSubject("thermo", "t1", "sensor", "temperature"))
	assert.Equal(t, "twin.data.m.a%2Eb.s%2A.r%3E",
		DataSubject("m", "a.b", "s*", "r>"))
	assert.Equal(t, "twin.data._.%5F.with%20space.r",
		DataSubject("", "_", "with space", "r"))
}

func TestSubjectPattern(t *testing.T) {
	tests := []struct {
		name                              string
		model, provider, service, resource string
		want                              string
	}{
		{"all exact", "m", "p", "s", "r", "twin.data.m.p.s.r"},
		{"all wildcard", "", "", "", "", "twin.data.>"},
		{"trailing collapse", "m", "", "", "", "twin.data.m.>"},
		{"inner wildcard", "", "", "sensor", "temperature", "twin.data.*.*.sensor.temperature"},
		{"mixed", "", "p", "", "r", "twin.data.*.p.*.r"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SubjectPattern(tt.model, tt.provider, tt.service, tt.resource))
		})
	}
}

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		pattern, subject string
		want             bool
	}{
		{"twin.data.>", "twin.data.m.p.s.r", true},
		{"twin.data.>", "twin.data", false},
		{"twin.data.*.p.s.r", "twin.data.m.p.s.r", true},
		{"twin.data.*.p.s.r", "twin.data.m.q.s.r", false},
		{"twin.data.m.p.s.r", "twin.data.m.p.s.r", true},
		{"twin.data.m.p.s", "twin.data.m.p.s.r", false},
		{"twin.data.m.p.s.r.x", "twin.data.m.p.s.r", false},
		{"twin.data.m.>", "twin.data.m.p.s.r", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchSubject(tt.pattern, tt.subject), "%s vs %s", tt.pattern, tt.subject)
	}
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, ValuesEqual(5, 5.0))
	assert.True(t, ValuesEqual(int64(7), uint8(7)))
	assert.False(t, ValuesEqual(5, "5"))
	assert.True(t, ValuesEqual(nil, nil))
	assert.False(t, ValuesEqual(nil, 0))
	assert.True(t, ValuesEqual([]any{"a"}, []any{"a"}))
	assert.True(t, ValuesEqual("x", "x"))
}

func TestMetadataEqual(t *testing.T) {
	a := map[string]any{"unit": "C", "timestamp": 1, "value": 2}
	b := map[string]any{"unit": "C"}
	assert.True(t, MetadataEqual(a, b))
	assert.True(t, MetadataEqual(nil, map[string]any{"value": 3}))
	assert.False(t, MetadataEqual(a, map[string]any{"unit": "F"}))
	assert.False(t, MetadataEqual(a, map[string]any{"unit": "C", "extra": true}))
}
