package criterion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semtwin/errors"
	"github.com/c360/semtwin/snapshot"
)

func TestParseSelectorsJSON(t *testing.T) {
	doc := []byte(`{
		"model": "thermo",
		"service": {"value": "sensor"},
		"resource": {"value": "temp.*", "type": "REGEX"},
		"value": [{"operation": "GREATER_THAN_OR_EQUAL", "value": 10}]
	}`)
	sels, err := ParseSelectors(doc)
	require.NoError(t, err)
	require.Len(t, sels, 1)
	assert.Equal(t, "thermo", sels[0].Model.Value)
	assert.Equal(t, "REGEX", sels[0].Resource.Type)
	assert.Equal(t, Operands{"10"}, sels[0].Value[0].Value)

	c, err := CompileSelectors(sels)
	require.NoError(t, err)

	ps := []*snapshot.ProviderSnapshot{
		provider("hot", "thermo", rc{"sensor", "temperature", 12, false}),
		provider("cold", "thermo", rc{"sensor", "temperature", 2, false}),
		provider("other", "meter", rc{"sensor", "temperature", 40, false}),
	}
	assert.Equal(t, []string{"hot"}, names(Apply(c, ps)))
	assert.Equal(t, []string{"twin.data.thermo.*.sensor.>"}, c.DataTopics())
}

func TestParseSelectorsList(t *testing.T) {
	doc := []byte(`[{"provider": "a"}, {"provider": {"value": "b", "negate": true}}]`)
	sels, err := ParseSelectors(doc)
	require.NoError(t, err)
	require.Len(t, sels, 2)

	c, err := CompileSelectors(sels)
	require.NoError(t, err)
	ps := []*snapshot.ProviderSnapshot{
		provider("a", "m", rc{"s", "r", 1, false}),
		provider("b", "m", rc{"s", "r", 1, false}),
		provider("c", "m", rc{"s", "r", 1, false}),
	}
	assert.Equal(t, []string{"a", "c"}, names(Apply(c, ps)))
}

func TestParseSelectorsYAML(t *testing.T) {
	doc := []byte(`
- service: sensor
  resource: battery
  value:
    - operation: IS_SET
      negate: true
- location:
    - type: near
      lat: 48.86
      lon: 2.35
      radius: 500
`)
	sels, err := ParseSelectorsYAML(doc)
	require.NoError(t, err)
	require.Len(t, sels, 2)

	c, err := CompileSelectors(sels)
	require.NoError(t, err)

	here := provider("here", "m", rc{"sensor", "battery", 50, false})
	here.Location = &snapshot.Location{Latitude: 48.86, Longitude: 2.35}
	ps := []*snapshot.ProviderSnapshot{
		here,
		provider("flat", "m", rc{"sensor", "battery", nil, true}, rc{"sensor", "temperature", 1, false}),
		provider("full", "m", rc{"sensor", "battery", 80, false}),
	}
	assert.Equal(t, []string{"here", "flat"}, names(Apply(c, ps)))
}

func TestParseSelectorsRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{`},
		{"unknown field", `{"device": "x"}`},
		{"bad match type", `{"provider": {"value": "a", "type": "FUZZY"}}`},
		{"missing operation", `{"value": [{"value": 1}]}`},
		{"bad location type", `{"location": [{"type": "circle"}]}`},
		{"scalar", `42`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSelectors([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidSelector)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestCompileRejects(t *testing.T) {
	tests := []struct {
		name string
		sel  ResourceSelector
	}{
		{"bad regex", ResourceSelector{Provider: &Selection{Value: "(", Type: "REGEX"}}},
		{"bad operator", ResourceSelector{Value: []ValueSelection{{Operation: "BETWEEN", Value: Operands{"1"}}}}},
		{"missing operand", ResourceSelector{Value: []ValueSelection{{Operation: "EQUALS"}}}},
		{"zero radius", ResourceSelector{Location: []LocationSelection{{Type: "near"}}}},
		{"inverted box", ResourceSelector{Location: []LocationSelection{{Type: "box", MinLat: 2, MaxLat: 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileSelectors([]ResourceSelector{tt.sel})
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestEmptySelectorMatchesAll(t *testing.T) {
	c, err := ResourceSelector{}.Compile()
	require.NoError(t, err)
	assert.Equal(t, All(), c)
}
