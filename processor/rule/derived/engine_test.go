package derived_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semtwin/events"
	"github.com/c360/semtwin/processor/rule"
	"github.com/c360/semtwin/processor/rule/derived"
	"github.com/c360/semtwin/twin"
)

func TestDerivedRulesOnLiveTwin(t *testing.T) {
	ctx := context.Background()
	bus := events.NewLocalBus()
	tw := twin.New(twin.WithBus(bus))
	t0 := time.Now().Add(-time.Minute)

	for name, temp := range map[string]float64{"t1": 20, "t2": 32} {
		_, err := tw.Apply(ctx, twin.Update{Model: "thermo", Provider: name, Service: "sensor",
			Resource: "temperature", Value: temp, Timestamp: t0})
		require.NoError(t, err)
	}

	wb, err := rule.NewWhiteboard(tw, bus, tw.Updater())
	require.NoError(t, err)
	require.NoError(t, wb.Start(ctx))
	t.Cleanup(func() { _ = wb.Stop() })

	specs, err := derived.Load("testdata/rules.yaml")
	require.NoError(t, err)
	for _, s := range specs {
		if !s.IsEnabled() {
			continue
		}
		def, err := s.Build()
		require.NoError(t, err)
		_, err = wb.AddRuleDefinition(def, s.Properties())
		require.NoError(t, err)
	}
	assert.Len(t, wb.Rules(), 2)

	valueOf := func(p, s, r string) any {
		res, err := tw.SnapshotResource(ctx, p, s, r)
		if err != nil {
			return nil
		}
		return res.Value.Value
	}

	require.Eventually(t, func() bool {
		return valueOf("site", "stats", "average_temperature") == 26.0 &&
			valueOf("t2", "alarm", "overheat") == true
	}, 2*time.Second, 5*time.Millisecond)
	assert.Nil(t, valueOf("t1", "alarm", "overheat"))

	_, err = tw.Apply(ctx, twin.Update{Provider: "t1", Service: "sensor", Resource: "temperature",
		Value: 40.0, Timestamp: t0.Add(time.Second)})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return valueOf("site", "stats", "average_temperature") == 36.0 &&
			valueOf("t1", "alarm", "overheat") == true
	}, 2*time.Second, 5*time.Millisecond)
}
