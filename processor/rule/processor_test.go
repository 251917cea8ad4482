package rule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semtwin/criterion"
	"github.com/c360/semtwin/events"
	"github.com/c360/semtwin/metric"
	"github.com/c360/semtwin/snapshot"
	"github.com/c360/semtwin/twin"
	rtypes "github.com/c360/semtwin/types/rule"
)

func TestStaleness(t *testing.T) {
	cached := snapshot.Single("thermo", "p", "sensor", snapshot.ResourceSnapshot{
		Name:     "temperature",
		Value:    snapshot.TimedValue{Value: 5, Timestamp: t100},
		Metadata: map[string]any{"unit": "C", "timestamp": t100},
	}, t100)
	p := &Processor{cache: map[string]*snapshot.ProviderSnapshot{"p": cached}}

	ev := func(provider, resource string, v any, ts time.Time, md map[string]any) events.DataChangeEvent {
		return events.DataChangeEvent{Provider: provider, Service: "sensor", Resource: resource,
			NewValue: v, Timestamp: ts, Metadata: md}
	}
	unit := map[string]any{"unit": "C"}

	tests := []struct {
		name  string
		ev    events.DataChangeEvent
		stale bool
	}{
		{"unknown provider", ev("q", "temperature", 5, t100, unit), true},
		{"unknown resource", ev("p", "humidity", 5, t100, unit), true},
		{"duplicate", ev("p", "temperature", 5, t100, unit), false},
		{"duplicate with numeric widening", ev("p", "temperature", 5.0, t100, unit), false},
		{"late event", ev("p", "temperature", 7, t100.Add(-time.Second), nil), false},
		{"same time other value", ev("p", "temperature", 6, t100, unit), true},
		{"same time other metadata", ev("p", "temperature", 5, t100, map[string]any{"unit": "F"}), true},
		{"newer", ev("p", "temperature", 6, t100.Add(time.Second), unit), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.stale, p.staleLocked(tt.ev))
		})
	}
}

func TestEndToEndSelection(t *testing.T) {
	f := newFixture(t)
	f.apply(t, "Temp1", 10, t100)

	cmp, err := criterion.Compare("sensor", "temperature", criterion.OpGreaterOrEqual, "10")
	require.NoError(t, err)
	rec := &evalRecorder{}
	id, err := f.wb.AddRuleDefinition(rtypes.Func{
		Filter: criterion.And(temperatureFilter(), cmp),
		Fn:     rec.evaluate,
	}, rtypes.Properties{rtypes.PropertyID: "hot", rtypes.PropertyName: "hot sensors"})
	require.NoError(t, err)
	assert.Equal(t, "hot", id)

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, []string{"Temp1"}, rec.last())

	f.apply(t, "Temp1", 9, t100.Add(time.Second))
	require.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, 2*time.Millisecond)
	assert.Empty(t, rec.last())
	waitIdle(t, f.processor(t, id))
}

func TestSiblingResourcesRetrigger(t *testing.T) {
	f := newFixture(t)
	_, err := f.tw.Apply(context.Background(), twin.Update{
		Model: "thermo", Provider: "Temp1", Service: "sensor", Resource: "unit", Value: "°C", Timestamp: t100,
	})
	require.NoError(t, err)
	f.apply(t, "Temp1", 6, t100)

	unit, err := criterion.Compare("sensor", "unit", criterion.OpEquals, "°C")
	require.NoError(t, err)
	warm, err := criterion.Compare("sensor", "temperature", criterion.OpGreaterOrEqual, "5")
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter criterion.Criterion
	}{
		{"value leaves", criterion.And(unit, warm)},
		{"paths", criterion.And(
			criterion.Path(criterion.Exact("sensor"), criterion.Exact("unit"), mustValueTest(t, criterion.OpEquals, "°C")),
			criterion.Path(criterion.Exact("sensor"), criterion.Exact("temperature"), mustValueTest(t, criterion.OpGreaterOrEqual, "5")),
		)},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotEmpty(t, tt.filter.DataTopics())

			rec := &evalRecorder{}
			id, err := f.wb.AddRuleDefinition(rtypes.Func{Filter: tt.filter, Fn: rec.evaluate}, nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = f.wb.RemoveRule(id) })
			require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 2*time.Millisecond)
			assert.Equal(t, []string{"Temp1"}, rec.last())
			waitIdle(t, f.processor(t, id))

			f.apply(t, "Temp1", 10+i, t100.Add(time.Duration(i+1)*time.Second))
			require.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, 2*time.Millisecond)
			assert.Equal(t, []string{"Temp1"}, rec.last())
		})
	}
}

func TestDuplicateEventDoesNotRebuild(t *testing.T) {
	f := newFixture(t)
	f.apply(t, "Temp1", 5, t100)

	rec := &evalRecorder{}
	id, err := f.wb.AddRuleDefinition(rtypes.Func{Filter: temperatureFilter(), Fn: rec.evaluate}, nil)
	require.NoError(t, err)
	p := f.processor(t, id)
	waitIdle(t, p)
	require.Equal(t, 1, f.src.Calls())

	require.NoError(t, f.bus.Publish(context.Background(), events.DataChangeEvent{
		Model: "thermo", Provider: "Temp1", Service: "sensor", Resource: "temperature",
		OldValue: 5, NewValue: 5, Timestamp: t100,
	}))
	assert.False(t, p.Working())
	assert.Equal(t, 1, f.src.Calls())
	assert.Equal(t, 1, rec.count())
}

func TestPendingEventsCoalesceIntoOneRebuild(t *testing.T) {
	f := newFixture(t)
	f.apply(t, "Temp1", 5, t100)

	rec := &evalRecorder{}
	id, err := f.wb.AddRuleDefinition(rtypes.Func{Filter: temperatureFilter(), Fn: rec.evaluate}, nil)
	require.NoError(t, err)
	p := f.processor(t, id)
	waitIdle(t, p)

	entered, release := f.src.hold()
	f.apply(t, "Temp1", 6, t100.Add(time.Second))
	<-entered
	assert.True(t, p.Working())

	for i := 2; i <= 6; i++ {
		f.apply(t, "Temp1", 5+i, t100.Add(time.Duration(i)*time.Second))
	}
	p.mu.Lock()
	assert.Len(t, p.pending, 5)
	p.mu.Unlock()

	release()
	waitIdle(t, p)
	assert.Equal(t, 3, f.src.Calls(), "initial, stale event, one coalesced follow-up")
	assert.Equal(t, 3, rec.count())

	r := p.cache["Temp1"].Resource("sensor", "temperature")
	require.NotNil(t, r)
	assert.Equal(t, 11, r.Value.Value)
}

func TestEventsQueuedDuringInitialBuild(t *testing.T) {
	f := newFixture(t)
	f.apply(t, "Temp1", 5, t100)

	entered, release := f.src.hold()
	rec := &evalRecorder{}
	id, err := f.wb.AddRuleDefinition(rtypes.Func{Filter: temperatureFilter(), Fn: rec.evaluate}, nil)
	require.NoError(t, err)
	<-entered
	p := f.processor(t, id)

	f.apply(t, "Temp2", 1, t100)
	release()
	waitIdle(t, p)

	assert.Equal(t, 2, f.src.Calls())
	assert.Equal(t, []string{"Temp1", "Temp2"}, rec.last())
}

func TestRetryRecovers(t *testing.T) {
	f := newFixture(t)
	f.apply(t, "Temp1", 5, t100)
	f.src.failures = 3

	rec := &evalRecorder{}
	id, err := f.wb.AddRuleDefinition(rtypes.Func{Filter: temperatureFilter(), Fn: rec.evaluate}, nil)
	require.NoError(t, err)
	p := f.processor(t, id)

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 2*time.Millisecond)
	waitIdle(t, p)
	assert.Equal(t, 4, f.src.Calls())
	assert.False(t, p.Closed())
	assert.Len(t, f.wb.Rules(), 1)
	assert.Equal(t, []string{"Temp1"}, rec.last())
}

func TestAbandonAfterMaxAttempts(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	f := newFixture(t, WithMetricsRegistry(reg))
	f.apply(t, "Temp1", 5, t100)
	f.src.failures = 100

	rec := &evalRecorder{}
	id, err := f.wb.AddRuleDefinition(rtypes.Func{Filter: temperatureFilter(), Fn: rec.evaluate},
		rtypes.Properties{rtypes.PropertyName: "flaky rule"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(f.wb.Rules()) == 0 }, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, 6, f.src.Calls())
	assert.Zero(t, rec.count())
	assert.Zero(t, f.bus.Subscribers())
	assert.ErrorIs(t, f.wb.RemoveRule(id), ErrRuleNotFound)
	assert.Equal(t, []string{"flaky rule"}, f.wb.Abandoned())

	m := f.wb.metrics
	assert.Equal(t, 6.0, testutil.ToFloat64(m.rebuildFailures.WithLabelValues("flaky_rule")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.abandoned.WithLabelValues("flaky_rule")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeRules))

	f.apply(t, "Temp1", 6, t100.Add(time.Second))
	assert.Equal(t, 6, f.src.Calls())
}

func TestPerRuleAttemptLimit(t *testing.T) {
	f := newFixture(t)
	f.apply(t, "Temp1", 5, t100)
	f.src.failures = 100

	_, err := f.wb.AddRuleDefinition(rtypes.Func{Filter: temperatureFilter(), Fn: (&evalRecorder{}).evaluate},
		rtypes.Properties{
			rtypes.PropertyName:        "impatient",
			rtypes.PropertyMaxAttempts: 2,
		})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(f.wb.Rules()) == 0 }, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, 2, f.src.Calls())
	assert.Equal(t, []string{"impatient"}, f.wb.Abandoned())
}

func TestEvaluationErrorKeepsRule(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	f := newFixture(t, WithMetricsRegistry(reg))
	f.apply(t, "Temp1", 5, t100)

	rec := &evalRecorder{err: assert.AnError}
	id, err := f.wb.AddRuleDefinition(rtypes.Func{Filter: temperatureFilter(), Fn: rec.evaluate},
		rtypes.Properties{rtypes.PropertyName: "broken"})
	require.NoError(t, err)
	p := f.processor(t, id)
	waitIdle(t, p)

	f.apply(t, "Temp1", 6, t100.Add(time.Second))
	require.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, 2*time.Millisecond)
	waitIdle(t, p)
	assert.False(t, p.Closed())
	assert.Equal(t, 2.0, testutil.ToFloat64(f.wb.metrics.evaluationErrors.WithLabelValues("broken")))
}

func TestEvaluationPanicIsRecovered(t *testing.T) {
	f := newFixture(t)
	f.apply(t, "Temp1", 5, t100)

	var once sync.Once
	done := make(chan struct{})
	id, err := f.wb.AddRuleDefinition(rtypes.Func{
		Filter: temperatureFilter(),
		Fn: func(context.Context, []*snapshot.ProviderSnapshot, rtypes.ResourceUpdater) error {
			once.Do(func() { close(done) })
			panic("boom")
		},
	}, nil)
	require.NoError(t, err)
	<-done
	p := f.processor(t, id)
	waitIdle(t, p)
	assert.False(t, p.Closed())
}

func TestRejectedEventsAreCounted(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	f := newFixture(t, WithMetricsRegistry(reg))
	f.apply(t, "Temp1", 5, t100)

	rec := &evalRecorder{}
	id, err := f.wb.AddRuleDefinition(rtypes.Func{
		Filter: criterion.ProviderName(criterion.MustMatch(criterion.MatchRegex, "Temp1")),
		Fn:     rec.evaluate,
	}, rtypes.Properties{rtypes.PropertyName: "only temp1"})
	require.NoError(t, err)
	p := f.processor(t, id)
	waitIdle(t, p)

	f.apply(t, "Temp2", 5, t100)
	assert.False(t, p.Working())

	m := f.wb.metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.delivered.WithLabelValues("only_temp1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("only_temp1")))
	assert.Equal(t, 1, rec.count())
}

func TestCloseDuringRebuild(t *testing.T) {
	f := newFixture(t)
	f.apply(t, "Temp1", 5, t100)

	entered, release := f.src.hold()
	rec := &evalRecorder{}
	id, err := f.wb.AddRuleDefinition(rtypes.Func{Filter: temperatureFilter(), Fn: rec.evaluate}, nil)
	require.NoError(t, err)
	<-entered
	p := f.processor(t, id)

	require.NoError(t, f.wb.RemoveRule(id))
	require.NoError(t, p.Close())
	release()

	assert.Never(t, func() bool { return rec.count() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	p.mu.Lock()
	assert.Nil(t, p.cache)
	assert.True(t, p.closed)
	p.mu.Unlock()
	assert.Zero(t, f.bus.Subscribers())
}

func TestFailureAfterCloseIsIgnored(t *testing.T) {
	f := newFixture(t, WithMetricsRegistry(metric.NewMetricsRegistry()))
	f.apply(t, "Temp1", 5, t100)
	f.src.failures = 1

	entered, release := f.src.hold()
	id, err := f.wb.AddRuleDefinition(rtypes.Func{Filter: temperatureFilter(), Fn: (&evalRecorder{}).evaluate},
		rtypes.Properties{rtypes.PropertyName: "removed", rtypes.PropertyMaxAttempts: 1})
	require.NoError(t, err)
	<-entered
	p := f.processor(t, id)

	require.NoError(t, f.wb.RemoveRule(id))
	release()

	m := f.wb.metrics
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.rebuildFailures.WithLabelValues("removed")) == 1
	}, 2*time.Second, 2*time.Millisecond)
	assert.Never(t, p.Abandoned, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.abandoned.WithLabelValues("removed")))
	assert.Empty(t, f.wb.Abandoned())
	assert.True(t, p.Closed())
}

func TestRetryScheduleFailureClosesRule(t *testing.T) {
	f := newFixture(t)
	f.apply(t, "Temp1", 5, t100)
	f.src.failures = 1
	f.wb.scheduler.Stop()

	entered, release := f.src.hold()
	id, err := f.wb.AddRuleDefinition(rtypes.Func{Filter: temperatureFilter(), Fn: (&evalRecorder{}).evaluate}, nil)
	require.NoError(t, err)
	<-entered
	p := f.processor(t, id)
	release()

	require.Eventually(t, p.Closed, 2*time.Second, 2*time.Millisecond)
	assert.False(t, p.Abandoned())
	assert.Empty(t, f.wb.Rules())
	assert.Empty(t, f.wb.Abandoned())
	assert.Zero(t, f.bus.Subscribers())
}

func TestRuleWritesThroughUpdater(t *testing.T) {
	f := newFixture(t)
	f.apply(t, "Temp1", 10, t100)
	f.apply(t, "Temp2", 20, t100)

	done := make(chan struct{}, 8)
	id, err := f.wb.AddRuleDefinition(rtypes.Func{
		Filter: temperatureFilter(),
		Fn: func(ctx context.Context, providers []*snapshot.ProviderSnapshot, u rtypes.ResourceUpdater) error {
			sum := 0.0
			for _, p := range providers {
				v, _ := criterion.AsFloat(p.Resource("sensor", "temperature").Value.Value)
				sum += v
			}
			defer func() { done <- struct{}{} }()
			return u.UpdateBatch().
				Update("site", "stats", "average", sum/float64(len(providers)), time.Time{}).
				Update("site", "stats", "count", len(providers), time.Time{}).
				Complete(ctx)
		},
	}, nil)
	require.NoError(t, err)
	<-done
	waitIdle(t, f.processor(t, id))

	r, err := f.tw.SnapshotResource(context.Background(), "site", "stats", "average")
	require.NoError(t, err)
	assert.Equal(t, 15.0, r.Value.Value)
}
