package events

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semtwin/metric"
)

func sampleEvent(resource string, v any) DataChangeEvent {
	return DataChangeEvent{
		Model:     "thermo",
		Provider:  "t1",
		Service:   "sensor",
		Resource:  resource,
		NewValue:  v,
		Timestamp: time.Unix(100, 0),
	}
}

func TestLocalBusDelivery(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	bus := NewLocalBus(WithLocalMetrics(reg.CoreMetrics()))
	ctx := context.Background()

	var temps, all []DataChangeEvent
	r1, err := bus.Subscribe(ctx, []string{SubjectPattern("", "", "sensor", "temperature")},
		func(_ context.Context, ev DataChangeEvent) { temps = append(temps, ev) })
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, []string{SubjectPattern("", "", "", "")},
		func(_ context.Context, ev DataChangeEvent) { all = append(all, ev) })
	require.NoError(t, err)
	assert.Equal(t, 2, bus.Subscribers())

	require.NoError(t, bus.Publish(ctx, sampleEvent("temperature", 21.0)))
	require.NoError(t, bus.Publish(ctx, sampleEvent("humidity", 40.0)))

	assert.Len(t, temps, 1)
	assert.Len(t, all, 2)
	assert.Equal(t, 21.0, temps[0].NewValue)
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.CoreMetrics().EventsPublished.WithLabelValues("local")))

	require.NoError(t, r1.Unregister())
	require.NoError(t, r1.Unregister())
	assert.Equal(t, 1, bus.Subscribers())

	require.NoError(t, bus.Publish(ctx, sampleEvent("temperature", 22.0)))
	assert.Len(t, temps, 1)
	assert.Len(t, all, 3)
}

func TestLocalBusHandlerPanic(t *testing.T) {
	bus := NewLocalBus()
	ctx := context.Background()
	delivered := 0

	_, err := bus.Subscribe(ctx, []string{"twin.data.>"}, func(context.Context, DataChangeEvent) {
		panic("boom")
	})
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, []string{"twin.data.>"}, func(context.Context, DataChangeEvent) {
		delivered++
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, sampleEvent("temperature", 1)))
	assert.Equal(t, 1, delivered)
}
