//go:build integration

package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semtwin/natsclient"
)

func TestNATSBusRoundTrip(t *testing.T) {
	tc := natsclient.NewTestClient(t)
	bus := NewNATSBus(tc.Client)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	received := make(chan DataChangeEvent, 4)
	reg, err := bus.Subscribe(ctx, []string{SubjectPattern("thermo", "", "sensor", "")},
		func(_ context.Context, ev DataChangeEvent) { received <- ev })
	require.NoError(t, err)

	ev := sampleEvent("temperature", 21.5)
	ev.Metadata = map[string]any{"unit": "C"}
	require.NoError(t, bus.Publish(ctx, ev))

	other := sampleEvent("temperature", 1.0)
	other.Service = "admin"
	require.NoError(t, bus.Publish(ctx, other))

	select {
	case got := <-received:
		assert.Equal(t, "t1", got.Provider)
		assert.Equal(t, 21.5, got.NewValue)
		assert.True(t, got.Timestamp.Equal(ev.Timestamp))
		assert.Equal(t, "C", got.Metadata["unit"])
	case <-ctx.Done():
		t.Fatal("event not received")
	}

	select {
	case got := <-received:
		t.Fatalf("unexpected event for service %s", got.Service)
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, reg.Unregister())
}
