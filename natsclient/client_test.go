package natsclient

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	semerrors "github.com/c360/semtwin/errors"
	"github.com/c360/semtwin/metric"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Error(t, client.Health())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestNewClient_InvalidOption(t *testing.T) {
	_, err := NewClient("nats://localhost:4222", WithTimeout(0))
	require.Error(t, err)
	assert.True(t, semerrors.IsInvalid(err))

	_, err = NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(0))
	assert.Error(t, err)
}

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "circuit_open", StatusCircuitOpen.String())
	assert.Equal(t, "unknown", ConnectionStatus(99).String())
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	client, err := NewClient("nats://invalid:4222", WithCircuitBreakerThreshold(3))
	require.NoError(t, err)

	client.recordFailure()
	client.recordFailure()
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(3), client.Failures())
	assert.Equal(t, 2*time.Second, client.Backoff())

	err = client.Connect(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)

	client.resetCircuit()
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Zero(t, client.Failures())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestCircuitBreaker_BackoffCapped(t *testing.T) {
	client, err := NewClient("nats://invalid:4222",
		WithCircuitBreakerThreshold(1), WithMaxBackoff(3*time.Second))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 3*time.Second, client.Backoff())
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	client, err := NewClient("nats://invalid:4222", WithCircuitBreakerThreshold(1))
	require.NoError(t, err)

	client.recordFailure()
	require.Equal(t, StatusCircuitOpen, client.Status())
	client.halfOpen()
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestClient_NotConnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.Subscribe(ctx, "twin.data.>", func(context.Context, string, []byte) {})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, client.Publish(ctx, "x", nil), ErrNotConnected)
	_, err = client.JetStream()
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = client.GetKeyValueBucket(ctx, "TWIN")
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.NoError(t, client.Close(ctx))
	assert.NoError(t, client.Close(ctx))
}

func TestClient_WaitForConnectionTimeout(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = client.WaitForConnection(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClient_MetricsReflectStatus(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	client, err := NewClient("nats://invalid:4222",
		WithMetrics(reg), WithCircuitBreakerThreshold(1),
		WithLogger(NewSlogLogger(slog.Default())))
	require.NoError(t, err)

	client.recordFailure()
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.CoreMetrics().NATSCircuit))
	assert.Equal(t, 0.0, testutil.ToFloat64(reg.CoreMetrics().NATSConnected))
}

func TestKVErrorHelpers(t *testing.T) {
	assert.True(t, IsKVNotFoundError(ErrKVKeyNotFound))
	assert.True(t, IsKVNotFoundError(errors.New("nats: key not found")))
	assert.False(t, IsKVNotFoundError(nil))
	assert.False(t, IsKVNotFoundError(errors.New("timeout")))

	assert.True(t, IsKVConflictError(ErrKVRevisionMismatch))
	assert.True(t, IsKVConflictError(ErrKVKeyExists))
	assert.True(t, IsKVConflictError(errors.New("nats: wrong last sequence: 4")))
	assert.False(t, IsKVConflictError(nil))
}
