package natsclient

import (
	"context"
	"crypto/tls"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/phasorstreams/metric"
)

func TestConnectionStatus_String(t *testing.T) {
	tests := map[ConnectionStatus]string{
		StatusDisconnected:   "disconnected",
		StatusConnecting:     "connecting",
		StatusConnected:      "connected",
		StatusReconnecting:   "reconnecting",
		StatusCircuitOpen:    "circuit_open",
		ConnectionStatus(99): "unknown",
	}
	for status, want := range tests {
		assert.Equal(t, want, status.String())
	}
}

func TestNewClient_Options(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithMaxReconnects(3),
		WithReconnectWait(time.Second),
		WithCircuitBreakerThreshold(0),
		WithMaxBackoff(time.Millisecond),
		WithName("phasorstreams"),
		WithTimeout(time.Second),
	)
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, 3, client.maxReconnects)
	assert.Equal(t, int32(5), client.circuitThreshold, "threshold below 1 falls back to default")
	assert.Equal(t, time.Minute, client.maxBackoff, "backoff below 1s falls back to default")
	assert.Equal(t, time.Second, client.Backoff())
	assert.Nil(t, client.Connection())
	assert.Len(t, client.connectionOptions(), 10, "no TLS option without a config")
}

func TestNewClient_Timing(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithPingInterval(5*time.Second),
		WithDrainTimeout(0),
	)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, client.pingInterval)
	assert.Equal(t, 10*time.Second, client.drainTimeout, "zero keeps the default")

	client, err = NewClient("nats://localhost:4222", WithPingInterval(-time.Second), WithDrainTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, client.pingInterval)
	assert.Equal(t, time.Second, client.drainTimeout)
}

func TestClient_HealthChangeCallback(t *testing.T) {
	changes := make(chan bool, 3)
	client, err := NewClient("nats://localhost:4222", WithHealthChangeCallback(func(healthy bool) {
		changes <- healthy
	}))
	require.NoError(t, err)

	client.handleDisconnect(nil, nil)
	assert.False(t, <-changes)
	assert.Equal(t, StatusReconnecting, client.Status())

	client.handleReconnect(nil)
	assert.True(t, <-changes)
	assert.Equal(t, StatusConnected, client.Status())

	client.handleClosed(nil)
	assert.False(t, <-changes)
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestNewClient_TLS(t *testing.T) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS13}
	client, err := NewClient("tls://localhost:4222", WithTLSConfig(cfg))
	require.NoError(t, err)
	assert.Same(t, cfg, client.tlsConfig)
	assert.Len(t, client.connectionOptions(), 10)
}

func TestClient_NotConnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, client.Publish(ctx, "subject", []byte("x")), ErrNotConnected)
	assert.ErrorIs(t, client.Subscribe(ctx, "subject", func(context.Context, []byte) {}), ErrNotConnected)

	_, err = client.JetStream()
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, client.Close(ctx))
	require.NoError(t, client.Close(ctx), "close is idempotent")
}

func TestClient_CircuitBreaker(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	client, err := NewClient("nats://localhost:4222",
		WithCircuitBreakerThreshold(2),
		WithMetrics(registry),
	)
	require.NoError(t, err)

	client.recordFailure()
	assert.Equal(t, StatusDisconnected, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, 2*time.Second, client.Backoff())
	assert.Equal(t, float64(1), testutil.ToFloat64(registry.CoreMetrics().NATSCircuitBreaker))

	err = client.Connect(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)

	client.resetCircuit()
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, int32(0), client.Failures())
	assert.Equal(t, float64(0), testutil.ToFloat64(registry.CoreMetrics().NATSCircuitBreaker))
}

func TestClient_ConnectRefused(t *testing.T) {
	client, err := NewClient("nats://127.0.0.1:1",
		WithTimeout(200*time.Millisecond),
		WithMaxReconnects(0),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = client.Connect(ctx)
	require.Error(t, err)
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, int32(1), client.Failures())

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer waitCancel()
	assert.Error(t, client.WaitForConnection(waitCtx))
}

func TestIsAlreadyExistsError(t *testing.T) {
	assert.False(t, isAlreadyExistsError(nil))
	assert.False(t, isAlreadyExistsError(assert.AnError))
	assert.True(t, isAlreadyExistsError(jetstream.ErrBucketExists))
}
