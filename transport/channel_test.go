package transport

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/phasorstreams/metric"
)

// recorder collects handler events.
type recorder struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
	data         [][]byte
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		Connected: func(remote string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.connected = append(r.connected, remote)
		},
		Disconnected: func(remote string, _ error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.disconnected = append(r.disconnected, remote)
		},
		Data: func(_ string, data []byte) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.data = append(r.data, data)
		},
	}
}

func (r *recorder) received() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []byte
	for _, d := range r.data {
		out = append(out, d...)
	}
	return out
}

func (r *recorder) counts() (connected, disconnected int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connected), len(r.disconnected)
}

func TestNew_SelectsVariant(t *testing.T) {
	ch, err := New(Config{Protocol: ProtocolUDP, Port: 1}, Deps{})
	require.NoError(t, err)
	assert.IsType(t, &UDP{}, ch)

	ch, err = New(Config{Protocol: ProtocolTCP, IsListener: true}, Deps{})
	require.NoError(t, err)
	assert.IsType(t, &TCPServer{}, ch)

	ch, err = New(Config{Protocol: ProtocolTCP, Server: "127.0.0.1:1"}, Deps{})
	require.NoError(t, err)
	assert.IsType(t, &TCPClient{}, ch)

	_, err = New(Config{Protocol: ProtocolTCP}, Deps{})
	assert.Error(t, err)
}

func TestUDP_SendReceive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	receiver := NewUDP(Config{Protocol: ProtocolUDP, Interface: "127.0.0.1"}, Deps{Name: "rx", Handlers: rec.handlers()})
	require.NoError(t, receiver.Start(ctx))
	defer receiver.Stop()

	port := receiver.LocalAddr().(*net.UDPAddr).Port
	sender := NewUDP(Config{
		Protocol:   ProtocolUDP,
		Interface:  "127.0.0.1",
		Server:     "127.0.0.1",
		RemotePort: port,
	}, Deps{Name: "tx"})
	require.NoError(t, sender.Start(ctx))
	defer sender.Stop()

	assert.Equal(t, 1, sender.ClientCount())
	require.NoError(t, sender.Multicast([]byte("hello")))

	require.Eventually(t, func() bool {
		return string(rec.received()) == "hello"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(5), sender.Stats().BytesSent)
	assert.Equal(t, int64(5), receiver.Stats().BytesReceived)
	connected, _ := rec.counts()
	assert.Equal(t, 1, connected)
}

func TestUDP_SendBeforeStart(t *testing.T) {
	u := NewUDP(Config{Protocol: ProtocolUDP, Port: 1}, Deps{})
	assert.Error(t, u.Send([]byte{1}))
	assert.NoError(t, u.Stop())
}

func TestTCP_ServerAndClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := metric.NewMetricsRegistry()
	serverRec := &recorder{}
	server := NewTCPServer(Config{Protocol: ProtocolTCP, Interface: "127.0.0.1", IsListener: true},
		Deps{Name: "server", Handlers: serverRec.handlers(), MetricsRegistry: registry})
	require.NoError(t, server.Start(ctx))
	defer server.Stop()

	port := server.Addr().(*net.TCPAddr).Port
	clientRec := &recorder{}
	client := NewTCPClient(Config{Protocol: ProtocolTCP, Server: net.JoinHostPort("127.0.0.1", strconv.Itoa(port))},
		Deps{Name: "client", Handlers: clientRec.handlers()})
	require.NoError(t, client.Start(ctx))

	require.Eventually(t, func() bool { return server.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, server.Multicast([]byte("frame")))
	require.Eventually(t, func() bool {
		return string(clientRec.received()) == "frame"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Send([]byte("cmd")))
	require.Eventually(t, func() bool {
		return string(serverRec.received()) == "cmd"
	}, 2*time.Second, 10*time.Millisecond)

	count, err := testutil.GatherAndCount(registry.PrometheusRegistry(), "phasorstreams_transport_bytes_sent_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, client.Stop())
	require.Eventually(t, func() bool {
		_, d := serverRec.counts()
		return d == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, server.ClientCount())
	_, clientDisconnects := clientRec.counts()
	assert.Equal(t, 1, clientDisconnects)
}

func TestTCPClient_RemoteCloseReportsDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := NewTCPServer(Config{Protocol: ProtocolTCP, Interface: "127.0.0.1", IsListener: true}, Deps{})
	require.NoError(t, server.Start(ctx))

	rec := &recorder{}
	client := NewTCPClient(Config{Protocol: ProtocolTCP, Server: server.Addr().String()}, Deps{Handlers: rec.handlers()})
	require.NoError(t, client.Start(ctx))
	require.Eventually(t, func() bool { return server.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, server.Stop())
	require.Eventually(t, func() bool {
		_, d := rec.counts()
		return d == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, client.ClientCount())
	assert.Error(t, client.Send([]byte{1}))
	assert.NoError(t, client.Stop())
}
