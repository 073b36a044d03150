// Package transport provides the socket channels phasor streams travel over: a UDP
// channel, a TCP client and a TCP server. Channels report events through a
// Handlers set of closures supplied at construction.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/metric"
	"github.com/c360/phasorstreams/pkg/retry"
)

// readTimeout bounds each blocking read so loops notice shutdown.
const readTimeout = 100 * time.Millisecond

// Handlers receives channel events. Any field may be nil. Handlers run on the
// channel's read goroutines and must not block for long.
type Handlers struct {
	// Connected fires when a TCP client connects, a TCP server accepts a client,
	// or a UDP channel is bound
	Connected func(remote string)
	// Disconnected fires when a connection ends; err is nil for a local stop
	Disconnected func(remote string, err error)
	// Data delivers received bytes; the slice is owned by the handler
	Data func(remote string, data []byte)
	// Error reports socket faults that did not end the channel
	Error func(err error)
}

// Channel is a started-and-stopped socket endpoint.
type Channel interface {
	Name() string
	Config() Config
	Start(ctx context.Context) error
	Stop() error
	// Send writes to the primary peer: the server for a client, every client
	// for a server, every destination for UDP
	Send(data []byte) error
	// Multicast writes to every connected peer
	Multicast(data []byte) error
	ClientCount() int
	Stats() Stats
}

// ClientSender is implemented by channels that can address a single client.
type ClientSender interface {
	SendTo(remote string, data []byte) error
}

// Stats is a snapshot of channel counters.
type Stats struct {
	Connected     bool      `json:"connected"`
	BytesReceived int64     `json:"bytes_received"`
	BytesSent     int64     `json:"bytes_sent"`
	Errors        int64     `json:"errors"`
	Clients       int       `json:"clients"`
	LastActivity  time.Time `json:"last_activity"`
}

// Deps holds runtime dependencies for a channel.
type Deps struct {
	Name            string
	Handlers        Handlers
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	// Retry governs bind and dial attempts; zero uses retry.Quick
	Retry retry.Config
}

// New builds the channel variant cfg describes.
func New(cfg Config, deps Deps) (Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case cfg.Protocol == ProtocolUDP:
		return NewUDP(cfg, deps), nil
	case cfg.IsListener:
		return NewTCPServer(cfg, deps), nil
	default:
		return NewTCPClient(cfg, deps), nil
	}
}

// Metrics holds Prometheus metrics for one channel.
type Metrics struct {
	bytesReceived prometheus.Counter
	bytesSent     prometheus.Counter
	socketErrors  prometheus.Counter
	clients       prometheus.Gauge
}

// newMetrics creates and registers channel metrics, or returns nil without a registry.
func newMetrics(registry *metric.MetricsRegistry, name string, logger *slog.Logger) *Metrics {
	if registry == nil {
		return nil
	}
	labels := prometheus.Labels{"channel": name}
	m := &Metrics{
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "phasorstreams",
			Subsystem:   "transport",
			Name:        "bytes_received_total",
			Help:        "Total bytes received on the channel",
			ConstLabels: labels,
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "phasorstreams",
			Subsystem:   "transport",
			Name:        "bytes_sent_total",
			Help:        "Total bytes sent on the channel",
			ConstLabels: labels,
		}),
		socketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "phasorstreams",
			Subsystem:   "transport",
			Name:        "socket_errors_total",
			Help:        "Socket errors encountered",
			ConstLabels: labels,
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "phasorstreams",
			Subsystem:   "transport",
			Name:        "clients",
			Help:        "Connected peers",
			ConstLabels: labels,
		}),
	}

	service := metricsService(name)
	for metricName, c := range map[string]prometheus.Counter{
		"bytes_received": m.bytesReceived,
		"bytes_sent":     m.bytesSent,
		"socket_errors":  m.socketErrors,
	} {
		if err := registry.RegisterCounter(service, metricName, c); err != nil {
			logger.Debug("Channel metric not registered", "metric", metricName, "error", err)
		}
	}
	if err := registry.RegisterGauge(service, "clients", m.clients); err != nil {
		logger.Debug("Channel metric not registered", "metric", "clients", "error", err)
	}
	return m
}

func metricsService(name string) string {
	return fmt.Sprintf("transport_%s", name)
}

// counters is shared by every channel variant.
type counters struct {
	name     string
	cfg      Config
	handlers Handlers
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	retryCfg retry.Config

	bytesReceived atomic.Int64
	bytesSent     atomic.Int64
	errorCount    atomic.Int64
	lastActivity  atomic.Int64
	metrics       atomic.Pointer[Metrics]
}

func newCounters(kind string, cfg Config, deps Deps) *counters {
	name := deps.Name
	if name == "" {
		name = fmt.Sprintf("%s-%s", kind, cfg.ListenAddress())
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "transport", "channel", name, "kind", kind)

	rc := deps.Retry
	if rc.MaxAttempts == 0 {
		rc = retry.Quick()
	}
	return &counters{
		name:     name,
		cfg:      cfg,
		handlers: deps.Handlers,
		logger:   logger,
		registry: deps.MetricsRegistry,
		retryCfg: rc,
	}
}

func (c *counters) Name() string   { return c.name }
func (c *counters) Config() Config { return c.cfg }

func (c *counters) received(remote string, data []byte) {
	c.bytesReceived.Add(int64(len(data)))
	c.lastActivity.Store(time.Now().UnixNano())
	if m := c.metrics.Load(); m != nil {
		m.bytesReceived.Add(float64(len(data)))
	}
	if c.handlers.Data != nil {
		c.handlers.Data(remote, data)
	}
}

func (c *counters) sent(n int) {
	c.bytesSent.Add(int64(n))
	c.lastActivity.Store(time.Now().UnixNano())
	if m := c.metrics.Load(); m != nil {
		m.bytesSent.Add(float64(n))
	}
}

func (c *counters) fault(err error) {
	c.errorCount.Add(1)
	if m := c.metrics.Load(); m != nil {
		m.socketErrors.Inc()
	}
	if c.handlers.Error != nil {
		c.handlers.Error(err)
	}
}

func (c *counters) setClients(n int) {
	if m := c.metrics.Load(); m != nil {
		m.clients.Set(float64(n))
	}
}

func (c *counters) connected(remote string) {
	c.logger.Info("Channel connected", "remote", remote)
	if c.handlers.Connected != nil {
		c.handlers.Connected(remote)
	}
}

func (c *counters) disconnected(remote string, err error) {
	if err != nil {
		c.logger.Warn("Channel disconnected", "remote", remote, "error", err)
	} else {
		c.logger.Info("Channel disconnected", "remote", remote)
	}
	if c.handlers.Disconnected != nil {
		c.handlers.Disconnected(remote, err)
	}
}

// attachMetrics registers the channel metrics for one Start/Stop cycle.
func (c *counters) attachMetrics() {
	if c.metrics.Load() == nil {
		c.metrics.Store(newMetrics(c.registry, c.name, c.logger))
	}
}

func (c *counters) releaseMetrics() {
	if c.registry != nil && c.metrics.Swap(nil) != nil {
		c.registry.UnregisterService(metricsService(c.name))
	}
}

func (c *counters) stats(connected bool, clients int) Stats {
	s := Stats{
		Connected:     connected,
		BytesReceived: c.bytesReceived.Load(),
		BytesSent:     c.bytesSent.Load(),
		Errors:        c.errorCount.Load(),
		Clients:       clients,
	}
	if ns := c.lastActivity.Load(); ns != 0 {
		s.LastActivity = time.Unix(0, ns)
	}
	return s
}

func notStarted(kind, method string) error {
	return errors.WrapTransient(errors.ErrChannelNotReady, kind, method, "channel check")
}
