package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/phasorstreams/component"
	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/metric"
	"github.com/c360/phasorstreams/stream"
)

// Defaults applied by Config.ApplyDefaults.
const (
	DefaultPath         = "/ws/measurements"
	DefaultQueueSize    = 256
	DefaultMaxClients   = 64
	DefaultWriteTimeout = 10 * time.Second
	DefaultPingInterval = 30 * time.Second
)

// Config holds the monitor settings.
type Config struct {
	Path         string        `json:"path,omitempty"          yaml:"path,omitempty"`
	QueueSize    int           `json:"queue_size,omitempty"    yaml:"queue_size,omitempty"`
	MaxClients   int           `json:"max_clients,omitempty"   yaml:"max_clients,omitempty"`
	WriteTimeout time.Duration `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty"`
	PingInterval time.Duration `json:"ping_interval,omitempty" yaml:"ping_interval,omitempty"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.MaxClients <= 0 {
		c.MaxClients = DefaultMaxClients
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
}

// Deps holds the Monitor dependencies.
type Deps struct {
	Config Config
	// Subscriber delivers the measurement stream; nil means batches arrive
	// through Publish only
	Subscriber      stream.Subscriber
	SubjectPrefix   string
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// MessageEnvelope wraps every message sent to or received from a client.
type MessageEnvelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Envelope types
const (
	TypeMeasurements = "measurements"
	TypeFilter       = "filter"
)

// Monitor fans the measurement stream out to WebSocket clients.
type Monitor struct {
	cfg        Config
	subscriber stream.Subscriber
	prefix     string
	logger     *slog.Logger
	metrics    *Metrics
	upgrader   websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*client]struct{}

	running   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startTime time.Time

	batches      atomic.Int64
	messagesSent atomic.Int64
	bytesSent    atomic.Int64
	dropped      atomic.Int64
	errors       atomic.Int64
	lastActivity atomic.Int64
}

var _ component.LifecycleComponent = (*Monitor)(nil)

// Metrics holds Prometheus metrics for the Monitor.
type Metrics struct {
	messagesSent     prometheus.Counter
	bytesSent        prometheus.Counter
	messagesDropped  prometheus.Counter
	clientsConnected prometheus.Gauge
	connectionTotal  prometheus.Counter
	errorsTotal      *prometheus.CounterVec
}

const metricsService = "websocket_monitor"

// newMetrics returns nil for a nil registry.
func newMetrics(registry *metric.MetricsRegistry, logger *slog.Logger) *Metrics {
	if registry == nil {
		return nil
	}
	m := &Metrics{
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "phasorstreams",
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Total messages sent to WebSocket clients",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "phasorstreams",
			Subsystem: "websocket",
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent to WebSocket clients",
		}),
		messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "phasorstreams",
			Subsystem: "websocket",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped from slow client queues",
		}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "phasorstreams",
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),
		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "phasorstreams",
			Subsystem: "websocket",
			Name:      "client_connections_total",
			Help:      "Total client connections (including disconnected)",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phasorstreams",
			Subsystem: "websocket",
			Name:      "errors_total",
			Help:      "WebSocket monitor errors",
		}, []string{"error_type"}),
	}

	for name, c := range map[string]prometheus.Counter{
		"messages_sent_total":      m.messagesSent,
		"bytes_sent_total":         m.bytesSent,
		"messages_dropped_total":   m.messagesDropped,
		"client_connections_total": m.connectionTotal,
	} {
		if err := registry.RegisterCounter(metricsService, name, c); err != nil {
			logger.Warn("Failed to register monitor metric", "metric", name, "error", err)
		}
	}
	if err := registry.RegisterGauge(metricsService, "clients_connected", m.clientsConnected); err != nil {
		logger.Warn("Failed to register monitor metric", "metric", "clients_connected", "error", err)
	}
	if err := registry.RegisterCounterVec(metricsService, "errors_total", m.errorsTotal); err != nil {
		logger.Warn("Failed to register monitor metric", "metric", "errors_total", "error", err)
	}
	return m
}

// New creates a stopped Monitor.
func New(deps Deps) *Monitor {
	cfg := deps.Config
	cfg.ApplyDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "websocket-monitor")

	return &Monitor{
		cfg:        cfg,
		subscriber: deps.Subscriber,
		prefix:     deps.SubjectPrefix,
		logger:     logger,
		metrics:    newMetrics(deps.MetricsRegistry, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:   make(map[*client]struct{}),
		startTime: time.Now(),
	}
}

// Path is where the monitor expects to be mounted.
func (m *Monitor) Path() string { return m.cfg.Path }

// Meta implements component.Discoverable.
func (m *Monitor) Meta() component.Metadata {
	return component.Metadata{
		Name:        "websocket-monitor",
		Type:        component.TypeOutput,
		Description: fmt.Sprintf("Live measurement monitor at %s", m.cfg.Path),
		Version:     "1.0.0",
	}
}

// Health implements component.Discoverable.
func (m *Monitor) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    m.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(m.errors.Load()),
		Uptime:     time.Since(m.startTime),
	}
}

// DataFlow implements component.Discoverable.
func (m *Monitor) DataFlow() component.FlowMetrics {
	var fm component.FlowMetrics
	if uptime := time.Since(m.startTime).Seconds(); uptime > 0 {
		fm.MessagesPerSecond = float64(m.messagesSent.Load()) / uptime
		fm.BytesPerSecond = float64(m.bytesSent.Load()) / uptime
	}
	if sent := m.messagesSent.Load(); sent > 0 {
		fm.ErrorRate = float64(m.errors.Load()) / float64(sent)
	}
	if ns := m.lastActivity.Load(); ns > 0 {
		fm.LastActivity = time.Unix(0, ns)
	}
	return fm
}

// Initialize validates the configuration.
func (m *Monitor) Initialize() error {
	if m.cfg.Path == "" || m.cfg.Path[0] != '/' {
		return errors.WrapInvalid(fmt.Errorf("%w: path %q must start with '/'", errors.ErrInvalidConfig, m.cfg.Path),
			"Monitor", "Initialize", "path check")
	}
	return nil
}

// Start subscribes to the measurement stream.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Monitor", "Start", "state check")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.startTime = time.Now()

	if m.subscriber != nil {
		reader := stream.NewReader(m.prefix, m.Publish, m.logger)
		if err := reader.Subscribe(m.ctx, m.subscriber); err != nil {
			m.cancel()
			m.running.Store(false)
			return errors.Wrap(err, "Monitor", "Start", "subscribe to measurement stream")
		}
	}
	m.logger.Info("Monitor started", "path", m.cfg.Path)
	return nil
}

// Stop disconnects every client.
func (m *Monitor) Stop(timeout time.Duration) error {
	if !m.running.CompareAndSwap(true, false) {
		return nil
	}
	m.cancel()

	m.clientsMu.Lock()
	for c := range m.clients {
		c.close()
	}
	m.clientsMu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrConnectionTimeout, "Monitor", "Stop", "wait for clients")
	}
	m.logger.Info("Monitor stopped")
	return nil
}

// ClientCount is the number of connected clients.
func (m *Monitor) ClientCount() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// ServeHTTP upgrades the request and registers the client.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !m.running.Load() {
		http.Error(w, "monitor is not running", http.StatusServiceUnavailable)
		return
	}
	if m.ClientCount() >= m.cfg.MaxClients {
		http.Error(w, "too many monitor clients", http.StatusServiceUnavailable)
		return
	}
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.recordError("connection_upgrade")
		m.logger.Debug("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(conn, r.RemoteAddr, f, m.cfg.QueueSize, func([]byte) {
		m.dropped.Add(1)
		if m.metrics != nil {
			m.metrics.messagesDropped.Inc()
		}
	})

	m.clientsMu.Lock()
	m.clients[c] = struct{}{}
	count := len(m.clients)
	m.clientsMu.Unlock()
	if m.metrics != nil {
		m.metrics.connectionTotal.Inc()
		m.metrics.clientsConnected.Set(float64(count))
	}
	m.logger.Info("Monitor client connected", "remote", c.remote, "filter", c.filter().String())

	m.wg.Add(2)
	go m.writeLoop(c)
	go m.readLoop(c)
}

// Publish delivers a batch to every client whose filter accepts it.
func (m *Monitor) Publish(b stream.Batch) {
	m.batches.Add(1)
	m.lastActivity.Store(time.Now().UnixNano())

	m.clientsMu.RLock()
	clients := make([]*client, 0, len(m.clients))
	for c := range m.clients {
		clients = append(clients, c)
	}
	m.clientsMu.RUnlock()

	// Clients sharing a filter share the encoded message
	encoded := make(map[string][]byte)
	for _, c := range clients {
		f := c.filter()
		key := f.String()
		msg, ok := encoded[key]
		if !ok {
			selected, keep := f.apply(b)
			if keep {
				var err error
				if msg, err = m.envelope(selected); err != nil {
					m.recordError("encode")
					m.logger.Warn("Failed to encode monitor message", "source", b.Source, "error", err)
					msg = nil
				}
			}
			encoded[key] = msg
		}
		if msg != nil {
			c.enqueue(msg)
		}
	}
}

func (m *Monitor) envelope(b stream.Batch) ([]byte, error) {
	payload, err := stream.Encode(b)
	if err != nil {
		return nil, err
	}
	return json.Marshal(MessageEnvelope{
		Type:      TypeMeasurements,
		ID:        fmt.Sprintf("%s-%d", b.Source, b.Sequence),
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	})
}

func (m *Monitor) writeLoop(c *client) {
	defer m.wg.Done()
	defer m.removeClient(c)

	ping := time.NewTicker(m.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ping.C:
			if err := c.write(websocket.PingMessage, nil, m.cfg.WriteTimeout); err != nil {
				m.recordError("ping")
				return
			}
		case <-c.queue.Ready():
			for _, msg := range c.queue.ReadBatch(0) {
				if err := c.write(websocket.TextMessage, msg, m.cfg.WriteTimeout); err != nil {
					m.recordError("write")
					m.logger.Debug("Monitor client write failed", "remote", c.remote, "error", err)
					return
				}
				m.messagesSent.Add(1)
				m.bytesSent.Add(int64(len(msg)))
				if m.metrics != nil {
					m.metrics.messagesSent.Inc()
					m.metrics.bytesSent.Add(float64(len(msg)))
				}
			}
		}
	}
}

// readLoop handles control messages until the connection ends.
func (m *Monitor) readLoop(c *client) {
	defer m.wg.Done()
	defer c.close()

	readTimeout := 2 * m.cfg.PingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		var env MessageEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			m.logger.Debug("Ignored malformed monitor control message", "remote", c.remote, "error", err)
			continue
		}
		if env.Type != TypeFilter {
			continue
		}
		f, err := decodeFilter(env.Payload)
		if err != nil {
			m.logger.Debug("Ignored invalid monitor filter", "remote", c.remote, "error", err)
			continue
		}
		c.setFilter(f)
		m.logger.Info("Monitor client filter changed", "remote", c.remote, "filter", f.String())
	}
}

func (m *Monitor) removeClient(c *client) {
	c.close()
	m.clientsMu.Lock()
	_, present := m.clients[c]
	delete(m.clients, c)
	count := len(m.clients)
	m.clientsMu.Unlock()
	if !present {
		return
	}
	if m.metrics != nil {
		m.metrics.clientsConnected.Set(float64(count))
	}
	m.logger.Info("Monitor client disconnected", "remote", c.remote, "dropped", c.queue.Dropped())
}

func (m *Monitor) recordError(kind string) {
	m.errors.Add(1)
	if m.metrics != nil {
		m.metrics.errorsTotal.WithLabelValues(kind).Inc()
	}
}
