package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics (not adapter-specific)
type Metrics struct {
	// Adapter metrics
	ServiceStatus      *prometheus.GaugeVec
	FramesReceived     *prometheus.CounterVec
	FramesPublished    *prometheus.CounterVec
	MeasurementsMapped *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec
	HealthCheckStatus  *prometheus.GaugeVec

	// NATS metrics
	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "phasorstreams",
				Subsystem: "adapter",
				Name:      "status",
				Help:      "Adapter status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"adapter"},
		),

		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "phasorstreams",
				Subsystem: "frames",
				Name:      "received_total",
				Help:      "Total number of protocol frames received",
			},
			[]string{"adapter", "type"},
		),

		FramesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "phasorstreams",
				Subsystem: "frames",
				Name:      "published_total",
				Help:      "Total number of protocol frames published",
			},
			[]string{"adapter", "type"},
		),

		MeasurementsMapped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "phasorstreams",
				Subsystem: "measurements",
				Name:      "mapped_total",
				Help:      "Total number of measurements mapped to or from frames",
			},
			[]string{"adapter", "direction"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "phasorstreams",
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Frame processing duration in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"adapter", "operation"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "phasorstreams",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"adapter", "type"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "phasorstreams",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"adapter"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "phasorstreams",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "phasorstreams",
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "phasorstreams",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "phasorstreams",
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker status (0=closed, 1=open, 2=half-open)",
			},
		),
	}
}

// RecordServiceStatus updates adapter status metric
func (c *Metrics) RecordServiceStatus(adapter string, status int) {
	c.ServiceStatus.WithLabelValues(adapter).Set(float64(status))
}

// RecordFrameReceived increments the received frame counter
func (c *Metrics) RecordFrameReceived(adapter, frameType string) {
	c.FramesReceived.WithLabelValues(adapter, frameType).Inc()
}

// RecordFramePublished increments the published frame counter
func (c *Metrics) RecordFramePublished(adapter, frameType string) {
	c.FramesPublished.WithLabelValues(adapter, frameType).Inc()
}

// RecordMeasurementsMapped adds n to the mapped measurement counter
func (c *Metrics) RecordMeasurementsMapped(adapter, direction string, n int) {
	c.MeasurementsMapped.WithLabelValues(adapter, direction).Add(float64(n))
}

// RecordProcessingDuration records processing time
func (c *Metrics) RecordProcessingDuration(adapter, operation string, duration time.Duration) {
	c.ProcessingDuration.WithLabelValues(adapter, operation).Observe(duration.Seconds())
}

// RecordError increments error counter
func (c *Metrics) RecordError(adapter, errorType string) {
	c.ErrorsTotal.WithLabelValues(adapter, errorType).Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(adapter string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(adapter).Set(value)
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSRTT updates NATS round-trip time
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(state int) {
	c.NATSCircuitBreaker.Set(float64(state))
}
