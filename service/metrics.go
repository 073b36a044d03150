package service

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/phasorstreams/metric"
)

type adminMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// newAdminMetrics returns nil for a nil registry.
func newAdminMetrics(registry *metric.MetricsRegistry, logger *slog.Logger) *adminMetrics {
	if registry == nil {
		return nil
	}
	m := &adminMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phasorstreams",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Admin API requests by route and status code",
		}, []string{"route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "phasorstreams",
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin API request duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"route"}),
	}
	if err := registry.RegisterCounterVec("admin", "requests_total", m.requests); err != nil {
		logger.Warn("Failed to register admin metric", "metric", "requests_total", "error", err)
	}
	if err := registry.RegisterHistogramVec("admin", "request_duration_seconds", m.duration); err != nil {
		logger.Warn("Failed to register admin metric", "metric", "request_duration_seconds", "error", err)
	}
	return m
}

func (m *adminMetrics) observe(route string, code int, d time.Duration) {
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(route).Observe(d.Seconds())
}
