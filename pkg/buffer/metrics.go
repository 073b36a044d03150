package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/phasorstreams/metric"
)

type bufferMetrics struct {
	registry *metric.MetricsRegistry
	service  string
	size     prometheus.Gauge
	drops    prometheus.Counter
}

// newMetrics creates and registers buffer metrics, or returns nil without a registry.
func newMetrics(registry *metric.MetricsRegistry, name string) *bufferMetrics {
	if registry == nil {
		return nil
	}
	labels := prometheus.Labels{"buffer": name}
	m := &bufferMetrics{
		registry: registry,
		service:  "buffer_" + name,
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "phasorstreams",
			Subsystem:   "buffer",
			Name:        "size",
			Help:        "Items currently queued",
			ConstLabels: labels,
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "phasorstreams",
			Subsystem:   "buffer",
			Name:        "drops_total",
			Help:        "Items dropped due to overflow",
			ConstLabels: labels,
		}),
	}
	// A failed registration leaves the collectors usable but unexported.
	_ = registry.RegisterGauge(m.service, "size", m.size)
	_ = registry.RegisterCounter(m.service, "drops", m.drops)
	return m
}

func (m *bufferMetrics) release() {
	m.registry.UnregisterService(m.service)
}
