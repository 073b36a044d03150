// Package metric provides Prometheus-based metrics collection and the HTTP server
// that exposes it.
//
// The package offers a centralized metrics registry managing both core platform
// metrics (adapter status, frame and measurement throughput, NATS health) and
// adapter-specific metrics such as the statistics engine gauges. Metrics are keyed
// "service.metric" so one adapter can remove all of its metrics with
// UnregisterService when it is rebuilt.
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//
//	go func() {
//	    if err := server.Start(ctx); err != nil {
//	        logger.Error("metrics server failed", "error", err)
//	    }
//	}()
//
//	core := registry.CoreMetrics()
//	core.RecordServiceStatus("PMU-A", 2)
//	core.RecordFrameReceived("PMU-A", "data")
//
// # Adapter Metrics
//
// Components build their own collectors and register them through the
// MetricsRegistrar interface. Registration is rejected when the same
// service.metric key is already present.
//
//	frames := prometheus.NewCounter(prometheus.CounterOpts{
//	    Namespace: "phasorstreams",
//	    Subsystem: "udp",
//	    Name:      "frames_total",
//	    Help:      "Frames received",
//	})
//	err := registry.RegisterCounter("PMU-A", "frames_total", frames)
package metric
