package metric

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/phasorstreams/errors"
)

func gathered(t *testing.T, r *MetricsRegistry, name string) bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return true
		}
	}
	return false
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	assert.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.NotNil(t, registry.CoreMetrics())
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_frames_total",
		Help: "A test counter",
	})

	require.NoError(t, registry.RegisterCounter("PMU-A", "frames_total", counter))
	counter.Add(3)

	assert.True(t, gathered(t, registry, "test_frames_total"))
	assert.Equal(t, 3.0, testutil.ToFloat64(counter))
}

func TestMetricsRegistry_RegisterGaugeFunc(t *testing.T) {
	registry := NewMetricsRegistry()

	value := 12.5
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "test_latency_ms",
		Help: "A test gauge func",
	}, func() float64 { return value })

	require.NoError(t, registry.RegisterGaugeFunc("PMU-A", "latency_ms", gauge))
	assert.Equal(t, 12.5, testutil.ToFloat64(gauge))
	value = 20
	assert.Equal(t, 20.0, testutil.ToFloat64(gauge))
}

func TestMetricsRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_dup", Help: "dup"})
	require.NoError(t, registry.RegisterGauge("svc", "dup", gauge))

	err := registry.RegisterGauge("svc", "dup", gauge)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// same collector under a different key conflicts in prometheus
	err = registry.RegisterGauge("other", "dup", gauge)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_unregister", Help: "u"})
	require.NoError(t, registry.RegisterGauge("svc", "u", gauge))

	assert.True(t, registry.Unregister("svc", "u"))
	assert.False(t, registry.Unregister("svc", "u"))
	assert.False(t, gathered(t, registry, "test_unregister"))
}

func TestMetricsRegistry_UnregisterService(t *testing.T) {
	registry := NewMetricsRegistry()

	for i := 0; i < 3; i++ {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: fmt.Sprintf("test_svc_a_%d", i), Help: "a"})
		require.NoError(t, registry.RegisterCounter("A", fmt.Sprintf("m%d", i), c))
	}
	other := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_svc_ab", Help: "b"})
	require.NoError(t, registry.RegisterCounter("AB", "m0", other))

	assert.Equal(t, 3, registry.UnregisterService("A"))
	assert.True(t, gathered(t, registry, "test_svc_ab"))
}

func TestMetricsRegistry_ConcurrentRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := prometheus.NewCounter(prometheus.CounterOpts{Name: fmt.Sprintf("test_concurrent_%d", i), Help: "c"})
			errs <- registry.RegisterCounter(fmt.Sprintf("svc%d", i), "c", c)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestCoreMetrics_Record(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.RecordFrameReceived("PMU-A", "data")
	core.RecordFrameReceived("PMU-A", "data")
	core.RecordMeasurementsMapped("PMU-A", "inbound", 12)
	core.RecordHealthStatus("PMU-A", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(core.FramesReceived.WithLabelValues("PMU-A", "data")))
	assert.Equal(t, 12.0, testutil.ToFloat64(core.MeasurementsMapped.WithLabelValues("PMU-A", "inbound")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.HealthCheckStatus.WithLabelValues("PMU-A")))
}
