package statistics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/phasorstreams/metric"
)

type fakeInbound struct {
	mu   sync.Mutex
	snap InboundSnapshot
}

func (f *fakeInbound) InboundStatistics() InboundSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

type fakeOutbound struct{ snap OutboundSnapshot }

func (f *fakeOutbound) OutboundStatistics() OutboundSnapshot { return f.snap }

type panickingInbound struct{}

func (panickingInbound) InboundStatistics() InboundSnapshot { panic("boom") }

func TestEngine_CalculateVariants(t *testing.T) {
	engine := NewEngine(EngineDeps{Now: func() time.Time { return epoch }})

	in := &fakeInbound{snap: InboundSnapshot{
		Connected:   true,
		TotalFrames: 42,
		Latency:     LatencyStats{Minimum: 10 * time.Millisecond},
	}}
	out := &fakeOutbound{snap: OutboundSnapshot{PublishedFrames: 7, ConnectedClients: 2}}
	dev := NewDeviceStatistics(1, "SHELBY", "SHELBY")
	dev.StartMeasurementCounting(120)
	dev.AddMeasurements(12, 1)

	require.NoError(t, engine.Register(Inbound{Name: "PMU1", Provider: in}))
	require.NoError(t, engine.Register(Outbound{Name: "PDC1", Provider: out}))
	require.NoError(t, engine.Register(Device{Name: "PMU1!SHELBY", Stats: dev}))

	engine.Calculate()

	snap, ok := engine.Snapshot("PMU1")
	require.True(t, ok)
	assert.Equal(t, "inbound", snap.Kind)
	assert.Equal(t, epoch, snap.Time)
	assert.Equal(t, 1.0, snap.Values["connected"])
	assert.Equal(t, 42.0, snap.Values["total_frames"])
	assert.InDelta(t, 0.01, snap.Values["minimum_latency_seconds"], 1e-9)

	v, ok := engine.Value("PDC1", "connected_clients")
	require.True(t, ok)
	assert.Equal(t, 2.0, v)

	v, _ = engine.Value("PMU1!SHELBY", "measurements_received")
	assert.Equal(t, 12.0, v)
	assert.Zero(t, dev.Snapshot().MeasurementsReceived, "device counters restart on collection")

	snaps := engine.Snapshots()
	require.Len(t, snaps, 3)
	assert.Equal(t, "PDC1", snaps[0].Source)
	assert.Equal(t, "PMU1", snaps[1].Source)
	assert.Equal(t, "PMU1!SHELBY", snaps[2].Source)
}

func TestEngine_RegisterValidation(t *testing.T) {
	engine := NewEngine(EngineDeps{})

	assert.Error(t, engine.Register(nil))
	assert.Error(t, engine.Register(Inbound{Provider: &fakeInbound{}}))
	require.NoError(t, engine.Register(Inbound{Name: "A", Provider: &fakeInbound{}}))
	assert.Error(t, engine.Register(Outbound{Name: "A", Provider: &fakeOutbound{}}))
}

func TestEngine_GaugesFollowSnapshots(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	engine := NewEngine(EngineDeps{Registry: registry})

	in := &fakeInbound{snap: InboundSnapshot{TotalFrames: 5}}
	require.NoError(t, engine.Register(Inbound{Name: "PMU1", Provider: in}))
	require.NoError(t, engine.Register(Inbound{Name: "PMU2", Provider: &fakeInbound{}}))

	count, err := testutil.GatherAndCount(registry.PrometheusRegistry(), "phasorstreams_statistics_inbound_total_frames")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	engine.Calculate()
	in.mu.Lock()
	in.snap.TotalFrames = 99
	in.mu.Unlock()

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() != "phasorstreams_statistics_inbound_total_frames" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if m.GetLabel()[0].GetValue() == "PMU1" {
				found = true
				assert.Equal(t, 5.0, m.GetGauge().GetValue(), "gauges read the last calculation")
			}
		}
	}
	assert.True(t, found)

	assert.True(t, engine.Unregister("PMU1"))
	assert.False(t, engine.Unregister("PMU1"))
	count, err = testutil.GatherAndCount(registry.PrometheusRegistry(), "phasorstreams_statistics_inbound_total_frames")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	_, ok := engine.Snapshot("PMU1")
	assert.False(t, ok)
}

func TestEngine_RecoversFromPanics(t *testing.T) {
	engine := NewEngine(EngineDeps{})
	require.NoError(t, engine.Register(Inbound{Name: "bad", Provider: panickingInbound{}}))
	require.NoError(t, engine.Register(Inbound{Name: "good", Provider: &fakeInbound{}}))

	var called int
	engine.OnCalculated(func(time.Time) { panic("listener") })
	engine.OnCalculated(func(time.Time) { called++ })

	assert.NotPanics(t, engine.Calculate)
	_, ok := engine.Snapshot("bad")
	assert.False(t, ok)
	_, ok = engine.Snapshot("good")
	assert.True(t, ok)
	assert.Equal(t, 1, called)
}

func TestEngine_Run(t *testing.T) {
	engine := NewEngine(EngineDeps{Interval: 10 * time.Millisecond})
	require.NoError(t, engine.Register(Inbound{Name: "PMU1", Provider: &fakeInbound{}}))

	ticks := make(chan time.Time, 10)
	engine.OnCalculated(func(now time.Time) {
		select {
		case ticks <- now:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	select {
	case <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not calculate")
	}
	cancel()
	require.NoError(t, <-done)
}
