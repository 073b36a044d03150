package statistics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2023, 1, 15, 12, 0, 0, 0, time.UTC)

func TestLatencyTracker_Aggregates(t *testing.T) {
	var tracker LatencyTracker

	require.True(t, tracker.Observe(epoch, epoch.Add(20*time.Millisecond)))
	require.True(t, tracker.Observe(epoch, epoch.Add(40*time.Millisecond)))
	require.True(t, tracker.Observe(epoch, epoch.Add(30*time.Millisecond)))

	window := tracker.Window()
	assert.Equal(t, 20*time.Millisecond, window.Minimum)
	assert.Equal(t, 40*time.Millisecond, window.Maximum)
	assert.Equal(t, 30*time.Millisecond, window.Average)
	assert.Equal(t, int64(3), window.Samples)
	assert.Equal(t, window, tracker.Lifetime())
}

func TestLatencyTracker_ZeroLatencySample(t *testing.T) {
	var tracker LatencyTracker
	require.True(t, tracker.Observe(epoch, epoch.Add(10*time.Millisecond)))
	require.True(t, tracker.Observe(epoch, epoch))
	require.True(t, tracker.Observe(epoch, epoch.Add(20*time.Millisecond)))

	window := tracker.Window()
	assert.Equal(t, time.Duration(0), window.Minimum)
	assert.Equal(t, 20*time.Millisecond, window.Maximum)
	assert.Equal(t, 10*time.Millisecond, window.Average)

	var first LatencyTracker
	require.True(t, first.Observe(epoch, epoch))
	require.True(t, first.Observe(epoch, epoch.Add(5*time.Millisecond)))
	assert.Equal(t, time.Duration(0), first.Lifetime().Minimum)
	assert.Equal(t, 5*time.Millisecond, first.Lifetime().Maximum)
}

func TestLatencyTracker_ExcludesOutliers(t *testing.T) {
	var tracker LatencyTracker
	require.True(t, tracker.Observe(epoch, epoch.Add(10*time.Millisecond)))
	before := tracker.Window()

	assert.False(t, tracker.Observe(epoch, epoch.Add(2*time.Hour)))
	assert.False(t, tracker.Observe(epoch.Add(2*time.Hour), epoch))

	assert.Equal(t, before, tracker.Window())
	assert.Equal(t, before, tracker.Lifetime())
}

func TestLatencyTracker_NegativeLatency(t *testing.T) {
	var tracker LatencyTracker
	require.True(t, tracker.Observe(epoch.Add(5*time.Millisecond), epoch))
	assert.Equal(t, -5*time.Millisecond, tracker.Window().Average)
}

func TestLatencyTracker_Reset(t *testing.T) {
	var tracker LatencyTracker
	tracker.Observe(epoch, epoch.Add(10*time.Millisecond))

	tracker.ResetWindow()
	assert.Equal(t, LatencyStats{}, tracker.Window())
	assert.Equal(t, int64(1), tracker.Lifetime().Samples)

	tracker.Observe(epoch, epoch.Add(50*time.Millisecond))
	assert.Equal(t, 50*time.Millisecond, tracker.Window().Minimum)
	assert.Equal(t, 10*time.Millisecond, tracker.Lifetime().Minimum)

	tracker.ResetLifetime()
	assert.Equal(t, LatencyStats{}, tracker.Window())
	assert.Equal(t, LatencyStats{}, tracker.Lifetime())
}

func TestThroughput(t *testing.T) {
	clock := epoch
	tp := &Throughput{now: func() time.Time { return clock }}

	tp.Add(10)
	tp.Add(5)
	assert.Equal(t, ThroughputStats{}, tp.Stats(), "no completed second yet")

	clock = clock.Add(time.Second)
	tp.Add(30)
	stats := tp.Stats()
	assert.Equal(t, 15.0, stats.Minimum)
	assert.Equal(t, 15.0, stats.Maximum)

	clock = clock.Add(time.Second)
	tp.Add(1)
	stats = tp.Stats()
	assert.Equal(t, 15.0, stats.Minimum)
	assert.Equal(t, 30.0, stats.Maximum)
	assert.Equal(t, 22.5, stats.Average)

	tp.Reset()
	assert.Equal(t, ThroughputStats{}, tp.Stats())

	clock = clock.Add(time.Second)
	tp.Add(0)
	assert.Equal(t, 1.0, tp.Stats().Average)
}
