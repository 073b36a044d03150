package statistics

import (
	"sync"
	"time"
)

// MaximumValidLatency bounds latency samples; larger magnitudes indicate a bad clock
// and are left out of the aggregates.
const MaximumValidLatency = time.Hour

// LatencyStats aggregates latency samples. Minimum and Maximum are only
// meaningful when Samples is positive.
type LatencyStats struct {
	Minimum time.Duration `json:"minimum"`
	Maximum time.Duration `json:"maximum"`
	Average time.Duration `json:"average"`
	Samples int64         `json:"samples"`
}

type latencyAccumulator struct {
	minimum time.Duration
	maximum time.Duration
	total   time.Duration
	samples int64
}

func (a *latencyAccumulator) add(latency time.Duration) {
	if a.samples == 0 || latency < a.minimum {
		a.minimum = latency
	}
	if a.samples == 0 || latency > a.maximum {
		a.maximum = latency
	}
	a.total += latency
	a.samples++
}

func (a *latencyAccumulator) stats() LatencyStats {
	s := LatencyStats{Minimum: a.minimum, Maximum: a.maximum, Samples: a.samples}
	if a.samples > 0 {
		s.Average = a.total / time.Duration(a.samples)
	}
	return s
}

// LatencyTracker keeps windowed and lifetime latency aggregates.
// The window is reset on every statistics calculation or on command.
type LatencyTracker struct {
	mu       sync.Mutex
	window   latencyAccumulator
	lifetime latencyAccumulator
}

// Observe records received - timestamp. It returns false when the sample was
// excluded for exceeding MaximumValidLatency.
func (t *LatencyTracker) Observe(timestamp, received time.Time) bool {
	latency := received.Sub(timestamp)
	if latency > MaximumValidLatency || latency < -MaximumValidLatency {
		return false
	}
	t.mu.Lock()
	t.window.add(latency)
	t.lifetime.add(latency)
	t.mu.Unlock()
	return true
}

// Window returns the windowed aggregates.
func (t *LatencyTracker) Window() LatencyStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.window.stats()
}

// Lifetime returns the lifetime aggregates.
func (t *LatencyTracker) Lifetime() LatencyStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lifetime.stats()
}

// ResetWindow clears the windowed aggregates.
func (t *LatencyTracker) ResetWindow() {
	t.mu.Lock()
	t.window = latencyAccumulator{}
	t.mu.Unlock()
}

// ResetLifetime clears both windowed and lifetime aggregates.
func (t *LatencyTracker) ResetLifetime() {
	t.mu.Lock()
	t.window = latencyAccumulator{}
	t.lifetime = latencyAccumulator{}
	t.mu.Unlock()
}
