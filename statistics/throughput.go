package statistics

import (
	"sync"
	"time"
)

// ThroughputStats summarizes per-second counts over completed seconds.
type ThroughputStats struct {
	Minimum float64 `json:"minimum"`
	Maximum float64 `json:"maximum"`
	Average float64 `json:"average"`
}

// Throughput accumulates counts into one-second buckets and tracks the minimum,
// maximum and average of completed buckets.
type Throughput struct {
	mu  sync.Mutex
	now func() time.Time

	second  int64
	current int64

	minimum int64
	maximum int64
	total   int64
	seconds int64
}

// NewThroughput returns a tracker driven by the wall clock.
func NewThroughput() *Throughput {
	return &Throughput{now: time.Now}
}

// Add counts n events in the current second.
func (t *Throughput) Add(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sec := t.now().Unix()
	if sec != t.second {
		if t.second != 0 {
			t.complete()
		}
		t.second = sec
		t.current = 0
	}
	t.current += int64(n)
}

// complete folds the current bucket into the aggregates. Caller holds t.mu.
func (t *Throughput) complete() {
	if t.minimum > t.current || t.seconds == 0 {
		t.minimum = t.current
	}
	if t.maximum < t.current {
		t.maximum = t.current
	}
	t.total += t.current
	t.seconds++
}

// Stats returns the aggregates over completed seconds.
func (t *Throughput) Stats() ThroughputStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.seconds == 0 {
		return ThroughputStats{}
	}
	return ThroughputStats{
		Minimum: float64(t.minimum),
		Maximum: float64(t.maximum),
		Average: float64(t.total) / float64(t.seconds),
	}
}

// Reset clears the aggregates; the current bucket keeps counting.
func (t *Throughput) Reset() {
	t.mu.Lock()
	t.minimum, t.maximum, t.total, t.seconds = 0, 0, 0, 0
	t.mu.Unlock()
}
