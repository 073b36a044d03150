package statistics

import (
	"sync"
	"time"

	"github.com/c360/phasorstreams/pkg/timestamp"
)

// MissingDataMonitor counts frame periods for which no frame arrived.
//
// Frames advance the last seen frame time; a jump of k periods adds k-1 missing
// frames. Advance moves a cutoff of align(now - lag) - redundancy periods forward
// and counts periods that passed it without a frame, so a silent stream still
// accumulates missing data. Duplicate and older frames are ignored.
type MissingDataMonitor struct {
	mu              sync.Mutex
	framesPerSecond int
	redundancy      int
	lag             time.Duration
	last            time.Time
	missing         int64
}

// NewMissingDataMonitor creates a monitor for a stream at framesPerSecond.
func NewMissingDataMonitor(framesPerSecond, redundancy int, lag time.Duration) *MissingDataMonitor {
	if framesPerSecond <= 0 {
		framesPerSecond = 1
	}
	if redundancy < 0 {
		redundancy = 0
	}
	return &MissingDataMonitor{framesPerSecond: framesPerSecond, redundancy: redundancy, lag: lag}
}

// periodsBetween counts frame periods from a to b; both must be frame aligned.
func (m *MissingDataMonitor) periodsBetween(a, b time.Time) int64 {
	seconds := b.Unix() - a.Unix()
	return seconds*int64(m.framesPerSecond) +
		int64(timestamp.FrameIndex(b, m.framesPerSecond)-timestamp.FrameIndex(a, m.framesPerSecond))
}

// Observe records a received frame time.
func (m *MissingDataMonitor) Observe(ts time.Time) {
	aligned := timestamp.AlignToRate(ts, m.framesPerSecond)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.last.IsZero() {
		m.last = aligned
		return
	}
	if !aligned.After(m.last) {
		return
	}
	if k := m.periodsBetween(m.last, aligned); k > 1 {
		m.missing += k - 1
	}
	m.last = aligned
}

// Advance counts periods that fell behind the cutoff without a frame.
func (m *MissingDataMonitor) Advance(now time.Time) {
	period := timestamp.Period(m.framesPerSecond)
	cutoff := timestamp.AlignToRate(now.Add(-m.lag), m.framesPerSecond)
	cutoff = timestamp.AlignToRate(cutoff.Add(-time.Duration(m.redundancy)*period), m.framesPerSecond)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.last.IsZero() || !cutoff.After(m.last) {
		return
	}
	m.missing += m.periodsBetween(m.last, cutoff)
	m.last = cutoff
}

// Missing returns the count of missing frames.
func (m *MissingDataMonitor) Missing() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.missing
}

// Reset clears the count and the last frame time.
func (m *MissingDataMonitor) Reset() {
	m.mu.Lock()
	m.missing = 0
	m.last = time.Time{}
	m.mu.Unlock()
}
