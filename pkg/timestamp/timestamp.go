// Package timestamp provides time tag handling for phasor frames.
//
// Frames carry time as a second-of-century (SOC) count plus a fraction of second
// expressed in time-base ticks. Measurements travelling on the canonical stream use
// int64 nanoseconds since the Unix epoch (UTC).
//
// Zero Value Semantics:
//   - A timestamp value of 0 means "not set" or "unknown"
//   - Functions handle zero values gracefully, returning appropriate defaults
//
// Usage Examples:
//
//	// Decode a frame time tag
//	t := timestamp.FromSOC(soc, fracsec, 1_000_000)
//
//	// Frame aligned time and sub-second index at 30 frames per second
//	aligned := timestamp.AlignToRate(t, 30)
//	index := timestamp.FrameIndex(t, 30)
//
//	// Lag/lead window test
//	ok := timestamp.InWindow(t, time.Now(), 5*time.Second, 5*time.Second)
package timestamp

import (
	"fmt"
	"math"
	"time"
)

// DefaultTimeBase is the fraction-of-second resolution used when a frame omits one.
const DefaultTimeBase uint32 = 1_000_000

// fracSecMask keeps the 24-bit fraction count; the upper byte carries time quality.
const fracSecMask uint32 = 0x00FFFFFF

// ToUnixNano converts a time.Time to Unix nanoseconds.
// Returns 0 for the zero time.
func ToUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// FromUnixNano converts Unix nanoseconds to a UTC time.Time.
// Returns zero time if ns is 0.
func FromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// Format renders t as RFC3339 with nanoseconds for display.
// Returns empty string for the zero time.
func Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// FromSOC converts a second-of-century and fraction count into UTC time.
// The upper byte of fracsec (time quality) is ignored.
func FromSOC(soc, fracsec, timeBase uint32) time.Time {
	if timeBase == 0 {
		timeBase = DefaultTimeBase
	}
	frac := float64(fracsec&fracSecMask) / float64(timeBase)
	ns := int64(math.Round(frac * float64(time.Second)))
	return time.Unix(int64(soc), ns).UTC()
}

// ToSOC converts t into a second-of-century and fraction count using timeBase ticks.
func ToSOC(t time.Time, timeBase uint32) (soc, fracsec uint32) {
	if timeBase == 0 {
		timeBase = DefaultTimeBase
	}
	t = t.UTC()
	soc = uint32(t.Unix())
	ticks := math.Round(float64(t.Nanosecond()) / float64(time.Second) * float64(timeBase))
	if ticks >= float64(timeBase) {
		ticks = float64(timeBase) - 1
	}
	return soc, uint32(ticks) & fracSecMask
}

// FrameIndex returns the nearest sub-second frame index of t at framesPerSecond.
// The result is in [0, framesPerSecond).
func FrameIndex(t time.Time, framesPerSecond int) int {
	if framesPerSecond <= 0 {
		return 0
	}
	index := int(math.Round(float64(t.Nanosecond()) * float64(framesPerSecond) / float64(time.Second)))
	if index >= framesPerSecond {
		return framesPerSecond - 1
	}
	return index
}

// AlignToRate rounds t to the nearest frame boundary at framesPerSecond.
// Boundaries restart at every whole second, so rates that do not divide a second
// evenly never drift.
func AlignToRate(t time.Time, framesPerSecond int) time.Time {
	if framesPerSecond <= 0 {
		return t.Truncate(time.Second)
	}
	base := t.Truncate(time.Second)
	index := int64(math.Round(float64(t.Sub(base)) * float64(framesPerSecond) / float64(time.Second)))
	if index >= int64(framesPerSecond) {
		return base.Add(time.Second)
	}
	return base.Add(time.Duration(index * int64(time.Second) / int64(framesPerSecond)))
}

// Period returns the duration of one frame at framesPerSecond.
func Period(framesPerSecond int) time.Duration {
	if framesPerSecond <= 0 {
		return time.Second
	}
	return time.Second / time.Duration(framesPerSecond)
}

// InWindow reports whether t lies in [now - lag, now + lead].
func InWindow(t, now time.Time, lag, lead time.Duration) bool {
	return !t.Before(now.Add(-lag)) && !t.After(now.Add(lead))
}

// ToUTC reinterprets the wall clock of t as local time in loc and returns it in UTC.
// A nil or UTC location returns t unchanged.
func ToUTC(t time.Time, loc *time.Location) time.Time {
	if loc == nil || loc == time.UTC {
		return t
	}
	local := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
	return local.UTC()
}

// Validate checks that t is representable as a second-of-century time tag.
func Validate(t time.Time) error {
	if t.IsZero() {
		return nil
	}
	if t.Unix() < 0 {
		return fmt.Errorf("timestamp before epoch: %s", Format(t))
	}
	if t.Unix() > math.MaxUint32 {
		return fmt.Errorf("timestamp beyond second-of-century range: %s", Format(t))
	}
	return nil
}
