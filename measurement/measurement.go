// Package measurement defines the canonical time-series measurement exchanged between
// the inbound mapper, the measurement stream and the outbound concentrator.
package measurement

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StateFlags is the quality bitset carried by a measurement.
type StateFlags uint32

// State flag bits
const (
	Normal          StateFlags = 0
	BadData         StateFlags = 1 << 0
	BadTime         StateFlags = 1 << 1
	SystemError     StateFlags = 1 << 2
	CalculatedValue StateFlags = 1 << 3
	DiscardedValue  StateFlags = 1 << 4
)

var flagNames = []struct {
	flag StateFlags
	name string
}{
	{BadData, "BadData"},
	{BadTime, "BadTime"},
	{SystemError, "SystemError"},
	{CalculatedValue, "CalculatedValue"},
	{DiscardedValue, "DiscardedValue"},
}

// Has reports whether all bits of f are set.
func (s StateFlags) Has(f StateFlags) bool {
	return s&f == f
}

// String lists the set flags joined by '|', or "Normal".
func (s StateFlags) String() string {
	if s == Normal {
		return "Normal"
	}
	var parts []string
	for _, fn := range flagNames {
		if s.Has(fn.flag) {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// Measurement is a single canonical value.
type Measurement struct {
	Key        uuid.UUID  `json:"key"`
	Value      float64    `json:"value"`
	StateFlags StateFlags `json:"flags"`
	Timestamp  time.Time  `json:"timestamp"`
}

// IsNaN reports whether the value is undefined.
func (m Measurement) IsNaN() bool {
	return math.IsNaN(m.Value)
}

// Definition is the metadata record for a measurement key.
type Definition struct {
	Key             uuid.UUID `json:"key" yaml:"key"`
	PointTag        string    `json:"pointTag" yaml:"pointTag"`
	SignalReference string    `json:"signalReference" yaml:"signalReference"`
	Adder           float64   `json:"adder" yaml:"adder"`
	Multiplier      float64   `json:"multiplier" yaml:"multiplier"`
}

// Apply converts a raw protocol value into the measurement's engineering value.
func (d Definition) Apply(raw float64) float64 {
	return raw*d.Multiplier + d.Adder
}

// NewKey returns a random measurement key.
func NewKey() uuid.UUID {
	return uuid.New()
}

// ParseKey parses the text form of a measurement key.
func ParseKey(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
