// Package stream carries canonical measurements between the inbound mappers and
// the outbound concentrators over NATS.
//
// Each inbound connection publishes JSON batches on "<prefix>.<source>". A batch
// holds every measurement mapped from one protocol frame. Consumers subscribe to
// "<prefix>.>" and receive batches from every source.
package stream

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/measurement"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "phasorstreams.measurements"

// Batch is the unit published on the measurement stream.
type Batch struct {
	Source       string                    `json:"source"`
	Sequence     uint64                    `json:"sequence"`
	Measurements []measurement.Measurement `json:"measurements"`
}

// Subject returns the subject a source publishes on.
func Subject(prefix, source string) string {
	return normalizePrefix(prefix) + "." + token(source)
}

// WildcardSubject matches every source under prefix.
func WildcardSubject(prefix string) string {
	return normalizePrefix(prefix) + ".>"
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return DefaultSubjectPrefix
	}
	return prefix
}

// token makes a source name usable as a single subject token.
func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
}

// wireMeasurement carries NaN as a null value.
type wireMeasurement struct {
	Key        uuid.UUID              `json:"key"`
	Value      *float64               `json:"value"`
	StateFlags measurement.StateFlags `json:"flags"`
	Timestamp  time.Time              `json:"timestamp"`
}

type wireBatch struct {
	Source       string            `json:"source"`
	Sequence     uint64            `json:"sequence"`
	Measurements []wireMeasurement `json:"measurements"`
}

// Encode serializes a batch. NaN values are encoded as null.
func Encode(b Batch) ([]byte, error) {
	wire := wireBatch{
		Source:       b.Source,
		Sequence:     b.Sequence,
		Measurements: make([]wireMeasurement, len(b.Measurements)),
	}
	for i, m := range b.Measurements {
		wm := wireMeasurement{Key: m.Key, StateFlags: m.StateFlags, Timestamp: m.Timestamp}
		if !math.IsNaN(m.Value) && !math.IsInf(m.Value, 0) {
			v := m.Value
			wm.Value = &v
		}
		wire.Measurements[i] = wm
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, errors.WrapInvalid(err, "stream", "Encode", "marshal batch")
	}
	return data, nil
}

// Decode parses a batch. Null values decode as NaN.
func Decode(data []byte) (Batch, error) {
	var wire wireBatch
	if err := json.Unmarshal(data, &wire); err != nil {
		return Batch{}, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"stream", "Decode", "unmarshal batch")
	}
	b := Batch{
		Source:       wire.Source,
		Sequence:     wire.Sequence,
		Measurements: make([]measurement.Measurement, len(wire.Measurements)),
	}
	for i, wm := range wire.Measurements {
		m := measurement.Measurement{Key: wm.Key, Value: math.NaN(), StateFlags: wm.StateFlags, Timestamp: wm.Timestamp}
		if wm.Value != nil {
			m.Value = *wm.Value
		}
		b.Measurements[i] = m
	}
	return b, nil
}
