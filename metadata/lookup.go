package metadata

import (
	"strings"

	"github.com/google/uuid"

	"github.com/c360/phasorstreams/measurement"
	"github.com/c360/phasorstreams/signal"
)

// Lookup indexes measurement definitions. It is immutable after NewLookup.
type Lookup struct {
	bySignal  map[string]measurement.Definition
	byKey     map[uuid.UUID]measurement.Definition
	byAcronym map[string]int
}

// NewLookup indexes the definitions of every connection in doc.
func NewLookup(doc *Document) *Lookup {
	l := &Lookup{
		bySignal:  make(map[string]measurement.Definition),
		byKey:     make(map[uuid.UUID]measurement.Definition),
		byAcronym: make(map[string]int),
	}
	if doc == nil {
		return l
	}
	for _, c := range doc.Connections {
		for _, m := range c.Measurements {
			l.bySignal[canonical(m.SignalReference)] = m
			l.byKey[m.Key] = m
			if addr, err := signal.Parse(m.SignalReference); err == nil {
				l.byAcronym[addr.Acronym]++
			}
		}
	}
	return l
}

// BySignal returns the definition for a signal reference such as "SHELBY-PA1".
func (l *Lookup) BySignal(reference string) (measurement.Definition, bool) {
	d, ok := l.bySignal[canonical(reference)]
	return d, ok
}

func canonical(reference string) string {
	if addr, err := signal.Parse(reference); err == nil {
		return addr.String()
	}
	return strings.ToUpper(strings.TrimSpace(reference))
}

// ByAddress returns the definition for a signal address.
func (l *Lookup) ByAddress(a signal.Address) (measurement.Definition, bool) {
	d, ok := l.bySignal[a.String()]
	return d, ok
}

// ByKey returns the definition for a measurement key.
func (l *Lookup) ByKey(key uuid.UUID) (measurement.Definition, bool) {
	d, ok := l.byKey[key]
	return d, ok
}

// CountForAcronym is the number of definitions addressed to a device acronym.
func (l *Lookup) CountForAcronym(acronym string) int {
	return l.byAcronym[strings.ToUpper(strings.TrimSpace(acronym))]
}

// Len is the number of indexed definitions.
func (l *Lookup) Len() int {
	return len(l.bySignal)
}
