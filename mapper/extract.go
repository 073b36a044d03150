package mapper

import (
	"math"
	"time"

	"github.com/c360/phasorstreams/measurement"
	"github.com/c360/phasorstreams/metadata"
	"github.com/c360/phasorstreams/phasor"
	"github.com/c360/phasorstreams/pkg/timestamp"
	"github.com/c360/phasorstreams/signal"
	"github.com/c360/phasorstreams/statistics"
)

const errorFlags = measurement.BadData | measurement.BadTime | measurement.SystemError

// stateFlags derives measurement quality from a cell status word.
func stateFlags(cell *phasor.DataCell) measurement.StateFlags {
	flags := measurement.Normal
	if !cell.DataIsValid() {
		flags |= measurement.BadData
	}
	if !cell.SyncIsValid() {
		flags |= measurement.BadTime
	}
	if cell.DeviceError() {
		flags |= measurement.SystemError
	}
	return flags
}

// fieldMapper appends a measurement for each defined signal of one device.
type fieldMapper struct {
	lookup  *metadata.Lookup
	acronym string
	flags   measurement.StateFlags
	ts      time.Time
	out     []measurement.Measurement
}

// add maps one field; fields without a definition are skipped.
func (f *fieldMapper) add(kind signal.Kind, index int, raw float64) {
	def, ok := f.lookup.ByAddress(signal.New(f.acronym, kind, index))
	if !ok {
		return
	}
	f.out = append(f.out, measurement.Measurement{
		Key:        def.Key,
		Value:      def.Apply(raw),
		StateFlags: f.flags,
		Timestamp:  f.ts,
	})
}

// mapCell extracts status, phasors, frequency, dF/dt, analogs and digitals.
// The status measurement is returned separately since it is not counted
// toward device measurement statistics.
func mapCell(lookup *metadata.Lookup, acronym string, cell *phasor.DataCell, ts time.Time) (status []measurement.Measurement, values []measurement.Measurement, frequencyMapped []bool) {
	flags := stateFlags(cell)

	sf := &fieldMapper{lookup: lookup, acronym: acronym, flags: flags, ts: ts}
	sf.add(signal.KindStatus, 0, float64(cell.Status))

	f := &fieldMapper{lookup: lookup, acronym: acronym, flags: flags, ts: ts}
	for i, p := range cell.Phasors {
		f.add(signal.KindAngle, i+1, p.Angle)
		f.add(signal.KindMagnitude, i+1, p.Magnitude)
	}
	before := len(f.out)
	f.add(signal.KindFrequency, 0, cell.Frequency)
	f.add(signal.KindDfDt, 0, cell.DfDt)
	frequencyMapped = make([]bool, len(f.out))
	for i := before; i < len(f.out); i++ {
		frequencyMapped[i] = true
	}
	for i, a := range cell.Analogs {
		f.add(signal.KindAnalog, i+1, a)
	}
	for i, d := range cell.Digitals {
		f.add(signal.KindDigital, i+1, float64(d))
	}
	for len(frequencyMapped) < len(f.out) {
		frequencyMapped = append(frequencyMapped, false)
	}
	return sf.out, f.out, frequencyMapped
}

// countMapped counts mapped device values that are defined, leaving frequency
// values out when the device reports zero frequency.
func countMapped(cell *phasor.DataCell, values []measurement.Measurement, frequencyMapped []bool) (received, withError int) {
	zeroFrequency := cell.Frequency == 0
	for i, m := range values {
		if math.IsNaN(m.Value) || (zeroFrequency && frequencyMapped[i]) {
			continue
		}
		received++
		if m.StateFlags&errorFlags != 0 {
			withError++
		}
	}
	return received, withError
}

// countParsed counts every defined value the device reported, mapped or not.
func countParsed(cell *phasor.DataCell) (received, withError int) {
	for _, p := range cell.Phasors {
		if !math.IsNaN(p.Angle) {
			received++
		}
		if !math.IsNaN(p.Magnitude) {
			received++
		}
	}
	received += len(cell.Digitals)
	for _, a := range cell.Analogs {
		if !math.IsNaN(a) {
			received++
		}
	}
	if cell.Frequency != 0 && !math.IsNaN(cell.Frequency) {
		received++
		if !math.IsNaN(cell.DfDt) {
			received++
		}
	}
	if stateFlags(cell)&errorFlags != 0 {
		withError = received
	}
	return received, withError
}

// extraction is the outcome of mapping one data frame.
type extraction struct {
	measurements []measurement.Measurement
	undefined    []string
}

// extractFrame maps every resolvable cell of df. Device statistics are updated
// as a side effect; unresolved cells are returned by station name.
func (m *Mapper) extractFrame(df *phasor.DataFrame, set *deviceSet, lookup *metadata.Lookup, now time.Time) extraction {
	var ex extraction
	ts := df.Timestamp

	if def, ok := lookup.ByAddress(signal.New(m.qualityAcronym(), signal.KindQuality, 0)); ok {
		ex.measurements = append(ex.measurements, measurement.Measurement{
			Key:       def.Key,
			Value:     def.Apply(float64(df.QualityFlags)),
			Timestamp: ts,
		})
	}

	badData := m.injectBadData.Load()
	for _, cell := range df.Cells {
		dev, ok := set.resolve(cell)
		if !ok {
			ex.undefined = append(ex.undefined, cell.StationName)
			continue
		}
		m.mapDevice(&ex, dev, cell, lookup, ts, now, badData)
	}
	return ex
}

func (m *Mapper) mapDevice(ex *extraction, dev *statistics.DeviceStatistics, cell *phasor.DataCell, lookup *metadata.Lookup, ts, now time.Time, badData bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("Failed to map data cell", "device", cell.StationName, "panic", r)
		}
	}()

	dev.UpdateLastReportTime(ts, now, m.cfg.LagTime, m.cfg.LeadTime)
	if badData {
		cell.SetDataIsValid(false)
	}
	dev.ObserveFrame(cell.DataIsValid(), cell.SyncIsValid(), cell.DeviceError())

	status, values, frequencyMapped := mapCell(lookup, dev.Acronym(), cell, ts)

	var received, withError int
	if m.cfg.CountOnlyMappedMeasurements {
		received, withError = countMapped(cell, values, frequencyMapped)
	} else {
		received, withError = countParsed(cell)
	}
	dev.AddMeasurements(received, withError)

	ex.measurements = append(ex.measurements, status...)
	ex.measurements = append(ex.measurements, values...)
}

// adjustTimestamp converts a device timestamp to UTC and applies the time adjustment.
func (m *Mapper) adjustTimestamp(ts time.Time) time.Time {
	ts = timestamp.ToUTC(ts, m.location)
	if m.cfg.TimeAdjustment != 0 {
		ts = ts.Add(m.cfg.TimeAdjustment)
	}
	return ts
}
