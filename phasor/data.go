package phasor

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StatusFlags is the STAT word of a data cell.
type StatusFlags uint16

// Status bits
const (
	StatusDataInvalid          StatusFlags = 1 << 15
	StatusDeviceError          StatusFlags = 1 << 14
	StatusSyncInvalid          StatusFlags = 1 << 13
	StatusDataSortingByArrival StatusFlags = 1 << 12
	StatusDeviceTrigger        StatusFlags = 1 << 11
	StatusConfigurationChanged StatusFlags = 1 << 10
)

// PhasorValue is a phasor in polar form; the angle is in degrees.
type PhasorValue struct {
	Angle     float64
	Magnitude float64
}

// DataCell holds the values of one device for one timestamp.
// Values that were never assigned are NaN.
type DataCell struct {
	IDCode      uint16
	StationName string
	Status      StatusFlags

	Phasors   []PhasorValue
	Frequency float64
	DfDt      float64
	Analogs   []float64
	Digitals  []uint16

	digitalAssigned []bool
}

// NewDataCell returns a cell shaped by cfg with every value undefined.
func NewDataCell(cfg *ConfigurationCell) *DataCell {
	c := &DataCell{
		IDCode:          cfg.IDCode,
		StationName:     cfg.StationName,
		Phasors:         make([]PhasorValue, len(cfg.Phasors)),
		Frequency:       math.NaN(),
		DfDt:            math.NaN(),
		Analogs:         make([]float64, len(cfg.Analogs)),
		Digitals:        make([]uint16, len(cfg.Digitals)),
		digitalAssigned: make([]bool, len(cfg.Digitals)),
	}
	for i := range c.Phasors {
		c.Phasors[i] = PhasorValue{Angle: math.NaN(), Magnitude: math.NaN()}
	}
	for i := range c.Analogs {
		c.Analogs[i] = math.NaN()
	}
	return c
}

// DataIsValid reports whether the data-invalid bit is clear.
func (c *DataCell) DataIsValid() bool { return c.Status&StatusDataInvalid == 0 }

// SyncIsValid reports whether the sync-invalid bit is clear.
func (c *DataCell) SyncIsValid() bool { return c.Status&StatusSyncInvalid == 0 }

// DeviceError reports whether the device-error bit is set.
func (c *DataCell) DeviceError() bool { return c.Status&StatusDeviceError != 0 }

// SetDataIsValid sets or clears the data-invalid bit.
func (c *DataCell) SetDataIsValid(valid bool) {
	if valid {
		c.Status &^= StatusDataInvalid
	} else {
		c.Status |= StatusDataInvalid
	}
}

// SetDigital assigns digital word i.
func (c *DataCell) SetDigital(i int, v uint16) {
	c.Digitals[i] = v
	c.digitalAssigned[i] = true
}

// AllValuesAssigned reports whether every phasor, frequency, analog and digital slot
// received a value.
func (c *DataCell) AllValuesAssigned() bool {
	for _, p := range c.Phasors {
		if math.IsNaN(p.Angle) || math.IsNaN(p.Magnitude) {
			return false
		}
	}
	if math.IsNaN(c.Frequency) || math.IsNaN(c.DfDt) {
		return false
	}
	for _, a := range c.Analogs {
		if math.IsNaN(a) {
			return false
		}
	}
	for _, ok := range c.digitalAssigned {
		if !ok {
			return false
		}
	}
	return true
}

// DataFrame holds one timestamp of values for every device in a configuration.
type DataFrame struct {
	IDCode    uint16
	Timestamp time.Time
	// Received is the local time the frame was parsed or created
	Received time.Time
	// QualityFlags is the time quality byte of the fraction-of-second word
	QualityFlags uint32
	Cells        []*DataCell

	// Configuration describes the cell layout and encodings
	Configuration *ConfigurationFrame

	mu           sync.Mutex
	measurements map[uuid.UUID]struct{}
}

// NewDataFrame returns a frame with one undefined cell per configured device.
func NewDataFrame(cfg *ConfigurationFrame, ts time.Time) *DataFrame {
	f := &DataFrame{
		IDCode:        cfg.IDCode,
		Timestamp:     ts,
		Received:      time.Now().UTC(),
		Configuration: cfg,
		Cells:         make([]*DataCell, len(cfg.Cells)),
	}
	for i, c := range cfg.Cells {
		f.Cells[i] = NewDataCell(c)
	}
	return f
}

// AddMeasurement records key in the frame's sorted-measurement set.
// It returns false when the key was already recorded.
func (f *DataFrame) AddMeasurement(key uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.measurements == nil {
		f.measurements = make(map[uuid.UUID]struct{})
	}
	if _, ok := f.measurements[key]; ok {
		return false
	}
	f.measurements[key] = struct{}{}
	return true
}

// SortedMeasurements is the number of distinct measurement keys assigned to the frame.
func (f *DataFrame) SortedMeasurements() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.measurements)
}

// FrameTimestamp implements concentration.Frame.
func (f *DataFrame) FrameTimestamp() time.Time { return f.Timestamp }
