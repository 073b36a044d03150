package phasor

import (
	"strings"
	"time"

	"github.com/c360/phasorstreams/pkg/timestamp"
)

// Scaling defaults applied when a definition carries no scaling value.
const (
	DefaultVoltageScalingValue uint32 = 2725785
	DefaultCurrentScalingValue uint32 = 2423
	DefaultAnalogScalingValue  uint32 = 1373291
	DefaultDigitalMaskValue    uint32 = 0xFFFF0000
)

// PhasorDefinition describes one phasor slot of a device.
type PhasorDefinition struct {
	Label        string
	Type         PhasorType
	ScalingValue uint32
	// SourceIndex is the phasor ordinal in metadata (1-based); 0 when unknown.
	// It is not part of the binary image.
	SourceIndex int
}

// FrequencyDefinition describes the frequency field pair of a device.
type FrequencyDefinition struct {
	Label            string
	NominalFrequency uint16
}

// AnalogDefinition describes one analog slot of a device.
type AnalogDefinition struct {
	Label        string
	Type         AnalogType
	ScalingValue uint32
}

// DigitalDefinition describes one 16-bit digital status word.
type DigitalDefinition struct {
	Label     string
	MaskValue uint32
}

// ConfigurationCell describes one device in a frame.
type ConfigurationCell struct {
	IDCode      uint16
	StationName string
	// IDLabel is the device acronym used in signal addresses
	IDLabel string

	PhasorFormat     DataFormat
	FrequencyFormat  DataFormat
	AnalogFormat     DataFormat
	CoordinateFormat CoordinateFormat

	Phasors   []PhasorDefinition
	Frequency FrequencyDefinition
	Analogs   []AnalogDefinition
	Digitals  []DigitalDefinition

	RevisionCount uint16
}

// NewConfigurationCell returns a cell with floating point polar formats and 60Hz nominal frequency.
func NewConfigurationCell(idCode uint16, stationName, idLabel string) *ConfigurationCell {
	return &ConfigurationCell{
		IDCode:           idCode,
		StationName:      stationName,
		IDLabel:          idLabel,
		PhasorFormat:     FloatingPoint,
		FrequencyFormat:  FloatingPoint,
		AnalogFormat:     FloatingPoint,
		CoordinateFormat: Polar,
		Frequency:        FrequencyDefinition{NominalFrequency: 60},
	}
}

// Clone returns a deep copy.
func (c *ConfigurationCell) Clone() *ConfigurationCell {
	out := *c
	out.Phasors = append([]PhasorDefinition(nil), c.Phasors...)
	out.Analogs = append([]AnalogDefinition(nil), c.Analogs...)
	out.Digitals = append([]DigitalDefinition(nil), c.Digitals...)
	return &out
}

// PhasorBySourceIndex reports whether any phasor carries the given source index.
func (c *ConfigurationCell) PhasorBySourceIndex(sourceIndex int) (PhasorDefinition, bool) {
	for _, p := range c.Phasors {
		if p.SourceIndex == sourceIndex {
			return p, true
		}
	}
	return PhasorDefinition{}, false
}

// MeasurementCount is the number of values a data cell for this device carries:
// angle and magnitude per phasor, frequency, dF/dt, analogs, digitals and status.
func (c *ConfigurationCell) MeasurementCount() int {
	return 2*len(c.Phasors) + 2 + len(c.Analogs) + len(c.Digitals) + 1
}

// ConfigurationFrame describes the device layout of a stream.
type ConfigurationFrame struct {
	IDCode    uint16
	Timestamp time.Time
	TimeBase  uint32
	FrameRate uint16
	Cells     []*ConfigurationCell
}

// NewConfigurationFrame returns an empty frame with the default time base.
func NewConfigurationFrame(idCode uint16, ts time.Time, frameRate uint16) *ConfigurationFrame {
	return &ConfigurationFrame{
		IDCode:    idCode,
		Timestamp: ts,
		TimeBase:  timestamp.DefaultTimeBase,
		FrameRate: frameRate,
	}
}

// Clone returns a deep copy.
func (f *ConfigurationFrame) Clone() *ConfigurationFrame {
	out := *f
	out.Cells = make([]*ConfigurationCell, len(f.Cells))
	for i, c := range f.Cells {
		out.Cells[i] = c.Clone()
	}
	return &out
}

// CellByIDCode returns the first cell with the given ID code.
func (f *ConfigurationFrame) CellByIDCode(idCode uint16) (*ConfigurationCell, bool) {
	for _, c := range f.Cells {
		if c.IDCode == idCode {
			return c, true
		}
	}
	return nil, false
}

// CellByStationName returns the first cell whose station name matches, case-insensitively.
func (f *ConfigurationFrame) CellByStationName(name string) (*ConfigurationCell, bool) {
	for _, c := range f.Cells {
		if strings.EqualFold(strings.TrimSpace(c.StationName), strings.TrimSpace(name)) {
			return c, true
		}
	}
	return nil, false
}

// Period is the duration of one frame at the nominal frame rate.
func (f *ConfigurationFrame) Period() time.Duration {
	return timestamp.Period(int(f.FrameRate))
}
