// Package metadata loads the device and measurement records that drive both the
// inbound mapper and the outbound concentrator.
//
// A metadata document has two sections:
//
//	connections:    inbound streams, their devices and measurement definitions
//	outputStreams:  outbound streams, their device layouts and measurement assignments
//
// Documents are YAML or JSON, validated against an embedded JSON schema and then
// checked for cross-record consistency. Lookup tables are built once per load and
// shared by reference.
package metadata

import (
	"strings"

	"github.com/google/uuid"

	"github.com/c360/phasorstreams/measurement"
)

// Document is the root of a metadata file.
type Document struct {
	Connections   []Connection   `json:"connections" yaml:"connections"`
	OutputStreams []OutputStream `json:"outputStreams" yaml:"outputStreams"`
}

// Connection describes one inbound stream.
type Connection struct {
	// ID is the record sequence identifier
	ID   uint32 `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	// AccessIDs are the ID codes of a single-device connection; the first is the primary
	AccessIDs         []uint16 `json:"accessIDs,omitempty" yaml:"accessIDs,omitempty"`
	IsConcentrator    bool     `json:"isConcentrator" yaml:"isConcentrator"`
	ForceLabelMapping bool     `json:"forceLabelMapping,omitempty" yaml:"forceLabelMapping,omitempty"`
	// SharedMapping names another device whose signal references a single-device connection reuses
	SharedMapping string                   `json:"sharedMapping,omitempty" yaml:"sharedMapping,omitempty"`
	Devices       []InputDevice            `json:"devices,omitempty" yaml:"devices,omitempty"`
	Measurements  []measurement.Definition `json:"measurements,omitempty" yaml:"measurements,omitempty"`
}

// InputDevice is a device reached through a concentrator connection.
type InputDevice struct {
	ID       uint32 `json:"id" yaml:"id"`
	Acronym  string `json:"acronym" yaml:"acronym"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	AccessID uint16 `json:"accessID" yaml:"accessID"`
}

// DeviceName is the acronym of a single-device connection: the shared mapping when
// set, otherwise the connection name.
func (c Connection) DeviceName() string {
	if s := strings.TrimSpace(c.SharedMapping); s != "" {
		return s
	}
	return strings.TrimSpace(c.Name)
}

// OutputStream describes one outbound concentrated stream.
type OutputStream struct {
	ID      uint32         `json:"id" yaml:"id"`
	Name    string         `json:"name" yaml:"name"`
	IDCode  uint16         `json:"idCode" yaml:"idCode"`
	Devices []OutputDevice `json:"devices" yaml:"devices"`
	// Measurements assign measurement keys to signal addresses in the stream
	Measurements []OutputMeasurement `json:"measurements,omitempty" yaml:"measurements,omitempty"`
}

// OutputDevice is one cell of an output stream. Empty formats fall back to the
// concentrator defaults.
type OutputDevice struct {
	// ID is the record sequence identifier, used as the ID code when IDCode is zero
	ID               uint32          `json:"id" yaml:"id"`
	IDCode           uint16          `json:"idCode,omitempty" yaml:"idCode,omitempty"`
	Acronym          string          `json:"acronym" yaml:"acronym"`
	Name             string          `json:"name,omitempty" yaml:"name,omitempty"`
	LoadOrder        int             `json:"loadOrder,omitempty" yaml:"loadOrder,omitempty"`
	PhasorFormat     string          `json:"phasorFormat,omitempty" yaml:"phasorFormat,omitempty"`
	FrequencyFormat  string          `json:"frequencyFormat,omitempty" yaml:"frequencyFormat,omitempty"`
	AnalogFormat     string          `json:"analogFormat,omitempty" yaml:"analogFormat,omitempty"`
	CoordinateFormat string          `json:"coordinateFormat,omitempty" yaml:"coordinateFormat,omitempty"`
	NominalFrequency uint16          `json:"nominalFrequency,omitempty" yaml:"nominalFrequency,omitempty"`
	Phasors          []OutputPhasor  `json:"phasors,omitempty" yaml:"phasors,omitempty"`
	Analogs          []OutputAnalog  `json:"analogs,omitempty" yaml:"analogs,omitempty"`
	Digitals         []OutputDigital `json:"digitals,omitempty" yaml:"digitals,omitempty"`
}

// OutputPhasor is a phasor slot. Type is "V" or "I"; Phase is one of + - 0 A B C.
type OutputPhasor struct {
	LoadOrder    int    `json:"loadOrder" yaml:"loadOrder"`
	Label        string `json:"label,omitempty" yaml:"label,omitempty"`
	Type         string `json:"type,omitempty" yaml:"type,omitempty"`
	Phase        string `json:"phase,omitempty" yaml:"phase,omitempty"`
	ScalingValue uint32 `json:"scalingValue,omitempty" yaml:"scalingValue,omitempty"`
}

// OutputAnalog is an analog slot.
type OutputAnalog struct {
	LoadOrder    int    `json:"loadOrder" yaml:"loadOrder"`
	Label        string `json:"label,omitempty" yaml:"label,omitempty"`
	Type         int    `json:"type,omitempty" yaml:"type,omitempty"`
	ScalingValue uint32 `json:"scalingValue,omitempty" yaml:"scalingValue,omitempty"`
}

// OutputDigital is a 16-bit status word.
type OutputDigital struct {
	LoadOrder int    `json:"loadOrder" yaml:"loadOrder"`
	Label     string `json:"label,omitempty" yaml:"label,omitempty"`
	MaskValue uint32 `json:"maskValue,omitempty" yaml:"maskValue,omitempty"`
}

// OutputMeasurement routes a measurement key to a field of the stream.
type OutputMeasurement struct {
	Key             uuid.UUID `json:"key" yaml:"key"`
	SignalReference string    `json:"signalReference" yaml:"signalReference"`
}

// Connection returns the inbound connection with the given name, case-insensitively.
func (d *Document) Connection(name string) (Connection, bool) {
	for _, c := range d.Connections {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Connection{}, false
}

// OutputStream returns the output stream with the given name, case-insensitively.
func (d *Document) OutputStream(name string) (OutputStream, bool) {
	for _, s := range d.OutputStreams {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return OutputStream{}, false
}
