package phasor

import (
	"fmt"
	"strings"
)

// FrameType identifies the kind of protocol frame (bits 4-6 of the second sync byte).
type FrameType uint8

// Frame types
const (
	FrameTypeData FrameType = iota
	FrameTypeHeader
	FrameTypeConfiguration1
	FrameTypeConfiguration2
	FrameTypeCommand
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeData:
		return "data"
	case FrameTypeHeader:
		return "header"
	case FrameTypeConfiguration1:
		return "configuration1"
	case FrameTypeConfiguration2:
		return "configuration2"
	case FrameTypeCommand:
		return "command"
	default:
		return fmt.Sprintf("frametype(%d)", uint8(t))
	}
}

// PhasorType distinguishes voltage and current phasors.
type PhasorType uint8

// Phasor types
const (
	Voltage PhasorType = iota
	Current
)

func (t PhasorType) String() string {
	if t == Current {
		return "current"
	}
	return "voltage"
}

// ParsePhasorType accepts "V"/"voltage" and "I"/"current" in any case.
func ParsePhasorType(s string) PhasorType {
	s = strings.ToUpper(strings.TrimSpace(s))
	if strings.HasPrefix(s, "I") || strings.HasPrefix(s, "C") {
		return Current
	}
	return Voltage
}

// AnalogType is the ANUNIT measurement type.
type AnalogType uint8

// Analog types
const (
	SinglePointOnWave AnalogType = iota
	RMSOfAnalogInput
	PeakOfAnalogInput
)

// DataFormat selects integer or floating point encoding for a field group.
type DataFormat uint8

// Data formats
const (
	FixedInteger DataFormat = iota
	FloatingPoint
)

func (f DataFormat) String() string {
	if f == FloatingPoint {
		return "float"
	}
	return "integer"
}

// ParseDataFormat accepts "float"/"floatingpoint" and "integer"/"fixedinteger".
// An empty string returns def.
func ParseDataFormat(s string, def DataFormat) (DataFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case "float", "floatingpoint":
		return FloatingPoint, nil
	case "integer", "int", "fixedinteger":
		return FixedInteger, nil
	}
	return def, fmt.Errorf("unknown data format %q", s)
}

// CoordinateFormat selects how phasors are encoded.
type CoordinateFormat uint8

// Coordinate formats
const (
	Rectangular CoordinateFormat = iota
	Polar
)

func (f CoordinateFormat) String() string {
	if f == Polar {
		return "polar"
	}
	return "rectangular"
}

// ParseCoordinateFormat accepts "polar" and "rectangular". An empty string returns def.
func ParseCoordinateFormat(s string, def CoordinateFormat) (CoordinateFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case "polar":
		return Polar, nil
	case "rectangular", "rect":
		return Rectangular, nil
	}
	return def, fmt.Errorf("unknown coordinate format %q", s)
}

// DeviceCommand is a command sent to a device in a command frame.
type DeviceCommand uint16

// Device commands
const (
	DisableRealTimeData     DeviceCommand = 1
	EnableRealTimeData      DeviceCommand = 2
	SendHeaderFrame         DeviceCommand = 3
	SendConfigurationFrame1 DeviceCommand = 4
	SendConfigurationFrame2 DeviceCommand = 5
)

var commandNames = map[DeviceCommand]string{
	DisableRealTimeData:     "DisableRealTimeData",
	EnableRealTimeData:      "EnableRealTimeData",
	SendHeaderFrame:         "SendHeaderFrame",
	SendConfigurationFrame1: "SendConfigurationFrame1",
	SendConfigurationFrame2: "SendConfigurationFrame2",
}

func (c DeviceCommand) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("DeviceCommand(%d)", uint16(c))
}

// ParseDeviceCommand resolves a command by name, case-insensitively.
func ParseDeviceCommand(s string) (DeviceCommand, error) {
	for c, name := range commandNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown device command %q", s)
}
