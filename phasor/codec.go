package phasor

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/pkg/timestamp"
)

const (
	syncByte     = 0xAA
	headerLength = 14 // SYNC, FRAMESIZE, IDCODE, SOC, FRACSEC
	crcLength    = 2
	minFrameSize = headerLength + crcLength
	maxFrameSize = math.MaxUint16
	nameLength   = 16
	// missingValue marks an undefined integer-encoded field
	missingValue = math.MinInt16
)

// FORMAT word bits
const (
	formatPolar          = 1 << 0
	formatPhasorFloat    = 1 << 1
	formatAnalogFloat    = 1 << 2
	formatFrequencyFloat = 1 << 3
	nominalFrequency50Hz = 1 << 0
	unitTypeShift        = 24
	unitScaleMask        = 0x00FFFFFF
	protocolVersion      = 0x01
	frameTypeShift       = 4
	frameTypeMask        = 0x07
	timeQualityShift     = 24
	maxStationsPerFrame  = 4096
	digitalLabelsPerWord = 16
	digitalLabelLength   = nameLength * digitalLabelsPerWord
	integerScaleUnit     = 1e-5
)

func syncWord(t FrameType) uint16 {
	return uint16(syncByte)<<8 | uint16(t)<<frameTypeShift | protocolVersion
}

// PeekFrameType reads the frame type from the sync word.
func PeekFrameType(data []byte) (FrameType, error) {
	if len(data) < 2 {
		return 0, invalidFrame("PeekFrameType", "sync word truncated")
	}
	if data[0] != syncByte {
		return 0, invalidFrame("PeekFrameType", fmt.Sprintf("bad sync byte 0x%02X", data[0]))
	}
	return FrameType((data[1] >> frameTypeShift) & frameTypeMask), nil
}

// FrameSize reads the FRAMESIZE field.
func FrameSize(data []byte) (int, error) {
	if len(data) < 4 {
		return 0, invalidFrame("FrameSize", "header truncated")
	}
	return int(binary.BigEndian.Uint16(data[2:4])), nil
}

func invalidFrame(method, reason string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidData, reason), "phasor", method, "frame decode")
}

// appendHeader writes the common frame header with a zero FRAMESIZE placeholder.
func appendHeader(b []byte, t FrameType, idCode uint16, ts time.Time, timeBase, quality uint32) []byte {
	soc, frac := timestamp.ToSOC(ts, timeBase)
	b = binary.BigEndian.AppendUint16(b, syncWord(t))
	b = binary.BigEndian.AppendUint16(b, 0)
	b = binary.BigEndian.AppendUint16(b, idCode)
	b = binary.BigEndian.AppendUint32(b, soc)
	return binary.BigEndian.AppendUint32(b, quality<<timeQualityShift|frac)
}

// seal fills in FRAMESIZE and appends the checksum.
func seal(b []byte, method string) ([]byte, error) {
	size := len(b) + crcLength
	if size > maxFrameSize {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: frame size %d exceeds %d", errors.ErrInvalidData, size, maxFrameSize),
			"phasor", method, "frame encode")
	}
	binary.BigEndian.PutUint16(b[2:4], uint16(size))
	return binary.BigEndian.AppendUint16(b, crcCCITT(b)), nil
}

func appendName(b []byte, name string, width int) []byte {
	if len(name) > width {
		name = name[:width]
	}
	b = append(b, name...)
	for i := len(name); i < width; i++ {
		b = append(b, ' ')
	}
	return b
}

// frameReader decodes big-endian fields and keeps the first error.
type frameReader struct {
	b   []byte
	off int
	err error
}

func (r *frameReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.b) {
		r.err = invalidFrame("decode", fmt.Sprintf("need %d bytes at offset %d, have %d", n, r.off, len(r.b)))
		return false
	}
	return true
}

func (r *frameReader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

func (r *frameReader) i16() int16 { return int16(r.u16()) }

func (r *frameReader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *frameReader) f32() float64 {
	return float64(math.Float32frombits(r.u32()))
}

func (r *frameReader) name(width int) string {
	if !r.need(width) {
		return ""
	}
	s := string(r.b[r.off : r.off+width])
	r.off += width
	return strings.TrimRight(s, " \x00")
}

type frameHeader struct {
	frameType FrameType
	size      int
	idCode    uint16
	soc       uint32
	fracsec   uint32
}

// openFrame validates sync, size and checksum and returns a reader positioned after the header.
func openFrame(data []byte, want FrameType, method string) (frameHeader, *frameReader, error) {
	var h frameHeader
	ft, err := PeekFrameType(data)
	if err != nil {
		return h, nil, err
	}
	if ft != want {
		return h, nil, invalidFrame(method, fmt.Sprintf("expected %s frame, got %s", want, ft))
	}
	size, err := FrameSize(data)
	if err != nil {
		return h, nil, err
	}
	if size < minFrameSize || size > len(data) {
		return h, nil, invalidFrame(method, fmt.Sprintf("frame size %d invalid for %d bytes", size, len(data)))
	}
	data = data[:size]
	if got, want := binary.BigEndian.Uint16(data[size-crcLength:]), crcCCITT(data[:size-crcLength]); got != want {
		return h, nil, errors.WrapInvalid(fmt.Errorf("%w: got 0x%04X want 0x%04X", errors.ErrChecksumFailed, got, want),
			"phasor", method, "checksum validation")
	}

	r := &frameReader{b: data[:size-crcLength], off: 4}
	h = frameHeader{frameType: ft, size: size}
	h.idCode = r.u16()
	h.soc = r.u32()
	h.fracsec = r.u32()
	return h, r, r.err
}

// MarshalBinary encodes the frame as a configuration frame 2 image.
func (f *ConfigurationFrame) MarshalBinary() ([]byte, error) {
	if len(f.Cells) > maxStationsPerFrame {
		return nil, invalidFrame("MarshalBinary", fmt.Sprintf("%d cells exceeds %d", len(f.Cells), maxStationsPerFrame))
	}
	timeBase := f.TimeBase
	if timeBase == 0 {
		timeBase = timestamp.DefaultTimeBase
	}

	b := make([]byte, 0, 64+len(f.Cells)*256)
	b = appendHeader(b, FrameTypeConfiguration2, f.IDCode, f.Timestamp, timeBase, 0)
	b = binary.BigEndian.AppendUint32(b, timeBase)
	b = binary.BigEndian.AppendUint16(b, uint16(len(f.Cells)))

	for _, c := range f.Cells {
		b = appendName(b, c.StationName, nameLength)
		b = binary.BigEndian.AppendUint16(b, c.IDCode)
		b = binary.BigEndian.AppendUint16(b, c.formatWord())
		b = binary.BigEndian.AppendUint16(b, uint16(len(c.Phasors)))
		b = binary.BigEndian.AppendUint16(b, uint16(len(c.Analogs)))
		b = binary.BigEndian.AppendUint16(b, uint16(len(c.Digitals)))
		for _, p := range c.Phasors {
			b = appendName(b, p.Label, nameLength)
		}
		for _, a := range c.Analogs {
			b = appendName(b, a.Label, nameLength)
		}
		for _, d := range c.Digitals {
			b = appendName(b, d.Label, digitalLabelLength)
		}
		for _, p := range c.Phasors {
			b = binary.BigEndian.AppendUint32(b, uint32(p.Type)<<unitTypeShift|p.ScalingValue&unitScaleMask)
		}
		for _, a := range c.Analogs {
			b = binary.BigEndian.AppendUint32(b, uint32(a.Type)<<unitTypeShift|a.ScalingValue&unitScaleMask)
		}
		for _, d := range c.Digitals {
			b = binary.BigEndian.AppendUint32(b, d.MaskValue)
		}
		var fnom uint16
		if c.Frequency.NominalFrequency == 50 {
			fnom = nominalFrequency50Hz
		}
		b = binary.BigEndian.AppendUint16(b, fnom)
		b = binary.BigEndian.AppendUint16(b, c.RevisionCount)
	}
	b = binary.BigEndian.AppendUint16(b, f.FrameRate)

	return seal(b, "MarshalBinary")
}

func (c *ConfigurationCell) formatWord() uint16 {
	var w uint16
	if c.CoordinateFormat == Polar {
		w |= formatPolar
	}
	if c.PhasorFormat == FloatingPoint {
		w |= formatPhasorFloat
	}
	if c.AnalogFormat == FloatingPoint {
		w |= formatAnalogFloat
	}
	if c.FrequencyFormat == FloatingPoint {
		w |= formatFrequencyFloat
	}
	return w
}

func (c *ConfigurationCell) applyFormatWord(w uint16) {
	c.CoordinateFormat = Rectangular
	if w&formatPolar != 0 {
		c.CoordinateFormat = Polar
	}
	c.PhasorFormat = formatFromBit(w, formatPhasorFloat)
	c.AnalogFormat = formatFromBit(w, formatAnalogFloat)
	c.FrequencyFormat = formatFromBit(w, formatFrequencyFloat)
}

func formatFromBit(w, bit uint16) DataFormat {
	if w&bit != 0 {
		return FloatingPoint
	}
	return FixedInteger
}

// UnmarshalBinary decodes a configuration frame 1 or 2 image.
func (f *ConfigurationFrame) UnmarshalBinary(data []byte) error {
	want := FrameTypeConfiguration2
	if ft, err := PeekFrameType(data); err == nil && ft == FrameTypeConfiguration1 {
		want = FrameTypeConfiguration1
	}
	h, r, err := openFrame(data, want, "UnmarshalBinary")
	if err != nil {
		return err
	}

	timeBase := r.u32() & unitScaleMask
	count := int(r.u16())
	if r.err == nil && count > maxStationsPerFrame {
		return invalidFrame("UnmarshalBinary", fmt.Sprintf("station count %d exceeds %d", count, maxStationsPerFrame))
	}

	cells := make([]*ConfigurationCell, 0, count)
	for i := 0; i < count && r.err == nil; i++ {
		c := &ConfigurationCell{}
		c.StationName = r.name(nameLength)
		c.IDLabel = c.StationName
		c.IDCode = r.u16()
		c.applyFormatWord(r.u16())
		phnmr, annmr, dgnmr := int(r.u16()), int(r.u16()), int(r.u16())
		if r.err != nil {
			break
		}
		c.Phasors = make([]PhasorDefinition, phnmr)
		c.Analogs = make([]AnalogDefinition, annmr)
		c.Digitals = make([]DigitalDefinition, dgnmr)
		for j := range c.Phasors {
			c.Phasors[j].Label = r.name(nameLength)
			c.Phasors[j].SourceIndex = j + 1
		}
		for j := range c.Analogs {
			c.Analogs[j].Label = r.name(nameLength)
		}
		for j := range c.Digitals {
			c.Digitals[j].Label = r.name(digitalLabelLength)
		}
		for j := range c.Phasors {
			unit := r.u32()
			c.Phasors[j].Type = PhasorType(unit >> unitTypeShift)
			c.Phasors[j].ScalingValue = unit & unitScaleMask
		}
		for j := range c.Analogs {
			unit := r.u32()
			c.Analogs[j].Type = AnalogType(unit >> unitTypeShift)
			c.Analogs[j].ScalingValue = unit & unitScaleMask
		}
		for j := range c.Digitals {
			c.Digitals[j].MaskValue = r.u32()
		}
		c.Frequency.NominalFrequency = 60
		if r.u16()&nominalFrequency50Hz != 0 {
			c.Frequency.NominalFrequency = 50
		}
		c.Frequency.Label = strings.TrimSpace(fmt.Sprintf("%.11s Freq", c.StationName))
		c.RevisionCount = r.u16()
		cells = append(cells, c)
	}
	rate := r.i16()
	if r.err != nil {
		return r.err
	}

	f.IDCode = h.idCode
	f.TimeBase = timeBase
	f.Timestamp = timestamp.FromSOC(h.soc, h.fracsec, timeBase)
	f.FrameRate = frameRateFromDataRate(rate)
	f.Cells = cells
	return nil
}

// frameRateFromDataRate converts DATA_RATE, where negative values are seconds per frame.
func frameRateFromDataRate(rate int16) uint16 {
	if rate <= 0 {
		return 1
	}
	return uint16(rate)
}

func scaleFactor(scaling uint32) float64 {
	if scaling == 0 {
		return 1
	}
	return float64(scaling) * integerScaleUnit
}

func toInt16(v float64) uint16 {
	if math.IsNaN(v) {
		return uint16(0x8000)
	}
	v = math.Round(v)
	if v > math.MaxInt16 {
		v = math.MaxInt16
	} else if v < math.MinInt16+1 {
		v = math.MinInt16 + 1
	}
	return uint16(int16(v))
}

func fromInt16(raw int16) float64 {
	if raw == missingValue {
		return math.NaN()
	}
	return float64(raw)
}

func degreesToRadians(d float64) float64 { return d * math.Pi / 180 }

func radiansToDegrees(r float64) float64 { return r * 180 / math.Pi }

// MarshalBinary encodes the data frame using the layout and formats of f.Configuration.
func (f *DataFrame) MarshalBinary() ([]byte, error) {
	cfg := f.Configuration
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConfiguration, "phasor", "MarshalBinary", "data frame encode")
	}
	if len(cfg.Cells) != len(f.Cells) {
		return nil, invalidFrame("MarshalBinary", fmt.Sprintf("%d cells for %d configured devices", len(f.Cells), len(cfg.Cells)))
	}

	b := make([]byte, 0, 64+len(f.Cells)*64)
	b = appendHeader(b, FrameTypeData, f.IDCode, f.Timestamp, cfg.TimeBase, f.QualityFlags)

	for i, cell := range f.Cells {
		cc := cfg.Cells[i]
		b = binary.BigEndian.AppendUint16(b, uint16(cell.Status))

		for j, p := range cell.Phasors {
			b = appendPhasor(b, cc, cc.Phasors[j], p)
		}

		if cc.FrequencyFormat == FloatingPoint {
			b = binary.BigEndian.AppendUint32(b, math.Float32bits(float32(cell.Frequency)))
			b = binary.BigEndian.AppendUint32(b, math.Float32bits(float32(cell.DfDt)))
		} else {
			b = binary.BigEndian.AppendUint16(b, toInt16((cell.Frequency-float64(cc.Frequency.NominalFrequency))*1000))
			b = binary.BigEndian.AppendUint16(b, toInt16(cell.DfDt*100))
		}

		for j, a := range cell.Analogs {
			if cc.AnalogFormat == FloatingPoint {
				b = binary.BigEndian.AppendUint32(b, math.Float32bits(float32(a)))
			} else {
				b = binary.BigEndian.AppendUint16(b, toInt16(a/scaleFactor(cc.Analogs[j].ScalingValue)))
			}
		}

		for _, d := range cell.Digitals {
			b = binary.BigEndian.AppendUint16(b, d)
		}
	}

	return seal(b, "MarshalBinary")
}

func appendPhasor(b []byte, cc *ConfigurationCell, def PhasorDefinition, p PhasorValue) []byte {
	rad := degreesToRadians(p.Angle)
	if cc.PhasorFormat == FloatingPoint {
		if cc.CoordinateFormat == Polar {
			b = binary.BigEndian.AppendUint32(b, math.Float32bits(float32(p.Magnitude)))
			return binary.BigEndian.AppendUint32(b, math.Float32bits(float32(rad)))
		}
		b = binary.BigEndian.AppendUint32(b, math.Float32bits(float32(p.Magnitude*math.Cos(rad))))
		return binary.BigEndian.AppendUint32(b, math.Float32bits(float32(p.Magnitude*math.Sin(rad))))
	}

	scale := scaleFactor(def.ScalingValue)
	if cc.CoordinateFormat == Polar {
		mag := p.Magnitude / scale
		if math.IsNaN(mag) || mag < 0 {
			mag = 0
		} else if mag > math.MaxUint16 {
			mag = math.MaxUint16
		}
		b = binary.BigEndian.AppendUint16(b, uint16(math.Round(mag)))
		return binary.BigEndian.AppendUint16(b, toInt16(rad*1e4))
	}
	b = binary.BigEndian.AppendUint16(b, toInt16(p.Magnitude*math.Cos(rad)/scale))
	return binary.BigEndian.AppendUint16(b, toInt16(p.Magnitude*math.Sin(rad)/scale))
}

func readPhasor(r *frameReader, cc *ConfigurationCell, def PhasorDefinition) PhasorValue {
	var first, second float64
	if cc.PhasorFormat == FloatingPoint {
		first, second = r.f32(), r.f32()
		if cc.CoordinateFormat == Polar {
			return PhasorValue{Magnitude: first, Angle: radiansToDegrees(second)}
		}
	} else {
		scale := scaleFactor(def.ScalingValue)
		if cc.CoordinateFormat == Polar {
			mag := float64(r.u16()) * scale
			rad := fromInt16(r.i16()) / 1e4
			return PhasorValue{Magnitude: mag, Angle: radiansToDegrees(rad)}
		}
		first, second = fromInt16(r.i16())*scale, fromInt16(r.i16())*scale
	}
	return PhasorValue{
		Magnitude: math.Hypot(first, second),
		Angle:     radiansToDegrees(math.Atan2(second, first)),
	}
}

// DecodeDataFrame decodes a data frame image using the cell layout of cfg.
func DecodeDataFrame(data []byte, cfg *ConfigurationFrame, received time.Time) (*DataFrame, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConfiguration, "phasor", "DecodeDataFrame", "data frame decode")
	}
	h, r, err := openFrame(data, FrameTypeData, "DecodeDataFrame")
	if err != nil {
		return nil, err
	}

	f := &DataFrame{
		IDCode:        h.idCode,
		Timestamp:     timestamp.FromSOC(h.soc, h.fracsec, cfg.TimeBase),
		Received:      received,
		QualityFlags:  h.fracsec >> timeQualityShift,
		Configuration: cfg,
		Cells:         make([]*DataCell, len(cfg.Cells)),
	}

	for i, cc := range cfg.Cells {
		cell := NewDataCell(cc)
		cell.Status = StatusFlags(r.u16())
		for j := range cell.Phasors {
			cell.Phasors[j] = readPhasor(r, cc, cc.Phasors[j])
		}
		if cc.FrequencyFormat == FloatingPoint {
			cell.Frequency, cell.DfDt = r.f32(), r.f32()
		} else {
			cell.Frequency = fromInt16(r.i16())/1000 + float64(cc.Frequency.NominalFrequency)
			cell.DfDt = fromInt16(r.i16()) / 100
		}
		for j := range cell.Analogs {
			if cc.AnalogFormat == FloatingPoint {
				cell.Analogs[j] = r.f32()
			} else {
				cell.Analogs[j] = fromInt16(r.i16()) * scaleFactor(cc.Analogs[j].ScalingValue)
			}
		}
		for j := range cell.Digitals {
			cell.SetDigital(j, r.u16())
		}
		f.Cells[i] = cell
	}

	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(r.b) {
		return nil, invalidFrame("DecodeDataFrame", fmt.Sprintf("%d trailing bytes after %d cells", len(r.b)-r.off, len(cfg.Cells)))
	}
	return f, nil
}

// HeaderFrame carries free-form descriptive text from a device.
type HeaderFrame struct {
	IDCode    uint16
	Timestamp time.Time
	Text      string
}

// MarshalBinary encodes the header frame.
func (h *HeaderFrame) MarshalBinary() ([]byte, error) {
	b := appendHeader(make([]byte, 0, minFrameSize+len(h.Text)), FrameTypeHeader, h.IDCode, h.Timestamp, timestamp.DefaultTimeBase, 0)
	b = append(b, h.Text...)
	return seal(b, "MarshalBinary")
}

// UnmarshalBinary decodes a header frame.
func (h *HeaderFrame) UnmarshalBinary(data []byte) error {
	fh, r, err := openFrame(data, FrameTypeHeader, "UnmarshalBinary")
	if err != nil {
		return err
	}
	h.IDCode = fh.idCode
	h.Timestamp = timestamp.FromSOC(fh.soc, fh.fracsec, timestamp.DefaultTimeBase)
	h.Text = string(r.b[r.off:])
	return nil
}

// CommandFrame carries a device command.
type CommandFrame struct {
	IDCode    uint16
	Timestamp time.Time
	Command   DeviceCommand
}

// MarshalBinary encodes the command frame.
func (c *CommandFrame) MarshalBinary() ([]byte, error) {
	b := appendHeader(make([]byte, 0, minFrameSize+2), FrameTypeCommand, c.IDCode, c.Timestamp, timestamp.DefaultTimeBase, 0)
	b = binary.BigEndian.AppendUint16(b, uint16(c.Command))
	return seal(b, "MarshalBinary")
}

// UnmarshalBinary decodes a command frame.
func (c *CommandFrame) UnmarshalBinary(data []byte) error {
	fh, r, err := openFrame(data, FrameTypeCommand, "UnmarshalBinary")
	if err != nil {
		return err
	}
	cmd := r.u16()
	if r.err != nil {
		return r.err
	}
	c.IDCode = fh.idCode
	c.Timestamp = timestamp.FromSOC(fh.soc, fh.fracsec, timestamp.DefaultTimeBase)
	c.Command = DeviceCommand(cmd)
	return nil
}
