package testutil

import (
	"time"

	"github.com/c360/phasorstreams/phasor"
)

// ConfigurationCell builds a floating point, polar cell with the given number
// of voltage phasors, analogs and digitals.
func ConfigurationCell(id uint16, name string, phasors, analogs, digitals int) *phasor.ConfigurationCell {
	c := phasor.NewConfigurationCell(id, name, name)
	c.PhasorFormat, c.FrequencyFormat, c.AnalogFormat = phasor.FloatingPoint, phasor.FloatingPoint, phasor.FloatingPoint
	c.CoordinateFormat = phasor.Polar
	for i := 0; i < phasors; i++ {
		c.Phasors = append(c.Phasors, phasor.PhasorDefinition{
			Label: name + " V", Type: phasor.Voltage, ScalingValue: phasor.DefaultVoltageScalingValue, SourceIndex: i + 1,
		})
	}
	c.Frequency = phasor.FrequencyDefinition{Label: name + " Freq", NominalFrequency: 60}
	for i := 0; i < analogs; i++ {
		c.Analogs = append(c.Analogs, phasor.AnalogDefinition{
			Label: "MW", Type: phasor.RMSOfAnalogInput, ScalingValue: phasor.DefaultAnalogScalingValue,
		})
	}
	for i := 0; i < digitals; i++ {
		c.Digitals = append(c.Digitals, phasor.DigitalDefinition{Label: "BREAKERS", MaskValue: phasor.DefaultDigitalMaskValue})
	}
	return c
}

// SampleConfiguration is the configuration frame connection PDC streams: DEVA
// (ID 1) and DEVB (ID 2) as laid out by SampleDocument.
func SampleConfiguration(ts time.Time, framesPerSecond uint16) *phasor.ConfigurationFrame {
	cfg := phasor.NewConfigurationFrame(SampleAccessID, ts, framesPerSecond)
	cfg.Cells = []*phasor.ConfigurationCell{
		ConfigurationCell(1, "DEVA", 2, 1, 1),
		ConfigurationCell(2, "DEVB", 1, 0, 0),
	}
	return cfg
}

// SampleData fills a data frame for cfg with fixed values in every cell.
func SampleData(cfg *phasor.ConfigurationFrame, ts time.Time) *phasor.DataFrame {
	f := phasor.NewDataFrame(cfg, ts)
	for i, cell := range f.Cells {
		for j := range cell.Phasors {
			cell.Phasors[j] = phasor.PhasorValue{Angle: float64(30 - 20*j), Magnitude: 134000 - float64(1000*i)}
		}
		cell.Frequency = 59.98
		cell.DfDt = 0.01
		for j := range cell.Analogs {
			cell.Analogs[j] = 250
		}
		for j := range cell.Digitals {
			cell.SetDigital(j, 0x0001)
		}
	}
	return f
}

// Images encodes frames back to back as a device would stream them.
func Images(frames ...interface{ MarshalBinary() ([]byte, error) }) ([]byte, error) {
	var out []byte
	for _, f := range frames {
		data, err := f.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}
