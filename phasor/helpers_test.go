package phasor

import (
	"time"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 500_000_000, time.UTC)

func sampleConfiguration(format DataFormat, coords CoordinateFormat) *ConfigurationFrame {
	cfg := NewConfigurationFrame(7, testTime, 30)

	a := NewConfigurationCell(1, "SHELBY", "SHELBY")
	a.PhasorFormat, a.FrequencyFormat, a.AnalogFormat, a.CoordinateFormat = format, format, format, coords
	a.Phasors = []PhasorDefinition{
		{Label: "BUS1 +SV", Type: Voltage, ScalingValue: DefaultVoltageScalingValue, SourceIndex: 1},
		{Label: "LINE1 +SI", Type: Current, ScalingValue: DefaultCurrentScalingValue, SourceIndex: 2},
	}
	a.Frequency = FrequencyDefinition{Label: "SHELBY Freq", NominalFrequency: 60}
	a.Analogs = []AnalogDefinition{{Label: "MW", Type: RMSOfAnalogInput, ScalingValue: DefaultAnalogScalingValue}}
	a.Digitals = []DigitalDefinition{{Label: "BREAKERS", MaskValue: DefaultDigitalMaskValue}}

	b := NewConfigurationCell(2, "BRANCH", "BRANCH")
	b.PhasorFormat, b.FrequencyFormat, b.AnalogFormat, b.CoordinateFormat = format, format, format, coords
	b.Phasors = []PhasorDefinition{{Label: "BUS2 AP", Type: Voltage, ScalingValue: DefaultVoltageScalingValue, SourceIndex: 1}}
	b.Frequency = FrequencyDefinition{Label: "BRANCH Freq", NominalFrequency: 50}

	cfg.Cells = []*ConfigurationCell{a, b}
	return cfg
}

func sampleData(cfg *ConfigurationFrame) *DataFrame {
	f := NewDataFrame(cfg, testTime.Add(100*time.Millisecond))
	a := f.Cells[0]
	a.Phasors[0] = PhasorValue{Magnitude: 134000, Angle: 30}
	a.Phasors[1] = PhasorValue{Magnitude: 410, Angle: -45}
	a.Frequency = 59.98
	a.DfDt = 0.02
	a.Analogs[0] = 1370
	a.SetDigital(0, 0x0003)

	b := f.Cells[1]
	b.Status = StatusSyncInvalid
	b.Phasors[0] = PhasorValue{Magnitude: 229000, Angle: 120}
	b.Frequency = 50.01
	b.DfDt = -0.01
	return f
}
