package phasor

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataCell_AllValuesAssigned(t *testing.T) {
	cfg := sampleConfiguration(FloatingPoint, Polar)
	cell := NewDataCell(cfg.Cells[0])
	assert.False(t, cell.AllValuesAssigned())

	cell.Phasors[0] = PhasorValue{Angle: 1, Magnitude: 2}
	cell.Phasors[1] = PhasorValue{Angle: 1, Magnitude: 2}
	cell.Frequency, cell.DfDt = 60, 0
	cell.Analogs[0] = 5
	assert.False(t, cell.AllValuesAssigned(), "digital still unassigned")

	cell.SetDigital(0, 0)
	assert.True(t, cell.AllValuesAssigned())
}

func TestDataCell_StatusBits(t *testing.T) {
	cell := &DataCell{}
	assert.True(t, cell.DataIsValid())
	cell.SetDataIsValid(false)
	assert.False(t, cell.DataIsValid())
	assert.Equal(t, StatusDataInvalid, cell.Status)
	cell.SetDataIsValid(true)
	assert.True(t, cell.DataIsValid())

	cell.Status = StatusDeviceError | StatusSyncInvalid
	assert.True(t, cell.DeviceError())
	assert.False(t, cell.SyncIsValid())
}

func TestDataFrame_AddMeasurementCountsOnce(t *testing.T) {
	frame := NewDataFrame(sampleConfiguration(FloatingPoint, Polar), testTime)
	key := uuid.New()

	assert.True(t, frame.AddMeasurement(key))
	assert.False(t, frame.AddMeasurement(key))
	assert.True(t, frame.AddMeasurement(uuid.New()))
	assert.Equal(t, 2, frame.SortedMeasurements())
}

func TestConfigurationCell_MeasurementCount(t *testing.T) {
	cfg := sampleConfiguration(FloatingPoint, Polar)
	// 2 phasors, 1 analog, 1 digital: 2*2 + 2 + 1 + 1 + status
	assert.Equal(t, 9, cfg.Cells[0].MeasurementCount())
}

func TestConfigurationFrame_CloneIsDeep(t *testing.T) {
	cfg := sampleConfiguration(FloatingPoint, Polar)
	clone := cfg.Clone()
	clone.Cells[0].Phasors[0].Label = "changed"
	assert.Equal(t, "BUS1 +SV", cfg.Cells[0].Phasors[0].Label)

	cell, ok := cfg.CellByIDCode(2)
	require.True(t, ok)
	assert.Equal(t, "BRANCH", cell.StationName)
	_, ok = cfg.CellByStationName(" shelby ")
	assert.True(t, ok)

	p, ok := cfg.Cells[0].PhasorBySourceIndex(2)
	require.True(t, ok)
	assert.Equal(t, Current, p.Type)
}

func TestBinaryImageDiffer(t *testing.T) {
	var d ConfigurationDiffer = BinaryImageDiffer{}

	cfg := sampleConfiguration(FloatingPoint, Polar)
	changed, err := d.Changed(nil, cfg)
	require.NoError(t, err)
	assert.True(t, changed, "first configuration is a change")

	same := cfg.Clone()
	same.Timestamp = cfg.Timestamp.Add(time.Hour)
	changed, err = d.Changed(cfg, same)
	require.NoError(t, err)
	assert.False(t, changed, "timestamp alone is not a change")

	relabeled := cfg.Clone()
	relabeled.Cells[0].Phasors[0].Label = "BUS9 +SV"
	changed, err = d.Changed(cfg, relabeled)
	require.NoError(t, err)
	assert.True(t, changed)

	shorter := cfg.Clone()
	shorter.Cells = shorter.Cells[:1]
	changed, err = d.Changed(cfg, shorter)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestPhasorLabel(t *testing.T) {
	tests := []struct {
		label string
		phase rune
		typ   PhasorType
		want  string
	}{
		{"BUS1", '+', Voltage, "BUS1 +SV"},
		{"LINE1", 'A', Current, "LINE1 API"},
		{"BUS1 +SV", '+', Voltage, "BUS1 +SV"},
		{"BUS1 -SV", '+', Voltage, "BUS1 -SV +SV"},
		{"", 'B', Voltage, "Phasor BPV"},
		{"A VERY LONG PHASOR NAME", 'C', Current, "A VERY LONG  CPI"},
		{"NEUTRAL", 'N', Current, "NEUTRAL"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := PhasorLabel(tt.label, tt.phase, tt.typ)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(got), MaxLabelLength)
		})
	}
}

func TestFrequencyLabel(t *testing.T) {
	assert.Equal(t, "SHELBY Freq", FrequencyLabel("SHELBY"))
	assert.Equal(t, "ABCDEFGHIJK Freq", FrequencyLabel("ABCDEFGHIJKLMNOP"))
}
