package concentrator

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/metadata"
	"github.com/c360/phasorstreams/phasor"
	"github.com/c360/phasorstreams/signal"
)

func defaultConfig() Config {
	cfg := Config{Name: "PDCOUT", DataChannel: "protocol=udp; server=127.0.0.1:8800"}
	cfg.ApplyDefaults()
	return cfg
}

func TestBuildLayout_Configuration(t *testing.T) {
	s, _ := testStream()
	s.Devices[1].PhasorFormat = "integer"
	s.Devices[1].CoordinateFormat = "rectangular"

	l, err := buildLayout(defaultConfig(), s, testEpoch)
	require.NoError(t, err)

	cfg := l.configuration
	assert.EqualValues(t, 2000, cfg.IDCode)
	assert.EqualValues(t, DefaultFramesPerSecond, cfg.FrameRate)
	assert.Equal(t, testEpoch, cfg.Timestamp)
	require.Len(t, cfg.Cells, 2)

	a, b := cfg.Cells[0], cfg.Cells[1]
	assert.Equal(t, "DEVA", a.IDLabel, "cells follow load order")
	assert.EqualValues(t, 11, a.IDCode, "ID code falls back to the record ID")
	assert.EqualValues(t, 7, b.IDCode)
	assert.Equal(t, map[string]int{"DEVA": 0, "DEVB": 1}, l.cellIndexes)

	assert.Equal(t, phasor.FixedInteger, a.PhasorFormat)
	assert.Equal(t, phasor.Rectangular, a.CoordinateFormat)
	assert.Equal(t, phasor.FloatingPoint, b.PhasorFormat)
	assert.Equal(t, phasor.Polar, b.CoordinateFormat)

	require.Len(t, a.Phasors, 2)
	assert.Equal(t, "VA APV", a.Phasors[0].Label)
	assert.Equal(t, phasor.Voltage, a.Phasors[0].Type)
	assert.Equal(t, phasor.DefaultVoltageScalingValue, a.Phasors[0].ScalingValue)
	assert.Equal(t, 1, a.Phasors[0].SourceIndex)
	assert.Equal(t, "IA API", a.Phasors[1].Label)
	assert.Equal(t, phasor.Current, a.Phasors[1].Type)
	assert.Equal(t, phasor.DefaultCurrentScalingValue, a.Phasors[1].ScalingValue)
	assert.Equal(t, 2, a.Phasors[1].SourceIndex)

	assert.Equal(t, "Device A Freq", a.Frequency.Label)
	assert.EqualValues(t, DefaultNominalFrequency, a.Frequency.NominalFrequency)
	require.Len(t, a.Analogs, 1)
	assert.Equal(t, phasor.DefaultAnalogScalingValue, a.Analogs[0].ScalingValue)
	require.Len(t, a.Digitals, 1)
	assert.Equal(t, phasor.DefaultDigitalMaskValue, a.Digitals[0].MaskValue)

	assert.Empty(t, l.problems)
}

func TestBuildLayout_Labels(t *testing.T) {
	s := metadata.OutputStream{
		Name:   "PDCOUT",
		IDCode: 1,
		Devices: []metadata.OutputDevice{{
			ID: 1, Acronym: "SUB", Name: "A Very Long Substation Name",
			Phasors: []metadata.OutputPhasor{
				{LoadOrder: 1, Type: "I"},
				{LoadOrder: 2, Label: "BUS1 VOLTAGE", Phase: "a"},
				{LoadOrder: 3, Label: "BUS2 V +SV"},
			},
			Analogs:  []metadata.OutputAnalog{{LoadOrder: 1}},
			Digitals: []metadata.OutputDigital{{LoadOrder: 1}},
		}},
	}

	l, err := buildLayout(defaultConfig(), s, testEpoch)
	require.NoError(t, err)
	cell := l.configuration.Cells[0]

	assert.Equal(t, "Phasor 1 +SI", cell.Phasors[0].Label)
	assert.Equal(t, "BUS1 VOLTAGE APV", cell.Phasors[1].Label)
	assert.Equal(t, "BUS2 V +SV", cell.Phasors[2].Label, "existing phase designation is kept")
	assert.Equal(t, "A Very Long Freq", cell.Frequency.Label)
	assert.Equal(t, "Analog 1", cell.Analogs[0].Label)
	assert.Equal(t, "Digital 1", cell.Digitals[0].Label)

	off := false
	cfg := defaultConfig()
	cfg.AddPhaseLabelSuffix = &off
	l, err = buildLayout(cfg, s, testEpoch)
	require.NoError(t, err)
	assert.Equal(t, "BUS1 VOLTAGE", l.configuration.Cells[0].Phasors[1].Label)
}

func TestBuildLayout_IDCode(t *testing.T) {
	s, _ := testStream()

	cfg := defaultConfig()
	cfg.IDCode = 99
	l, err := buildLayout(cfg, s, testEpoch)
	require.NoError(t, err)
	assert.EqualValues(t, 99, l.configuration.IDCode, "configured ID code wins")

	s.IDCode = 0
	_, err = buildLayout(defaultConfig(), s, testEpoch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

func TestBuildLayout_InvalidFormatOverride(t *testing.T) {
	s, _ := testStream()
	s.Devices[0].AnalogFormat = "bcd"

	l, err := buildLayout(defaultConfig(), s, testEpoch)
	require.NoError(t, err)
	require.Len(t, l.problems, 1)
	assert.True(t, errors.IsInvalid(l.problems[0]))
	assert.Equal(t, phasor.FloatingPoint, l.configuration.Cells[1].AnalogFormat)
}

func TestBuildRoutes(t *testing.T) {
	q1, q2, shared := uuid.New(), uuid.New(), uuid.New()
	pa1, pa2, pa3 := uuid.New(), uuid.New(), uuid.New()
	s := metadata.OutputStream{
		Name:   "PDCOUT",
		IDCode: 1,
		Devices: []metadata.OutputDevice{
			{ID: 1, Acronym: "DEVA", LoadOrder: 1, Phasors: []metadata.OutputPhasor{{LoadOrder: 1}, {LoadOrder: 3}}},
			{ID: 2, Acronym: "DEVB", LoadOrder: 2},
		},
		Measurements: []metadata.OutputMeasurement{
			{Key: q1, SignalReference: "PDCOUT-QF"},
			{Key: q2, SignalReference: "pdcout-qf"},
			{Key: uuid.New(), SignalReference: "OTHER-QF"},
			{Key: uuid.New(), SignalReference: "NOPE-FQ"},
			{Key: uuid.New(), SignalReference: "garbage"},
			{Key: pa3, SignalReference: "DEVA-PA3"},
			{Key: pa2, SignalReference: "DEVA-PA2"},
			{Key: pa1, SignalReference: "DEVA-PA1"},
			{Key: shared, SignalReference: "DEVA-FQ"},
			{Key: shared, SignalReference: "DEVB-FQ"},
		},
	}

	l, err := buildLayout(defaultConfig(), s, time.Now())
	require.NoError(t, err)

	require.Contains(t, l.routes, q1)
	assert.Equal(t, signal.KindQuality, l.routes[q1][0].Kind)
	assert.Equal(t, -1, l.routes[q1][0].CellIndex)
	assert.NotContains(t, l.routes, q2, "second quality flags assignment is rejected")

	assert.NotContains(t, l.routes, pa2, "no phasor with source index 2")
	require.Contains(t, l.routes, pa3)
	assert.Equal(t, "DEVA-PA2", l.routes[pa3][0].String(), "re-indexed after the skipped row")
	assert.Equal(t, 1, l.routes[pa1][0].Index)

	require.Len(t, l.routes[shared], 2)
	assert.Equal(t, 0, l.routes[shared][0].CellIndex)
	assert.Equal(t, 1, l.routes[shared][1].CellIndex)

	assert.Equal(t, 4, l.keys())
	assert.Equal(t, 5, l.destinations)

	var duplicate, unresolved, unparsed int
	for _, p := range l.problems {
		switch {
		case errors.Is(p, errors.ErrDuplicateQualityFlags):
			duplicate++
		case errors.Is(p, errors.ErrUnresolvedDestination):
			unresolved++
		case errors.Is(p, errors.ErrInvalidSignalAddress):
			unparsed++
		}
	}
	assert.Equal(t, 1, duplicate)
	assert.Equal(t, 2, unresolved)
	assert.Equal(t, 1, unparsed)
}

func TestBuildRoutes_ReindexIdempotent(t *testing.T) {
	s, keys := testStream()
	first, err := buildLayout(defaultConfig(), s, testEpoch)
	require.NoError(t, err)

	// Feed the re-indexed references back in
	for i, row := range s.Measurements {
		s.Measurements[i].SignalReference = first.routes[row.Key][0].String()
	}
	second, err := buildLayout(defaultConfig(), s, testEpoch)
	require.NoError(t, err)

	for ref, key := range keys {
		assert.Equal(t, first.routes[key], second.routes[key], ref)
	}
}
