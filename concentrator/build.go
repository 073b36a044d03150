package concentrator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/metadata"
	"github.com/c360/phasorstreams/phasor"
	"github.com/c360/phasorstreams/signal"
)

// layout is the product of one configuration build: the frame every published
// data frame is shaped by and the destinations of each measurement key.
type layout struct {
	configuration *phasor.ConfigurationFrame
	cellIndexes   map[string]int
	routes        map[uuid.UUID][]signal.Address
	// destinations counts routed addresses over all keys
	destinations int
	problems     []error
}

func (l *layout) keys() int { return len(l.routes) }

// buildLayout derives the configuration frame and the measurement routing table
// of an output stream.
func buildLayout(cfg Config, stream metadata.OutputStream, now time.Time) (*layout, error) {
	idCode := cfg.IDCode
	if idCode == 0 {
		idCode = stream.IDCode
	}
	if idCode == 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: no ID code for %s", errors.ErrInvalidConfig, cfg.Name),
			"concentrator", "buildLayout", "ID code check")
	}
	defaults, err := cfg.formats()
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"concentrator", "buildLayout", "default formats")
	}

	l := &layout{
		configuration: phasor.NewConfigurationFrame(idCode, now, uint16(cfg.FramesPerSecond)),
		cellIndexes:   make(map[string]int),
		routes:        make(map[uuid.UUID][]signal.Address),
	}

	devices := append([]metadata.OutputDevice(nil), stream.Devices...)
	sort.SliceStable(devices, func(i, j int) bool { return devices[i].LoadOrder < devices[j].LoadOrder })

	for _, d := range devices {
		cell, problems := buildCell(cfg, defaults, d)
		l.problems = append(l.problems, problems...)
		acronym := strings.ToUpper(strings.TrimSpace(d.Acronym))
		if _, dup := l.cellIndexes[acronym]; dup {
			l.problems = append(l.problems, errors.WrapInvalid(
				fmt.Errorf("%w: device %s is defined more than once", errors.ErrInvalidConfig, acronym),
				"concentrator", "buildLayout", "cell index"))
			continue
		}
		l.cellIndexes[acronym] = len(l.configuration.Cells)
		l.configuration.Cells = append(l.configuration.Cells, cell)
	}

	l.buildRoutes(cfg.Name, stream.Measurements)
	return l, nil
}

func buildCell(cfg Config, defaults defaultFormats, d metadata.OutputDevice) (*phasor.ConfigurationCell, []error) {
	var problems []error
	invalid := func(err error) {
		problems = append(problems, errors.WrapInvalid(fmt.Errorf("%w: device %s: %v", errors.ErrInvalidConfig, d.Acronym, err),
			"concentrator", "buildCell", "format override"))
	}

	idCode := d.IDCode
	if idCode == 0 {
		idCode = uint16(d.ID)
	}
	acronym := strings.ToUpper(strings.TrimSpace(d.Acronym))
	name := strings.TrimSpace(d.Name)
	if name == "" {
		name = acronym
	}

	cell := phasor.NewConfigurationCell(idCode, phasor.Truncate(acronym, phasor.MaxLabelLength), acronym)

	var err error
	if cell.PhasorFormat, err = phasor.ParseDataFormat(d.PhasorFormat, defaults.phasor); err != nil {
		invalid(err)
	}
	if cell.FrequencyFormat, err = phasor.ParseDataFormat(d.FrequencyFormat, defaults.frequency); err != nil {
		invalid(err)
	}
	if cell.AnalogFormat, err = phasor.ParseDataFormat(d.AnalogFormat, defaults.analog); err != nil {
		invalid(err)
	}
	if cell.CoordinateFormat, err = phasor.ParseCoordinateFormat(d.CoordinateFormat, defaults.coordinate); err != nil {
		invalid(err)
	}

	phasors := append([]metadata.OutputPhasor(nil), d.Phasors...)
	sort.SliceStable(phasors, func(i, j int) bool { return phasors[i].LoadOrder < phasors[j].LoadOrder })
	for i, p := range phasors {
		kind := phasor.ParsePhasorType(p.Type)
		label := strings.TrimSpace(p.Label)
		if label == "" {
			label = fmt.Sprintf("Phasor %d", i+1)
		}
		if cfg.PhaseLabelSuffix() {
			label = phasor.PhasorLabel(label, phaseOf(p.Phase), kind)
		} else {
			label = phasor.Truncate(label, phasor.MaxLabelLength)
		}
		scaling := p.ScalingValue
		if scaling == 0 {
			scaling = cfg.VoltageScalingValue
			if kind == phasor.Current {
				scaling = cfg.CurrentScalingValue
			}
		}
		sourceIndex := p.LoadOrder
		if sourceIndex <= 0 {
			sourceIndex = i + 1
		}
		cell.Phasors = append(cell.Phasors, phasor.PhasorDefinition{
			Label:        label,
			Type:         kind,
			ScalingValue: scaling,
			SourceIndex:  sourceIndex,
		})
	}

	nominal := d.NominalFrequency
	if nominal == 0 {
		nominal = cfg.NominalFrequency
	}
	cell.Frequency = phasor.FrequencyDefinition{Label: phasor.FrequencyLabel(name), NominalFrequency: nominal}

	analogs := append([]metadata.OutputAnalog(nil), d.Analogs...)
	sort.SliceStable(analogs, func(i, j int) bool { return analogs[i].LoadOrder < analogs[j].LoadOrder })
	for i, a := range analogs {
		label := strings.TrimSpace(a.Label)
		if label == "" {
			label = fmt.Sprintf("Analog %d", i+1)
		}
		scaling := a.ScalingValue
		if scaling == 0 {
			scaling = cfg.AnalogScalingValue
		}
		cell.Analogs = append(cell.Analogs, phasor.AnalogDefinition{
			Label:        phasor.Truncate(label, phasor.MaxLabelLength),
			Type:         phasor.AnalogType(a.Type),
			ScalingValue: scaling,
		})
	}

	digitals := append([]metadata.OutputDigital(nil), d.Digitals...)
	sort.SliceStable(digitals, func(i, j int) bool { return digitals[i].LoadOrder < digitals[j].LoadOrder })
	for i, dg := range digitals {
		label := strings.TrimSpace(dg.Label)
		if label == "" {
			label = fmt.Sprintf("Digital %d", i+1)
		}
		mask := dg.MaskValue
		if mask == 0 {
			mask = cfg.DigitalMaskValue
		}
		cell.Digitals = append(cell.Digitals, phasor.DigitalDefinition{
			Label:     phasor.Truncate(label, phasor.MaxLabelLength*16),
			MaskValue: mask,
		})
	}
	return cell, problems
}

// phaseOf reads the phase designation; '+' when empty.
func phaseOf(s string) rune {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return '+'
	}
	return []rune(s)[0]
}

type routeRow struct {
	key     uuid.UUID
	address signal.Address
}

// buildRoutes resolves every output measurement row to a frame destination.
// Rows are processed in address order so re-indexing is deterministic.
func (l *layout) buildRoutes(streamName string, rows []metadata.OutputMeasurement) {
	parsed := make([]routeRow, 0, len(rows))
	for _, row := range rows {
		a, err := signal.Parse(row.SignalReference)
		if err != nil {
			l.problems = append(l.problems, err)
			continue
		}
		parsed = append(parsed, routeRow{key: row.Key, address: a})
	}
	sort.SliceStable(parsed, func(i, j int) bool {
		return signal.Compare(parsed[i].address, parsed[j].address) < 0
	})

	streamAcronym := strings.ToUpper(strings.TrimSpace(streamName))
	var qualityAssigned bool
	var reindexer signal.Reindexer

	for _, row := range parsed {
		a := row.address
		if a.Kind == signal.KindQuality {
			if a.Acronym != streamAcronym {
				l.problems = append(l.problems, errors.WrapInvalid(
					fmt.Errorf("%w: %s targets %s, quality flags belong to the stream acronym %s",
						errors.ErrUnresolvedDestination, a, a.Acronym, streamAcronym),
					"concentrator", "buildRoutes", "quality flags"))
				continue
			}
			if qualityAssigned {
				l.problems = append(l.problems, errors.WrapInvalid(
					fmt.Errorf("%w: %s for key %s ignored", errors.ErrDuplicateQualityFlags, a, row.key),
					"concentrator", "buildRoutes", "quality flags"))
				continue
			}
			qualityAssigned = true
		} else {
			a = a.ResolveCellIndex(l.cellIndexes)
			if a.CellIndex < 0 {
				l.problems = append(l.problems, errors.WrapInvalid(
					fmt.Errorf("%w: no device %s for %s", errors.ErrUnresolvedDestination, a.Acronym, a),
					"concentrator", "buildRoutes", "cell index"))
				continue
			}
			if a.Kind == signal.KindAngle || a.Kind == signal.KindMagnitude {
				if _, ok := l.configuration.Cells[a.CellIndex].PhasorBySourceIndex(a.Index); !ok {
					continue
				}
			}
		}

		a = reindexer.Next(a)
		l.routes[row.key] = append(l.routes[row.key], a)
		l.destinations++
	}
}
