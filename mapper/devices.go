package mapper

import (
	"fmt"
	"strings"

	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/metadata"
	"github.com/c360/phasorstreams/phasor"
	"github.com/c360/phasorstreams/statistics"
)

// deviceSet is the immutable device resolution table of one connection epoch.
type deviceSet struct {
	byID map[uint16]*statistics.DeviceStatistics
	// byLabel is keyed by upper-cased station name; nil when no device needs it
	byLabel map[string]*statistics.DeviceStatistics
	all     []*statistics.DeviceStatistics
	// problems lists devices excluded for ambiguous identity
	problems []error
	// forced records that label mapping was forced by configuration
	forced bool
}

func labelKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func (s *deviceSet) addByID(d *statistics.DeviceStatistics) {
	s.byID[d.IDCode()] = d
	s.all = append(s.all, d)
}

func (s *deviceSet) addByLabel(d *statistics.DeviceStatistics) {
	if s.byLabel == nil {
		s.byLabel = make(map[string]*statistics.DeviceStatistics)
	}
	s.byLabel[labelKey(d.StationName())] = d
	s.all = append(s.all, d)
}

func (s *deviceSet) hasLabel(name string) bool {
	_, ok := s.byLabel[labelKey(name)]
	return ok
}

func (s *deviceSet) ambiguous(idCode uint16, name, connection string) {
	s.problems = append(s.problems, errors.WrapInvalid(
		fmt.Errorf("%w: device ID %d labeled %q is not unique in %s", errors.ErrAmbiguousDevice, idCode, name, connection),
		"Mapper", "loadDevices", "device identity resolution"))
}

// resolve finds the defined device for a parsed cell: label map first, then ID code.
func (s *deviceSet) resolve(cell *phasor.DataCell) (*statistics.DeviceStatistics, bool) {
	if s.byLabel != nil {
		if d, ok := s.byLabel[labelKey(cell.StationName)]; ok {
			return d, true
		}
	}
	d, ok := s.byID[cell.IDCode]
	return d, ok
}

// byIDCode finds a device by ID code in either map.
func (s *deviceSet) byIDCode(idCode uint16) (*statistics.DeviceStatistics, bool) {
	for _, d := range s.all {
		if d.IDCode() == idCode {
			return d, true
		}
	}
	return nil, false
}

// loadDevices builds the device table of a connection.
//
// Concentrator devices are keyed by access ID; a device whose ID collides falls
// back to its label, and a label collision excludes the device. With forced label
// mapping the label comes first and the ID code is the fallback. A single-device
// connection defines one device per access ID named after the shared mapping or
// the connection, or only the first access ID when label mapping is forced.
func loadDevices(conn metadata.Connection) *deviceSet {
	set := &deviceSet{
		byID:   make(map[uint16]*statistics.DeviceStatistics),
		forced: conn.ForceLabelMapping,
	}

	if conn.IsConcentrator {
		for _, dev := range conn.Devices {
			acronym := strings.TrimSpace(dev.Acronym)
			if acronym == "" {
				acronym = "[undefined]"
			}
			name := strings.TrimSpace(dev.Name)
			if name == "" {
				name = acronym
			}
			name = phasor.Truncate(name, phasor.MaxLabelLength)
			d := statistics.NewDeviceStatistics(dev.AccessID, acronym, name)

			_, idTaken := set.byID[dev.AccessID]
			switch {
			case conn.ForceLabelMapping && !set.hasLabel(name):
				set.addByLabel(d)
			case conn.ForceLabelMapping && idTaken:
				set.ambiguous(dev.AccessID, name, conn.Name)
			case conn.ForceLabelMapping:
				set.addByID(d)
			case !idTaken:
				set.addByID(d)
			case set.hasLabel(name):
				set.ambiguous(dev.AccessID, name, conn.Name)
			default:
				set.addByLabel(d)
			}
		}
		return set
	}

	name := strings.TrimSpace(conn.DeviceName())
	if name == "" {
		name = "[undefined]"
	}
	ids := conn.AccessIDs
	if conn.ForceLabelMapping && len(ids) > 1 {
		ids = ids[:1]
	}
	for _, id := range ids {
		d := statistics.NewDeviceStatistics(id, strings.ToUpper(name), phasor.Truncate(name, phasor.MaxLabelLength))
		if conn.ForceLabelMapping {
			set.addByLabel(d)
			continue
		}
		if _, taken := set.byID[id]; taken {
			set.ambiguous(id, name, conn.Name)
			continue
		}
		set.addByID(d)
	}
	return set
}

// describe renders the expected device list.
func (s *deviceSet) describe() string {
	var b strings.Builder
	for i, d := range s.all {
		fmt.Fprintf(&b, "   Device %02d: %s (%d)\n", i, d.StationName(), d.IDCode())
	}
	return b.String()
}
