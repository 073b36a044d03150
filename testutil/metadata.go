package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/c360/phasorstreams/measurement"
	"github.com/c360/phasorstreams/metadata"
)

// Names used by SampleDocument.
const (
	SampleConnection   = "PDC"
	SampleAccessID     = 235
	SampleOutputStream = "PDCOUT"
	SampleOutputIDCode = 2000
)

// DeviceAReferences are the signals of DEVA: status, two phasors, frequency,
// dF/dt, one analog and one digital.
var DeviceAReferences = []string{
	"DEVA-SF", "DEVA-PA1", "DEVA-PM1", "DEVA-PA2", "DEVA-PM2",
	"DEVA-FQ", "DEVA-DF", "DEVA-AV1", "DEVA-DV1",
}

// DeviceBReferences are the signals of DEVB: one phasor, frequency and dF/dt.
var DeviceBReferences = []string{"DEVB-PA1", "DEVB-PM1", "DEVB-FQ", "DEVB-DF"}

// Keys maps signal references to measurement keys.
type Keys map[string]uuid.UUID

// Key returns the deterministic key of a signal reference.
func Key(reference string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("phasorstreams/"+reference))
}

// SampleDocument describes concentrator connection PDC (access ID 235) with
// DEVA (ID 1) and DEVB (ID 2), and output stream PDCOUT (ID code 2000) that
// re-publishes both devices. Inbound and outbound records share keys, so
// measurements mapped from PDC route straight into PDCOUT.
func SampleDocument() (*metadata.Document, Keys) {
	keys := make(Keys)
	inbound := append([]string{SampleConnection + "-QF"}, DeviceAReferences...)
	inbound = append(inbound, DeviceBReferences...)

	defs := make([]measurement.Definition, 0, len(inbound))
	for _, ref := range inbound {
		keys[ref] = Key(ref)
		defs = append(defs, measurement.Definition{
			Key:             keys[ref],
			PointTag:        "SAMPLE:" + ref,
			SignalReference: ref,
			Multiplier:      1,
		})
	}

	outbound := append([]string{SampleOutputStream + "-QF"}, DeviceAReferences...)
	outbound = append(outbound, DeviceBReferences...)
	rows := make([]metadata.OutputMeasurement, 0, len(outbound))
	for _, ref := range outbound {
		if _, ok := keys[ref]; !ok {
			keys[ref] = Key(ref)
		}
		rows = append(rows, metadata.OutputMeasurement{Key: keys[ref], SignalReference: ref})
	}

	return &metadata.Document{
		Connections: []metadata.Connection{{
			ID:             1,
			Name:           SampleConnection,
			AccessIDs:      []uint16{SampleAccessID},
			IsConcentrator: true,
			Devices: []metadata.InputDevice{
				{ID: 10, Acronym: "DEVA", Name: "Device A", AccessID: 1},
				{ID: 11, Acronym: "DEVB", Name: "Device B", AccessID: 2},
			},
			Measurements: defs,
		}},
		OutputStreams: []metadata.OutputStream{{
			ID:     1,
			Name:   SampleOutputStream,
			IDCode: SampleOutputIDCode,
			Devices: []metadata.OutputDevice{
				{
					ID: 10, IDCode: 1, Acronym: "DEVA", Name: "Device A", LoadOrder: 1,
					Phasors: []metadata.OutputPhasor{
						{LoadOrder: 1, Label: "VA", Type: "V", Phase: "A"},
						{LoadOrder: 2, Label: "IA", Type: "I", Phase: "A"},
					},
					Analogs:  []metadata.OutputAnalog{{LoadOrder: 1, Label: "MW"}},
					Digitals: []metadata.OutputDigital{{LoadOrder: 1, Label: "BREAKERS"}},
				},
				{
					ID: 11, IDCode: 2, Acronym: "DEVB", Name: "Device B", LoadOrder: 2,
					Phasors: []metadata.OutputPhasor{{LoadOrder: 1, Label: "VB", Type: "V", Phase: "B"}},
				},
			},
			Measurements: rows,
		}},
	}, keys
}

// WriteDocument writes doc as JSON into a temporary directory and returns the path.
func WriteDocument(t testing.TB, doc *metadata.Document) string {
	t.Helper()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		t.Fatalf("encode metadata document: %v", err)
	}
	path := filepath.Join(t.TempDir(), "metadata.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write metadata document: %v", err)
	}
	return path
}
