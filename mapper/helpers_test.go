package mapper

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/c360/phasorstreams/configcache"
	"github.com/c360/phasorstreams/measurement"
	"github.com/c360/phasorstreams/metadata"
	"github.com/c360/phasorstreams/phasor"
	"github.com/c360/phasorstreams/signal"
	"github.com/c360/phasorstreams/transport"
)

// fakeChannel records sent frames and lets tests fire channel events.
type fakeChannel struct {
	cfg      transport.Config
	handlers transport.Handlers

	mu      sync.Mutex
	sent    [][]byte
	started bool
	stopped bool
}

func (c *fakeChannel) Name() string             { return "fake" }
func (c *fakeChannel) Config() transport.Config { return c.cfg }
func (c *fakeChannel) Start(context.Context) error {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) Stop() error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	return nil
}
func (c *fakeChannel) Multicast(data []byte) error { return c.Send(data) }
func (c *fakeChannel) ClientCount() int            { return 1 }
func (c *fakeChannel) Stats() transport.Stats      { return transport.Stats{} }

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

// commands decodes every sent command frame.
func (c *fakeChannel) commands() []phasor.DeviceCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []phasor.DeviceCommand
	for _, data := range c.sent {
		cf := &phasor.CommandFrame{}
		if err := cf.UnmarshalBinary(data); err == nil {
			out = append(out, cf.Command)
		}
	}
	return out
}

// channelFactory hands out fake channels and counts connection attempts.
type channelFactory struct {
	mu       sync.Mutex
	channels []*fakeChannel
	created  atomic.Int32
}

func (f *channelFactory) New(cfg transport.Config, deps transport.Deps) (transport.Channel, error) {
	ch := &fakeChannel{cfg: cfg, handlers: deps.Handlers}
	f.mu.Lock()
	f.channels = append(f.channels, ch)
	f.mu.Unlock()
	f.created.Add(1)
	return ch, nil
}

func (f *channelFactory) last() *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.channels) == 0 {
		return nil
	}
	return f.channels[len(f.channels)-1]
}

// captureSink collects published measurements.
type captureSink struct {
	mu      sync.Mutex
	batches [][]measurement.Measurement
}

func (s *captureSink) Write(_ string, ms []measurement.Measurement) error {
	s.mu.Lock()
	s.batches = append(s.batches, append([]measurement.Measurement(nil), ms...))
	s.mu.Unlock()
	return nil
}

func (s *captureSink) all() []measurement.Measurement {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []measurement.Measurement
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

// definitions defines a measurement for every reference and returns keys by reference.
func definitions(refs ...string) ([]measurement.Definition, map[string]uuid.UUID) {
	defs := make([]measurement.Definition, 0, len(refs))
	keys := make(map[string]uuid.UUID, len(refs))
	for _, ref := range refs {
		key := uuid.New()
		keys[ref] = key
		defs = append(defs, measurement.Definition{Key: key, PointTag: "TAG:" + ref, SignalReference: ref, Multiplier: 1})
	}
	return defs, keys
}

// deviceAReferences are the signals of a device with two phasors, one analog and
// one digital, status included.
var deviceAReferences = []string{
	"DEVA-SF", "DEVA-PA1", "DEVA-PM1", "DEVA-PA2", "DEVA-PM2",
	"DEVA-FQ", "DEVA-DF", "DEVA-AV1", "DEVA-DV1",
}

// testDocument defines concentrator PDC with DEVA (ID 1) and DEVB (ID 2). Only
// DEVA and the connection quality flags have measurements.
func testDocument() (*metadata.Document, map[string]uuid.UUID) {
	defs, keys := definitions(append([]string{"PDC-QF"}, deviceAReferences...)...)
	return &metadata.Document{
		Connections: []metadata.Connection{{
			ID:             1,
			Name:           "PDC",
			AccessIDs:      []uint16{235},
			IsConcentrator: true,
			Devices: []metadata.InputDevice{
				{ID: 10, Acronym: "DEVA", Name: "DEVA", AccessID: 1},
				{ID: 11, Acronym: "DEVB", Name: "DEVB", AccessID: 2},
			},
			Measurements: defs,
		}},
	}, keys
}

func configurationCell(id uint16, name string, phasors, analogs, digitals int) *phasor.ConfigurationCell {
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
		c.Analogs = append(c.Analogs, phasor.AnalogDefinition{Label: "MW", Type: phasor.RMSOfAnalogInput, ScalingValue: phasor.DefaultAnalogScalingValue})
	}
	for i := 0; i < digitals; i++ {
		c.Digitals = append(c.Digitals, phasor.DigitalDefinition{Label: "BREAKERS", MaskValue: phasor.DefaultDigitalMaskValue})
	}
	return c
}

// testConfiguration streams DEVA (ID 1) and an undefined DEVC (ID 3).
func testConfiguration(ts time.Time) *phasor.ConfigurationFrame {
	cfg := phasor.NewConfigurationFrame(235, ts, 30)
	cfg.Cells = []*phasor.ConfigurationCell{
		configurationCell(1, "DEVA", 2, 1, 1),
		configurationCell(3, "DEVC", 1, 0, 0),
	}
	return cfg
}

func testData(cfg *phasor.ConfigurationFrame, ts time.Time) *phasor.DataFrame {
	f := phasor.NewDataFrame(cfg, ts)
	a := f.Cells[0]
	a.Phasors[0] = phasor.PhasorValue{Angle: 30, Magnitude: 134000}
	a.Phasors[1] = phasor.PhasorValue{Angle: -90, Magnitude: 133500}
	a.Frequency = 59.98
	a.DfDt = 0.01
	a.Analogs[0] = 250
	a.SetDigital(0, 0x0001)

	c := f.Cells[1]
	c.Phasors[0] = phasor.PhasorValue{Angle: 10, Magnitude: 120000}
	c.Frequency = 60.01
	c.DfDt = 0
	return f
}

type testMapper struct {
	*Mapper
	sink     *captureSink
	channels *channelFactory
	cache    *configcache.MemoryStore
	keys     map[string]uuid.UUID
}

// newTestMapper builds an initialized mapper over testDocument. Devices are loaded;
// the mapper is not started.
func newTestMapper(t *testing.T, cfg Config) *testMapper {
	t.Helper()
	doc, keys := testDocument()
	if cfg.Name == "" {
		cfg.Name = "PDC"
	}
	if cfg.ConnectionString == "" {
		cfg.ConnectionString = "protocol=tcp; server=127.0.0.1:4712"
	}

	tm := &testMapper{
		sink:     &captureSink{},
		channels: &channelFactory{},
		cache:    configcache.NewMemoryStore(),
		keys:     keys,
	}
	m, err := New(Deps{
		Config:     cfg,
		Metadata:   metadata.NewStore(doc, "", nil),
		Sink:       tm.sink,
		Cache:      tm.cache,
		NewChannel: tm.channels.New,
	})
	require.NoError(t, err)
	require.NoError(t, m.Initialize())
	require.NoError(t, m.LoadDevices())
	tm.Mapper = m
	return tm
}

func (tm *testMapper) device(t *testing.T, id uint16) *statisticsView {
	t.Helper()
	d, ok := tm.devices.Load().byIDCode(id)
	require.True(t, ok, "device %d defined", id)
	s := d.Snapshot()
	return &statisticsView{TotalFrames: s.TotalFrames, DataQualityErrors: s.DataQualityErrors,
		Received: s.MeasurementsReceived, WithError: s.MeasurementsWithError}
}

type statisticsView struct {
	TotalFrames       int64
	DataQualityErrors int64
	Received          int64
	WithError         int64
}

func addresses(t *testing.T, ms []measurement.Measurement, keys map[string]uuid.UUID) []string {
	t.Helper()
	byKey := make(map[uuid.UUID]string, len(keys))
	for ref, key := range keys {
		byKey[key] = signal.MustParse(ref).String()
	}
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		ref, ok := byKey[m.Key]
		require.True(t, ok, "unexpected key %s", m.Key)
		out = append(out, ref)
	}
	return out
}
