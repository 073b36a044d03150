package concentrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/c360/phasorstreams/measurement"
	"github.com/c360/phasorstreams/metadata"
	"github.com/c360/phasorstreams/phasor"
	"github.com/c360/phasorstreams/transport"
)

var errSocket = errors.New("socket closed")

// fakeChannel records published images and replies.
type fakeChannel struct {
	name     string
	cfg      transport.Config
	handlers transport.Handlers

	mu           sync.Mutex
	multicast    [][]byte
	replies      map[string][][]byte
	starts       int
	stopped      bool
	startErr     error
	multicastErr error
}

func (c *fakeChannel) Name() string             { return c.name }
func (c *fakeChannel) Config() transport.Config { return c.cfg }
func (c *fakeChannel) ClientCount() int         { return 2 }
func (c *fakeChannel) Stats() transport.Stats   { return transport.Stats{} }

func (c *fakeChannel) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	return c.startErr
}

func (c *fakeChannel) Stop() error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) Send(data []byte) error { return c.Multicast(data) }

func (c *fakeChannel) Multicast(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.multicastErr != nil {
		return c.multicastErr
	}
	c.multicast = append(c.multicast, append([]byte(nil), data...))
	return nil
}

func (c *fakeChannel) SendTo(remote string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.replies == nil {
		c.replies = make(map[string][][]byte)
	}
	c.replies[remote] = append(c.replies[remote], append([]byte(nil), data...))
	return nil
}

func (c *fakeChannel) images() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.multicast...)
}

func (c *fakeChannel) repliesTo(remote string) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.replies[remote]...)
}

func (c *fakeChannel) startCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

// framesOfType returns the images of one frame type.
func (c *fakeChannel) framesOfType(t phasor.FrameType) [][]byte {
	var out [][]byte
	for _, image := range c.images() {
		if ft, err := phasor.PeekFrameType(image); err == nil && ft == t {
			out = append(out, image)
		}
	}
	return out
}

// channelFactory hands out fake channels. configure may adjust each new channel.
type channelFactory struct {
	configure func(ch *fakeChannel)

	mu       sync.Mutex
	channels []*fakeChannel
	created  atomic.Int32
}

func (f *channelFactory) New(cfg transport.Config, deps transport.Deps) (transport.Channel, error) {
	ch := &fakeChannel{name: deps.Name, cfg: cfg, handlers: deps.Handlers}
	if f.configure != nil {
		f.configure(ch)
	}
	f.mu.Lock()
	f.channels = append(f.channels, ch)
	f.mu.Unlock()
	f.created.Add(1)
	return ch, nil
}

// latest returns the newest channel with the given name.
func (f *channelFactory) latest(name string) *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.channels) - 1; i >= 0; i-- {
		if f.channels[i].name == name {
			return f.channels[i]
		}
	}
	return nil
}

func (f *channelFactory) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ch := range f.channels {
		if ch.name == name {
			n++
		}
	}
	return n
}

// clock is an adjustable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// outputReferences are the routed signals of the test stream.
var outputReferences = []string{
	"PDCOUT-QF",
	"DEVA-SF", "DEVA-PA1", "DEVA-PM1", "DEVA-PA2", "DEVA-PM2", "DEVA-FQ", "DEVA-DF", "DEVA-AV1", "DEVA-DV1",
	"DEVB-PA1", "DEVB-PM1", "DEVB-FQ", "DEVB-DF",
}

// testStream defines output PDCOUT with DEVA (two phasors, one analog, one digital)
// and DEVB (one phasor, ID code 7).
func testStream() (metadata.OutputStream, map[string]uuid.UUID) {
	keys := make(map[string]uuid.UUID, len(outputReferences))
	rows := make([]metadata.OutputMeasurement, 0, len(outputReferences))
	for _, ref := range outputReferences {
		key := uuid.New()
		keys[ref] = key
		rows = append(rows, metadata.OutputMeasurement{Key: key, SignalReference: ref})
	}
	return metadata.OutputStream{
		ID:     1,
		Name:   "PDCOUT",
		IDCode: 2000,
		Devices: []metadata.OutputDevice{
			{
				ID: 12, IDCode: 7, Acronym: "DEVB", Name: "Device B", LoadOrder: 2,
				Phasors: []metadata.OutputPhasor{{LoadOrder: 1, Label: "VB", Type: "V", Phase: "B"}},
			},
			{
				ID: 11, Acronym: "DEVA", Name: "Device A", LoadOrder: 1,
				Phasors: []metadata.OutputPhasor{
					{LoadOrder: 2, Label: "IA", Type: "I", Phase: "A"},
					{LoadOrder: 1, Label: "VA", Type: "V", Phase: "A"},
				},
				Analogs:  []metadata.OutputAnalog{{LoadOrder: 1, Label: "MW"}},
				Digitals: []metadata.OutputDigital{{LoadOrder: 1, Label: "BREAKERS"}},
			},
		},
		Measurements: rows,
	}, keys
}

type testConcentrator struct {
	*Concentrator
	channels *channelFactory
	clock    *clock
	keys     map[string]uuid.UUID
}

var testEpoch = time.Date(2026, 10, 19, 12, 0, 5, 0, time.UTC)

// newTestConcentrator builds an initialized concentrator over testStream. It is
// not started. A UDP data channel is added when none is given, also alongside
// a command channel.
func newTestConcentrator(t *testing.T, cfg Config, configure func(*fakeChannel)) *testConcentrator {
	t.Helper()
	s, keys := testStream()
	if cfg.Name == "" {
		cfg.Name = "PDCOUT"
	}
	if cfg.DataChannel == "" {
		cfg.DataChannel = "protocol=udp; server=127.0.0.1:8800"
	}
	if cfg.ReinitializeDelay == 0 {
		cfg.ReinitializeDelay = 10 * time.Millisecond
	}

	tc := &testConcentrator{
		channels: &channelFactory{configure: configure},
		clock:    &clock{t: testEpoch},
		keys:     keys,
	}
	c, err := New(Deps{
		Config:     cfg,
		Metadata:   metadata.NewStore(&metadata.Document{OutputStreams: []metadata.OutputStream{s}}, "", nil),
		NewChannel: tc.channels.New,
		Now:        tc.clock.Now,
	})
	require.NoError(t, err)
	require.NoError(t, c.Initialize())
	tc.Concentrator = c
	return tc
}

// start starts the concentrator and stops it at cleanup.
func (tc *testConcentrator) start(t *testing.T) {
	t.Helper()
	require.NoError(t, tc.Start(context.Background()))
	t.Cleanup(func() { _ = tc.Stop(time.Second) })
}

// values builds one measurement per reference at ts.
func (tc *testConcentrator) values(ts time.Time, values map[string]float64) []measurement.Measurement {
	out := make([]measurement.Measurement, 0, len(values))
	for ref, v := range values {
		out = append(out, measurement.Measurement{Key: tc.keys[ref], Value: v, Timestamp: ts})
	}
	return out
}

// assignAll routes measurements directly into frame.
func (tc *testConcentrator) assignAll(frame *phasor.DataFrame, ms []measurement.Measurement) {
	routes := tc.layout.Load().routes
	for _, m := range ms {
		for _, dest := range routes[m.Key] {
			tc.assign(frame, routedMeasurement{Measurement: m, destination: dest})
		}
	}
}

// fullDeviceA assigns every field of DEVA and the stream quality flags.
var fullDeviceA = map[string]float64{
	"PDCOUT-QF": 5,
	"DEVA-SF":   0,
	"DEVA-PA1":  30,
	"DEVA-PM1":  134000,
	"DEVA-PA2":  -20,
	"DEVA-PM2":  500,
	"DEVA-FQ":   59.98,
	"DEVA-DF":   0.01,
	"DEVA-AV1":  250,
	"DEVA-DV1":  3,
}
