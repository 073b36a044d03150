package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/phasorstreams/concentrator"
	"github.com/c360/phasorstreams/mapper"
	"github.com/c360/phasorstreams/metadata"
	"github.com/c360/phasorstreams/phasor"
	"github.com/c360/phasorstreams/service"
	"github.com/c360/phasorstreams/statistics"
	"github.com/c360/phasorstreams/stream"
	"github.com/c360/phasorstreams/testutil"
)

const testPrefix = "test.measurements"

// pipeline is a mapper and a concentrator joined by a stream writer over an
// in-memory bus, the way newNode wires them over NATS.
type pipeline struct {
	bus      *testutil.MockNATSClient
	inbound  *testutil.ChannelFactory
	outbound *testutil.ChannelFactory
	mapper   *mapper.Mapper
	output   *concentrator.Concentrator
	stats    *statistics.Engine
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	doc, _ := testutil.SampleDocument()
	store := metadata.NewStore(doc, "", nil)
	p := &pipeline{
		bus:      testutil.NewMockNATSClient(),
		inbound:  &testutil.ChannelFactory{},
		outbound: &testutil.ChannelFactory{},
		stats:    statistics.NewEngine(statistics.EngineDeps{}),
	}
	ctx, cancel := context.WithCancel(context.Background())

	writer, err := stream.NewWriter(stream.WriterDeps{Publisher: p.bus, SubjectPrefix: testPrefix})
	require.NoError(t, err)
	require.NoError(t, writer.Start(ctx))

	p.output, err = concentrator.New(concentrator.Deps{
		Config: concentrator.Config{
			Name:            testutil.SampleOutputStream,
			DataChannel:     "protocol=udp; server=127.0.0.1:8800",
			FramesPerSecond: 10,
			LagTime:         300 * time.Millisecond,
			LeadTime:        time.Second,
		},
		Metadata:      store,
		Subscriber:    p.bus,
		SubjectPrefix: testPrefix,
		Statistics:    p.stats,
		NewChannel:    p.outbound.New,
	})
	require.NoError(t, err)
	require.NoError(t, p.output.Initialize())
	require.NoError(t, p.output.Start(ctx))

	p.mapper, err = mapper.New(mapper.Deps{
		Config: mapper.Config{
			Name:             testutil.SampleConnection,
			ConnectionString: "protocol=udp; port=4713",
		},
		Metadata:   store,
		Sink:       writer,
		Statistics: p.stats,
		NewChannel: p.inbound.New,
	})
	require.NoError(t, err)
	require.NoError(t, p.mapper.Initialize())
	require.NoError(t, p.mapper.Start(ctx))

	t.Cleanup(func() {
		_ = p.mapper.Stop(time.Second)
		_ = p.output.Stop(time.Second)
		writer.Stop()
		cancel()
	})
	return p
}

// stream sends a configuration frame and one data frame per timestamp.
func (p *pipeline) stream(t *testing.T, timestamps ...time.Time) {
	t.Helper()
	device := p.inbound.Latest(testutil.SampleConnection)
	require.NotNil(t, device, "input channel created")

	cfg := testutil.SampleConfiguration(timestamps[0], 10)
	image, err := cfg.MarshalBinary()
	require.NoError(t, err)
	device.Deliver("device", image)

	for _, ts := range timestamps {
		data, err := testutil.SampleData(cfg, ts).MarshalBinary()
		require.NoError(t, err)
		device.Deliver("device", data)
	}
}

func TestPipeline_InboundToOutbound(t *testing.T) {
	p := newPipeline(t)
	ts := time.Now().UTC().Truncate(100 * time.Millisecond)
	p.stream(t, ts)

	in := p.mapper.InboundStatistics()
	assert.EqualValues(t, 2, in.TotalFrames)
	assert.EqualValues(t, 1, in.ConfigurationChanges)

	subject := stream.Subject(testPrefix, testutil.SampleConnection)
	testutil.WaitForMessageCount(t, p.bus, subject, 1, 2*time.Second)
	batch, err := stream.Decode(p.bus.GetMessages(subject)[0])
	require.NoError(t, err)
	assert.Equal(t, testutil.SampleConnection, batch.Source)
	assert.NotEmpty(t, batch.Measurements)

	require.Eventually(t, func() bool {
		return p.output.OutboundStatistics().PublishedFrames >= 1
	}, 5*time.Second, 10*time.Millisecond)

	out := p.output.OutboundStatistics()
	assert.Greater(t, out.LifetimeMeasurements, int64(0))
	assert.Greater(t, out.BytesSent, int64(0))

	data := p.outbound.Latest(testutil.SampleOutputStream + "-data")
	require.NotNil(t, data)
	assert.NotEmpty(t, data.SentOfType(phasor.FrameTypeData))
}

func TestPipeline_AdminAPI(t *testing.T) {
	p := newPipeline(t)

	admin, err := service.New(service.Deps{
		Inputs:         []service.Adapter{p.mapper},
		Outputs:        []service.Adapter{p.output},
		InputCommands:  mapper.Commands(),
		OutputCommands: concentrator.Commands(),
		Statistics:     p.stats,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(admin.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/outputs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var outputs []service.AdapterSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&outputs))
	require.Len(t, outputs, 1)
	assert.Equal(t, testutil.SampleOutputStream, outputs[0].Name)
	assert.True(t, outputs[0].Running)

	cmd, err := http.Post(srv.URL+"/api/outputs/PDCOUT/RequestCurrentConfiguration", "application/json", nil)
	require.NoError(t, err)
	defer cmd.Body.Close()
	assert.Equal(t, http.StatusOK, cmd.StatusCode)
}

func TestPipeline_DeviceConnectionState(t *testing.T) {
	p := newPipeline(t)
	device := p.inbound.Latest(testutil.SampleConnection)
	require.NotNil(t, device)

	device.Connect("device")
	assert.True(t, p.mapper.InboundStatistics().Connected)

	p.stream(t, time.Now().UTC().Truncate(100*time.Millisecond))
	assert.EqualValues(t, 2, p.mapper.InboundStatistics().TotalFrames)

	device.Disconnect("device", nil)
	s := p.mapper.InboundStatistics()
	assert.False(t, s.Connected)
	assert.EqualValues(t, 2, s.TotalFrames, "statistics survive a clean disconnect")
	assert.Equal(t, 1, p.inbound.Count(), "no reconnection after a clean close")
}
