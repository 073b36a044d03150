package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/phasorstreams/metadata"
	"github.com/c360/phasorstreams/phasor"
	"github.com/c360/phasorstreams/transport"
)

func TestSubjectMatches(t *testing.T) {
	tests := []struct {
		pattern, subject string
		want             bool
	}{
		{"a.b.c", "a.b.c", true},
		{"a.b.c", "a.b", false},
		{"a.*.c", "a.x.c", true},
		{"a.*", "a.x.c", false},
		{"a.>", "a.x.c", true},
		{"a.>", "a", false},
		{">", "anything.at.all", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SubjectMatches(tt.pattern, tt.subject), "%s ~ %s", tt.pattern, tt.subject)
	}
}

func TestMockNATSClient_Wildcards(t *testing.T) {
	bus := NewMockNATSClient()
	ctx, cancel := context.WithCancel(context.Background())

	var got []string
	require.NoError(t, bus.Subscribe(ctx, "m.>", func(_ context.Context, data []byte) {
		got = append(got, string(data))
	}))

	require.NoError(t, bus.Publish(context.Background(), "m.PMU1", []byte("one")))
	require.NoError(t, bus.Publish(context.Background(), "other", []byte("two")))
	cancel()
	require.NoError(t, bus.Publish(context.Background(), "m.PMU2", []byte("three")))

	assert.Equal(t, []string{"one"}, got)
	assert.Equal(t, 1, bus.GetMessageCount("m.PMU2"), "recorded after unsubscribe")
	assert.ElementsMatch(t, []string{"m.PMU1", "other", "m.PMU2"}, bus.Subjects())

	require.NoError(t, bus.Close())
	assert.Error(t, bus.Publish(context.Background(), "m.PMU1", nil))
}

func TestSampleDocument_Validates(t *testing.T) {
	doc, keys := SampleDocument()
	require.NoError(t, doc.Validate())

	out, ok := doc.OutputStream(SampleOutputStream)
	require.True(t, ok)
	for _, row := range out.Measurements {
		assert.Equal(t, keys[row.SignalReference], row.Key)
	}
	assert.Equal(t, Key("DEVA-PA1"), keys["DEVA-PA1"], "keys are deterministic")

	store, err := metadata.Open(WriteDocument(t, doc), nil)
	require.NoError(t, err)
	_, ok = store.Connection(SampleConnection)
	assert.True(t, ok)
}

func TestSampleFrames_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	cfg := SampleConfiguration(ts, 30)
	data := SampleData(cfg, ts)

	image, err := Images(cfg, data)
	require.NoError(t, err)
	ft, err := phasor.PeekFrameType(image)
	require.NoError(t, err)
	assert.Equal(t, phasor.FrameTypeConfiguration2, ft)

	dataImage, err := data.MarshalBinary()
	require.NoError(t, err)
	decoded, err := phasor.DecodeDataFrame(dataImage, cfg, time.Now())
	require.NoError(t, err)
	require.Len(t, decoded.Cells, 2)
	assert.InDelta(t, 59.98, decoded.Cells[1].Frequency, 1e-3)
}

func TestChannelFactory(t *testing.T) {
	f := &ChannelFactory{}
	var received []byte
	ch, err := f.New(transport.Config{}, transport.Deps{
		Name:     "PDC",
		Handlers: transport.Handlers{Data: func(_ string, data []byte) { received = data }},
	})
	require.NoError(t, err)

	fake := f.Latest("PDC")
	require.NotNil(t, fake)
	fake.Deliver("device", []byte{1, 2})
	assert.Equal(t, []byte{1, 2}, received)

	require.NoError(t, ch.Send([]byte{3}))
	assert.Equal(t, [][]byte{{3}}, fake.Sent())
	require.NoError(t, ch.Stop())
	assert.True(t, fake.Stopped())
	assert.Nil(t, f.Latest("other"))
	assert.Equal(t, 1, f.Count())
}
