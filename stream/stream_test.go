package stream

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/measurement"
)

type fakeBus struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	handlers map[string]func(context.Context, []byte)
	fail     bool
}

func (f *fakeBus) Publish(_ context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.ErrNoConnection
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeBus) Subscribe(_ context.Context, subject string, handler func(context.Context, []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = make(map[string]func(context.Context, []byte))
	}
	f.handlers[subject] = handler
	return nil
}

func (f *fakeBus) published() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func sampleMeasurements() []measurement.Measurement {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []measurement.Measurement{
		{Key: uuid.New(), Value: 59.98, Timestamp: ts},
		{Key: uuid.New(), Value: math.NaN(), StateFlags: measurement.BadData, Timestamp: ts},
	}
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "phasorstreams.measurements.SHELBY", Subject("", "SHELBY"))
	assert.Equal(t, "pmu.data.PDC_1", Subject("pmu.data.", "PDC.1"))
	assert.Equal(t, "pmu.data.>", WildcardSubject("pmu.data"))
}

func TestEncodeDecode_NaNAsNull(t *testing.T) {
	in := Batch{Source: "SHELBY", Sequence: 7, Measurements: sampleMeasurements()}
	data, err := Encode(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"value":null`)

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in.Source, out.Source)
	assert.Equal(t, in.Sequence, out.Sequence)
	require.Len(t, out.Measurements, 2)
	assert.Equal(t, 59.98, out.Measurements[0].Value)
	assert.True(t, math.IsNaN(out.Measurements[1].Value))
	assert.Equal(t, measurement.BadData, out.Measurements[1].StateFlags)
	assert.True(t, in.Measurements[0].Timestamp.Equal(out.Measurements[0].Timestamp))
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte("{"))
	assert.ErrorIs(t, err, errors.ErrParsingFailed)
	assert.True(t, errors.IsInvalid(err))
}

func TestWriter_PublishesInOrder(t *testing.T) {
	bus := &fakeBus{}
	w, err := NewWriter(WriterDeps{Publisher: bus, SubjectPrefix: "pmu"})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, w.Write("SHELBY", sampleMeasurements()))
	require.NoError(t, w.Write("SHELBY", sampleMeasurements()))
	require.NoError(t, w.Write("SHELBY", nil))

	require.Eventually(t, func() bool { return bus.published() == 2 }, 2*time.Second, 10*time.Millisecond)
	w.Stop()

	bus.mu.Lock()
	defer bus.mu.Unlock()
	for i, data := range bus.payloads {
		assert.Equal(t, "pmu.SHELBY", bus.subjects[i])
		b, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), b.Sequence)
	}
	assert.Equal(t, int64(2), w.Stats().Published)
	assert.Error(t, w.Write("SHELBY", sampleMeasurements()))
}

func TestWriter_CountsFailures(t *testing.T) {
	bus := &fakeBus{fail: true}
	w, err := NewWriter(WriterDeps{Publisher: bus})
	require.NoError(t, err)
	assert.Equal(t, DefaultQueueSize, w.Stats().Capacity)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Write("A", sampleMeasurements()))
	require.Eventually(t, func() bool { return w.Stats().Failed == 1 }, 2*time.Second, 10*time.Millisecond)
	w.Stop()
}

func TestNewWriter_RequiresPublisher(t *testing.T) {
	_, err := NewWriter(WriterDeps{})
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestReader_TracksGaps(t *testing.T) {
	var got []uint64
	r := NewReader("pmu", func(b Batch) { got = append(got, b.Sequence) }, nil)

	bus := &fakeBus{}
	require.NoError(t, r.Subscribe(context.Background(), bus))
	handler := bus.handlers["pmu.>"]
	require.NotNil(t, handler)

	for _, seq := range []uint64{1, 2, 5, 1} {
		data, err := Encode(Batch{Source: "A", Sequence: seq, Measurements: sampleMeasurements()})
		require.NoError(t, err)
		handler(context.Background(), data)
	}
	handler(context.Background(), []byte("not json"))

	assert.Equal(t, []uint64{1, 2, 5, 1}, got)
	stats := r.Stats()
	assert.Equal(t, int64(4), stats.Batches)
	assert.Equal(t, int64(8), stats.Measurements)
	assert.Equal(t, int64(2), stats.Gaps)
	assert.Equal(t, int64(1), stats.Invalid)
}
