package phasor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/phasorstreams/errors"
)

type recorder struct {
	mu         sync.Mutex
	configs    []*ConfigurationFrame
	data       []*DataFrame
	headers    []*HeaderFrame
	exceptions []error
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		Configuration: func(c *ConfigurationFrame) { r.mu.Lock(); r.configs = append(r.configs, c); r.mu.Unlock() },
		Data:          func(d *DataFrame) { r.mu.Lock(); r.data = append(r.data, d); r.mu.Unlock() },
		Header:        func(h *HeaderFrame) { r.mu.Lock(); r.headers = append(r.headers, h); r.mu.Unlock() },
		Exception:     func(err error) { r.mu.Lock(); r.exceptions = append(r.exceptions, err); r.mu.Unlock() },
	}
}

func mustImage(t *testing.T, m interface{ MarshalBinary() ([]byte, error) }) []byte {
	t.Helper()
	b, err := m.MarshalBinary()
	require.NoError(t, err)
	return b
}

func TestParser_StreamReassembly(t *testing.T) {
	cfg := sampleConfiguration(FloatingPoint, Polar)
	stream := append([]byte{0x00, 0x13}, mustImage(t, cfg)...)
	stream = append(stream, mustImage(t, sampleData(cfg))...)
	stream = append(stream, mustImage(t, &HeaderFrame{IDCode: 7, Timestamp: testTime, Text: "hdr"})...)

	rec := &recorder{}
	p := NewParser(rec.handlers())

	// feed in awkward chunk sizes
	for i := 0; i < len(stream); i += 7 {
		end := i + 7
		if end > len(stream) {
			end = len(stream)
		}
		n, err := p.Write(stream[i:end])
		require.NoError(t, err)
		assert.Equal(t, end-i, n)
	}

	require.Len(t, rec.configs, 1)
	require.Len(t, rec.data, 1)
	require.Len(t, rec.headers, 1)
	require.Len(t, rec.exceptions, 1, "leading garbage reported once")
	assert.ErrorIs(t, rec.exceptions[0], errors.ErrParsingFailed)

	assert.Same(t, rec.configs[0], p.Configuration())
	assert.InDelta(t, 59.98, rec.data[0].Cells[0].Frequency, 1e-4)

	stats := p.Stats()
	assert.Equal(t, int64(3), stats.TotalFrames)
	assert.Equal(t, int64(1), stats.DataFrames)
	assert.Equal(t, int64(1), stats.ConfigurationFrames)
	assert.Equal(t, int64(1), stats.HeaderFrames)
	assert.Equal(t, int64(len(stream)), stats.BytesReceived)
}

func TestParser_DataBeforeConfiguration(t *testing.T) {
	cfg := sampleConfiguration(FloatingPoint, Polar)
	rec := &recorder{}
	p := NewParser(rec.handlers())

	_, _ = p.Write(mustImage(t, sampleData(cfg)))
	require.Len(t, rec.exceptions, 1)
	assert.ErrorIs(t, rec.exceptions[0], errors.ErrNoConfiguration)
	assert.Empty(t, rec.data)

	p.SetConfiguration(cfg)
	_, _ = p.Write(mustImage(t, sampleData(cfg)))
	assert.Len(t, rec.data, 1)
}

func TestParser_BadChecksumReportedAndSkipped(t *testing.T) {
	cfg := sampleConfiguration(FloatingPoint, Polar)
	bad := mustImage(t, cfg)
	bad[len(bad)-1] ^= 0xFF

	rec := &recorder{}
	p := NewParser(rec.handlers())
	_, _ = p.Write(append(bad, mustImage(t, cfg)...))

	require.Len(t, rec.exceptions, 1)
	assert.ErrorIs(t, rec.exceptions[0], errors.ErrChecksumFailed)
	assert.Len(t, rec.configs, 1)
	assert.Equal(t, int64(1), p.Stats().Exceptions)
}

func TestParser_ResetDropsPartialFrame(t *testing.T) {
	cfg := sampleConfiguration(FloatingPoint, Polar)
	image := mustImage(t, cfg)

	rec := &recorder{}
	p := NewParser(rec.handlers())
	_, _ = p.Write(image[:10])
	p.Reset()
	_, _ = p.Write(image)

	assert.Len(t, rec.configs, 1)
	assert.Empty(t, rec.exceptions)
}
