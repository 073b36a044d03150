package phasor

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/phasorstreams/errors"
)

// Handlers receives decoded frames and parsing exceptions. Any field may be nil.
type Handlers struct {
	Configuration func(*ConfigurationFrame)
	Data          func(*DataFrame)
	Header        func(*HeaderFrame)
	Command       func(*CommandFrame)
	Exception     func(error)
}

// ParserStats counts frames seen by a Parser.
type ParserStats struct {
	TotalFrames         int64
	DataFrames          int64
	ConfigurationFrames int64
	HeaderFrames        int64
	CommandFrames       int64
	Exceptions          int64
	BytesReceived       int64
}

// Parser reassembles frames from a byte stream or from datagrams and decodes them.
// Data frames are decoded against the most recent configuration frame.
type Parser struct {
	handlers Handlers
	now      func() time.Time

	mu  sync.Mutex
	buf []byte

	configuration atomic.Pointer[ConfigurationFrame]

	totalFrames         atomic.Int64
	dataFrames          atomic.Int64
	configurationFrames atomic.Int64
	headerFrames        atomic.Int64
	commandFrames       atomic.Int64
	exceptions          atomic.Int64
	bytesReceived       atomic.Int64
}

// NewParser creates a parser that reports through h.
func NewParser(h Handlers) *Parser {
	return &Parser{
		handlers: h,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Write appends stream bytes and dispatches every complete frame. It never fails;
// malformed input is reported through the Exception handler.
func (p *Parser) Write(data []byte) (int, error) {
	p.bytesReceived.Add(int64(len(data)))

	p.mu.Lock()
	p.buf = append(p.buf, data...)
	frames, problems := p.extract()
	p.mu.Unlock()

	for _, err := range problems {
		p.exception(err)
	}
	for _, frame := range frames {
		p.dispatch(frame)
	}
	return len(data), nil
}

// extract pulls complete frames out of the buffer. Caller holds p.mu.
func (p *Parser) extract() (frames [][]byte, problems []error) {
	for len(p.buf) > 0 {
		start := bytes.IndexByte(p.buf, syncByte)
		if start < 0 {
			problems = append(problems, parseError(fmt.Sprintf("discarded %d bytes without sync", len(p.buf))))
			p.buf = p.buf[:0]
			break
		}
		if start > 0 {
			problems = append(problems, parseError(fmt.Sprintf("discarded %d bytes before sync", start)))
			p.buf = p.buf[start:]
		}
		if len(p.buf) < 4 {
			break
		}
		if _, err := PeekFrameType(p.buf); err != nil || (p.buf[1]>>frameTypeShift)&frameTypeMask > uint8(FrameTypeCommand) {
			problems = append(problems, parseError(fmt.Sprintf("unknown frame type byte 0x%02X", p.buf[1])))
			p.buf = p.buf[1:]
			continue
		}
		size, _ := FrameSize(p.buf)
		if size < minFrameSize {
			problems = append(problems, parseError(fmt.Sprintf("frame size %d below minimum", size)))
			p.buf = p.buf[1:]
			continue
		}
		if len(p.buf) < size {
			break
		}
		frame := make([]byte, size)
		copy(frame, p.buf[:size])
		frames = append(frames, frame)
		p.buf = p.buf[size:]
	}
	if len(p.buf) == 0 {
		p.buf = nil
	}
	return frames, problems
}

func parseError(reason string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrParsingFailed, reason), "Parser", "Write", "frame alignment")
}

func (p *Parser) dispatch(frame []byte) {
	p.totalFrames.Add(1)
	ft, _ := PeekFrameType(frame)

	switch ft {
	case FrameTypeData:
		cfg := p.configuration.Load()
		if cfg == nil {
			p.exception(errors.WrapInvalid(errors.ErrNoConfiguration, "Parser", "dispatch", "data frame decode"))
			return
		}
		df, err := DecodeDataFrame(frame, cfg, p.now())
		if err != nil {
			p.exception(err)
			return
		}
		p.dataFrames.Add(1)
		if p.handlers.Data != nil {
			p.handlers.Data(df)
		}

	case FrameTypeConfiguration1, FrameTypeConfiguration2:
		cfg := &ConfigurationFrame{}
		if err := cfg.UnmarshalBinary(frame); err != nil {
			p.exception(err)
			return
		}
		p.configurationFrames.Add(1)
		p.configuration.Store(cfg)
		if p.handlers.Configuration != nil {
			p.handlers.Configuration(cfg)
		}

	case FrameTypeHeader:
		hf := &HeaderFrame{}
		if err := hf.UnmarshalBinary(frame); err != nil {
			p.exception(err)
			return
		}
		p.headerFrames.Add(1)
		if p.handlers.Header != nil {
			p.handlers.Header(hf)
		}

	case FrameTypeCommand:
		cf := &CommandFrame{}
		if err := cf.UnmarshalBinary(frame); err != nil {
			p.exception(err)
			return
		}
		p.commandFrames.Add(1)
		if p.handlers.Command != nil {
			p.handlers.Command(cf)
		}
	}
}

func (p *Parser) exception(err error) {
	p.exceptions.Add(1)
	if p.handlers.Exception != nil {
		p.handlers.Exception(err)
	}
}

// Configuration returns the configuration data frames are decoded against, or nil.
func (p *Parser) Configuration() *ConfigurationFrame {
	return p.configuration.Load()
}

// SetConfiguration replaces the configuration, for example with a cached copy.
func (p *Parser) SetConfiguration(cfg *ConfigurationFrame) {
	p.configuration.Store(cfg)
}

// Reset drops buffered bytes. The configuration is kept.
func (p *Parser) Reset() {
	p.mu.Lock()
	p.buf = nil
	p.mu.Unlock()
}

// Stats returns a snapshot of the frame counters.
func (p *Parser) Stats() ParserStats {
	return ParserStats{
		TotalFrames:         p.totalFrames.Load(),
		DataFrames:          p.dataFrames.Load(),
		ConfigurationFrames: p.configurationFrames.Load(),
		HeaderFrames:        p.headerFrames.Load(),
		CommandFrames:       p.commandFrames.Load(),
		Exceptions:          p.exceptions.Load(),
		BytesReceived:       p.bytesReceived.Load(),
	}
}
