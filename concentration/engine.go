// Package concentration implements a fixed-rate frame engine: measurements are
// sorted into frames keyed by their rate-aligned timestamp, and frames are
// published in time order once the lag time has passed.
package concentration

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/pkg/timestamp"
)

// Measurement is a value the engine can sort into a frame.
type Measurement interface {
	MeasurementKey() uuid.UUID
	MeasurementTimestamp() time.Time
}

// Frame is one publication slot.
type Frame interface {
	FrameTimestamp() time.Time
}

// Config controls the engine cadence and tolerance window.
type Config struct {
	FramesPerSecond int           `json:"frames_per_second" yaml:"frames_per_second"`
	LagTime         time.Duration `json:"lag_time" yaml:"lag_time"`
	LeadTime        time.Duration `json:"lead_time" yaml:"lead_time"`
}

// Validate checks the cadence and window.
func (c Config) Validate() error {
	if c.FramesPerSecond <= 0 || c.FramesPerSecond > 1000 {
		return errors.WrapInvalid(fmt.Errorf("%w: frames per second %d", errors.ErrInvalidConfig, c.FramesPerSecond),
			"concentration", "Validate", "frame rate check")
	}
	if c.LagTime <= 0 || c.LeadTime <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: lag and lead time must be positive", errors.ErrInvalidConfig),
			"concentration", "Validate", "window check")
	}
	return nil
}

// Deps wires the engine to its owner.
type Deps struct {
	Config Config
	// CreateFrame builds an empty frame for an aligned timestamp
	CreateFrame func(ts time.Time) Frame
	// Assign places a measurement into a frame. It is never called for a frame
	// that has been published.
	Assign func(frame Frame, m Measurement)
	// Publish receives each due frame with its sub-second index
	Publish func(frame Frame, index int)
	Logger  *slog.Logger
	// Now defaults to time.Now
	Now func() time.Time
}

// Stats counts engine activity.
type Stats struct {
	SortedMeasurements    int64 `json:"sorted_measurements"`
	DiscardedMeasurements int64 `json:"discarded_measurements"`
	MissedSorts           int64 `json:"missed_sorts"`
	PublishedFrames       int64 `json:"published_frames"`
	PendingFrames         int   `json:"pending_frames"`
}

type slot struct {
	mu        sync.Mutex
	frame     Frame
	published bool
}

// Engine sorts measurements into frames and publishes them on a fixed cadence.
type Engine struct {
	cfg         Config
	createFrame func(time.Time) Frame
	assign      func(Frame, Measurement)
	publish     func(Frame, int)
	logger      *slog.Logger
	now         func() time.Time

	mu            sync.Mutex
	frames        map[int64]*slot
	lastPublished int64

	sorted      atomic.Int64
	discarded   atomic.Int64
	missedSorts atomic.Int64
	published   atomic.Int64

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New validates deps and returns a stopped engine.
func New(deps Deps) (*Engine, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	if deps.CreateFrame == nil || deps.Assign == nil || deps.Publish == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: frame, assign and publish callbacks are required", errors.ErrMissingConfig),
			"concentration", "New", "callback check")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cfg:         deps.Config,
		createFrame: deps.CreateFrame,
		assign:      deps.Assign,
		publish:     deps.Publish,
		logger:      logger.With("component", "concentration"),
		now:         now,
		frames:      make(map[int64]*slot),
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Sort places each measurement into the frame for its aligned timestamp.
// Measurements outside [now-lag, now+lead] are discarded; those whose frame
// already went out count as missed sorts.
func (e *Engine) Sort(measurements ...Measurement) {
	now := e.now()
	for _, m := range measurements {
		ts := m.MeasurementTimestamp()
		if !timestamp.InWindow(ts, now, e.cfg.LagTime, e.cfg.LeadTime) {
			e.discarded.Add(1)
			continue
		}
		aligned := timestamp.AlignToRate(ts, e.cfg.FramesPerSecond)
		s, ok := e.slotFor(aligned)
		if !ok {
			e.missedSorts.Add(1)
			continue
		}

		s.mu.Lock()
		if s.published {
			s.mu.Unlock()
			e.missedSorts.Add(1)
			continue
		}
		e.safeAssign(s.frame, m)
		s.mu.Unlock()
		e.sorted.Add(1)
	}
}

func (e *Engine) slotFor(aligned time.Time) (*slot, bool) {
	key := aligned.UnixNano()
	e.mu.Lock()
	defer e.mu.Unlock()
	if key <= e.lastPublished {
		return nil, false
	}
	s, ok := e.frames[key]
	if !ok {
		s = &slot{frame: e.createFrame(aligned)}
		e.frames[key] = s
	}
	return s, true
}

func (e *Engine) safeAssign(f Frame, m Measurement) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Measurement assignment panicked", "key", m.MeasurementKey(), "panic", r)
		}
	}()
	e.assign(f, m)
}

// PublishDue publishes, in time order, every frame whose timestamp is at or
// before now minus the lag time. It returns the number of frames published.
func (e *Engine) PublishDue() int {
	cutoff := e.now().Add(-e.cfg.LagTime).UnixNano()

	e.mu.Lock()
	var due []int64
	for key := range e.frames {
		if key <= cutoff {
			due = append(due, key)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i] < due[j] })
	slots := make([]*slot, len(due))
	for i, key := range due {
		slots[i] = e.frames[key]
		delete(e.frames, key)
	}
	if len(due) > 0 && due[len(due)-1] > e.lastPublished {
		e.lastPublished = due[len(due)-1]
	}
	e.mu.Unlock()

	for _, s := range slots {
		s.mu.Lock()
		s.published = true
		frame := s.frame
		s.mu.Unlock()

		e.safePublish(frame)
		e.published.Add(1)
	}
	return len(slots)
}

func (e *Engine) safePublish(f Frame) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Frame publication panicked", "timestamp", timestamp.Format(f.FrameTimestamp()), "panic", r)
		}
	}()
	e.publish(f, timestamp.FrameIndex(f.FrameTimestamp(), e.cfg.FramesPerSecond))
}

// Run publishes due frames every frame period until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(timestamp.Period(e.cfg.FramesPerSecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.PublishDue()
		}
	}
}

// Start runs the publication loop in the background.
func (e *Engine) Start(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "concentration", "Start", "state check")
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go func() {
		defer close(e.done)
		_ = e.Run(runCtx)
	}()
	e.logger.Info("Concentration started", "frames_per_second", e.cfg.FramesPerSecond,
		"lag_time", e.cfg.LagTime, "lead_time", e.cfg.LeadTime)
	return nil
}

// Stop halts the publication loop and drops pending frames.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	e.cancel()
	<-e.done

	e.mu.Lock()
	e.frames = make(map[int64]*slot)
	e.mu.Unlock()
	e.logger.Info("Concentration stopped")
}

// Running reports whether the publication loop is active.
func (e *Engine) Running() bool { return e.running.Load() }

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	pending := len(e.frames)
	e.mu.Unlock()
	return Stats{
		SortedMeasurements:    e.sorted.Load(),
		DiscardedMeasurements: e.discarded.Load(),
		MissedSorts:           e.missedSorts.Load(),
		PublishedFrames:       e.published.Load(),
		PendingFrames:         pending,
	}
}

// ResetStats zeroes the counters.
func (e *Engine) ResetStats() {
	e.sorted.Store(0)
	e.discarded.Store(0)
	e.missedSorts.Store(0)
	e.published.Store(0)
}
