package statistics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/metric"
)

// DefaultInterval is the statistics calculation period.
const DefaultInterval = 10 * time.Second

// Snapshot holds the statistic values of one source at one calculation.
type Snapshot struct {
	Source string             `json:"source"`
	Kind   string             `json:"kind"`
	Time   time.Time          `json:"time"`
	Values map[string]float64 `json:"values"`
}

// EngineDeps holds the Engine dependencies.
type EngineDeps struct {
	Interval time.Duration
	Registry metric.MetricsRegistrar // optional
	Logger   *slog.Logger
	Now      func() time.Time
}

// Engine polls registered sources on a fixed interval into snapshots and
// exposes the latest values as Prometheus gauge functions.
type Engine struct {
	interval time.Duration
	registry metric.MetricsRegistrar
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	sources   map[string]Source
	gauges    map[string][]string
	snapshots map[string]Snapshot
	listeners []func(time.Time)
}

// NewEngine creates a statistics engine.
func NewEngine(deps EngineDeps) *Engine {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Engine{
		interval:  deps.Interval,
		registry:  deps.Registry,
		logger:    deps.Logger.With("component", "statistics-engine"),
		now:       deps.Now,
		sources:   make(map[string]Source),
		gauges:    make(map[string][]string),
		snapshots: make(map[string]Snapshot),
	}
}

// Interval returns the calculation period.
func (e *Engine) Interval() time.Duration { return e.interval }

func serviceName(src Source) string {
	return fmt.Sprintf("statistics_%s_%s", src.Kind(), src.SourceName())
}

// Register adds a source. Names must be unique across kinds.
func (e *Engine) Register(src Source) error {
	if src == nil || src.SourceName() == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "statistics", "Register", "source validation")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	name := src.SourceName()
	if _, exists := e.sources[name]; exists {
		return errors.WrapInvalid(fmt.Errorf("source %q already registered: %w", name, errors.ErrInvalidConfig),
			"statistics", "Register", "source registration")
	}
	e.sources[name] = src

	if e.registry == nil {
		return nil
	}

	service := serviceName(src)
	for _, stat := range statisticNames(src.Kind()) {
		statName := stat[0]
		gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "phasorstreams",
			Subsystem:   "statistics_" + src.Kind().String(),
			Name:        statName,
			Help:        stat[1],
			ConstLabels: prometheus.Labels{"source": name},
		}, func() float64 {
			v, _ := e.Value(name, statName)
			return v
		})
		if err := e.registry.RegisterGaugeFunc(service, statName, gauge); err != nil {
			e.logger.Warn("Failed to register statistic gauge", "source", name, "statistic", statName, "error", err)
			continue
		}
		e.gauges[name] = append(e.gauges[name], statName)
	}
	return nil
}

// Unregister removes a source, its gauges and its last snapshot.
func (e *Engine) Unregister(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	src, ok := e.sources[name]
	if !ok {
		return false
	}
	if e.registry != nil {
		service := serviceName(src)
		for _, stat := range e.gauges[name] {
			e.registry.Unregister(service, stat)
		}
	}
	delete(e.gauges, name)
	delete(e.sources, name)
	delete(e.snapshots, name)
	return true
}

// OnCalculated adds a callback run after every calculation.
func (e *Engine) OnCalculated(fn func(time.Time)) {
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

// Calculate collects every source once and then runs the calculated callbacks.
func (e *Engine) Calculate() {
	now := e.now()

	e.mu.RLock()
	sources := make([]Source, 0, len(e.sources))
	for _, src := range e.sources {
		sources = append(sources, src)
	}
	listeners := append([]func(time.Time){}, e.listeners...)
	e.mu.RUnlock()

	for _, src := range sources {
		values := e.safeCollect(src)
		if values == nil {
			continue
		}
		e.mu.Lock()
		if _, still := e.sources[src.SourceName()]; still {
			e.snapshots[src.SourceName()] = Snapshot{
				Source: src.SourceName(),
				Kind:   src.Kind().String(),
				Time:   now,
				Values: values,
			}
		}
		e.mu.Unlock()
	}

	for _, fn := range listeners {
		e.safeNotify(fn, now)
	}
}

func (e *Engine) safeCollect(src Source) (values map[string]float64) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Statistics source panicked", "source", src.SourceName(), "panic", r)
			values = nil
		}
	}()
	return collect(src)
}

func (e *Engine) safeNotify(fn func(time.Time), now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Statistics callback panicked", "panic", r)
		}
	}()
	fn(now)
}

// Value returns one statistic from the latest snapshot of a source.
func (e *Engine) Value(source, statistic string) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap, ok := e.snapshots[source]
	if !ok {
		return 0, false
	}
	v, ok := snap.Values[statistic]
	return v, ok
}

// Snapshot returns the latest snapshot of a source.
func (e *Engine) Snapshot(source string) (Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap, ok := e.snapshots[source]
	return snap, ok
}

// Snapshots returns the latest snapshots ordered by source name.
func (e *Engine) Snapshots() []Snapshot {
	e.mu.RLock()
	out := make([]Snapshot, 0, len(e.snapshots))
	for _, snap := range e.snapshots {
		out = append(out, snap)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Run calculates on every interval until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("Statistics engine started", "interval", e.interval)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Statistics engine stopped")
			return nil
		case <-ticker.C:
			e.Calculate()
		}
	}
}
