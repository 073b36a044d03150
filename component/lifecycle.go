package component

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/phasorstreams/errors"
)

// State represents the current lifecycle state of a component
type State int

const (
	// StateCreated indicates component was created but not initialized
	StateCreated State = iota
	// StateInitialized indicates component was initialized but not started
	StateInitialized
	// StateStarted indicates component is running
	StateStarted
	// StateStopped indicates component was stopped
	StateStopped
	// StateFailed indicates component failed during lifecycle operation
	StateFailed
)

// String returns a string representation of the component state
func (cs State) String() string {
	switch cs {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LifecycleComponent defines components that support full lifecycle management
type LifecycleComponent interface {
	Discoverable
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// Adapter status values reported to a StatusRecorder.
const (
	StatusStopped = iota
	StatusStarting
	StatusRunning
	StatusStopping
	StatusFailed
)

// StatusRecorder receives adapter status transitions; *metric.Metrics satisfies it.
type StatusRecorder interface {
	RecordServiceStatus(adapter string, status int)
}

// managed tracks a component, its state and its own child context.
type managed struct {
	component  LifecycleComponent
	state      State
	cancel     context.CancelFunc
	startOrder int
	lastError  error
}

// Manager starts components in registration order and stops them in reverse.
type Manager struct {
	mu         sync.Mutex
	components map[string]*managed
	order      []string
	started    int
	logger     *slog.Logger
	recorder   StatusRecorder
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		components: make(map[string]*managed),
		logger:     logger.With("component", "component-manager"),
	}
}

// SetStatusRecorder reports every later status transition to r.
func (m *Manager) SetStatusRecorder(r StatusRecorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorder = r
}

func (m *Manager) record(name string, status int) {
	if m.recorder != nil {
		m.recorder.RecordServiceStatus(name, status)
	}
}

// Add registers and initializes a component under its Meta name.
func (m *Manager) Add(c LifecycleComponent) error {
	name := c.Meta().Name
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "Add", "component name validation")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.components[name]; exists {
		return errors.WrapInvalid(fmt.Errorf("component %q already registered: %w", name, errors.ErrInvalidConfig),
			"Manager", "Add", "component registration")
	}

	mc := &managed{component: c, state: StateCreated}
	if err := c.Initialize(); err != nil {
		mc.state = StateFailed
		mc.lastError = err
		return errors.Wrap(err, "Manager", "Add", fmt.Sprintf("initialize %s", name))
	}
	mc.state = StateInitialized
	m.components[name] = mc
	m.order = append(m.order, name)
	return nil
}

// Get returns a registered component.
func (m *Manager) Get(name string) (LifecycleComponent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok := m.components[name]
	if !ok {
		return nil, false
	}
	return mc.component, true
}

// Names returns component names in registration order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// State returns the lifecycle state of a component.
func (m *Manager) State(name string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mc, ok := m.components[name]; ok {
		return mc.state
	}
	return StateFailed
}

// StartAll starts every initialized component with its own child context.
// A failing component is marked failed and the others still start; the
// failures are returned joined.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, name := range m.order {
		mc := m.components[name]
		if mc.state != StateInitialized && mc.state != StateStopped {
			continue
		}
		m.record(name, StatusStarting)
		childCtx, cancel := context.WithCancel(ctx)
		if err := mc.component.Start(childCtx); err != nil {
			cancel()
			mc.state = StateFailed
			mc.lastError = err
			m.record(name, StatusFailed)
			m.logger.Error("Component failed to start", "name", name, "error", err)
			errs = append(errs, errors.Wrap(err, "Manager", "StartAll", fmt.Sprintf("start %s", name)))
			continue
		}
		m.started++
		mc.cancel = cancel
		mc.startOrder = m.started
		mc.state = StateStarted
		m.record(name, StatusRunning)
		m.logger.Info("Component started", "name", name)
	}
	return errors.Join(errs...)
}

// StopAll stops started components in reverse start order.
func (m *Manager) StopAll(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	running := make([]*managed, 0, len(m.components))
	names := make(map[*managed]string, len(m.components))
	for name, mc := range m.components {
		if mc.state == StateStarted {
			running = append(running, mc)
			names[mc] = name
		}
	}
	// Reverse start order.
	for i := 1; i < len(running); i++ {
		for j := i; j > 0 && running[j].startOrder > running[j-1].startOrder; j-- {
			running[j], running[j-1] = running[j-1], running[j]
		}
	}

	var errs []error
	for _, mc := range running {
		name := names[mc]
		m.record(name, StatusStopping)
		if err := mc.component.Stop(timeout); err != nil {
			mc.lastError = err
			m.logger.Warn("Component stop failed", "name", name, "error", err)
			errs = append(errs, errors.Wrap(err, "Manager", "StopAll", fmt.Sprintf("stop %s", name)))
		}
		if mc.cancel != nil {
			mc.cancel()
			mc.cancel = nil
		}
		mc.state = StateStopped
		m.record(name, StatusStopped)
		m.logger.Info("Component stopped", "name", name)
	}
	return errors.Join(errs...)
}

// Components returns the registered components in registration order.
func (m *Manager) Components() []LifecycleComponent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LifecycleComponent, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.components[name].component)
	}
	return out
}
