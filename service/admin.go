package service

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/c360/phasorstreams/component"
	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/health"
	"github.com/c360/phasorstreams/metric"
	"github.com/c360/phasorstreams/natsclient"
	"github.com/c360/phasorstreams/pkg/security"
	"github.com/c360/phasorstreams/pkg/tlsutil"
	"github.com/c360/phasorstreams/statistics"
)

// Adapter is an inbound mapper or outbound concentrator under administration.
type Adapter interface {
	component.LifecycleComponent
	Name() string
	Running() bool
	Status() string
	Execute(ctx context.Context, command string, args map[string]string) (string, error)
}

// StatisticsSource provides the latest statistic snapshots.
type StatisticsSource interface {
	Snapshot(source string) (statistics.Snapshot, bool)
	Snapshots() []statistics.Snapshot
}

// ConnectionStatus reports the NATS connection state; *natsclient.Client satisfies it.
type ConnectionStatus interface {
	Status() natsclient.ConnectionStatus
	Failures() int32
}

// Mountable is an HTTP handler that knows its own path.
type Mountable interface {
	http.Handler
	Path() string
	Health() component.HealthStatus
}

// Config holds the admin HTTP settings.
type Config struct {
	Port           int           `json:"port"                      yaml:"port"`
	ReadTimeout    time.Duration `json:"read_timeout,omitempty"    yaml:"read_timeout,omitempty"`
	WriteTimeout   time.Duration `json:"write_timeout,omitempty"   yaml:"write_timeout,omitempty"`
	CommandTimeout time.Duration `json:"command_timeout,omitempty" yaml:"command_timeout,omitempty"`

	TLS security.ServerTLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// Defaults
const (
	DefaultPort           = 8080
	DefaultCommandTimeout = 30 * time.Second
)

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 45 * time.Second
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("%w: invalid port %d", errors.ErrInvalidConfig, c.Port),
			"Admin", "Validate", "port check")
	}
	return nil
}

// Deps holds the Admin dependencies.
type Deps struct {
	Config         Config
	Inputs         []Adapter
	Outputs        []Adapter
	InputCommands  []string
	OutputCommands []string
	Statistics     StatisticsSource
	NATS           ConnectionStatus
	Monitor        Mountable
	// MetricsRegistry is optional; requests are counted per route and status
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Admin serves the administrative HTTP API.
type Admin struct {
	cfg            Config
	inputs         map[string]Adapter
	outputs        map[string]Adapter
	inputOrder     []string
	outputOrder    []string
	inputCommands  []string
	outputCommands []string
	statistics     StatisticsSource
	nats           ConnectionStatus
	monitor        Mountable
	health         *health.Monitor
	metrics        *adminMetrics
	logger         *slog.Logger
	mux            *http.ServeMux
	tlsConfig      *tls.Config

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates an Admin and registers its routes.
func New(deps Deps) (*Admin, error) {
	cfg := deps.Config
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "admin")

	tlsConfig, err := tlsutil.LoadServerTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}

	a := &Admin{
		cfg:            cfg,
		inputs:         make(map[string]Adapter),
		outputs:        make(map[string]Adapter),
		inputCommands:  deps.InputCommands,
		outputCommands: deps.OutputCommands,
		statistics:     deps.Statistics,
		nats:           deps.NATS,
		monitor:        deps.Monitor,
		health:         health.NewMonitor(),
		metrics:        newAdminMetrics(deps.MetricsRegistry, logger),
		logger:         logger,
		mux:            http.NewServeMux(),
		tlsConfig:      tlsConfig,
	}
	for _, in := range deps.Inputs {
		if _, dup := a.inputs[in.Name()]; dup {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: duplicate input %q", errors.ErrInvalidConfig, in.Name()),
				"Admin", "New", "register inputs")
		}
		a.inputs[in.Name()] = in
		a.inputOrder = append(a.inputOrder, in.Name())
	}
	for _, out := range deps.Outputs {
		if _, dup := a.outputs[out.Name()]; dup {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: duplicate output %q", errors.ErrInvalidConfig, out.Name()),
				"Admin", "New", "register outputs")
		}
		a.outputs[out.Name()] = out
		a.outputOrder = append(a.outputOrder, out.Name())
	}
	a.registerRoutes()
	return a, nil
}

// Handler is the admin route table.
func (a *Admin) Handler() http.Handler { return a.mux }

// Start listens on the configured port and serves in the background.
func (a *Admin) Start(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Admin", "Start", "state check")
	}

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(a.cfg.Port))
	if err != nil {
		return errors.WrapTransient(err, "Admin", "Start", "listen")
	}
	if a.tlsConfig != nil {
		ln = tls.NewListener(ln, a.tlsConfig)
	}
	server := &http.Server{
		Handler:      a.mux,
		ReadTimeout:  a.cfg.ReadTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	a.server, a.listener = server, ln

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Error("Admin HTTP server error", "error", err)
		}
	}()
	a.logger.Info("Admin HTTP server started", "address", ln.Addr().String(), "tls", a.tlsConfig != nil)
	return nil
}

// Addr is the listening address, empty before Start.
func (a *Admin) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (a *Admin) Stop(timeout time.Duration) error {
	a.mu.Lock()
	server := a.server
	a.server, a.listener = nil, nil
	a.mu.Unlock()
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	start := time.Now()
	if err := server.Shutdown(ctx); err != nil {
		a.logger.Error("Admin HTTP server shutdown failed",
			"duration_ms", time.Since(start).Milliseconds(), "error", err)
		return errors.WrapTransient(err, "Admin", "Stop", "shutdown")
	}
	a.logger.Info("Admin HTTP server stopped")
	return nil
}

// SystemHealth aggregates adapter, monitor and NATS health.
func (a *Admin) SystemHealth() health.Status {
	components := make([]component.LifecycleComponent, 0, len(a.inputs)+len(a.outputs))
	for _, name := range a.inputOrder {
		components = append(components, a.inputs[name])
	}
	for _, name := range a.outputOrder {
		components = append(components, a.outputs[name])
	}
	a.health.Refresh(components)

	if a.monitor != nil {
		a.health.Update("websocket-monitor", health.FromComponentHealth("websocket-monitor", a.monitor.Health()))
	}
	if a.nats != nil {
		status := a.nats.Status()
		if status == natsclient.StatusConnected {
			a.health.Update("nats", health.NewHealthy("nats", "Connected"))
		} else {
			a.health.Update("nats", health.NewUnhealthy("nats",
				fmt.Sprintf("%s (failures: %d)", status.String(), a.nats.Failures())))
		}
	}
	return a.health.AggregateHealth("phasorstreams")
}
