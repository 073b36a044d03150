// Package concentrator implements the outbound half of the system: a Concentrator
// reassembles canonical measurements into phasor data frames for one output
// stream and publishes them at a fixed rate.
//
// Each incoming measurement is routed by its key to one or more frame
// destinations. The routing table and the configuration frame are rebuilt from
// metadata together and swapped atomically. Frames are sorted and released by a
// concentration.Engine; publication sends the data image, and once a minute the
// configuration image, over the data channel. Clients of the command channel may
// request the configuration and start or stop the real-time stream.
package concentrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/phasorstreams/component"
	"github.com/c360/phasorstreams/concentration"
	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/measurement"
	"github.com/c360/phasorstreams/metadata"
	"github.com/c360/phasorstreams/metric"
	"github.com/c360/phasorstreams/pkg/retry"
	"github.com/c360/phasorstreams/statistics"
	"github.com/c360/phasorstreams/stream"
	"github.com/c360/phasorstreams/transport"
)

// ChannelFactory builds a transport channel; transport.New by default.
type ChannelFactory func(cfg transport.Config, deps transport.Deps) (transport.Channel, error)

// Deps holds the Concentrator dependencies.
type Deps struct {
	Config   Config
	Metadata metadata.Source
	// Subscriber delivers the measurement stream; nil means measurements arrive
	// through Queue only
	Subscriber    stream.Subscriber
	SubjectPrefix string
	// Statistics registers the stream; optional
	Statistics      *statistics.Engine
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	NewChannel      ChannelFactory
	// Retry governs channel reinitialization; zero uses retry.Persistent
	Retry retry.Config
	Now   func() time.Time
}

// Concentrator publishes one output stream.
type Concentrator struct {
	cfg        Config
	meta       metadata.Source
	subscriber stream.Subscriber
	prefix     string
	stats      *statistics.Engine
	registry   *metric.MetricsRegistry
	metrics    *metric.Metrics
	logger     *slog.Logger
	newChannel ChannelFactory
	retryCfg   retry.Config
	now        func() time.Time

	dataTransport    *transport.Config
	commandTransport *transport.Config

	engine *concentration.Engine
	reader *stream.Reader

	layout atomic.Pointer[layout]

	chMu           sync.Mutex
	dataChannel    transport.Channel
	commandChannel transport.Channel
	dataStarted    bool

	// reinitMu is held for the whole reinitialization; callers only TryLock it
	reinitMu sync.Mutex

	publishing    atomic.Bool
	dataStartedAt atomic.Int64

	minuteMu        sync.Mutex
	lastMinute      int64
	configPublished bool

	clients *commandClients

	latency              statistics.LatencyTracker
	throughput           *statistics.Throughput
	bytesSent            atomic.Int64
	lifetimeMeasurements atomic.Int64
	configurationsSent   atomic.Int64
	unroutedMeasurements atomic.Int64
	invalidCasts         atomic.Int64
	sendFailures         atomic.Int64
	lastActivity         atomic.Int64
	lastError            atomic.Value

	statsRegistered atomic.Bool

	initialized bool
	running     atomic.Bool
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	startedAt   time.Time
}

// New creates a Concentrator. Initialize must succeed before Start.
func New(deps Deps) (*Concentrator, error) {
	if deps.Metadata == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: metadata is required", errors.ErrMissingConfig),
			"Concentrator", "New", "dependency check")
	}
	cfg := deps.Config
	cfg.ApplyDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.NewChannel == nil {
		deps.NewChannel = transport.New
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Retry == (retry.Config{}) {
		deps.Retry = retry.Persistent()
	}

	c := &Concentrator{
		cfg:        cfg,
		meta:       deps.Metadata,
		subscriber: deps.Subscriber,
		prefix:     deps.SubjectPrefix,
		stats:      deps.Statistics,
		registry:   deps.MetricsRegistry,
		logger:     logger.With("component", "concentrator", "name", cfg.Name),
		newChannel: deps.NewChannel,
		retryCfg:   deps.Retry,
		now:        deps.Now,
		throughput: statistics.NewThroughput(),
		lastMinute: -1,
	}
	if deps.MetricsRegistry != nil {
		c.metrics = deps.MetricsRegistry.CoreMetrics()
	}
	c.clients = newCommandClients(c.handleCommand, c.onCommandException)
	if c.stats != nil {
		c.stats.OnCalculated(func(time.Time) { c.latency.ResetWindow() })
	}
	return c, nil
}

// Name returns the output stream name.
func (c *Concentrator) Name() string { return c.cfg.Name }

// Config returns the applied configuration.
func (c *Concentrator) Config() Config { return c.cfg }

// Initialize validates the configuration, builds the stream layout and the
// concentration engine.
func (c *Concentrator) Initialize() error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	if c.cfg.DataChannel != "" {
		tc, err := transport.ParseConnectionString(c.cfg.DataChannel)
		if err != nil {
			return errors.Wrap(err, "Concentrator", "Initialize", "parse data channel")
		}
		c.dataTransport = &tc
	}
	if c.cfg.CommandChannel != "" {
		tc, err := transport.ParseConnectionString(c.cfg.CommandChannel)
		if err != nil {
			return errors.Wrap(err, "Concentrator", "Initialize", "parse command channel")
		}
		c.commandTransport = &tc
	}

	engine, err := concentration.New(concentration.Deps{
		Config: concentration.Config{
			FramesPerSecond: c.cfg.FramesPerSecond,
			LagTime:         c.cfg.LagTime,
			LeadTime:        c.cfg.LeadTime,
		},
		CreateFrame: c.createFrame,
		Assign:      c.assign,
		Publish:     c.publish,
		Logger:      c.logger,
		Now:         c.now,
	})
	if err != nil {
		return errors.Wrap(err, "Concentrator", "Initialize", "create engine")
	}
	c.engine = engine

	if _, err := c.RebuildConfiguration(); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// Start opens the channels, subscribes to the measurement stream and, unless
// the data channel waits for a client command, starts publication.
func (c *Concentrator) Start(ctx context.Context) error {
	if !c.initialized {
		if err := c.Initialize(); err != nil {
			return err
		}
	}
	if !c.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Concentrator", "Start", "state check")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.startedAt = c.now()
	c.resetConfigurationBroadcast()

	c.chMu.Lock()
	err := c.createChannels()
	c.chMu.Unlock()
	if err != nil {
		c.cancel()
		c.running.Store(false)
		return err
	}

	if c.commandTransport != nil {
		c.startCommandChannel()
	}
	if c.cfg.AutoStart() || c.commandTransport == nil {
		if err := c.StartDataChannel(); err != nil {
			c.logger.Warn("Failed to start data channel", "error", err)
		}
	}

	if c.subscriber != nil {
		c.reader = stream.NewReader(c.prefix, c.HandleBatch, c.logger)
		if err := c.reader.Subscribe(c.ctx, c.subscriber); err != nil {
			c.stopChannels()
			c.cancel()
			c.running.Store(false)
			return errors.Wrap(err, "Concentrator", "Start", "subscribe to measurement stream")
		}
	}

	c.registerStatistics()
	c.logger.Info("Output started", "frames_per_second", c.cfg.FramesPerSecond,
		"data_channel", c.cfg.DataChannel, "command_channel", c.cfg.CommandChannel)
	return nil
}

// Stop halts the engine before releasing the channels.
func (c *Concentrator) Stop(timeout time.Duration) error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	c.engine.Stop()
	c.publishing.Store(false)
	c.cancel()
	c.stopChannels()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = errors.WrapTransient(errors.ErrConnectionTimeout, "Concentrator", "Stop", "wait for background work")
	}

	c.unregisterStatistics()
	c.recordHealth()
	c.logger.Info("Output stopped")
	return err
}

// Running reports whether the Concentrator was started and not stopped.
func (c *Concentrator) Running() bool { return c.running.Load() }

// createChannels builds fresh handles from the saved transport configurations.
// Caller holds c.chMu.
func (c *Concentrator) createChannels() error {
	if c.dataTransport != nil {
		ch, err := c.newChannel(*c.dataTransport, transport.Deps{
			Name: c.cfg.Name + "-data",
			Handlers: transport.Handlers{
				Connected:    c.onDataClientConnected,
				Disconnected: c.onDataClientDisconnected,
				Data:         c.onDataChannelData,
				Error:        c.onChannelError,
			},
			MetricsRegistry: c.registry,
			Logger:          c.logger,
		})
		if err != nil {
			return errors.Wrap(err, "Concentrator", "createChannels", "create data channel")
		}
		c.dataChannel = ch
	}
	if c.commandTransport != nil {
		ch, err := c.newChannel(*c.commandTransport, transport.Deps{
			Name: c.cfg.Name + "-command",
			Handlers: transport.Handlers{
				Connected:    c.onCommandClientConnected,
				Disconnected: c.onCommandClientDisconnected,
				Data:         c.clients.write,
				Error:        c.onChannelError,
			},
			MetricsRegistry: c.registry,
			Logger:          c.logger,
		})
		if err != nil {
			return errors.Wrap(err, "Concentrator", "createChannels", "create command channel")
		}
		c.commandChannel = ch
	}
	return nil
}

// stopChannels stops and drops both channel handles.
func (c *Concentrator) stopChannels() {
	c.chMu.Lock()
	data, command := c.dataChannel, c.commandChannel
	c.dataChannel, c.commandChannel = nil, nil
	c.dataStarted = false
	c.chMu.Unlock()

	for _, ch := range []transport.Channel{data, command} {
		if ch == nil {
			continue
		}
		if err := ch.Stop(); err != nil {
			c.logger.Debug("Channel stop reported an error", "channel", ch.Name(), "error", err)
		}
	}
	c.clients.reset()
}

// publishChannel is the data channel, or the command channel when no data
// channel is defined.
func (c *Concentrator) publishChannel() transport.Channel {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	if c.dataChannel != nil {
		return c.dataChannel
	}
	return c.commandChannel
}

// replyChannel carries responses to client commands.
func (c *Concentrator) replyChannel() transport.Channel {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	if c.commandChannel != nil {
		return c.commandChannel
	}
	return c.dataChannel
}

// startCommandChannel starts the command channel, scheduling a restart when it
// cannot be started.
func (c *Concentrator) startCommandChannel() {
	c.chMu.Lock()
	ch := c.commandChannel
	c.chMu.Unlock()
	if ch == nil {
		return
	}
	if err := ch.Start(c.ctx); err != nil {
		c.recordError(err)
		c.logger.Info("Command channel was unexpectedly terminated, restarting...", "error", err,
			"delay", c.cfg.CommandChannelRestartDelay)
		c.scheduleCommandChannelRestart()
		return
	}
	c.logger.Info("Command channel started")
}

func (c *Concentrator) scheduleCommandChannelRestart() {
	if !c.running.Load() {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.cfg.CommandChannelRestartDelay):
		}
		if c.running.Load() {
			c.startCommandChannel()
		}
	}()
}

// reinitialize rebuilds both channels in the background. Concurrent requests
// collapse into the one in progress.
func (c *Concentrator) reinitialize(reason string) bool {
	if !c.running.Load() || !c.reinitMu.TryLock() {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.reinitMu.Unlock()
		c.logger.Info("Reinitializing channels", "reason", reason, "delay", c.cfg.ReinitializeDelay)

		err := retry.Until(c.ctx, c.retryCfg, c.reinitializeChannels, func(attempt int, err error) {
			c.recordError(err)
			c.logger.Warn("Channel reinitialization failed, retrying", "attempt", attempt, "error", err)
		})
		if err != nil {
			c.logger.Debug("Channel reinitialization abandoned", "error", err)
			return
		}
		c.logger.Info("Channels reinitialized")
	}()
	return true
}

// reinitializeChannels stops and drops the channels, waits the reinitialize
// delay and starts fresh ones from the saved configurations.
func (c *Concentrator) reinitializeChannels() error {
	c.chMu.Lock()
	restartData := c.dataStarted
	c.chMu.Unlock()

	c.stopChannels()

	select {
	case <-c.ctx.Done():
		return retry.NonRetryable(c.ctx.Err())
	case <-time.After(c.cfg.ReinitializeDelay):
	}

	c.chMu.Lock()
	err := c.createChannels()
	c.chMu.Unlock()
	if err != nil {
		return err
	}

	if c.commandTransport != nil {
		c.chMu.Lock()
		ch := c.commandChannel
		c.chMu.Unlock()
		if err := ch.Start(c.ctx); err != nil {
			c.stopChannels()
			return errors.WrapTransient(err, "Concentrator", "reinitializeChannels", "start command channel")
		}
	}
	if restartData {
		if err := c.startPublishChannel(); err != nil {
			c.stopChannels()
			return err
		}
	}
	return nil
}

// startPublishChannel starts the publication channel if it is not running.
func (c *Concentrator) startPublishChannel() error {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	if c.dataStarted {
		return nil
	}
	ch := c.dataChannel
	if ch == nil {
		// Publishing on the command channel, which has its own lifecycle
		c.dataStarted = c.commandChannel != nil
		return nil
	}
	if err := ch.Start(c.ctx); err != nil {
		return errors.WrapTransient(err, "Concentrator", "startPublishChannel", "start data channel")
	}
	c.dataStarted = true
	return nil
}

// Queue routes measurements to their frame destinations and sorts them into
// the engine. Measurements without a destination are counted and dropped.
func (c *Concentrator) Queue(measurements ...measurement.Measurement) {
	if c.engine == nil || !c.engine.Running() {
		return
	}
	routes := c.layout.Load().routes
	batch := make([]concentration.Measurement, 0, len(measurements))
	for _, m := range measurements {
		destinations, ok := routes[m.Key]
		if !ok {
			c.unroutedMeasurements.Add(1)
			continue
		}
		for _, dest := range destinations {
			batch = append(batch, routedMeasurement{Measurement: m, destination: dest})
		}
	}
	if len(batch) > 0 {
		c.engine.Sort(batch...)
	}
}

// HandleBatch queues a batch from the measurement stream.
func (c *Concentrator) HandleBatch(b stream.Batch) {
	c.lastActivity.Store(c.now().UnixNano())
	c.Queue(b.Measurements...)
}

// Channel event handlers

func (c *Concentrator) onDataClientConnected(remote string) {
	c.logger.Info("Client connected to data channel", "remote", remote)
}

func (c *Concentrator) onDataClientDisconnected(remote string, err error) {
	c.logger.Info("Client disconnected from data channel", "remote", remote, "error", err)
	if c.commandTransport == nil {
		c.clients.remove(remote)
	}
}

// onDataChannelData handles commands sent on the data channel when no command
// channel is defined.
func (c *Concentrator) onDataChannelData(remote string, data []byte) {
	if c.commandTransport != nil {
		return
	}
	c.clients.write(remote, data)
}

func (c *Concentrator) onCommandClientConnected(remote string) {
	c.logger.Info("Client connected to command channel", "remote", remote)
}

func (c *Concentrator) onCommandClientDisconnected(remote string, err error) {
	c.logger.Info("Client disconnected from command channel", "remote", remote, "error", err)
	c.clients.remove(remote)
}

func (c *Concentrator) onChannelError(err error) {
	c.recordError(err)
	c.logger.Info("Channel exception", "error", err)
}

func (c *Concentrator) recordError(err error) {
	if err != nil {
		c.lastError.Store(err.Error())
	}
}

func (c *Concentrator) recordHealth() {
	if c.metrics != nil {
		c.metrics.RecordHealthStatus(c.cfg.Name, c.publishing.Load())
	}
}

// Meta implements component.Discoverable.
func (c *Concentrator) Meta() component.Metadata {
	return component.Metadata{
		Name:        c.cfg.Name,
		Type:        component.TypeOutput,
		Description: "Phasor data concentrator publishing " + c.cfg.Name,
		Version:     "1.0.0",
	}
}

// Health implements component.Discoverable.
func (c *Concentrator) Health() component.HealthStatus {
	h := component.HealthStatus{
		Healthy:    c.running.Load() && c.publishing.Load(),
		LastCheck:  c.now(),
		ErrorCount: int(c.sendFailures.Load() + c.invalidCasts.Load()),
		Uptime:     c.upTime(),
	}
	if v, ok := c.lastError.Load().(string); ok {
		h.LastError = v
	}
	return h
}

// DataFlow implements component.Discoverable.
func (c *Concentrator) DataFlow() component.FlowMetrics {
	fm := component.FlowMetrics{
		MessagesPerSecond: c.throughput.Stats().Average,
	}
	if up := c.upTime().Seconds(); up > 0 {
		fm.BytesPerSecond = float64(c.bytesSent.Load()) / up
	}
	if c.engine != nil {
		if published := c.engine.Stats().PublishedFrames; published > 0 {
			fm.ErrorRate = float64(c.sendFailures.Load()) / float64(published)
		}
	}
	if ns := c.lastActivity.Load(); ns > 0 {
		fm.LastActivity = time.Unix(0, ns)
	}
	return fm
}

func (c *Concentrator) upTime() time.Duration {
	if !c.publishing.Load() {
		return 0
	}
	return c.now().Sub(time.Unix(0, c.dataStartedAt.Load()))
}
