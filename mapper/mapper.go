// Package mapper implements the inbound half of the concentrator: a Mapper owns one
// device connection, parses its protocol frames and republishes every defined field
// as a canonical measurement.
//
// Devices are resolved per cell through an immutable device table rebuilt from
// metadata. Configuration frames are diffed against the previous one and cached.
// The Mapper restarts its connection on remote close, excessive parsing
// exceptions and data loss.
package mapper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/phasorstreams/component"
	"github.com/c360/phasorstreams/configcache"
	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/measurement"
	"github.com/c360/phasorstreams/metadata"
	"github.com/c360/phasorstreams/metric"
	"github.com/c360/phasorstreams/phasor"
	"github.com/c360/phasorstreams/statistics"
	"github.com/c360/phasorstreams/transport"
)

// Sink receives the measurements mapped from each frame. *stream.Writer satisfies it.
type Sink interface {
	Write(source string, measurements []measurement.Measurement) error
}

// ChannelFactory builds a transport channel; transport.New by default.
type ChannelFactory func(cfg transport.Config, deps transport.Deps) (transport.Channel, error)

// Deps holds the Mapper dependencies.
type Deps struct {
	Config   Config
	Metadata metadata.Source
	Sink     Sink
	// Cache stores configuration images; nil disables caching
	Cache configcache.Store
	// Statistics registers the connection and its devices; optional
	Statistics      *statistics.Engine
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	// Differ decides configuration changes; phasor.BinaryImageDiffer by default
	Differ     phasor.ConfigurationDiffer
	NewChannel ChannelFactory
	Now        func() time.Time
}

// Mapper maps one inbound device connection to canonical measurements.
type Mapper struct {
	cfg        Config
	transport  transport.Config
	location   *time.Location
	meta       metadata.Source
	sink       Sink
	cache      configcache.Store
	stats      *statistics.Engine
	registry   *metric.MetricsRegistry
	metrics    *metric.Metrics
	logger     *slog.Logger
	differ     phasor.ConfigurationDiffer
	newChannel ChannelFactory
	now        func() time.Time

	parser *phasor.Parser

	chMu    sync.Mutex
	channel transport.Channel

	devices atomic.Pointer[deviceSet]

	// cfgMu serializes change detection with cache load, save and delete
	cfgMu                sync.Mutex
	lastConfiguration    *phasor.ConfigurationFrame
	receivedConfig       atomic.Bool
	cachedLoadAttempted  atomic.Bool
	autoStartPending     atomic.Bool
	configurationChanges atomic.Int64

	requestMu      sync.Mutex
	pendingMu      sync.Mutex
	pendingRequest chan *phasor.ConfigurationFrame
	pendingCancel  context.CancelFunc

	frameMu        sync.Mutex
	lastReportTime time.Time
	missing        *statistics.MissingDataMonitor

	undefinedMu sync.Mutex
	undefined   map[string]int64

	exceptionMu    sync.Mutex
	exceptionTimes []time.Time
	limiter        *rate.Limiter
	suppressed     atomic.Int64
	lastError      atomic.Value

	latency              statistics.LatencyTracker
	throughput           *statistics.Throughput
	frameRate            *statistics.Throughput
	totalFrames          atomic.Int64
	dataFrames           atomic.Int64
	configurationFrames  atomic.Int64
	headerFrames         atomic.Int64
	bytesReceived        atomic.Int64
	bytesSinceCheck      atomic.Int64
	outOfOrderFrames     atomic.Int64
	parsingExceptions    atomic.Int64
	lifetimeMeasurements atomic.Int64
	injectBadData        atomic.Bool

	connected      atomic.Bool
	connectedAt    atomic.Int64
	lastActivity   atomic.Int64
	monitorEnabled atomic.Bool

	statsMu         sync.Mutex
	statsRegistered atomic.Bool
	deviceSources   []string

	initialized bool
	running     atomic.Bool
	restarting  atomic.Bool
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	startedAt   time.Time
}

// New creates a Mapper. Initialize must succeed before Start.
func New(deps Deps) (*Mapper, error) {
	if deps.Metadata == nil || deps.Sink == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: metadata and sink are required", errors.ErrMissingConfig),
			"Mapper", "New", "dependency check")
	}
	cfg := deps.Config
	cfg.ApplyDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Differ == nil {
		deps.Differ = phasor.BinaryImageDiffer{}
	}
	if deps.NewChannel == nil {
		deps.NewChannel = transport.New
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	m := &Mapper{
		cfg:        cfg,
		meta:       deps.Metadata,
		sink:       deps.Sink,
		cache:      deps.Cache,
		stats:      deps.Statistics,
		registry:   deps.MetricsRegistry,
		logger:     logger.With("component", "mapper", "name", cfg.Name),
		differ:     deps.Differ,
		newChannel: deps.NewChannel,
		now:        deps.Now,
		undefined:  make(map[string]int64),
		limiter:    rate.NewLimiter(rate.Limit(cfg.ExceptionLogRate), DefaultExceptionLogBurst),
		throughput: statistics.NewThroughput(),
		frameRate:  statistics.NewThroughput(),
	}
	if deps.MetricsRegistry != nil {
		m.metrics = deps.MetricsRegistry.CoreMetrics()
	}
	m.devices.Store(&deviceSet{byID: map[uint16]*statistics.DeviceStatistics{}})
	if m.stats != nil {
		m.stats.OnCalculated(func(time.Time) { m.latency.ResetWindow() })
	}
	m.parser = m.newParser()
	return m, nil
}

// Name returns the connection name.
func (m *Mapper) Name() string { return m.cfg.Name }

// Config returns the applied configuration.
func (m *Mapper) Config() Config { return m.cfg }

func (m *Mapper) newParser() *phasor.Parser {
	return phasor.NewParser(phasor.Handlers{
		Configuration: m.onConfigurationFrame,
		Data:          m.onDataFrame,
		Header:        m.onHeaderFrame,
		Exception:     m.onParsingException,
	})
}

// Initialize validates the configuration and parses the connection string.
func (m *Mapper) Initialize() error {
	if err := m.cfg.Validate(); err != nil {
		return err
	}
	tc, err := transport.ParseConnectionString(m.cfg.ConnectionString)
	if err != nil {
		return errors.Wrap(err, "Mapper", "Initialize", "parse connection string")
	}
	m.transport = tc
	m.location = m.cfg.location()
	m.initialized = true
	return nil
}

// Start loads the device table, connects and begins monitoring the data stream.
func (m *Mapper) Start(ctx context.Context) error {
	if !m.initialized {
		if err := m.Initialize(); err != nil {
			return err
		}
	}
	if !m.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Mapper", "Start", "state check")
	}

	if err := m.LoadDevices(); err != nil {
		m.running.Store(false)
		return err
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.startedAt = m.now()
	m.registerStatistics()

	if err := m.connect(m.ctx); err != nil {
		m.logger.Warn("Initial connection failed, retrying", "error", err)
		m.restart("initial connection failed")
	}

	m.wg.Add(1)
	go m.monitor(m.ctx)

	m.logger.Info("Input started", "connection", m.transport.String())
	return nil
}

// Stop disconnects, waits for background work and unregisters statistics.
func (m *Mapper) Stop(timeout time.Duration) error {
	if !m.running.CompareAndSwap(true, false) {
		return nil
	}
	m.cancel()
	m.CancelConfigurationRequest()
	m.disconnect()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = errors.WrapTransient(errors.ErrConnectionTimeout, "Mapper", "Stop", "wait for background work")
	}

	m.unregisterStatistics()
	m.logger.Info("Input stopped")
	return err
}

// Running reports whether the Mapper was started and not stopped.
func (m *Mapper) Running() bool { return m.running.Load() }

// connect builds and starts a fresh channel.
func (m *Mapper) connect(ctx context.Context) error {
	ch, err := m.newChannel(m.transport, transport.Deps{
		Name: m.cfg.Name,
		Handlers: transport.Handlers{
			Connected:    m.onConnected,
			Disconnected: m.onDisconnected,
			Data:         m.onData,
			Error:        m.onChannelError,
		},
		MetricsRegistry: m.registry,
		Logger:          m.logger,
	})
	if err != nil {
		return errors.Wrap(err, "Mapper", "connect", "create channel")
	}

	m.chMu.Lock()
	m.channel = ch
	m.chMu.Unlock()

	m.logger.Info("Initiating protocol connection", "connection", m.transport.String())
	if err := ch.Start(ctx); err != nil {
		m.chMu.Lock()
		if m.channel == ch {
			m.channel = nil
		}
		m.chMu.Unlock()
		return errors.WrapTransient(err, "Mapper", "connect", "start channel")
	}
	return nil
}

// disconnect drops the channel handle and parser state.
func (m *Mapper) disconnect() {
	m.chMu.Lock()
	ch := m.channel
	m.channel = nil
	m.chMu.Unlock()

	if ch != nil {
		if err := ch.Stop(); err != nil {
			m.logger.Debug("Channel stop reported an error", "error", err)
		}
	}
	m.parser.Reset()
	m.connected.Store(false)
	m.monitorEnabled.Store(false)
	m.recordHealth()
}

// restart tears the connection down and reconnects after the reconnect delay.
// Concurrent requests collapse into one.
func (m *Mapper) restart(reason string) {
	if !m.running.Load() || !m.restarting.CompareAndSwap(false, true) {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.logger.Info("Restarting connection cycle", "reason", reason, "delay", m.cfg.ReconnectDelay)
		m.disconnect()

		select {
		case <-m.ctx.Done():
			m.restarting.Store(false)
			return
		case <-time.After(m.cfg.ReconnectDelay):
		}

		err := m.connect(m.ctx)
		m.restarting.Store(false)
		if err != nil && m.running.Load() {
			m.recordError(err)
			m.restart("connection attempt failed")
		}
	}()
}

func (m *Mapper) currentChannel() transport.Channel {
	m.chMu.Lock()
	defer m.chMu.Unlock()
	return m.channel
}

// supportsCommands reports whether device commands can reach the source.
func (m *Mapper) supportsCommands() bool {
	if m.transport.Protocol == transport.ProtocolTCP {
		return true
	}
	return m.transport.Server != ""
}

func (m *Mapper) qualityAcronym() string {
	if conn, ok := m.meta.Connection(m.cfg.Name); ok {
		return conn.DeviceName()
	}
	return m.cfg.Name
}

// Channel event handlers

func (m *Mapper) onConnected(remote string) {
	m.connected.Store(true)
	m.connectedAt.Store(m.now().UnixNano())
	m.ResetStatistics()
	m.monitorEnabled.Store(m.supportsCommands() || m.cfg.AllowUseOfCachedConfiguration)
	m.recordHealth()
	m.logger.Info("Device connection established", "remote", remote)

	m.receivedConfig.Store(false)
	m.cachedLoadAttempted.Store(false)

	if m.cfg.AutoStart() && m.supportsCommands() {
		m.autoStartPending.Store(true)
		for _, cmd := range []phasor.DeviceCommand{phasor.DisableRealTimeData, phasor.SendConfigurationFrame2} {
			if err := m.SendCommand(cmd); err != nil {
				m.logger.Warn("Auto start command failed", "command", cmd.String(), "error", err)
			}
		}
	}
}

func (m *Mapper) onDisconnected(remote string, err error) {
	if m.transport.IsListener {
		m.logger.Info("Device client disconnected", "remote", remote)
		return
	}
	m.connected.Store(false)
	m.recordHealth()
	if err == nil || !m.running.Load() {
		return
	}
	m.logger.Info("Connection closed by remote device, attempting reconnection", "remote", remote, "error", err)
	m.restart("connection closed by remote device")
}

func (m *Mapper) onData(_ string, data []byte) {
	m.bytesReceived.Add(int64(len(data)))
	m.bytesSinceCheck.Add(int64(len(data)))
	m.lastActivity.Store(m.now().UnixNano())
	_, _ = m.parser.Write(data)
}

func (m *Mapper) onChannelError(err error) {
	m.recordError(err)
	m.processException(err)
}

// Parser event handlers

func (m *Mapper) onHeaderFrame(*phasor.HeaderFrame) {
	m.totalFrames.Add(1)
	m.headerFrames.Add(1)
	if m.metrics != nil {
		m.metrics.RecordFrameReceived(m.cfg.Name, phasor.FrameTypeHeader.String())
	}
}

func (m *Mapper) onConfigurationFrame(cfg *phasor.ConfigurationFrame) {
	m.totalFrames.Add(1)
	m.configurationFrames.Add(1)
	if m.metrics != nil {
		m.metrics.RecordFrameReceived(m.cfg.Name, "configuration")
	}
	m.handleConfiguration(cfg, true)

	if m.autoStartPending.CompareAndSwap(true, false) {
		if err := m.SendCommand(phasor.EnableRealTimeData); err != nil {
			m.logger.Warn("Failed to enable real-time data", "error", err)
		}
	}

	m.pendingMu.Lock()
	if m.pendingRequest != nil {
		select {
		case m.pendingRequest <- cfg:
		default:
		}
	}
	m.pendingMu.Unlock()
}

// handleConfiguration detects changes and caches changed configurations. The first
// frame from the device on a connection always counts as a change.
func (m *Mapper) handleConfiguration(cfg *phasor.ConfigurationFrame, fromDevice bool) {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	m.applyConfiguration(cfg, fromDevice)
}

// applyConfiguration runs change detection; the caller holds cfgMu.
func (m *Mapper) applyConfiguration(cfg *phasor.ConfigurationFrame, fromDevice bool) {
	first := fromDevice && m.receivedConfig.CompareAndSwap(false, true)
	changed := first
	if !changed {
		var err error
		changed, err = m.differ.Changed(m.lastConfiguration, cfg)
		if err != nil {
			m.logger.Warn("Configuration comparison failed, treating as unchanged", "error", err)
			changed = false
		}
	}
	m.lastConfiguration = cfg
	if !changed {
		return
	}

	m.configurationChanges.Add(1)
	kind := "updated"
	if first {
		kind = "initial"
	}
	m.logger.Info("Received configuration frame", "kind", kind, "devices", len(cfg.Cells), "frame_rate", cfg.FrameRate)

	if fromDevice && m.cache != nil {
		m.saveConfiguration(cfg)
	}
	m.startMeasurementCounting(cfg)

	m.frameMu.Lock()
	m.missing = nil
	m.frameMu.Unlock()
}

func (m *Mapper) saveConfiguration(cfg *phasor.ConfigurationFrame) {
	image, err := cfg.MarshalBinary()
	if err != nil {
		m.logger.Warn("Failed to encode configuration for caching", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.cache.Save(ctx, m.cfg.Name, image); err != nil {
		m.logger.Warn("Failed to cache configuration", "error", err)
	}
}

// startMeasurementCounting sets each device's expected measurements per tick.
func (m *Mapper) startMeasurementCounting(cfg *phasor.ConfigurationFrame) {
	lookup := m.meta.Lookup()
	for _, dev := range m.devices.Load().all {
		expected := int64(cfg.FrameRate) * int64(lookup.CountForAcronym(dev.Acronym()))
		dev.StartMeasurementCounting(expected)
	}
}

func (m *Mapper) onDataFrame(df *phasor.DataFrame) {
	start := time.Now()
	m.totalFrames.Add(1)
	m.dataFrames.Add(1)
	m.frameRate.Add(1)

	df.Timestamp = m.adjustTimestamp(df.Timestamp)
	ts := df.Timestamp
	now := m.now()

	m.frameMu.Lock()
	if !m.lastReportTime.IsZero() && !ts.After(m.lastReportTime) {
		m.outOfOrderFrames.Add(1)
	}
	m.lastReportTime = ts
	if m.missing == nil && df.Configuration != nil && df.Configuration.FrameRate > 0 {
		m.missing = statistics.NewMissingDataMonitor(int(df.Configuration.FrameRate), m.cfg.RedundantFramesPerPacket, m.cfg.LagTime)
	}
	if m.missing != nil {
		m.missing.Observe(ts)
	}
	m.frameMu.Unlock()

	m.latency.Observe(ts, df.Received)

	ex := m.extractFrame(df, m.devices.Load(), m.meta.Lookup(), now)
	m.trackUndefined(ex.undefined)

	n := len(ex.measurements)
	m.lifetimeMeasurements.Add(int64(n))
	m.throughput.Add(n)
	if m.metrics != nil {
		m.metrics.RecordFrameReceived(m.cfg.Name, phasor.FrameTypeData.String())
		m.metrics.RecordMeasurementsMapped(m.cfg.Name, "inbound", n)
		m.metrics.RecordProcessingDuration(m.cfg.Name, "extract", time.Since(start))
	}
	if n == 0 {
		return
	}
	if err := m.sink.Write(m.cfg.Name, ex.measurements); err != nil {
		m.processException(errors.Wrap(err, "Mapper", "onDataFrame", "publish measurements"))
	}
}

// trackUndefined counts cells per unresolved label, warning on first sighting.
func (m *Mapper) trackUndefined(labels []string) {
	if len(labels) == 0 {
		return
	}
	m.undefinedMu.Lock()
	defer m.undefinedMu.Unlock()
	for _, label := range labels {
		if _, seen := m.undefined[label]; !seen {
			m.logger.Warn("Encountered an undefined device", "device", label)
		}
		m.undefined[label]++
	}
}

func (m *Mapper) onParsingException(err error) {
	m.parsingExceptions.Add(1)
	m.recordError(err)
	if m.metrics != nil {
		m.metrics.RecordError(m.cfg.Name, "parsing")
	}
	m.processException(err)

	now := m.now()
	m.exceptionMu.Lock()
	cutoff := now.Add(-m.cfg.ParsingExceptionWindow)
	kept := m.exceptionTimes[:0]
	for _, t := range m.exceptionTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.exceptionTimes = append(kept, now)
	exceeded := len(m.exceptionTimes) > m.cfg.AllowedParsingExceptions
	if exceeded {
		m.exceptionTimes = nil
	}
	m.exceptionMu.Unlock()

	if exceeded {
		m.logger.Warn("Connection is being reset due to an excessive number of exceptions",
			"allowed", m.cfg.AllowedParsingExceptions, "window", m.cfg.ParsingExceptionWindow)
		m.restart("excessive parsing exceptions")
	}
}

// processException logs through the rate limiter.
func (m *Mapper) processException(err error) {
	if !m.limiter.Allow() {
		m.suppressed.Add(1)
		return
	}
	if n := m.suppressed.Swap(0); n > 0 {
		m.logger.Warn("Processing exception", "error", err, "suppressed", n)
		return
	}
	m.logger.Warn("Processing exception", "error", err)
}

func (m *Mapper) recordError(err error) {
	if err != nil {
		m.lastError.Store(err.Error())
	}
}

func (m *Mapper) recordHealth() {
	if m.metrics != nil {
		m.metrics.RecordHealthStatus(m.cfg.Name, m.connected.Load())
	}
}

// monitor restarts silent connections, falls back to the cached configuration and
// advances the missing-data cutoff.
func (m *Mapper) monitor(ctx context.Context) {
	defer m.wg.Done()

	dataLoss := time.NewTicker(m.cfg.DataLossInterval)
	defer dataLoss.Stop()
	missing := time.NewTicker(time.Second)
	defer missing.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-missing.C:
			m.frameMu.Lock()
			mon := m.missing
			m.frameMu.Unlock()
			if mon != nil {
				mon.Advance(m.now())
			}
		case <-dataLoss.C:
			m.checkDataStream(ctx)
		}
	}
}

func (m *Mapper) checkDataStream(ctx context.Context) {
	received := m.bytesSinceCheck.Swap(0)
	if !m.monitorEnabled.Load() {
		return
	}

	canRestart := m.supportsCommands() || m.transport.Protocol == transport.ProtocolUDP || m.transport.IsListener
	switch {
	case received == 0 && canRestart:
		m.monitorEnabled.Store(false)
		m.logger.Info("No data received, restarting connect cycle", "interval", m.cfg.DataLossInterval)
		m.restart("no data received")

	case !m.receivedConfig.Load() && m.cfg.AllowUseOfCachedConfiguration:
		if m.cachedLoadAttempted.CompareAndSwap(false, true) {
			m.logger.Info("Configuration frame has yet to be received, attempting to load cached configuration")
			if _, err := m.LoadCachedConfiguration(ctx); err != nil {
				m.logger.Warn("Failed to load cached configuration", "error", err)
			}
		} else if m.supportsCommands() {
			m.logger.Info("Configuration frame has yet to be received even after loading from cache, restarting connect cycle")
			m.restart("no configuration received")
		}
	}
}

// Meta implements component.Discoverable.
func (m *Mapper) Meta() component.Metadata {
	return component.Metadata{
		Name:        m.cfg.Name,
		Type:        component.TypeInput,
		Description: "Phasor measurement mapper for " + m.transport.String(),
		Version:     "1.0.0",
	}
}

// Health implements component.Discoverable.
func (m *Mapper) Health() component.HealthStatus {
	h := component.HealthStatus{
		Healthy:    m.running.Load() && m.connected.Load(),
		LastCheck:  m.now(),
		ErrorCount: int(m.parsingExceptions.Load()),
		Uptime:     m.upTime(),
	}
	if v, ok := m.lastError.Load().(string); ok {
		h.LastError = v
	}
	return h
}

// DataFlow implements component.Discoverable.
func (m *Mapper) DataFlow() component.FlowMetrics {
	fm := component.FlowMetrics{
		MessagesPerSecond: m.throughput.Stats().Average,
	}
	if up := m.upTime().Seconds(); up > 0 {
		fm.BytesPerSecond = float64(m.bytesReceived.Load()) / up
	}
	if total := m.totalFrames.Load(); total > 0 {
		fm.ErrorRate = float64(m.parsingExceptions.Load()) / float64(total)
	}
	if ns := m.lastActivity.Load(); ns > 0 {
		fm.LastActivity = time.Unix(0, ns)
	}
	return fm
}

func (m *Mapper) upTime() time.Duration {
	if !m.connected.Load() {
		return 0
	}
	return m.now().Sub(time.Unix(0, m.connectedAt.Load()))
}
