package mapper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/phasor"
	"github.com/c360/phasorstreams/statistics"
)

// LoadDevices rebuilds the device table from the current metadata. Devices whose
// identity is ambiguous are excluded and logged.
func (m *Mapper) LoadDevices() error {
	conn, ok := m.meta.Connection(m.cfg.Name)
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: no metadata for connection %q", errors.ErrMissingConfig, m.cfg.Name),
			"Mapper", "LoadDevices", "connection lookup")
	}

	set := loadDevices(conn)
	previous := m.devices.Swap(set)

	for _, problem := range set.problems {
		m.logger.Warn("Device excluded from mapping", "error", problem)
	}
	mode := "ID code"
	if set.forced {
		mode = "label"
	}
	m.logger.Info("Loaded input devices", "devices", len(set.all), "excluded", len(set.problems), "mapping", mode)
	m.logger.Debug("Expected devices\n" + set.describe())

	m.syncDeviceStatistics(previous, set)

	m.cfgMu.Lock()
	cfg := m.lastConfiguration
	m.cfgMu.Unlock()
	if cfg != nil {
		m.startMeasurementCounting(cfg)
	}
	return nil
}

// RefreshMetadata is LoadDevices reporting a status message.
func (m *Mapper) RefreshMetadata() (string, error) {
	if err := m.LoadDevices(); err != nil {
		return "", err
	}
	return fmt.Sprintf("Reloaded %d devices for %s", len(m.devices.Load().all), m.cfg.Name), nil
}

// RequestCurrentConfiguration returns the most recent configuration frame.
func (m *Mapper) RequestCurrentConfiguration() (*phasor.ConfigurationFrame, error) {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	if m.lastConfiguration == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConfiguration, "Mapper", "RequestCurrentConfiguration", "configuration lookup")
	}
	return m.lastConfiguration.Clone(), nil
}

// RequestConfiguration asks the device for a fresh configuration frame and waits
// for it. Only one request runs per connection; a concurrent call fails with
// ErrOperationInProgress.
func (m *Mapper) RequestConfiguration(ctx context.Context) (*phasor.ConfigurationFrame, error) {
	if !m.requestMu.TryLock() {
		return nil, errors.WrapInvalid(errors.ErrOperationInProgress, "Mapper", "RequestConfiguration", "acquire request slot")
	}
	defer m.requestMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConfigurationRequestTimeout)
	defer cancel()

	result := make(chan *phasor.ConfigurationFrame, 1)
	m.pendingMu.Lock()
	m.pendingRequest = result
	m.pendingCancel = cancel
	m.pendingMu.Unlock()
	defer func() {
		m.pendingMu.Lock()
		m.pendingRequest = nil
		m.pendingCancel = nil
		m.pendingMu.Unlock()
	}()

	if err := m.SendCommand(phasor.SendConfigurationFrame2); err != nil {
		return nil, err
	}

	select {
	case cfg := <-result:
		return cfg, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.WrapTransient(errors.ErrConnectionTimeout, "Mapper", "RequestConfiguration", "wait for configuration frame")
		}
		return nil, errors.WrapTransient(ctx.Err(), "Mapper", "RequestConfiguration", "request cancelled")
	}
}

// CancelConfigurationRequest aborts a pending RequestConfiguration. It reports
// whether a request was pending.
func (m *Mapper) CancelConfigurationRequest() bool {
	m.pendingMu.Lock()
	cancel := m.pendingCancel
	m.pendingMu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// SendCommand sends a device command to the first access ID of the connection.
func (m *Mapper) SendCommand(cmd phasor.DeviceCommand) error {
	if !m.supportsCommands() {
		return errors.WrapInvalid(errors.ErrCommandsNotSupported, "Mapper", "SendCommand", cmd.String())
	}
	ch := m.currentChannel()
	if ch == nil {
		return errors.WrapTransient(errors.ErrChannelNotReady, "Mapper", "SendCommand", cmd.String())
	}

	frame := &phasor.CommandFrame{IDCode: m.commandIDCode(), Timestamp: m.now().UTC(), Command: cmd}
	data, err := frame.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "Mapper", "SendCommand", "encode command frame")
	}
	if err := ch.Send(data); err != nil {
		return errors.WrapTransient(err, "Mapper", "SendCommand", cmd.String())
	}
	m.logger.Debug("Sent device command", "command", cmd.String())
	return nil
}

func (m *Mapper) commandIDCode() uint16 {
	if conn, ok := m.meta.Connection(m.cfg.Name); ok && len(conn.AccessIDs) > 0 {
		return conn.AccessIDs[0]
	}
	if all := m.devices.Load().all; len(all) > 0 {
		return all[0].IDCode()
	}
	return 1
}

// ResetStatistics clears connection and device counters. Lifetime counters survive.
func (m *Mapper) ResetStatistics() {
	m.totalFrames.Store(0)
	m.dataFrames.Store(0)
	m.configurationFrames.Store(0)
	m.headerFrames.Store(0)
	m.bytesReceived.Store(0)
	m.outOfOrderFrames.Store(0)
	m.parsingExceptions.Store(0)
	m.configurationChanges.Store(0)
	m.latency.ResetWindow()
	m.throughput.Reset()
	m.frameRate.Reset()

	m.frameMu.Lock()
	if m.missing != nil {
		m.missing.Reset()
	}
	m.frameMu.Unlock()

	m.undefinedMu.Lock()
	m.undefined = make(map[string]int64)
	m.undefinedMu.Unlock()

	for _, d := range m.devices.Load().all {
		d.Reset()
	}
}

// ResetDeviceStatistics clears the counters of one device.
func (m *Mapper) ResetDeviceStatistics(idCode uint16) error {
	d, ok := m.devices.Load().byIDCode(idCode)
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: device ID %d", errors.ErrKeyNotFound, idCode),
			"Mapper", "ResetDeviceStatistics", "device lookup")
	}
	d.Reset()
	return nil
}

// ResetLifetimeCounters clears lifetime measurement and latency aggregates.
func (m *Mapper) ResetLifetimeCounters() {
	m.lifetimeMeasurements.Store(0)
	m.latency.ResetLifetime()
	m.throughput.Reset()
}

// ResetLatencyCounters clears the latency window.
func (m *Mapper) ResetLatencyCounters() {
	m.latency.ResetWindow()
}

// LoadCachedConfiguration applies the cached configuration image, if any.
func (m *Mapper) LoadCachedConfiguration(ctx context.Context) (*phasor.ConfigurationFrame, error) {
	if m.cache == nil {
		return nil, errors.WrapInvalid(errors.ErrStorageUnavailable, "Mapper", "LoadCachedConfiguration", "cache lookup")
	}
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()

	image, err := m.cache.Load(ctx, m.cfg.Name)
	if err != nil {
		return nil, errors.Wrap(err, "Mapper", "LoadCachedConfiguration", "load image")
	}
	cfg := &phasor.ConfigurationFrame{}
	if err := cfg.UnmarshalBinary(image); err != nil {
		return nil, errors.Wrap(err, "Mapper", "LoadCachedConfiguration", "decode image")
	}

	m.parser.SetConfiguration(cfg)
	m.applyConfiguration(cfg, false)
	m.logger.Info("Loaded cached configuration", "devices", len(cfg.Cells), "frame_rate", cfg.FrameRate)
	return cfg, nil
}

// DeleteCachedConfiguration removes the cached configuration image.
func (m *Mapper) DeleteCachedConfiguration(ctx context.Context) error {
	if m.cache == nil {
		return errors.WrapInvalid(errors.ErrStorageUnavailable, "Mapper", "DeleteCachedConfiguration", "cache lookup")
	}
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	if err := m.cache.Delete(ctx, m.cfg.Name); err != nil {
		return errors.Wrap(err, "Mapper", "DeleteCachedConfiguration", "delete image")
	}
	m.logger.Info("Deleted cached configuration")
	return nil
}

// ToggleBadData flips bad-data injection and returns the new state. While set,
// every mapped cell is flagged as invalid data.
func (m *Mapper) ToggleBadData() bool {
	for {
		old := m.injectBadData.Load()
		if m.injectBadData.CompareAndSwap(old, !old) {
			m.logger.Info("Bad data injection toggled", "enabled", !old)
			return !old
		}
	}
}

// Execute runs an administrative command by name and returns a status message.
func (m *Mapper) Execute(ctx context.Context, command string, args map[string]string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(command)) {
	case "requestcurrentconfiguration":
		cfg, err := m.RequestCurrentConfiguration()
		if err != nil {
			return "", err
		}
		return describeConfiguration(cfg), nil
	case "requestconfiguration":
		cfg, err := m.RequestConfiguration(ctx)
		if err != nil {
			return "", err
		}
		return describeConfiguration(cfg), nil
	case "cancelconfigurationrequest":
		if m.CancelConfigurationRequest() {
			return "Configuration request cancelled", nil
		}
		return "No configuration request in progress", nil
	case "resetstatistics":
		if _, ok := args["id"]; !ok {
			m.ResetStatistics()
			return "Statistics reset for all devices", nil
		}
		fallthrough
	case "resetdevicestatistics":
		var idCode uint16
		if _, err := fmt.Sscanf(args["id"], "%d", &idCode); err != nil {
			return "", errors.WrapInvalid(fmt.Errorf("%w: device ID %q", errors.ErrInvalidData, args["id"]), "Mapper", "Execute", "parse device ID")
		}
		if err := m.ResetDeviceStatistics(idCode); err != nil {
			return "", err
		}
		return fmt.Sprintf("Statistics reset for device %d", idCode), nil
	case "resetlifetimecounters":
		m.ResetLifetimeCounters()
		return "Lifetime counters reset", nil
	case "resetlatencycounters":
		m.ResetLatencyCounters()
		return "Latency counters reset", nil
	case "loadcachedconfiguration":
		cfg, err := m.LoadCachedConfiguration(ctx)
		if err != nil {
			return "", err
		}
		return "Cached configuration loaded: " + describeConfiguration(cfg), nil
	case "deletecachedconfiguration":
		if err := m.DeleteCachedConfiguration(ctx); err != nil {
			return "", err
		}
		return "Cached configuration deleted", nil
	case "sendcommand":
		cmd, err := phasor.ParseDeviceCommand(args["command"])
		if err != nil {
			return "", errors.WrapInvalid(err, "Mapper", "Execute", "parse device command")
		}
		if err := m.SendCommand(cmd); err != nil {
			return "", err
		}
		return "Sent " + cmd.String(), nil
	case "togglebaddata":
		if m.ToggleBadData() {
			return "Bad data injection enabled", nil
		}
		return "Bad data injection disabled", nil
	case "refreshmetadata":
		return m.RefreshMetadata()
	case "restart":
		m.restart("requested by administrator")
		return "Connection cycle restarting", nil
	}
	return "", errors.WrapInvalid(fmt.Errorf("%w: unknown command %q", errors.ErrInvalidData, command), "Mapper", "Execute", "command lookup")
}

// Commands lists the names accepted by Execute.
func Commands() []string {
	return []string{
		"RequestCurrentConfiguration", "RequestConfiguration", "CancelConfigurationRequest",
		"ResetStatistics", "ResetDeviceStatistics", "ResetLifetimeCounters", "ResetLatencyCounters",
		"LoadCachedConfiguration", "DeleteCachedConfiguration", "SendCommand",
		"ToggleBadData", "RefreshMetadata", "Restart",
	}
}

func describeConfiguration(cfg *phasor.ConfigurationFrame) string {
	return fmt.Sprintf("Configuration %d at %s: %d devices, %d frames per second",
		cfg.IDCode, cfg.Timestamp.UTC().Format(time.RFC3339Nano), len(cfg.Cells), cfg.FrameRate)
}

// syncDeviceStatistics swaps the device statistics sources of a reloaded table.
func (m *Mapper) syncDeviceStatistics(previous, current *deviceSet) {
	if m.stats == nil {
		return
	}
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	if !m.statsRegistered.Load() {
		return
	}
	if previous != nil {
		for _, name := range m.deviceSources {
			m.stats.Unregister(name)
		}
	}
	m.deviceSources = m.registerDevices(current)
}

func (m *Mapper) registerStatistics() {
	if m.stats == nil {
		return
	}
	if err := m.stats.Register(statistics.Inbound{Name: m.cfg.Name, Provider: m}); err != nil {
		m.logger.Warn("Failed to register input statistics", "error", err)
	}
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.deviceSources = m.registerDevices(m.devices.Load())
	m.statsRegistered.Store(true)
}

func (m *Mapper) registerDevices(set *deviceSet) []string {
	names := make([]string, 0, len(set.all))
	seen := make(map[string]bool, len(set.all))
	for _, d := range set.all {
		name := m.cfg.Name + "." + d.Acronym()
		if seen[name] {
			name = fmt.Sprintf("%s.%d", name, d.IDCode())
		}
		seen[name] = true
		if err := m.stats.Register(statistics.Device{Name: name, Stats: d}); err != nil {
			m.logger.Warn("Failed to register device statistics", "device", name, "error", err)
			continue
		}
		names = append(names, name)
	}
	return names
}

func (m *Mapper) unregisterStatistics() {
	if m.stats == nil {
		return
	}
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	if !m.statsRegistered.CompareAndSwap(true, false) {
		return
	}
	m.stats.Unregister(m.cfg.Name)
	for _, name := range m.deviceSources {
		m.stats.Unregister(name)
	}
	m.deviceSources = nil
}
