package concentrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/phasor"
	"github.com/c360/phasorstreams/statistics"
	"github.com/c360/phasorstreams/transport"
)

// StartDataChannel starts the publication channel and the concentration engine.
func (c *Concentrator) StartDataChannel() error {
	if !c.running.Load() {
		return errors.WrapInvalid(errors.ErrNotStarted, "Concentrator", "StartDataChannel", "state check")
	}
	if err := c.startPublishChannel(); err != nil {
		c.recordError(err)
		c.logger.Warn("Failed to start publication channel", "error", err)
		c.reinitialize("publication channel failed to start")
		return err
	}
	if !c.publishing.Swap(true) {
		c.dataStartedAt.Store(c.now().UnixNano())
	}
	if !c.engine.Running() {
		if err := c.engine.Start(c.ctx); err != nil {
			return errors.Wrap(err, "Concentrator", "StartDataChannel", "start engine")
		}
	}
	c.recordHealth()
	c.logger.Info("Data channel started")
	return nil
}

// StopDataChannel halts socket publication. The engine and the command channel
// keep running.
func (c *Concentrator) StopDataChannel() {
	if c.publishing.Swap(false) {
		c.logger.Info("Data channel stopped")
	}
	c.recordHealth()
}

// Publishing reports whether frames are sent on the publication channel.
func (c *Concentrator) Publishing() bool { return c.publishing.Load() }

// ResetLifetimeCounters zeroes lifetime measurements, bytes sent and lifetime latency.
func (c *Concentrator) ResetLifetimeCounters() {
	c.lifetimeMeasurements.Store(0)
	c.bytesSent.Store(0)
	c.latency.ResetLifetime()
}

// ResetLatencyCounters restarts the latency window.
func (c *Concentrator) ResetLatencyCounters() {
	c.latency.ResetWindow()
}

// RebuildConfiguration rebuilds the configuration frame and the routing table
// from metadata and swaps them in. Rows that cannot be routed are logged and
// skipped.
func (c *Concentrator) RebuildConfiguration() (string, error) {
	s, ok := c.meta.OutputStream(c.cfg.Name)
	if !ok {
		return "", errors.WrapInvalid(fmt.Errorf("%w: output stream %s not found in metadata", errors.ErrMissingConfig, c.cfg.Name),
			"Concentrator", "RebuildConfiguration", "metadata lookup")
	}
	l, err := buildLayout(c.cfg, s, c.now())
	if err != nil {
		return "", err
	}
	for _, problem := range l.problems {
		c.logger.Warn("Output measurement excluded", "error", problem)
	}
	c.layout.Store(l)
	c.resetConfigurationBroadcast()

	msg := fmt.Sprintf("Configuration rebuilt: %d devices, %d measurements routed to %d destinations",
		len(l.configuration.Cells), l.keys(), l.destinations)
	c.logger.Info(msg, "excluded", len(l.problems))
	return msg, nil
}

// RequestCurrentConfiguration returns a copy of the configuration frame.
func (c *Concentrator) RequestCurrentConfiguration() (*phasor.ConfigurationFrame, error) {
	l := c.layout.Load()
	if l == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConfiguration, "Concentrator", "RequestCurrentConfiguration", "layout check")
	}
	return l.configuration.Clone(), nil
}

// handleCommand answers a device command from a client.
func (c *Concentrator) handleCommand(remote string, cf *phasor.CommandFrame) {
	l := c.layout.Load()
	if c.cfg.ValidateIDCode && cf.IDCode != l.configuration.IDCode {
		c.logger.Warn("Concentrator ID code validation failed for device command, no action was taken",
			"command", cf.Command.String(), "remote", remote, "id_code", cf.IDCode)
		return
	}

	switch cf.Command {
	case phasor.SendConfigurationFrame1, phasor.SendConfigurationFrame2:
		cfg := l.configuration.Clone()
		cfg.Timestamp = c.now()
		if c.reply(remote, cfg) {
			c.logger.Info("Configuration frame returned", "command", cf.Command.String(), "remote", remote)
		}
	case phasor.SendHeaderFrame:
		hf := &phasor.HeaderFrame{IDCode: l.configuration.IDCode, Timestamp: c.now(), Text: c.headerText()}
		if c.reply(remote, hf) {
			c.logger.Info("Header frame returned", "remote", remote)
		}
	case phasor.EnableRealTimeData:
		if c.cfg.AutoStart() {
			c.logger.Info("Request for EnableRealTimeData was ignored, data channel is set for auto-start", "remote", remote)
			return
		}
		if err := c.StartDataChannel(); err != nil {
			c.logger.Warn("Failed to start real-time data stream", "remote", remote, "error", err)
			return
		}
		c.logger.Info("Real-time data stream started on client request", "remote", remote)
	case phasor.DisableRealTimeData:
		if c.cfg.AutoStart() {
			c.logger.Info("Request for DisableRealTimeData was ignored, data channel is set for auto-start", "remote", remote)
			return
		}
		c.StopDataChannel()
		c.logger.Info("Real-time data stream stopped on client request", "remote", remote)
	default:
		c.logger.Info("Unrecognized device command", "command", cf.Command.String(), "remote", remote)
	}
}

// reply sends a frame to the client that asked for it.
func (c *Concentrator) reply(remote string, frame binaryImage) bool {
	ch := c.replyChannel()
	if ch == nil {
		return false
	}
	image, err := frame.MarshalBinary()
	if err != nil {
		c.recordError(err)
		c.logger.Warn("Failed to generate reply image", "remote", remote, "error", err)
		return false
	}
	if sender, ok := ch.(transport.ClientSender); ok {
		err = sender.SendTo(remote, image)
	} else {
		err = ch.Send(image)
	}
	if err != nil {
		c.recordError(err)
		c.logger.Info("Command channel exception occurred while sending client data", "remote", remote, "error", err)
		return false
	}
	c.bytesSent.Add(int64(len(image)))
	return true
}

func (c *Concentrator) onCommandException(remote string, err error) {
	c.logger.Debug("Discarded malformed client data", "remote", remote, "error", err)
}

func (c *Concentrator) headerText() string {
	var b strings.Builder
	b.WriteString("Phasor data concentrator:\n\n")
	fmt.Fprintf(&b, " Auto-publish config frame: %t\n", c.cfg.AutoPublish())
	fmt.Fprintf(&b, "   Auto-start data channel: %t\n", c.cfg.AutoStart())
	fmt.Fprintf(&b, "       Data stream ID code: %d\n", c.layout.Load().configuration.IDCode)
	fmt.Fprintf(&b, "       Derived system time: %s UTC\n", c.now().UTC().Format("2006-01-02 15:04:05.000"))
	return b.String()
}

// Execute runs an administrative command by name and returns a status message.
func (c *Concentrator) Execute(_ context.Context, command string, _ map[string]string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(command)) {
	case "startdatachannel":
		if err := c.StartDataChannel(); err != nil {
			return "", err
		}
		return "Data channel started", nil
	case "stopdatachannel":
		c.StopDataChannel()
		return "Data channel stopped", nil
	case "resetlifetimecounters":
		c.ResetLifetimeCounters()
		return "Lifetime counters reset", nil
	case "resetlatencycounters":
		c.ResetLatencyCounters()
		return "Latency counters reset", nil
	case "rebuildconfiguration":
		return c.RebuildConfiguration()
	case "requestcurrentconfiguration":
		cfg, err := c.RequestCurrentConfiguration()
		if err != nil {
			return "", err
		}
		return describeConfiguration(cfg), nil
	case "reinitialize":
		if c.reinitialize("requested by administrator") {
			return "Channels reinitializing", nil
		}
		return "", errors.WrapTransient(errors.ErrOperationInProgress, "Concentrator", "Execute", "reinitialize")
	}
	return "", errors.WrapInvalid(fmt.Errorf("%w: unknown command %q", errors.ErrInvalidData, command), "Concentrator", "Execute", "command lookup")
}

// Commands lists the names accepted by Execute.
func Commands() []string {
	return []string{
		"StartDataChannel", "StopDataChannel", "ResetLifetimeCounters", "ResetLatencyCounters",
		"RebuildConfiguration", "RequestCurrentConfiguration", "Reinitialize",
	}
}

func describeConfiguration(cfg *phasor.ConfigurationFrame) string {
	names := make([]string, len(cfg.Cells))
	for i, cell := range cfg.Cells {
		names[i] = cell.IDLabel
	}
	return fmt.Sprintf("ID code %d, %d frames per second, %d devices: %s",
		cfg.IDCode, cfg.FrameRate, len(cfg.Cells), strings.Join(names, ", "))
}

func (c *Concentrator) registerStatistics() {
	if c.stats == nil {
		return
	}
	if err := c.stats.Register(statistics.Outbound{Name: c.cfg.Name, Provider: c}); err != nil {
		c.logger.Warn("Failed to register output statistics", "error", err)
		return
	}
	c.statsRegistered.Store(true)
}

func (c *Concentrator) unregisterStatistics() {
	if c.stats == nil || !c.statsRegistered.CompareAndSwap(true, false) {
		return
	}
	c.stats.Unregister(c.cfg.Name)
}
