package concentrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/c360/phasorstreams/statistics"
)

// OutboundStatistics implements statistics.OutboundProvider.
func (c *Concentrator) OutboundStatistics() statistics.OutboundSnapshot {
	s := statistics.OutboundSnapshot{
		Connected:            c.publishing.Load(),
		BytesSent:            c.bytesSent.Load(),
		Latency:              c.latency.Window(),
		LifetimeLatency:      c.latency.Lifetime(),
		Throughput:           c.throughput.Stats(),
		LifetimeMeasurements: c.lifetimeMeasurements.Load(),
		UpTime:               c.upTime(),
	}
	if c.engine != nil {
		es := c.engine.Stats()
		s.PublishedFrames = es.PublishedFrames
		s.DiscardedMeasurements = es.DiscardedMeasurements
		s.MissedSorts = es.MissedSorts
	}
	if ch := c.publishChannel(); ch != nil {
		s.ConnectedClients = ch.ClientCount()
	}
	return s
}

// UnroutedMeasurements counts queued measurements whose key has no destination.
func (c *Concentrator) UnroutedMeasurements() int64 { return c.unroutedMeasurements.Load() }

// Status renders a human readable status report.
func (c *Concentrator) Status() string {
	s := c.OutboundStatistics()
	l := c.layout.Load()

	var b strings.Builder
	fmt.Fprintf(&b, "Output %s\n", c.cfg.Name)
	fmt.Fprintf(&b, "     Data channel: %s\n", orNone(c.cfg.DataChannel))
	fmt.Fprintf(&b, "  Command channel: %s (%d clients)\n", orNone(c.cfg.CommandChannel), c.clients.count())
	fmt.Fprintf(&b, "       Publishing: %t (up %s)\n", s.Connected, s.UpTime.Truncate(time.Second))
	fmt.Fprintf(&b, "  Auto-publish config: %t, auto-start: %t, process data valid: %t\n",
		c.cfg.AutoPublish(), c.cfg.AutoStart(), c.cfg.ProcessDataValid())
	fmt.Fprintf(&b, " Published frames: %d (configuration %d)\n", s.PublishedFrames, c.configurationsSent.Load())
	fmt.Fprintf(&b, "       Bytes sent: %d to %d clients\n", s.BytesSent, s.ConnectedClients)
	fmt.Fprintf(&b, "        Discarded: %d, missed sorts %d, unrouted %d\n",
		s.DiscardedMeasurements, s.MissedSorts, c.unroutedMeasurements.Load())
	fmt.Fprintf(&b, "    Send failures: %d, invalid casts %d\n", c.sendFailures.Load(), c.invalidCasts.Load())
	fmt.Fprintf(&b, "          Latency: min %s, max %s, avg %s (lifetime avg %s)\n",
		s.Latency.Minimum, s.Latency.Maximum, s.Latency.Average, s.LifetimeLatency.Average)
	fmt.Fprintf(&b, "     Measurements: %d lifetime, %.1f per second\n", s.LifetimeMeasurements, s.Throughput.Average)

	if l != nil {
		fmt.Fprintf(&b, "\nDevices (%d), ID code %d:\n", len(l.configuration.Cells), l.configuration.IDCode)
		for i, cell := range l.configuration.Cells {
			fmt.Fprintf(&b, "   Cell %02d: %s (%d) %d phasors, %d analogs, %d digitals\n",
				i, cell.IDLabel, cell.IDCode, len(cell.Phasors), len(cell.Analogs), len(cell.Digitals))
		}
		fmt.Fprintf(&b, "Routed measurements: %d to %d destinations\n", l.keys(), l.destinations)
		for _, problem := range l.problems {
			fmt.Fprintf(&b, "   Excluded: %v\n", problem)
		}
	}
	return b.String()
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}
