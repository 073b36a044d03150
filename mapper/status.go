package mapper

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/c360/phasorstreams/statistics"
)

// InboundStatistics implements statistics.InboundProvider.
func (m *Mapper) InboundStatistics() statistics.InboundSnapshot {
	s := statistics.InboundSnapshot{
		Connected:            m.connected.Load(),
		TotalFrames:          m.totalFrames.Load(),
		DataFrames:           m.dataFrames.Load(),
		ConfigurationFrames:  m.configurationFrames.Load(),
		HeaderFrames:         m.headerFrames.Load(),
		BytesReceived:        m.bytesReceived.Load(),
		OutOfOrderFrames:     m.outOfOrderFrames.Load(),
		ConfigurationChanges: m.configurationChanges.Load(),
		ParsingExceptions:    m.parsingExceptions.Load(),
		ActualFrameRate:      m.frameRate.Stats().Average,
		Latency:              m.latency.Window(),
		LifetimeLatency:      m.latency.Lifetime(),
		Throughput:           m.throughput.Stats(),
		LifetimeMeasurements: m.lifetimeMeasurements.Load(),
		UpTime:               m.upTime(),
	}

	m.frameMu.Lock()
	s.LastReportTime = m.lastReportTime
	if m.missing != nil {
		s.MissingData = m.missing.Missing()
	}
	m.frameMu.Unlock()

	m.cfgMu.Lock()
	if m.lastConfiguration != nil {
		s.DefinedFrameRate = float64(m.lastConfiguration.FrameRate)
	}
	m.cfgMu.Unlock()

	m.undefinedMu.Lock()
	s.UndefinedDevices = int64(len(m.undefined))
	m.undefinedMu.Unlock()
	return s
}

// UndefinedDevices returns the number of cells seen per unresolved device label.
func (m *Mapper) UndefinedDevices() map[string]int64 {
	m.undefinedMu.Lock()
	defer m.undefinedMu.Unlock()
	out := make(map[string]int64, len(m.undefined))
	for k, v := range m.undefined {
		out[k] = v
	}
	return out
}

// DeviceStatistics returns snapshots of every defined device, ordered by ID code.
func (m *Mapper) DeviceStatistics() []statistics.DeviceSnapshot {
	all := m.devices.Load().all
	out := make([]statistics.DeviceSnapshot, 0, len(all))
	for _, d := range all {
		out = append(out, d.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IDCode < out[j].IDCode })
	return out
}

// BadDataInjected reports whether ToggleBadData is in effect.
func (m *Mapper) BadDataInjected() bool { return m.injectBadData.Load() }

// Status renders a human readable status report.
func (m *Mapper) Status() string {
	s := m.InboundStatistics()
	set := m.devices.Load()

	var b strings.Builder
	fmt.Fprintf(&b, "Input %s (%s)\n", m.cfg.Name, m.transport.String())
	fmt.Fprintf(&b, "        Connected: %t (up %s)\n", s.Connected, s.UpTime.Truncate(time.Second))
	fmt.Fprintf(&b, "   Defined frames: %.0f per second, actual %.2f\n", s.DefinedFrameRate, s.ActualFrameRate)
	fmt.Fprintf(&b, "     Total frames: %d (data %d, configuration %d, header %d)\n",
		s.TotalFrames, s.DataFrames, s.ConfigurationFrames, s.HeaderFrames)
	fmt.Fprintf(&b, "   Bytes received: %d\n", s.BytesReceived)
	fmt.Fprintf(&b, "     Out of order: %d\n", s.OutOfOrderFrames)
	fmt.Fprintf(&b, "     Missing data: %d\n", s.MissingData)
	fmt.Fprintf(&b, "Parsing exceptions: %d\n", s.ParsingExceptions)
	fmt.Fprintf(&b, "  Config changes: %d\n", s.ConfigurationChanges)
	if !s.LastReportTime.IsZero() {
		fmt.Fprintf(&b, "     Last report: %s\n", s.LastReportTime.Format("2006-01-02 15:04:05.000"))
	}
	fmt.Fprintf(&b, "         Latency: min %s, max %s, avg %s (lifetime avg %s)\n",
		s.Latency.Minimum, s.Latency.Maximum, s.Latency.Average, s.LifetimeLatency.Average)
	fmt.Fprintf(&b, "     Measurements: %d lifetime, %.1f per second\n", s.LifetimeMeasurements, s.Throughput.Average)
	if m.injectBadData.Load() {
		b.WriteString("  Bad data injection is enabled\n")
	}

	fmt.Fprintf(&b, "\nDefined devices (%d):\n", len(set.all))
	b.WriteString(set.describe())
	for _, problem := range set.problems {
		fmt.Fprintf(&b, "   Excluded: %v\n", problem)
	}

	undefined := m.UndefinedDevices()
	if len(undefined) > 0 {
		labels := make([]string, 0, len(undefined))
		for label := range undefined {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		fmt.Fprintf(&b, "\nUndefined devices (%d):\n", len(labels))
		for _, label := range labels {
			fmt.Fprintf(&b, "   %s: %d frames\n", label, undefined[label])
		}
	}
	return b.String()
}
