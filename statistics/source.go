package statistics

import "time"

// SourceKind tags the variant of a statistics Source.
type SourceKind int

const (
	SourceInbound SourceKind = iota + 1
	SourceOutbound
	SourceDevice
)

// String returns the lower-case kind name used in metric names.
func (k SourceKind) String() string {
	switch k {
	case SourceInbound:
		return "inbound"
	case SourceOutbound:
		return "outbound"
	case SourceDevice:
		return "device"
	default:
		return "unknown"
	}
}

// Source is a statistics source registered with the Engine. It is one of
// Inbound, Outbound or Device.
type Source interface {
	SourceName() string
	Kind() SourceKind
}

// InboundSnapshot is the statistics view of an inbound mapper connection.
type InboundSnapshot struct {
	Connected            bool            `json:"connected"`
	TotalFrames          int64           `json:"totalFrames"`
	DataFrames           int64           `json:"dataFrames"`
	ConfigurationFrames  int64           `json:"configurationFrames"`
	HeaderFrames         int64           `json:"headerFrames"`
	BytesReceived        int64           `json:"bytesReceived"`
	OutOfOrderFrames     int64           `json:"outOfOrderFrames"`
	MissingData          int64           `json:"missingData"`
	ConfigurationChanges int64           `json:"configurationChanges"`
	ParsingExceptions    int64           `json:"parsingExceptions"`
	UndefinedDevices     int64           `json:"undefinedDevices"`
	DefinedFrameRate     float64         `json:"definedFrameRate"`
	ActualFrameRate      float64         `json:"actualFrameRate"`
	LastReportTime       time.Time       `json:"lastReportTime"`
	Latency              LatencyStats    `json:"latency"`
	LifetimeLatency      LatencyStats    `json:"lifetimeLatency"`
	Throughput           ThroughputStats `json:"throughput"`
	LifetimeMeasurements int64           `json:"lifetimeMeasurements"`
	UpTime               time.Duration   `json:"upTime"`
}

// OutboundSnapshot is the statistics view of an outbound concentrator.
type OutboundSnapshot struct {
	Connected             bool            `json:"connected"`
	PublishedFrames       int64           `json:"publishedFrames"`
	BytesSent             int64           `json:"bytesSent"`
	ConnectedClients      int             `json:"connectedClients"`
	DiscardedMeasurements int64           `json:"discardedMeasurements"`
	MissedSorts           int64           `json:"missedSorts"`
	Latency               LatencyStats    `json:"latency"`
	LifetimeLatency       LatencyStats    `json:"lifetimeLatency"`
	Throughput            ThroughputStats `json:"throughput"`
	LifetimeMeasurements  int64           `json:"lifetimeMeasurements"`
	UpTime                time.Duration   `json:"upTime"`
}

// InboundProvider exposes inbound connection statistics.
type InboundProvider interface {
	InboundStatistics() InboundSnapshot
}

// OutboundProvider exposes outbound stream statistics.
type OutboundProvider interface {
	OutboundStatistics() OutboundSnapshot
}

// Inbound is the Source variant for an inbound connection.
type Inbound struct {
	Name     string
	Provider InboundProvider
}

// SourceName implements Source.
func (s Inbound) SourceName() string { return s.Name }

// Kind implements Source.
func (Inbound) Kind() SourceKind { return SourceInbound }

// Outbound is the Source variant for an outbound stream.
type Outbound struct {
	Name     string
	Provider OutboundProvider
}

// SourceName implements Source.
func (s Outbound) SourceName() string { return s.Name }

// Kind implements Source.
func (Outbound) Kind() SourceKind { return SourceOutbound }

// Device is the Source variant for a defined device of an inbound connection.
// Collecting a Device restarts its per-tick measurement counters.
type Device struct {
	Name  string
	Stats *DeviceStatistics
}

// SourceName implements Source.
func (s Device) SourceName() string { return s.Name }

// Kind implements Source.
func (Device) Kind() SourceKind { return SourceDevice }

// calculator is a named statistic derived from a collected snapshot.
type calculator[S any] struct {
	name string
	help string
	calc func(S) float64
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var inboundCalculators = []calculator[InboundSnapshot]{
	{"connected", "Connection state (1 connected)", func(s InboundSnapshot) float64 { return boolValue(s.Connected) }},
	{"total_frames", "Frames received", func(s InboundSnapshot) float64 { return float64(s.TotalFrames) }},
	{"data_frames", "Data frames received", func(s InboundSnapshot) float64 { return float64(s.DataFrames) }},
	{"configuration_frames", "Configuration frames received", func(s InboundSnapshot) float64 { return float64(s.ConfigurationFrames) }},
	{"header_frames", "Header frames received", func(s InboundSnapshot) float64 { return float64(s.HeaderFrames) }},
	{"bytes_received", "Bytes received", func(s InboundSnapshot) float64 { return float64(s.BytesReceived) }},
	{"out_of_order_frames", "Frames with a timestamp not after the previous one", func(s InboundSnapshot) float64 { return float64(s.OutOfOrderFrames) }},
	{"missing_data", "Frame periods without a frame", func(s InboundSnapshot) float64 { return float64(s.MissingData) }},
	{"configuration_changes", "Detected configuration changes", func(s InboundSnapshot) float64 { return float64(s.ConfigurationChanges) }},
	{"parsing_exceptions", "Parsing exceptions", func(s InboundSnapshot) float64 { return float64(s.ParsingExceptions) }},
	{"undefined_devices", "Undefined device labels seen", func(s InboundSnapshot) float64 { return float64(s.UndefinedDevices) }},
	{"defined_frame_rate", "Configured frame rate", func(s InboundSnapshot) float64 { return s.DefinedFrameRate }},
	{"actual_frame_rate", "Observed frames per second", func(s InboundSnapshot) float64 { return s.ActualFrameRate }},
	{"last_report_time", "Last frame timestamp in unix seconds", func(s InboundSnapshot) float64 { return unixSeconds(s.LastReportTime) }},
	{"minimum_latency_seconds", "Minimum latency in the window", func(s InboundSnapshot) float64 { return s.Latency.Minimum.Seconds() }},
	{"maximum_latency_seconds", "Maximum latency in the window", func(s InboundSnapshot) float64 { return s.Latency.Maximum.Seconds() }},
	{"average_latency_seconds", "Average latency in the window", func(s InboundSnapshot) float64 { return s.Latency.Average.Seconds() }},
	{"lifetime_minimum_latency_seconds", "Minimum latency since start", func(s InboundSnapshot) float64 { return s.LifetimeLatency.Minimum.Seconds() }},
	{"lifetime_maximum_latency_seconds", "Maximum latency since start", func(s InboundSnapshot) float64 { return s.LifetimeLatency.Maximum.Seconds() }},
	{"lifetime_average_latency_seconds", "Average latency since start", func(s InboundSnapshot) float64 { return s.LifetimeLatency.Average.Seconds() }},
	{"minimum_measurements_per_second", "Minimum measurements in one second", func(s InboundSnapshot) float64 { return s.Throughput.Minimum }},
	{"maximum_measurements_per_second", "Maximum measurements in one second", func(s InboundSnapshot) float64 { return s.Throughput.Maximum }},
	{"average_measurements_per_second", "Average measurements per second", func(s InboundSnapshot) float64 { return s.Throughput.Average }},
	{"lifetime_measurements", "Measurements mapped since start", func(s InboundSnapshot) float64 { return float64(s.LifetimeMeasurements) }},
	{"up_time_seconds", "Time connected", func(s InboundSnapshot) float64 { return s.UpTime.Seconds() }},
}

var outboundCalculators = []calculator[OutboundSnapshot]{
	{"connected", "Data channel state (1 started)", func(s OutboundSnapshot) float64 { return boolValue(s.Connected) }},
	{"published_frames", "Frames published", func(s OutboundSnapshot) float64 { return float64(s.PublishedFrames) }},
	{"bytes_sent", "Bytes sent", func(s OutboundSnapshot) float64 { return float64(s.BytesSent) }},
	{"connected_clients", "Clients connected to the data channel", func(s OutboundSnapshot) float64 { return float64(s.ConnectedClients) }},
	{"discarded_measurements", "Measurements outside the lag/lead window", func(s OutboundSnapshot) float64 { return float64(s.DiscardedMeasurements) }},
	{"missed_sorts", "Measurements arriving after their frame was published", func(s OutboundSnapshot) float64 { return float64(s.MissedSorts) }},
	{"minimum_latency_seconds", "Minimum publish latency in the window", func(s OutboundSnapshot) float64 { return s.Latency.Minimum.Seconds() }},
	{"maximum_latency_seconds", "Maximum publish latency in the window", func(s OutboundSnapshot) float64 { return s.Latency.Maximum.Seconds() }},
	{"average_latency_seconds", "Average publish latency in the window", func(s OutboundSnapshot) float64 { return s.Latency.Average.Seconds() }},
	{"lifetime_minimum_latency_seconds", "Minimum publish latency since start", func(s OutboundSnapshot) float64 { return s.LifetimeLatency.Minimum.Seconds() }},
	{"lifetime_maximum_latency_seconds", "Maximum publish latency since start", func(s OutboundSnapshot) float64 { return s.LifetimeLatency.Maximum.Seconds() }},
	{"lifetime_average_latency_seconds", "Average publish latency since start", func(s OutboundSnapshot) float64 { return s.LifetimeLatency.Average.Seconds() }},
	{"minimum_measurements_per_second", "Minimum measurements published in one second", func(s OutboundSnapshot) float64 { return s.Throughput.Minimum }},
	{"maximum_measurements_per_second", "Maximum measurements published in one second", func(s OutboundSnapshot) float64 { return s.Throughput.Maximum }},
	{"average_measurements_per_second", "Average measurements published per second", func(s OutboundSnapshot) float64 { return s.Throughput.Average }},
	{"lifetime_measurements", "Measurements published since start", func(s OutboundSnapshot) float64 { return float64(s.LifetimeMeasurements) }},
	{"up_time_seconds", "Time the data channel has been running", func(s OutboundSnapshot) float64 { return s.UpTime.Seconds() }},
}

var deviceCalculators = []calculator[DeviceSnapshot]{
	{"total_frames", "Frames received for the device", func(s DeviceSnapshot) float64 { return float64(s.TotalFrames) }},
	{"data_quality_errors", "Frames with data invalid", func(s DeviceSnapshot) float64 { return float64(s.DataQualityErrors) }},
	{"time_quality_errors", "Frames with sync invalid", func(s DeviceSnapshot) float64 { return float64(s.TimeQualityErrors) }},
	{"device_errors", "Frames with device error", func(s DeviceSnapshot) float64 { return float64(s.DeviceErrors) }},
	{"last_report_time", "Last accepted timestamp in unix seconds", func(s DeviceSnapshot) float64 { return unixSeconds(s.LastReportTime) }},
	{"measurements_received", "Measurements received since the last tick", func(s DeviceSnapshot) float64 { return float64(s.MeasurementsReceived) }},
	{"measurements_with_error", "Measurements with error since the last tick", func(s DeviceSnapshot) float64 { return float64(s.MeasurementsWithError) }},
	{"measurements_expected", "Measurements expected per tick", func(s DeviceSnapshot) float64 { return float64(s.MeasurementsExpected) }},
}

func evaluate[S any](calcs []calculator[S], snapshot S) map[string]float64 {
	values := make(map[string]float64, len(calcs))
	for _, c := range calcs {
		values[c.name] = c.calc(snapshot)
	}
	return values
}

// collect evaluates the calculators of a source's variant.
func collect(src Source) map[string]float64 {
	switch s := src.(type) {
	case Inbound:
		return evaluate(inboundCalculators, s.Provider.InboundStatistics())
	case Outbound:
		return evaluate(outboundCalculators, s.Provider.OutboundStatistics())
	case Device:
		return evaluate(deviceCalculators, s.Stats.TakeSnapshot())
	default:
		return nil
	}
}

// statisticNames lists the statistic names and help text for a kind.
func statisticNames(kind SourceKind) [][2]string {
	var out [][2]string
	switch kind {
	case SourceInbound:
		for _, c := range inboundCalculators {
			out = append(out, [2]string{c.name, c.help})
		}
	case SourceOutbound:
		for _, c := range outboundCalculators {
			out = append(out, [2]string{c.name, c.help})
		}
	case SourceDevice:
		for _, c := range deviceCalculators {
			out = append(out, [2]string{c.name, c.help})
		}
	}
	return out
}
