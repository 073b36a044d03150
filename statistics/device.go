package statistics

import (
	"sync"
	"time"

	"github.com/c360/phasorstreams/pkg/timestamp"
)

// DeviceSnapshot is a point-in-time copy of a device's counters.
type DeviceSnapshot struct {
	IDCode                uint16    `json:"idCode"`
	Acronym               string    `json:"acronym"`
	StationName           string    `json:"stationName"`
	TotalFrames           int64     `json:"totalFrames"`
	DataQualityErrors     int64     `json:"dataQualityErrors"`
	TimeQualityErrors     int64     `json:"timeQualityErrors"`
	DeviceErrors          int64     `json:"deviceErrors"`
	LastReportTime        time.Time `json:"lastReportTime"`
	MeasurementsReceived  int64     `json:"measurementsReceived"`
	MeasurementsWithError int64     `json:"measurementsWithError"`
	MeasurementsExpected  int64     `json:"measurementsExpected"`
}

// DeviceStatistics tracks one defined device of an inbound connection.
type DeviceStatistics struct {
	idCode      uint16
	acronym     string
	stationName string

	mu                    sync.Mutex
	totalFrames           int64
	dataQualityErrors     int64
	timeQualityErrors     int64
	deviceErrors          int64
	lastReportTime        time.Time
	measurementsReceived  int64
	measurementsWithError int64
	expectedPerTick       int64
}

// NewDeviceStatistics creates the helper for a defined device.
func NewDeviceStatistics(idCode uint16, acronym, stationName string) *DeviceStatistics {
	return &DeviceStatistics{idCode: idCode, acronym: acronym, stationName: stationName}
}

// IDCode returns the device ID code.
func (d *DeviceStatistics) IDCode() uint16 { return d.idCode }

// Acronym returns the device acronym used in signal addresses.
func (d *DeviceStatistics) Acronym() string { return d.acronym }

// StationName returns the device station name.
func (d *DeviceStatistics) StationName() string { return d.stationName }

// ObserveFrame counts one frame and its quality indications.
func (d *DeviceStatistics) ObserveFrame(dataValid, syncValid, deviceError bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.totalFrames++
	if !dataValid {
		d.dataQualityErrors++
	}
	if !syncValid {
		d.timeQualityErrors++
	}
	if deviceError {
		d.deviceErrors++
	}
}

// UpdateLastReportTime advances the last report time when ts is newer and inside
// [now - lag, now + lead]. It reports whether the time advanced.
func (d *DeviceStatistics) UpdateLastReportTime(ts, now time.Time, lag, lead time.Duration) bool {
	if !timestamp.InWindow(ts, now, lag, lead) {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !ts.After(d.lastReportTime) {
		return false
	}
	d.lastReportTime = ts
	return true
}

// AddMeasurements counts measurements received and those flagged with errors.
func (d *DeviceStatistics) AddMeasurements(received, withError int) {
	d.mu.Lock()
	d.measurementsReceived += int64(received)
	d.measurementsWithError += int64(withError)
	d.mu.Unlock()
}

// StartMeasurementCounting sets the number of measurements expected per tick.
func (d *DeviceStatistics) StartMeasurementCounting(expectedPerTick int64) {
	d.mu.Lock()
	d.expectedPerTick = expectedPerTick
	d.measurementsReceived = 0
	d.measurementsWithError = 0
	d.mu.Unlock()
}

// Reset clears frame and quality counters.
func (d *DeviceStatistics) Reset() {
	d.mu.Lock()
	d.totalFrames = 0
	d.dataQualityErrors = 0
	d.timeQualityErrors = 0
	d.deviceErrors = 0
	d.mu.Unlock()
}

// Snapshot copies the counters without resetting anything.
func (d *DeviceStatistics) Snapshot() DeviceSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot()
}

// TakeSnapshot copies the counters and restarts the per-tick measurement counts.
func (d *DeviceStatistics) TakeSnapshot() DeviceSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.snapshot()
	d.measurementsReceived = 0
	d.measurementsWithError = 0
	return s
}

func (d *DeviceStatistics) snapshot() DeviceSnapshot {
	return DeviceSnapshot{
		IDCode:                d.idCode,
		Acronym:               d.acronym,
		StationName:           d.stationName,
		TotalFrames:           d.totalFrames,
		DataQualityErrors:     d.dataQualityErrors,
		TimeQualityErrors:     d.timeQualityErrors,
		DeviceErrors:          d.deviceErrors,
		LastReportTime:        d.lastReportTime,
		MeasurementsReceived:  d.measurementsReceived,
		MeasurementsWithError: d.measurementsWithError,
		MeasurementsExpected:  d.expectedPerTick,
	}
}
