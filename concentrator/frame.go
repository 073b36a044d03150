package concentrator

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/c360/phasorstreams/concentration"
	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/measurement"
	"github.com/c360/phasorstreams/phasor"
	"github.com/c360/phasorstreams/signal"
)

// routedMeasurement is a measurement bound for one frame destination.
type routedMeasurement struct {
	measurement.Measurement
	destination signal.Address
}

// MeasurementKey implements concentration.Measurement.
func (m routedMeasurement) MeasurementKey() uuid.UUID { return m.Key }

// MeasurementTimestamp implements concentration.Measurement.
func (m routedMeasurement) MeasurementTimestamp() time.Time { return m.Timestamp }

func (c *Concentrator) createFrame(ts time.Time) concentration.Frame {
	f := phasor.NewDataFrame(c.layout.Load().configuration, ts)
	f.Received = c.now()
	return f
}

func (c *Concentrator) invalidCast(method string, got, want any) {
	c.invalidCasts.Add(1)
	err := errors.Wrap(fmt.Errorf("%w: %T is not %T", errors.ErrInvalidCast, got, want), "Concentrator", method, "type check")
	c.recordError(err)
	c.logger.Error("Invalid cast", "error", err)
}

// assign places a measurement into its destination field. Ordinals are 1-based
// and checked against the cell layout.
func (c *Concentrator) assign(frame concentration.Frame, m concentration.Measurement) {
	df, ok := frame.(*phasor.DataFrame)
	if !ok {
		c.invalidCast("assign", frame, (*phasor.DataFrame)(nil))
		return
	}
	rm, ok := m.(routedMeasurement)
	if !ok {
		c.invalidCast("assign", m, routedMeasurement{})
		return
	}
	if placeValue(df, rm.destination, rm.Value) {
		df.AddMeasurement(rm.Key)
	}
}

// placeValue writes value into the field dest names. It returns false when the
// destination is outside the frame layout or the value cannot be represented.
func placeValue(df *phasor.DataFrame, dest signal.Address, value float64) bool {
	if dest.Kind == signal.KindQuality {
		if math.IsNaN(value) {
			return false
		}
		df.QualityFlags = uint32(value)
		return true
	}

	if dest.CellIndex < 0 || dest.CellIndex >= len(df.Cells) {
		return false
	}
	cell := df.Cells[dest.CellIndex]
	slot := dest.Index - 1

	switch dest.Kind {
	case signal.KindAngle:
		if slot < 0 || slot >= len(cell.Phasors) {
			return false
		}
		cell.Phasors[slot].Angle = value
	case signal.KindMagnitude:
		if slot < 0 || slot >= len(cell.Phasors) {
			return false
		}
		cell.Phasors[slot].Magnitude = value
	case signal.KindFrequency:
		cell.Frequency = value
	case signal.KindDfDt:
		cell.DfDt = value
	case signal.KindStatus:
		if math.IsNaN(value) {
			return false
		}
		cell.Status = phasor.StatusFlags(uint16(value))
	case signal.KindDigital:
		if slot < 0 || slot >= len(cell.Digitals) || math.IsNaN(value) {
			return false
		}
		cell.SetDigital(slot, uint16(value))
	case signal.KindAnalog:
		if slot < 0 || slot >= len(cell.Analogs) {
			return false
		}
		cell.Analogs[slot] = value
	default:
		return false
	}
	return true
}

// publish sends a due frame: the configuration image first at the top of a new
// minute, then the data image.
func (c *Concentrator) publish(frame concentration.Frame, _ int) {
	df, ok := frame.(*phasor.DataFrame)
	if !ok {
		c.invalidCast("publish", frame, (*phasor.DataFrame)(nil))
		return
	}
	if !c.publishing.Load() {
		return
	}
	ch := c.publishChannel()
	if ch == nil {
		return
	}

	if c.cfg.AutoPublish() && c.configurationDue(df.Timestamp) {
		cfg := c.layout.Load().configuration.Clone()
		cfg.Timestamp = df.Timestamp
		if c.send(ch, cfg, "configuration") {
			c.configurationsSent.Add(1)
		}
	}

	if c.cfg.ProcessDataValid() {
		for _, cell := range df.Cells {
			if !cell.AllValuesAssigned() {
				cell.SetDataIsValid(false)
			}
		}
	}
	c.send(ch, df, "data")

	c.latency.Observe(df.Timestamp, c.now())
	n := df.SortedMeasurements()
	c.lifetimeMeasurements.Add(int64(n))
	c.throughput.Add(n)
	if c.metrics != nil {
		c.metrics.RecordMeasurementsMapped(c.cfg.Name, "outbound", n)
	}
}

type binaryImage interface {
	MarshalBinary() ([]byte, error)
}

// send multicasts a frame image. A failed send reinitializes the channels.
func (c *Concentrator) send(ch interface{ Multicast([]byte) error }, frame binaryImage, frameType string) bool {
	image, err := frame.MarshalBinary()
	if err != nil {
		c.recordError(err)
		c.logger.Warn("Failed to generate frame image", "frame_type", frameType, "error", err)
		return false
	}
	if err := ch.Multicast(image); err != nil {
		c.sendFailures.Add(1)
		c.recordError(err)
		c.logger.Info("Exception occurred while publishing, reinitializing channels", "frame_type", frameType, "error", err)
		if c.metrics != nil {
			c.metrics.RecordError(c.cfg.Name, "send")
		}
		c.reinitialize("publication failed")
		return false
	}
	c.bytesSent.Add(int64(len(image)))
	if c.metrics != nil {
		c.metrics.RecordFramePublished(c.cfg.Name, frameType)
	}
	return true
}

// configurationDue reports whether the configuration image goes out with the
// frame at ts: once per minute, on a frame in second zero.
func (c *Concentrator) configurationDue(ts time.Time) bool {
	if ts.Second() != 0 {
		return false
	}
	minute := ts.Unix() / 60
	c.minuteMu.Lock()
	defer c.minuteMu.Unlock()
	if minute != c.lastMinute {
		c.lastMinute = minute
		c.configPublished = false
	}
	if c.configPublished {
		return false
	}
	c.configPublished = true
	return true
}

func (c *Concentrator) resetConfigurationBroadcast() {
	c.minuteMu.Lock()
	c.lastMinute = -1
	c.configPublished = false
	c.minuteMu.Unlock()
}
