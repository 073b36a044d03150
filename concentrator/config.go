package concentrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/phasor"
	"github.com/c360/phasorstreams/transport"
)

// Defaults applied by Config.ApplyDefaults.
const (
	DefaultFramesPerSecond            = 30
	DefaultLagTime                    = 3 * time.Second
	DefaultLeadTime                   = time.Second
	DefaultNominalFrequency           = 60
	DefaultReinitializeDelay          = time.Second
	DefaultCommandChannelRestartDelay = 2 * time.Second
)

// Config configures one output stream.
type Config struct {
	// Name matches an output stream in the metadata document. It is also the
	// acronym of the stream's quality flags signal.
	Name string `json:"name"`
	// IDCode overrides the stream ID code from metadata when set
	IDCode uint16 `json:"id_code,omitempty"`

	// DataChannel publishes frames, typically UDP
	DataChannel string `json:"data_channel,omitempty"`
	// CommandChannel is a TCP server accepting device commands. Without a data
	// channel frames are published on it.
	CommandChannel string `json:"command_channel,omitempty"`

	FramesPerSecond int           `json:"frames_per_second,omitempty"`
	LagTime         time.Duration `json:"lag_time,omitempty"`
	LeadTime        time.Duration `json:"lead_time,omitempty"`

	// Formats used when a device record does not override them
	PhasorFormat     string `json:"phasor_format,omitempty"`
	FrequencyFormat  string `json:"frequency_format,omitempty"`
	AnalogFormat     string `json:"analog_format,omitempty"`
	CoordinateFormat string `json:"coordinate_format,omitempty"`
	NominalFrequency uint16 `json:"nominal_frequency,omitempty"`

	VoltageScalingValue uint32 `json:"voltage_scaling_value,omitempty"`
	CurrentScalingValue uint32 `json:"current_scaling_value,omitempty"`
	AnalogScalingValue  uint32 `json:"analog_scaling_value,omitempty"`
	DigitalMaskValue    uint32 `json:"digital_mask_value,omitempty"`

	// AutoPublishConfigurationFrame defaults to true when no command channel is defined
	AutoPublishConfigurationFrame *bool `json:"auto_publish_configuration_frame,omitempty"`
	// AutoStartDataChannel defaults to true
	AutoStartDataChannel *bool `json:"auto_start_data_channel,omitempty"`
	// ProcessDataValidFlag defaults to true
	ProcessDataValidFlag *bool `json:"process_data_valid_flag,omitempty"`
	// AddPhaseLabelSuffix defaults to true
	AddPhaseLabelSuffix *bool `json:"add_phase_label_suffix,omitempty"`
	// ValidateIDCode ignores client commands addressed to another ID code
	ValidateIDCode bool `json:"validate_id_code,omitempty"`

	ReinitializeDelay          time.Duration `json:"reinitialize_delay,omitempty"`
	CommandChannelRestartDelay time.Duration `json:"command_channel_restart_delay,omitempty"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	c.Name = strings.TrimSpace(c.Name)
	if c.FramesPerSecond <= 0 {
		c.FramesPerSecond = DefaultFramesPerSecond
	}
	if c.LagTime <= 0 {
		c.LagTime = DefaultLagTime
	}
	if c.LeadTime <= 0 {
		c.LeadTime = DefaultLeadTime
	}
	if c.NominalFrequency == 0 {
		c.NominalFrequency = DefaultNominalFrequency
	}
	if c.VoltageScalingValue == 0 {
		c.VoltageScalingValue = phasor.DefaultVoltageScalingValue
	}
	if c.CurrentScalingValue == 0 {
		c.CurrentScalingValue = phasor.DefaultCurrentScalingValue
	}
	if c.AnalogScalingValue == 0 {
		c.AnalogScalingValue = phasor.DefaultAnalogScalingValue
	}
	if c.DigitalMaskValue == 0 {
		c.DigitalMaskValue = phasor.DefaultDigitalMaskValue
	}
	if c.ReinitializeDelay <= 0 {
		c.ReinitializeDelay = DefaultReinitializeDelay
	}
	if c.CommandChannelRestartDelay <= 0 {
		c.CommandChannelRestartDelay = DefaultCommandChannelRestartDelay
	}
}

func flag(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// AutoPublish reports whether configuration frames are broadcast every minute.
func (c Config) AutoPublish() bool {
	return flag(c.AutoPublishConfigurationFrame, strings.TrimSpace(c.CommandChannel) == "")
}

// AutoStart reports whether the data channel starts with the concentrator.
func (c Config) AutoStart() bool { return flag(c.AutoStartDataChannel, true) }

// ProcessDataValid reports whether cells missing values are flagged invalid.
func (c Config) ProcessDataValid() bool { return flag(c.ProcessDataValidFlag, true) }

// PhaseLabelSuffix reports whether phasor labels get a phase designation.
func (c Config) PhaseLabelSuffix() bool { return flag(c.AddPhaseLabelSuffix, true) }

// Validate checks the name, channels and formats.
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: output name is required", errors.ErrInvalidConfig),
			"concentrator", "Validate", "name check")
	}
	if strings.TrimSpace(c.DataChannel) == "" && strings.TrimSpace(c.CommandChannel) == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: a data channel or command channel must be defined for %s",
			errors.ErrInvalidConfig, c.Name), "concentrator", "Validate", "channel check")
	}
	if c.DataChannel != "" {
		if _, err := transport.ParseConnectionString(c.DataChannel); err != nil {
			return errors.Wrap(err, "concentrator", "Validate", "data channel of "+c.Name)
		}
	}
	if c.CommandChannel != "" {
		tc, err := transport.ParseConnectionString(c.CommandChannel)
		if err != nil {
			return errors.Wrap(err, "concentrator", "Validate", "command channel of "+c.Name)
		}
		if tc.Protocol != transport.ProtocolTCP || !tc.IsListener {
			return errors.WrapInvalid(fmt.Errorf("%w: command channel must be a TCP listener", errors.ErrInvalidConfig),
				"concentrator", "Validate", "command channel check")
		}
	}
	if _, err := c.formats(); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"concentrator", "Validate", "format check")
	}
	return nil
}

// defaultFormats are the adapter-wide encodings.
type defaultFormats struct {
	phasor     phasor.DataFormat
	frequency  phasor.DataFormat
	analog     phasor.DataFormat
	coordinate phasor.CoordinateFormat
}

func (c Config) formats() (defaultFormats, error) {
	var f defaultFormats
	var err error
	if f.phasor, err = phasor.ParseDataFormat(c.PhasorFormat, phasor.FloatingPoint); err != nil {
		return f, err
	}
	if f.frequency, err = phasor.ParseDataFormat(c.FrequencyFormat, phasor.FloatingPoint); err != nil {
		return f, err
	}
	if f.analog, err = phasor.ParseDataFormat(c.AnalogFormat, phasor.FloatingPoint); err != nil {
		return f, err
	}
	if f.coordinate, err = phasor.ParseCoordinateFormat(c.CoordinateFormat, phasor.Polar); err != nil {
		return f, err
	}
	return f, nil
}
