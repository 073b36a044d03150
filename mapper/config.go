package mapper

import (
	"fmt"
	"strings"
	"time"

	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/transport"
)

// Defaults applied by Config.ApplyDefaults.
const (
	DefaultLagTime                     = 10 * time.Second
	DefaultLeadTime                    = 5 * time.Second
	DefaultAllowedParsingExceptions    = 10
	DefaultParsingExceptionWindow      = 5 * time.Second
	DefaultReconnectDelay              = 5 * time.Second
	DefaultDataLossInterval            = 5 * time.Second
	DefaultConfigurationRequestTimeout = 30 * time.Second
	DefaultExceptionLogRate            = 1.0
	DefaultExceptionLogBurst           = 5
)

// Config configures one inbound connection.
type Config struct {
	// Name matches a connection in the metadata document
	Name string `json:"name"`
	// ConnectionString is parsed by transport.ParseConnectionString
	ConnectionString string `json:"connection_string"`

	// TimeZone is the IANA zone device clocks report in; empty means UTC
	TimeZone string `json:"time_zone,omitempty"`
	// TimeAdjustment is added to every frame timestamp after zone conversion
	TimeAdjustment time.Duration `json:"time_adjustment,omitempty"`

	LagTime  time.Duration `json:"lag_time,omitempty"`
	LeadTime time.Duration `json:"lead_time,omitempty"`

	// RedundantFramesPerPacket widens the missing-data cutoff
	RedundantFramesPerPacket int `json:"redundant_frames_per_packet,omitempty"`

	AllowedParsingExceptions int           `json:"allowed_parsing_exceptions,omitempty"`
	ParsingExceptionWindow   time.Duration `json:"parsing_exception_window,omitempty"`
	ReconnectDelay           time.Duration `json:"reconnect_delay,omitempty"`
	DataLossInterval         time.Duration `json:"data_loss_interval,omitempty"`

	AllowUseOfCachedConfiguration bool `json:"allow_use_of_cached_configuration,omitempty"`
	// AutoStartDataParsingSequence defaults to true
	AutoStartDataParsingSequence *bool `json:"auto_start_data_parsing_sequence,omitempty"`
	CountOnlyMappedMeasurements  bool  `json:"count_only_mapped_measurements,omitempty"`

	ConfigurationRequestTimeout time.Duration `json:"configuration_request_timeout,omitempty"`

	// ExceptionLogRate limits processing exception logs per second
	ExceptionLogRate float64 `json:"exception_log_rate,omitempty"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	c.Name = strings.TrimSpace(c.Name)
	if c.LagTime <= 0 {
		c.LagTime = DefaultLagTime
	}
	if c.LeadTime <= 0 {
		c.LeadTime = DefaultLeadTime
	}
	if c.AllowedParsingExceptions <= 0 {
		c.AllowedParsingExceptions = DefaultAllowedParsingExceptions
	}
	if c.ParsingExceptionWindow <= 0 {
		c.ParsingExceptionWindow = DefaultParsingExceptionWindow
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.DataLossInterval <= 0 {
		c.DataLossInterval = DefaultDataLossInterval
	}
	if c.ConfigurationRequestTimeout <= 0 {
		c.ConfigurationRequestTimeout = DefaultConfigurationRequestTimeout
	}
	if c.ExceptionLogRate <= 0 {
		c.ExceptionLogRate = DefaultExceptionLogRate
	}
	if c.RedundantFramesPerPacket < 0 {
		c.RedundantFramesPerPacket = 0
	}
}

// AutoStart reports whether the data parsing sequence runs on connect.
func (c Config) AutoStart() bool {
	return c.AutoStartDataParsingSequence == nil || *c.AutoStartDataParsingSequence
}

// Validate checks the name, connection string and time zone.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: input name is required", errors.ErrInvalidConfig),
			"mapper", "Validate", "name check")
	}
	if _, err := transport.ParseConnectionString(c.ConnectionString); err != nil {
		return errors.Wrap(err, "mapper", "Validate", fmt.Sprintf("connection string of %s", c.Name))
	}
	if c.TimeZone != "" {
		if _, err := time.LoadLocation(c.TimeZone); err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: time zone %q: %v", errors.ErrInvalidConfig, c.TimeZone, err),
				"mapper", "Validate", "time zone check")
		}
	}
	return nil
}

func (c Config) location() *time.Location {
	if c.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
