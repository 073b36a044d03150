package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/c360/phasorstreams/concentrator"
	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/mapper"
	"github.com/c360/phasorstreams/output/websocket"
	"github.com/c360/phasorstreams/pkg/security"
	"github.com/c360/phasorstreams/service"
	"github.com/c360/phasorstreams/statistics"
	"github.com/c360/phasorstreams/stream"
)

// Cache backends
const (
	CacheBackendKV     = "kv"     // NATS JetStream KV bucket shared across instances
	CacheBackendSQLite = "sqlite" // local SQLite file
	CacheBackendMemory = "memory" // process lifetime only
	CacheBackendNone   = "none"
)

// Config is the complete node configuration.
type Config struct {
	Version    string                `json:"version,omitempty"`
	Platform   PlatformConfig        `json:"platform"`
	NATS       NATSConfig            `json:"nats"`
	Metrics    MetricsConfig         `json:"metrics"`
	HTTP       service.Config        `json:"http"`
	Monitor    MonitorConfig         `json:"monitor"`
	Cache      CacheConfig           `json:"cache"`
	Statistics StatisticsConfig      `json:"statistics"`
	Metadata   MetadataConfig        `json:"metadata"`
	Inputs     []mapper.Config       `json:"inputs,omitempty"`
	Outputs    []concentrator.Config `json:"outputs,omitempty"`
}

// PlatformConfig identifies the node.
type PlatformConfig struct {
	ID          string `json:"id"`
	InstanceID  string `json:"instance_id,omitempty"`
	Environment string `json:"environment,omitempty"` // "prod", "dev", "test"
	LogLevel    string `json:"log_level,omitempty"`
	LogFormat   string `json:"log_format,omitempty"`
}

// NATSConfig defines NATS connection settings and the measurement stream subjects.
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	// PingInterval and DrainTimeout fall back to the client defaults when zero
	PingInterval  time.Duration `json:"ping_interval,omitempty"`
	DrainTimeout  time.Duration `json:"drain_timeout,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	SubjectPrefix string        `json:"subject_prefix,omitempty"`
	// StreamQueueSize bounds batches waiting to be published
	StreamQueueSize int `json:"stream_queue_size,omitempty"`

	TLS security.ClientTLSConfig `json:"tls,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint. Port 0 disables it.
type MetricsConfig struct {
	Port int    `json:"port"`
	Path string `json:"path,omitempty"`
}

// MonitorConfig configures the live measurement monitor.
type MonitorConfig struct {
	Enabled bool `json:"enabled"`
	websocket.Config
}

// CacheConfig selects where configuration frame images are cached.
type CacheConfig struct {
	Backend string `json:"backend,omitempty"`
	Bucket  string `json:"bucket,omitempty"`
	Path    string `json:"path,omitempty"`
}

// StatisticsConfig configures the statistics engine.
type StatisticsConfig struct {
	Interval time.Duration `json:"interval,omitempty"`
}

// MetadataConfig locates the metadata document.
type MetadataConfig struct {
	Path string `json:"path"`
}

// Default returns the configuration every layer is merged onto.
func Default() *Config {
	return &Config{
		Platform: PlatformConfig{
			ID:        "phasorstreams",
			LogLevel:  "info",
			LogFormat: "json",
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			SubjectPrefix: stream.DefaultSubjectPrefix,
		},
		Metrics: MetricsConfig{Port: 9090, Path: "/metrics"},
		HTTP:    service.Config{Port: service.DefaultPort},
		Monitor: MonitorConfig{Enabled: true},
		Cache: CacheConfig{
			Backend: CacheBackendKV,
			Bucket:  "phasorstreams_configuration",
		},
		Statistics: StatisticsConfig{Interval: statistics.DefaultInterval},
	}
}

// ApplyDefaults fills unset fields of every section, inputs and outputs included.
func (c *Config) ApplyDefaults() {
	def := Default()
	if c.Platform.ID == "" {
		c.Platform.ID = def.Platform.ID
	}
	if c.Platform.LogLevel == "" {
		c.Platform.LogLevel = def.Platform.LogLevel
	}
	if c.Platform.LogFormat == "" {
		c.Platform.LogFormat = def.Platform.LogFormat
	}
	if len(c.NATS.URLs) == 0 {
		c.NATS.URLs = def.NATS.URLs
	}
	if c.NATS.ReconnectWait <= 0 {
		c.NATS.ReconnectWait = def.NATS.ReconnectWait
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = def.NATS.SubjectPrefix
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = def.Metrics.Path
	}
	c.HTTP.ApplyDefaults()
	c.Monitor.Config.ApplyDefaults()
	if c.Cache.Backend == "" {
		c.Cache.Backend = def.Cache.Backend
	}
	c.Cache.Backend = strings.ToLower(c.Cache.Backend)
	if c.Cache.Bucket == "" {
		c.Cache.Bucket = def.Cache.Bucket
	}
	if c.Statistics.Interval <= 0 {
		c.Statistics.Interval = def.Statistics.Interval
	}
	for i := range c.Inputs {
		c.Inputs[i].ApplyDefaults()
	}
	for i := range c.Outputs {
		c.Outputs[i].ApplyDefaults()
	}
}

// Validate checks the configuration. Every problem is reported.
func (c *Config) Validate() error {
	var problems []error
	invalid := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...))
	}

	if c.Platform.ID == "" {
		invalid("platform.id is required")
	}
	if !isValidNATSSubjectPart(c.NATS.SubjectPrefix) {
		invalid("nats.subject_prefix %q is not a valid NATS subject", c.NATS.SubjectPrefix)
	}
	if len(c.NATS.URLs) == 0 {
		invalid("nats.urls is required")
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		invalid("metrics.port %d out of range", c.Metrics.Port)
	}
	if err := c.HTTP.Validate(); err != nil {
		problems = append(problems, err)
	}
	if c.Metrics.Port != 0 && c.Metrics.Port == c.HTTP.Port {
		invalid("metrics.port and http.port are both %d", c.Metrics.Port)
	}
	if c.HTTP.TLS.Enabled && (c.HTTP.TLS.CertFile == "" || c.HTTP.TLS.KeyFile == "") {
		invalid("http.tls requires cert_file and key_file")
	}
	if c.NATS.PingInterval < 0 || c.NATS.DrainTimeout < 0 {
		invalid("nats.ping_interval and nats.drain_timeout must not be negative")
	}
	if c.NATS.TLS.MTLS.Enabled && (c.NATS.TLS.MTLS.CertFile == "" || c.NATS.TLS.MTLS.KeyFile == "") {
		invalid("nats.tls.mtls requires cert_file and key_file")
	}
	if c.Monitor.Enabled && !strings.HasPrefix(c.Monitor.Path, "/") {
		invalid("monitor.path %q must start with '/'", c.Monitor.Path)
	}

	switch c.Cache.Backend {
	case CacheBackendKV:
		if c.Cache.Bucket == "" {
			invalid("cache.bucket is required for the kv backend")
		}
	case CacheBackendSQLite:
		if c.Cache.Path == "" {
			invalid("cache.path is required for the sqlite backend")
		}
	case CacheBackendMemory, CacheBackendNone:
	default:
		invalid("unknown cache.backend %q", c.Cache.Backend)
	}

	if c.Metadata.Path == "" {
		invalid("metadata.path is required")
	}
	if len(c.Inputs) == 0 && len(c.Outputs) == 0 {
		invalid("at least one input or output is required")
	}

	inputs := make(map[string]bool, len(c.Inputs))
	for i, in := range c.Inputs {
		key := strings.ToUpper(in.Name)
		if inputs[key] {
			invalid("inputs[%d]: duplicate name %q", i, in.Name)
		}
		inputs[key] = true
		if err := in.Validate(); err != nil {
			problems = append(problems, fmt.Errorf("inputs[%d] %s: %w", i, in.Name, err))
		}
	}
	outputs := make(map[string]bool, len(c.Outputs))
	for i, out := range c.Outputs {
		key := strings.ToUpper(out.Name)
		if outputs[key] {
			invalid("outputs[%d]: duplicate name %q", i, out.Name)
		}
		outputs[key] = true
		if err := out.Validate(); err != nil {
			problems = append(problems, fmt.Errorf("outputs[%d] %s: %w", i, out.Name, err))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.WrapInvalid(errors.Join(problems...), "Config", "Validate", "validate configuration")
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 || strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// PlatformName returns the platform identifier (prefer instance_id over id)
func (c *Config) PlatformName() string {
	if c.Platform.InstanceID != "" {
		return c.Platform.InstanceID
	}
	return c.Platform.ID
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String returns a JSON representation with credentials masked.
func (c *Config) String() string {
	masked := c.Clone()
	if masked.NATS.Password != "" {
		masked.NATS.Password = "****"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "****"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}
