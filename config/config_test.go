package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/phasorstreams/concentrator"
	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/mapper"
)

const baseYAML = `
platform:
  id: substation-a
nats:
  urls: ["nats://10.0.0.2:4222"]
  reconnect_wait: 3s
  ping_interval: 20s
  drain_timeout: 1m
metadata:
  path: /etc/phasorstreams/metadata.json
statistics:
  interval: 30s
inputs:
  - name: SHELBY
    connection_string: "protocol=tcp; server=10.0.0.5:4712"
    lag_time: 15s
    time_adjustment: -250ms
    parsing_exception_window: 1d
outputs:
  - name: PDCOUT
    data_channel: "protocol=udp; server=10.0.0.9:8800"
    frames_per_second: 60
    reinitialize_delay: 500ms
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.getenv = func(key string) string { return env[key] }
	return l
}

func validConfig() *Config {
	cfg := Default()
	cfg.Metadata.Path = "/tmp/metadata.json"
	cfg.Inputs = []mapper.Config{{Name: "SHELBY", ConnectionString: "protocol=udp; port=4713"}}
	cfg.Outputs = []concentrator.Config{{Name: "PDCOUT", DataChannel: "protocol=udp; server=127.0.0.1:8800"}}
	cfg.ApplyDefaults()
	return cfg
}

func TestLoader_LoadYAML(t *testing.T) {
	path := writeFile(t, "node.yaml", baseYAML)

	l := newTestLoader(nil)
	l.EnableValidation(true)
	cfg, err := l.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "substation-a", cfg.Platform.ID)
	assert.Equal(t, []string{"nats://10.0.0.2:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 3*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, 20*time.Second, cfg.NATS.PingInterval)
	assert.Equal(t, time.Minute, cfg.NATS.DrainTimeout)
	assert.Equal(t, 30*time.Second, cfg.Statistics.Interval)

	require.Len(t, cfg.Inputs, 1)
	in := cfg.Inputs[0]
	assert.Equal(t, "SHELBY", in.Name)
	assert.Equal(t, 15*time.Second, in.LagTime)
	assert.Equal(t, -250*time.Millisecond, in.TimeAdjustment)
	assert.Equal(t, 24*time.Hour, in.ParsingExceptionWindow)
	assert.Equal(t, mapper.DefaultLeadTime, in.LeadTime, "input defaults applied")

	require.Len(t, cfg.Outputs, 1)
	out := cfg.Outputs[0]
	assert.Equal(t, 60, out.FramesPerSecond)
	assert.Equal(t, 500*time.Millisecond, out.ReinitializeDelay)
	assert.Equal(t, concentrator.DefaultLagTime, out.LagTime)
}

func TestLoader_DefaultsSurviveMerge(t *testing.T) {
	path := writeFile(t, "node.yaml", baseYAML)

	cfg, err := newTestLoader(nil).LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.True(t, cfg.Monitor.Enabled)
	assert.Equal(t, "/ws/measurements", cfg.Monitor.Path)
	assert.Equal(t, CacheBackendKV, cfg.Cache.Backend)
	assert.Equal(t, "phasorstreams_configuration", cfg.Cache.Bucket)
	assert.Equal(t, -1, cfg.NATS.MaxReconnects)
	assert.Equal(t, "info", cfg.Platform.LogLevel)
}

func TestLoader_LayersOverride(t *testing.T) {
	base := writeFile(t, "base.yaml", baseYAML)
	site := writeFile(t, "site.json", `{
		"platform": {"instance_id": "substation-a-2"},
		"cache": {"backend": "SQLite", "path": "/var/lib/phasorstreams/cache.db"},
		"monitor": {"enabled": false},
		"inputs": [
			{"name": "SHELBY", "connection_string": "protocol=udp; port=4713"},
			{"name": "DYERSBURG", "connection_string": "protocol=udp; port=4714"}
		]
	}`)

	l := newTestLoader(nil)
	l.AddLayer(base)
	l.AddLayer(site)
	l.EnableValidation(true)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "substation-a", cfg.Platform.ID, "base value kept")
	assert.Equal(t, "substation-a-2", cfg.PlatformName())
	assert.Equal(t, CacheBackendSQLite, cfg.Cache.Backend)
	assert.False(t, cfg.Monitor.Enabled)
	require.Len(t, cfg.Inputs, 2, "lists are replaced")
	assert.Equal(t, mapper.DefaultLagTime, cfg.Inputs[0].LagTime)
	assert.Len(t, cfg.Outputs, 1)
}

func TestLoader_EnvOverrides(t *testing.T) {
	path := writeFile(t, "node.yaml", baseYAML)

	l := newTestLoader(map[string]string{
		"PHASORSTREAMS_PLATFORM_ID":   "from-env",
		"PHASORSTREAMS_NATS_URLS":     "nats://a:4222,nats://b:4222",
		"PHASORSTREAMS_NATS_PASSWORD": "secret",
		"PHASORSTREAMS_HTTP_PORT":     "8181",
		"PHASORSTREAMS_METRICS_PORT":  "0",
		"PHASORSTREAMS_CACHE_BACKEND": "memory",
		"PHASORSTREAMS_LOG_LEVEL":     "debug",
	})
	l.EnableValidation(true)
	cfg, err := l.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Platform.ID)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "secret", cfg.NATS.Password)
	assert.Equal(t, 8181, cfg.HTTP.Port)
	assert.Equal(t, 0, cfg.Metrics.Port)
	assert.Equal(t, CacheBackendMemory, cfg.Cache.Backend)
	assert.Equal(t, "debug", cfg.Platform.LogLevel)
}

func TestLoader_EnvOverrideErrors(t *testing.T) {
	path := writeFile(t, "node.yaml", baseYAML)

	_, err := newTestLoader(map[string]string{"PHASORSTREAMS_HTTP_PORT": "eighty"}).LoadFile(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = newTestLoader(map[string]string{"PHASORSTREAMS_PLATFORM_ID": "bad\x00id"}).LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null byte")
}

func TestLoader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"bad duration", "node.yaml", "statistics:\n  interval: soon\n"},
		{"malformed json", "node.json", `{"platform": {"id": "x"}`},
		{"malformed yaml", "node.yaml", "platform: [unclosed\n"},
		{"wrong type", "node.json", `{"http": {"port": "eighty"}}`},
		{"unsupported extension", "node.toml", "id = 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.content)
			_, err := newTestLoader(nil).LoadFile(path)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
		})
	}
}

func TestLoader_MissingFile(t *testing.T) {
	_, err := newTestLoader(nil).LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot stat config file")
}

func TestLoader_ValidationDisabled(t *testing.T) {
	path := writeFile(t, "node.yaml", "platform:\n  id: lab\n")

	cfg, err := newTestLoader(nil).LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "lab", cfg.Platform.ID)

	l := newTestLoader(nil)
	l.EnableValidation(true)
	_, err = l.LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metadata.path is required")
}

func TestValidate_Valid(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_Problems(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"missing platform", func(c *Config) { c.Platform.ID = "" }, "platform.id is required"},
		{"bad subject prefix", func(c *Config) { c.NATS.SubjectPrefix = "phasor streams" }, "subject_prefix"},
		{"trailing dot prefix", func(c *Config) { c.NATS.SubjectPrefix = "phasor." }, "subject_prefix"},
		{"no nats urls", func(c *Config) { c.NATS.URLs = nil }, "nats.urls"},
		{"metrics port range", func(c *Config) { c.Metrics.Port = 70000 }, "metrics.port"},
		{"port clash", func(c *Config) { c.Metrics.Port = c.HTTP.Port }, "both"},
		{"monitor path", func(c *Config) { c.Monitor.Path = "ws" }, "monitor.path"},
		{"http tls without key", func(c *Config) {
			c.HTTP.TLS.Enabled, c.HTTP.TLS.CertFile = true, "cert.pem"
		}, "http.tls"},
		{"nats mtls without cert", func(c *Config) {
			c.NATS.TLS.Enabled, c.NATS.TLS.MTLS.Enabled = true, true
		}, "nats.tls.mtls"},
		{"negative ping interval", func(c *Config) { c.NATS.PingInterval = -time.Second }, "nats.ping_interval"},
		{"kv without bucket", func(c *Config) { c.Cache.Bucket = "" }, "cache.bucket"},
		{"sqlite without path", func(c *Config) { c.Cache.Backend = CacheBackendSQLite }, "cache.path"},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "redis" }, "unknown cache.backend"},
		{"missing metadata", func(c *Config) { c.Metadata.Path = "" }, "metadata.path"},
		{"no adapters", func(c *Config) { c.Inputs, c.Outputs = nil, nil }, "at least one input or output"},
		{"duplicate input", func(c *Config) {
			c.Inputs = append(c.Inputs, mapper.Config{Name: "shelby", ConnectionString: "protocol=udp; port=4714"})
		}, "duplicate name"},
		{"invalid input", func(c *Config) { c.Inputs[0].ConnectionString = "protocol=serial" }, "inputs[0] SHELBY"},
		{"invalid output", func(c *Config) { c.Outputs[0].DataChannel = "" }, "outputs[0] PDCOUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Platform.ID = ""
	cfg.Metadata.Path = ""
	cfg.Cache.Backend = "redis"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"platform.id", "metadata.path", "cache.backend"} {
		assert.Contains(t, err.Error(), want)
	}
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

func TestConfig_StringMasksCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.NATS.Password = "hunter2"
	cfg.NATS.Token = "tok"

	s := cfg.String()
	assert.NotContains(t, s, "hunter2")
	assert.NotContains(t, s, `"tok"`)
	assert.Contains(t, s, "****")
	assert.Equal(t, "hunter2", cfg.NATS.Password, "original untouched")
}

func TestConfig_Clone(t *testing.T) {
	cfg := validConfig()
	clone := cfg.Clone()
	clone.Inputs[0].Name = "CHANGED"
	clone.NATS.URLs[0] = "nats://elsewhere:4222"

	assert.Equal(t, "SHELBY", cfg.Inputs[0].Name)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URLs[0])
}

func TestValidateJSONDepth(t *testing.T) {
	assert.NoError(t, validateJSONDepth([]byte(`{"a": "[[[{{{", "b": [1, {"c": "\"}"}]}`)))

	deep := strings.Repeat("[", maxNesting+1) + strings.Repeat("]", maxNesting+1)
	assert.ErrorContains(t, validateJSONDepth([]byte(deep)), "too deep")
	assert.ErrorContains(t, validateJSONDepth([]byte(`{]}`)), "malformed")
	assert.ErrorContains(t, validateJSONDepth([]byte(`{"a": [`)), "unclosed")
}

func TestValidateConfigPath(t *testing.T) {
	assert.Error(t, validateConfigPath(""))
	assert.Error(t, validateConfigPath("../outside.yaml"))
	assert.Error(t, validateConfigPath("/etc/passwd"))
	assert.NoError(t, validateConfigPath("/etc/phasorstreams/node.YAML"))
	assert.NoError(t, validateConfigPath("configs/node.json"))
}

func TestParseDurationWithDays(t *testing.T) {
	d, err := parseDurationWithDays("2d")
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, d)

	d, err = parseDurationWithDays(" 1m30s ")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = parseDurationWithDays("xd")
	assert.Error(t, err)
}
