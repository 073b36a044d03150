package transport

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/c360/phasorstreams/errors"
)

// Protocol is the socket protocol of a channel.
type Protocol string

// Supported protocols
const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// Config describes one channel.
//
// Connection string form, keys case-insensitive:
//
//	protocol=tcp; server=10.0.0.5:4712                      TCP client
//	protocol=tcp; port=4712; interface=0.0.0.0; isListener=true   TCP server
//	protocol=udp; port=4713                                 UDP receiver
//	protocol=udp; server=10.0.0.7,10.0.0.8; remotePort=4713 UDP sender
type Config struct {
	Protocol Protocol
	// Server is host:port for a TCP client, or a comma-separated list of UDP
	// destinations whose ports default to RemotePort
	Server string
	// Interface is the local bind address
	Interface string
	// Port is the local listen port; 0 picks an ephemeral port
	Port int
	// RemotePort is the UDP destination port when Server has none
	RemotePort int
	// IsListener selects a TCP server
	IsListener bool
	// Settings keeps keys the transport does not interpret
	Settings map[string]string
}

var knownKeys = map[string]bool{
	"protocol": true, "server": true, "interface": true, "port": true,
	"localport": true, "remoteport": true, "islistener": true,
}

// ParseConnectionString reads a "key=value; key=value" connection string.
func ParseConnectionString(s string) (Config, error) {
	cfg := Config{Protocol: ProtocolTCP, Interface: "0.0.0.0"}
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return Config{}, invalidConfig(fmt.Sprintf("setting %q has no '='", part))
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "protocol":
			switch Protocol(strings.ToLower(value)) {
			case ProtocolTCP, ProtocolUDP:
				cfg.Protocol = Protocol(strings.ToLower(value))
			default:
				return Config{}, invalidConfig(fmt.Sprintf("unsupported protocol %q", value))
			}
		case "server":
			cfg.Server = value
		case "interface":
			cfg.Interface = value
		case "port", "localport":
			n, err := parsePort(key, value)
			if err != nil {
				return Config{}, err
			}
			cfg.Port = n
		case "remoteport":
			n, err := parsePort(key, value)
			if err != nil {
				return Config{}, err
			}
			cfg.RemotePort = n
		case "islistener":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return Config{}, invalidConfig(fmt.Sprintf("isListener %q is not a boolean", value))
			}
			cfg.IsListener = b
		default:
			if cfg.Settings == nil {
				cfg.Settings = make(map[string]string)
			}
			cfg.Settings[key] = value
		}
	}
	return cfg, cfg.Validate()
}

func parsePort(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 || n > 65535 {
		return 0, invalidConfig(fmt.Sprintf("%s %q is not a port number", key, value))
	}
	return n, nil
}

func invalidConfig(reason string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, reason),
		"transport", "ParseConnectionString", "parse connection string")
}

// Validate checks that the config describes a usable channel.
func (c Config) Validate() error {
	switch c.Protocol {
	case ProtocolTCP:
		if !c.IsListener {
			if c.Server == "" {
				return invalidConfig("tcp client requires server")
			}
			if _, _, err := net.SplitHostPort(c.Server); err != nil {
				return invalidConfig(fmt.Sprintf("server %q is not host:port", c.Server))
			}
		}
	case ProtocolUDP:
		if c.Server == "" && c.Port == 0 {
			return invalidConfig("udp channel requires a listen port or a destination")
		}
		if _, err := c.Destinations(); err != nil {
			return err
		}
	default:
		return invalidConfig(fmt.Sprintf("unsupported protocol %q", c.Protocol))
	}
	return nil
}

// Destinations resolves the UDP destination list to host:port pairs.
func (c Config) Destinations() ([]string, error) {
	if c.Server == "" {
		return nil, nil
	}
	var out []string
	for _, d := range strings.Split(c.Server, ",") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(d); err == nil {
			out = append(out, d)
			continue
		}
		if c.RemotePort == 0 {
			return nil, invalidConfig(fmt.Sprintf("destination %q has no port and remotePort is unset", d))
		}
		out = append(out, net.JoinHostPort(d, strconv.Itoa(c.RemotePort)))
	}
	return out, nil
}

// ListenAddress is the local interface:port to bind.
func (c Config) ListenAddress() string {
	iface := c.Interface
	if iface == "" {
		iface = "0.0.0.0"
	}
	return net.JoinHostPort(iface, strconv.Itoa(c.Port))
}

// String renders the config back into a connection string. Parsing the result
// yields an equal config.
func (c Config) String() string {
	parts := []string{"protocol=" + string(c.Protocol)}
	if c.Server != "" {
		parts = append(parts, "server="+c.Server)
	}
	if c.Interface != "" {
		parts = append(parts, "interface="+c.Interface)
	}
	if c.Port != 0 {
		parts = append(parts, "port="+strconv.Itoa(c.Port))
	}
	if c.RemotePort != 0 {
		parts = append(parts, "remotePort="+strconv.Itoa(c.RemotePort))
	}
	if c.IsListener {
		parts = append(parts, "isListener=true")
	}
	keys := make([]string, 0, len(c.Settings))
	for k := range c.Settings {
		if !knownKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+c.Settings[k])
	}
	return strings.Join(parts, "; ")
}
