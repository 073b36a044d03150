// Package security holds the TLS settings shared by the admin API and the
// NATS connection.
package security

// ServerMTLSConfig enables client certificate validation on a server.
type ServerMTLSConfig struct {
	Enabled       bool     `json:"enabled"                      yaml:"enabled"`
	ClientCAFiles []string `json:"client_ca_files,omitempty"    yaml:"client_ca_files,omitempty"`
	// RequireClientCert rejects clients without a certificate; otherwise one is verified if given
	RequireClientCert bool     `json:"require_client_cert,omitempty" yaml:"require_client_cert,omitempty"`
	AllowedClientCNs  []string `json:"allowed_client_cns,omitempty"  yaml:"allowed_client_cns,omitempty"`
}

// ServerTLSConfig configures TLS on an HTTP listener.
type ServerTLSConfig struct {
	Enabled    bool   `json:"enabled"               yaml:"enabled"`
	CertFile   string `json:"cert_file,omitempty"   yaml:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty"    yaml:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty" yaml:"min_version,omitempty"` // "1.2" or "1.3"

	MTLS ServerMTLSConfig `json:"mtls,omitempty" yaml:"mtls,omitempty"`
}

// ClientMTLSConfig provides a client certificate.
type ClientMTLSConfig struct {
	Enabled  bool   `json:"enabled"             yaml:"enabled"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"  yaml:"key_file,omitempty"`
}

// ClientTLSConfig configures TLS for outgoing connections. The system CA
// bundle is always trusted; CAFiles are added to it.
type ClientTLSConfig struct {
	Enabled            bool     `json:"enabled"                        yaml:"enabled"`
	CAFiles            []string `json:"ca_files,omitempty"             yaml:"ca_files,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"` // test only
	MinVersion         string   `json:"min_version,omitempty"          yaml:"min_version,omitempty"`

	MTLS ClientMTLSConfig `json:"mtls,omitempty" yaml:"mtls,omitempty"`
}
