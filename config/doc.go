// Package config loads the configuration of a phasorstreams node.
//
// A configuration names the platform, the NATS connection that carries the
// measurement stream, the admin and metrics ports, where configuration frame
// images are cached, the metadata document, and the inbound connections
// (inputs) and outbound streams (outputs) the node runs.
//
// Layers are JSON or YAML files merged in order onto Default, so a site file
// only states what differs:
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/phasorstreams/base.yaml")
//	loader.AddLayer("/etc/phasorstreams/site.yaml")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//
// A minimal YAML layer:
//
//	metadata:
//	  path: /etc/phasorstreams/metadata.json
//	inputs:
//	  - name: SHELBY
//	    connection_string: "protocol=tcp; server=10.0.0.5:4712"
//	    lag_time: 10s
//	outputs:
//	  - name: PDCOUT
//	    data_channel: "protocol=udp; server=10.0.0.9:8800"
//	    frames_per_second: 30
//
// The admin API and the NATS connection take TLS settings:
//
//	http:
//	  tls:
//	    enabled: true
//	    cert_file: /etc/phasorstreams/admin.crt
//	    key_file: /etc/phasorstreams/admin.key
//	nats:
//	  tls:
//	    enabled: true
//	    ca_files: [/etc/phasorstreams/nats-ca.pem]
//
// Keys ending in _time, _delay, _interval, _timeout, _window, _wait or
// _adjustment accept duration strings such as "250ms", "5s" or "1d".
//
// Environment variables prefixed PHASORSTREAMS_ override the files:
// PLATFORM_ID, INSTANCE_ID, LOG_LEVEL, NATS_URLS (comma separated),
// NATS_USERNAME, NATS_PASSWORD, NATS_TOKEN, METADATA_PATH, CACHE_BACKEND,
// HTTP_PORT and METRICS_PORT.
//
// Validate reports every problem at once, joined into one error classified
// as invalid.
package config
