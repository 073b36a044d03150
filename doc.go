// Package phasorstreams is a phasor measurement mapper and data concentrator.
//
// A node receives synchrophasor streams from devices (PMUs and upstream PDCs),
// maps every field of every data frame onto a keyed time-series measurement,
// and republishes those measurements as new, time-aligned synchrophasor
// streams for downstream clients.
//
// # Architecture
//
//	  devices (UDP / TCP)
//	          ↓
//	┌─────────────────────────────────────┐
//	│   mapper.Mapper (one per input)     │  Frame parsing, configuration
//	│   transport + phasor codec          │  frames, timestamp checks
//	└─────────────────────────────────────┘
//	          ↓ stream.Writer
//	┌─────────────────────────────────────┐
//	│   NATS: <prefix>.<input name>       │  Canonical measurement
//	│   measurement batches               │  stream
//	└─────────────────────────────────────┘
//	          ↓ stream.Reader
//	┌─────────────────────────────────────┐
//	│   concentrator.Concentrator         │  Fixed-rate frame engine,
//	│   (one per output stream)           │  configuration frame, clients
//	└─────────────────────────────────────┘
//	          ↓
//	  clients (UDP / TCP, command channel)
//
// Device and measurement records come from a metadata document (see package
// metadata) that both halves read: a Mapper resolves signal references to
// measurement keys, a Concentrator builds its configuration frame from the
// output stream's devices and measurement rows.
//
// # Packages
//
// Domain:
//   - phasor: configuration, data, header and command frames and their binary images
//   - signal: the textual signal reference that names one field of a device
//   - measurement: the canonical keyed value with timestamp and quality flags
//   - metadata: devices, signals, output streams and their validation
//   - mapper: the inbound adapter
//   - concentration: the fixed-rate frame engine behind an output stream
//   - concentrator: the outbound adapter
//   - statistics: per-device and per-adapter counters published on an interval
//
// Infrastructure:
//   - transport: UDP and TCP channels, client and listener, with reconnection
//   - stream: measurement batches over NATS
//   - natsclient: the NATS connection with circuit breaker and KV helpers
//   - configcache: last configuration frame per input, in a KV bucket, SQLite or memory
//   - component, health: lifecycle contract and health aggregation
//   - service: the administrative HTTP API
//   - output/websocket: the live measurement monitor
//   - metric: Prometheus registry and endpoint
//   - config: layered JSON/YAML configuration with environment overrides
//   - errors, pkg/retry, pkg/buffer, pkg/timestamp, pkg/tlsutil: shared utilities
//
// # Binary
//
//	./bin/phasorstreams --config configs/phasorstreams.yaml
//
// SIGHUP reloads the metadata document and refreshes every adapter. SIGINT
// and SIGTERM stop the node gracefully.
package phasorstreams
