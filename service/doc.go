// Package service provides the administrative HTTP API of a phasorstreams node.
//
// Admin serves one http.ServeMux:
//
//	GET  /api/inputs                     adapter summaries of the inbound mappers
//	GET  /api/inputs/{name}/status       status report text
//	POST /api/inputs/{name}/{command}    run a command, e.g. RequestConfiguration
//	GET  /api/outputs                    adapter summaries of the concentrators
//	GET  /api/outputs/{name}/status
//	POST /api/outputs/{name}/{command}   e.g. StartDataChannel, RebuildConfiguration
//	GET  /api/statistics                 latest snapshot of every statistics source
//	GET  /api/statistics/{source}
//	GET  /health                         aggregated health (503 when unhealthy)
//	GET  /healthz                        liveness
//	GET  /openapi.json
//
// A live measurement monitor, when configured, is mounted at its own path
// (normally /ws/measurements).
//
// Command arguments come from the query string or a JSON object body:
//
//	curl -X POST 'localhost:8080/api/inputs/SHELBY/ResetStatistics?id=1'
//	curl -X POST localhost:8080/api/inputs/SHELBY/SendCommand -d '{"command":"EnableRealTimeData"}'
//
// Adapter errors map to status codes by class: invalid input is 400, an
// operation already in progress is 409, a missing configuration is 404, an
// unavailable connection is 503 and a timeout is 504.
package service
