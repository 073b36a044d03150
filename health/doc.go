// Package health tracks the health of the running adapters and aggregates it
// into the system status served at /health.
//
// Three states are reported: healthy, degraded and unhealthy. An inbound
// mapper that is connected but has not received a configuration reports
// degraded; a mapper whose channel is down reports unhealthy.
//
//	monitor := health.NewMonitor()
//	monitor.Refresh(manager.Components())
//	status := monitor.AggregateHealth("phasorstreams")
//
// Error text copied from components is sanitized before it is exposed so
// connection strings and addresses do not leak through the health endpoint.
package health
