// Package statistics provides latency, throughput and missing-data accounting for
// the inbound mapper and outbound concentrator, per-device counters, and the
// Engine that polls statistic sources on a fixed interval.
//
// Sources are registered as one of three variants:
//
//	engine.Register(statistics.Inbound{Name: "PMU1", Provider: mapper})
//	engine.Register(statistics.Outbound{Name: "PDC1", Provider: concentrator})
//	engine.Register(statistics.Device{Name: "PMU1!SHELBY", Stats: deviceStats})
//
// Every calculation stores a Snapshot per source. When a metric registry is
// supplied the latest snapshot values are exposed as gauges named
// phasorstreams_statistics_<kind>_<statistic> with a "source" label.
//
// Collecting a Device source restarts its per-tick measurement counters.
// Callbacks added with OnCalculated run after each calculation and are where
// owners reset windowed latency and throughput aggregates.
package statistics
