// Package metric provides Prometheus instrumentation for the workflow run
// core: stream frame counters, run lifecycle gauges, history snapshot
// counters and persistence timings, all under the hedgeflow namespace.
//
// A single Metrics instance is constructed at startup and passed by
// reference to the components that record into it. Components treat a nil
// *Metrics as "metrics disabled" so unit tests don't need a registry.
package metric
