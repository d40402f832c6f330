// Package metrics defines the observability sinks of the depot scheduler.
// Sinks like PromSink and InfluxSink record allocation outcomes, job
// transitions, depot utilization and pipeline changes, and can be combined
// with NewMultiSink. The factory helpers return a MultiSink automatically
// when several sinks are configured.
package metrics
