// Package events defines the scheduling events emitted on the event bus.
//
// Available event types:
//   - AllocationEvent: outcome of a stall allocation attempt
//   - StallEvent: stall released or toggled for maintenance
//   - JobEvent: job lifecycle transition
//   - UtilizationEvent: per-type depot utilization snapshot
//   - PipelineEvent: service pipeline state change
//   - PipelineArchived: a deployed visit leaving the live repository
package events
