package metrics

import (
	"time"

	"github.com/kilianp07/depotsched/core/model"
)

// AllocationRecord is a single stall allocation outcome.
type AllocationRecord struct {
	DepotID   string
	StallType model.StallType
	Success   bool
	Reason    string
	Attempts  int
	Time      time.Time
}

// MetricsSink records allocation outcomes for observability purposes.
type MetricsSink interface {
	RecordAllocation(rec AllocationRecord) error
}

// JobTransitionRecord captures a job moving between lifecycle states.
type JobTransitionRecord struct {
	JobID    string
	DepotID  string
	JobType  model.JobType
	From     model.JobState
	To       model.JobState
	Duration time.Duration
	Time     time.Time
}

// JobTransitionRecorder records job lifecycle transitions.
type JobTransitionRecorder interface {
	RecordJobTransition(rec JobTransitionRecord) error
}

// UtilizationRecord is a per-type utilization snapshot.
type UtilizationRecord struct {
	DepotID        string
	StallType      model.StallType
	Total          int
	Occupied       int
	Available      int
	Maintenance    int
	UtilizationPct float64
	Time           time.Time
}

// UtilizationRecorder records depot utilization snapshots.
type UtilizationRecorder interface {
	RecordDepotUtilization(rec UtilizationRecord) error
}

// PipelineTransitionRecord captures a service pipeline state change.
type PipelineTransitionRecord struct {
	DepotID   string
	VehicleID string
	From      model.PipelineState
	To        model.PipelineState
	Time      time.Time
}

// PipelineTransitionRecorder records pipeline state changes.
type PipelineTransitionRecorder interface {
	RecordPipelineTransition(rec PipelineTransitionRecord) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordAllocation(AllocationRecord) error                 { return nil }
func (NopSink) RecordJobTransition(JobTransitionRecord) error           { return nil }
func (NopSink) RecordDepotUtilization(UtilizationRecord) error          { return nil }
func (NopSink) RecordPipelineTransition(PipelineTransitionRecord) error { return nil }
