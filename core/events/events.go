package events

import (
	"time"

	"github.com/kilianp07/depotsched/core/model"
)

// AllocationEvent is published for every allocation attempt.
type AllocationEvent struct {
	DepotID     string
	VehicleID   string
	StallType   model.StallType
	StallID     string
	StallNumber int
	Success     bool
	Reason      string
	// Attempts counts the compare-and-swap tries made before the outcome.
	Attempts int
	Time     time.Time
}

// StallAction names what happened to a stall outside of allocation.
type StallAction string

const (
	StallReleased          StallAction = "released"
	StallMaintenanceOn     StallAction = "maintenance_on"
	StallMaintenanceOff    StallAction = "maintenance_off"
	StallReservationRolled StallAction = "reservation_rolled_back"
)

// StallEvent is published when a stall changes hands outside of allocation.
type StallEvent struct {
	StallID string
	DepotID string
	Action  StallAction
	Time    time.Time
}

// JobEventType mirrors the job lifecycle notifications.
type JobEventType string

const (
	JobScheduled JobEventType = "JOB_SCHEDULED"
	JobActive    JobEventType = "JOB_ACTIVE"
	JobCompleted JobEventType = "JOB_COMPLETED"
	JobCancelled JobEventType = "JOB_CANCELLED"
)

// JobEvent is published for each job transition.
type JobEvent struct {
	Type       JobEventType
	JobID      string
	VehicleID  string
	DepotID    string
	JobType    model.JobType
	ResourceID string
	From       model.JobState
	To         model.JobState
	// Duration is the realized time spent active, set on completion.
	Duration time.Duration
	Time     time.Time
}

// UtilizationEvent carries one stall type's utilization at a depot.
type UtilizationEvent struct {
	DepotID        string
	StallType      model.StallType
	Total          int
	Occupied       int
	Available      int
	Maintenance    int
	UtilizationPct float64
	Time           time.Time
}

// PipelineEvent wraps a service pipeline transition.
type PipelineEvent struct {
	DepotID    string
	Transition model.TransitionEvent
}

// PipelineArchived is published when a deployed visit is removed.
type PipelineArchived struct {
	Pipeline model.ServicePipeline
	Time     time.Time
}
