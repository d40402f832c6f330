package model

import (
	"fmt"
	"time"
)

// JobType is the kind of work a job performs.
type JobType string

const (
	JobCharge       JobType = "CHARGE"
	JobDetailing    JobType = "DETAILING"
	JobMaintenance  JobType = "MAINTENANCE"
	JobDowntimePark JobType = "DOWNTIME_PARK"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobCharge, JobDetailing, JobMaintenance, JobDowntimePark:
		return true
	default:
		return false
	}
}

// RequiredStallType maps the job to the stall type it must occupy.
func (t JobType) RequiredStallType() StallType {
	switch t {
	case JobCharge:
		return StallChargeStandard
	case JobDetailing, JobDowntimePark:
		return StallCleanDetail
	case JobMaintenance:
		return StallServiceBay
	default:
		return ""
	}
}

// DurationProfile is the mean and half-width of a job's duration, in seconds.
type DurationProfile struct {
	AvgSeconds      int
	VarianceSeconds int
}

// DurationProfile returns the sampling distribution for the job type.
func (t JobType) DurationProfile() DurationProfile {
	switch t {
	case JobCharge:
		return DurationProfile{AvgSeconds: 2400, VarianceSeconds: 600}
	case JobDetailing:
		return DurationProfile{AvgSeconds: 5400, VarianceSeconds: 1800}
	case JobMaintenance:
		return DurationProfile{AvgSeconds: 10800, VarianceSeconds: 3600}
	case JobDowntimePark:
		return DurationProfile{AvgSeconds: 3600, VarianceSeconds: 900}
	default:
		return DurationProfile{}
	}
}

// ParseJobType converts a raw string into a JobType.
func ParseJobType(s string) (JobType, error) {
	t := JobType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown job type %q", s)
	}
	return t, nil
}

// JobState is a node of the job lifecycle.
type JobState string

const (
	JobPending   JobState = "PENDING"
	JobScheduled JobState = "SCHEDULED"
	JobActive    JobState = "ACTIVE"
	JobCompleted JobState = "COMPLETED"
	JobCancelled JobState = "CANCELLED"
)

// Valid reports whether s is a known job state.
func (s JobState) Valid() bool {
	switch s {
	case JobPending, JobScheduled, JobActive, JobCompleted, JobCancelled:
		return true
	default:
		return false
	}
}

// Terminal is true for absorbing states.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobCancelled
}

// HoldsResource is true for the states in which a job owns a stall.
func (s JobState) HoldsResource() bool {
	return s == JobScheduled || s == JobActive
}

// Job binds a vehicle to a stall for a bounded duration.
type Job struct {
	ID               string            `json:"id"`
	VehicleID        string            `json:"vehicle_id"`
	DepotID          string            `json:"depot_id"`
	JobType          JobType           `json:"job_type"`
	State            JobState          `json:"state"`
	ResourceID       string            `json:"resource_id,omitempty"`
	ScheduledStartAt *time.Time        `json:"scheduled_start_at,omitempty"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	ETASeconds       *int              `json:"eta_seconds,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	CancelledAt      *time.Time        `json:"cancelled_at,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate it without aliasing.
func (j Job) Clone() Job {
	if j.Metadata != nil {
		md := make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			md[k] = v
		}
		j.Metadata = md
	}
	return j
}
