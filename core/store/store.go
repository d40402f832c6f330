// Package store defines the persistence contracts of the depot scheduler.
//
// Every mutation that claims or hands over a stall or a job goes through a
// compare-and-swap on its status column. Implementations must report a lost
// race as (false, nil) and reserve errors for connectivity or data problems.
package store

import (
	"context"
	"errors"

	"github.com/kilianp07/depotsched/core/model"
)

// ErrNotFound is returned when a stall, job or vehicle id is unknown.
var ErrNotFound = errors.New("not found")

// StallFilter narrows a stall listing. Zero fields match everything.
type StallFilter struct {
	DepotID string
	Types   []model.StallType
	Status  model.StallStatus
	Limit   int
}

// StallStore persists depot stalls.
type StallStore interface {
	GetStall(ctx context.Context, id string) (model.Stall, error)
	// ListStalls returns matching stalls ordered by stall number.
	ListStalls(ctx context.Context, f StallFilter) ([]model.Stall, error)
	PutStall(ctx context.Context, s model.Stall) error
	// UpdateStall overwrites the stall unconditionally.
	UpdateStall(ctx context.Context, s model.Stall) error
	// CompareAndSwapStall writes next only if the stored status still equals expected.
	CompareAndSwapStall(ctx context.Context, expected model.StallStatus, next model.Stall) (bool, error)
	// CompareAndSwapStallFor is CompareAndSwapStall that also requires the
	// stored stall to still be bound to jobID.
	CompareAndSwapStallFor(ctx context.Context, expected model.StallStatus, jobID string, next model.Stall) (bool, error)
}

// JobFilter narrows a job listing.
type JobFilter struct {
	State model.JobState
	Limit int
}

// JobStore persists scheduler jobs.
type JobStore interface {
	CreateJob(ctx context.Context, j model.Job) error
	GetJob(ctx context.Context, id string) (model.Job, error)
	// ListJobs returns matching jobs ordered by creation time.
	ListJobs(ctx context.Context, f JobFilter) ([]model.Job, error)
	// CompareAndSwapJob writes next only if the stored state still equals expected.
	CompareAndSwapJob(ctx context.Context, expected model.JobState, next model.Job) (bool, error)
}

// VehicleStore persists fleet vehicle status.
type VehicleStore interface {
	GetVehicle(ctx context.Context, id string) (model.Vehicle, error)
	PutVehicle(ctx context.Context, v model.Vehicle) error
	// SetVehicleStatus updates the status, creating a bare record when missing.
	SetVehicleStatus(ctx context.Context, id string, status model.VehicleStatus) error
}

// Store groups every table the scheduler needs.
type Store interface {
	StallStore
	JobStore
	VehicleStore
	Close() error
}
