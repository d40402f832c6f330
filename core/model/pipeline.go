package model

import "time"

// ServiceType is a unit of depot work a vehicle may need during a visit.
type ServiceType string

const (
	ServiceCharge             ServiceType = "charge"
	ServiceDetailClean        ServiceType = "detail_clean"
	ServiceTireRotation       ServiceType = "tire_rotation"
	ServiceBatteryHealthCheck ServiceType = "battery_health_check"
	ServiceFullService        ServiceType = "full_service"
)

// ServicePriority orders services within a visit. Dry work runs first so
// the vehicle charges last and leaves at a high state of charge.
var ServicePriority = []ServiceType{
	ServiceDetailClean,
	ServiceTireRotation,
	ServiceBatteryHealthCheck,
	ServiceFullService,
	ServiceCharge,
}

// Valid reports whether s is a known service type.
func (s ServiceType) Valid() bool {
	switch s {
	case ServiceCharge, ServiceDetailClean, ServiceTireRotation, ServiceBatteryHealthCheck, ServiceFullService:
		return true
	default:
		return false
	}
}

// StallType returns the stall type that hosts the service.
func (s ServiceType) StallType() StallType {
	switch s {
	case ServiceCharge:
		return StallChargeStandard
	case ServiceDetailClean:
		return StallCleanDetail
	case ServiceTireRotation, ServiceBatteryHealthCheck, ServiceFullService:
		return StallServiceBay
	default:
		return ""
	}
}

// PipelineState is the lifecycle state of a vehicle visit.
type PipelineState string

const (
	PipelineArrived       PipelineState = "ARRIVED"
	PipelineQueued        PipelineState = "QUEUED"
	PipelineInService     PipelineState = "IN_SERVICE"
	PipelineTransitioning PipelineState = "TRANSITIONING"
	PipelineStaging       PipelineState = "STAGING"
	PipelineDeployed      PipelineState = "DEPLOYED"
)

// PipelineStates lists the lifecycle states in order.
var PipelineStates = []PipelineState{
	PipelineArrived, PipelineQueued, PipelineInService, PipelineTransitioning, PipelineStaging, PipelineDeployed,
}

// StepStatus is the progress state of a single pipeline step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepActive    StepStatus = "active"
	StepCompleted StepStatus = "completed"
	StepBlocked   StepStatus = "blocked"
)

// PipelineStep is one service of a visit bound to a stall type.
type PipelineStep struct {
	ServiceType        ServiceType `json:"service_type"`
	StallType          StallType   `json:"stall_type"`
	AssignedStallID    string      `json:"assigned_stall_id,omitempty"`
	AssignedStallNum   int         `json:"assigned_stall_number,omitempty"`
	DurationMinutes    int         `json:"duration_minutes"`
	EstimatedStartTime time.Time   `json:"estimated_start_time"`
	EstimatedEndTime   time.Time   `json:"estimated_end_time"`
	ActualStartTime    *time.Time  `json:"actual_start_time,omitempty"`
	ActualEndTime      *time.Time  `json:"actual_end_time,omitempty"`
	Status             StepStatus  `json:"status"`
	Progress           int         `json:"progress"`
}

// ServicePipeline is the ordered sequence of services for one vehicle visit.
type ServicePipeline struct {
	VehicleID          string         `json:"vehicle_id"`
	DepotID            string         `json:"depot_id,omitempty"`
	State              PipelineState  `json:"state"`
	Steps              []PipelineStep `json:"steps"`
	CurrentStepIndex   int            `json:"current_step_index"`
	ArrivalTime        time.Time      `json:"arrival_time"`
	EstimatedReadyTime time.Time      `json:"estimated_ready_time"`
	DeployedAt         *time.Time     `json:"deployed_at,omitempty"`
}

// CurrentStep returns the step at the current index, if any.
func (p *ServicePipeline) CurrentStep() *PipelineStep {
	if p.CurrentStepIndex < 0 || p.CurrentStepIndex >= len(p.Steps) {
		return nil
	}
	return &p.Steps[p.CurrentStepIndex]
}

// Clone returns a deep copy of the pipeline.
func (p ServicePipeline) Clone() ServicePipeline {
	steps := make([]PipelineStep, len(p.Steps))
	copy(steps, p.Steps)
	p.Steps = steps
	return p
}

// TransitionEvent records a pipeline lifecycle change.
type TransitionEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	VehicleID string        `json:"vehicle_id"`
	FromState PipelineState `json:"from_state"`
	ToState   PipelineState `json:"to_state"`
	Label     string        `json:"label"`
}
