package model

import (
	"fmt"
	"time"
)

// StallType identifies what kind of work a stall supports.
type StallType string

const (
	StallChargeStandard StallType = "charge_standard"
	StallChargeFast     StallType = "charge_fast"
	StallCleanDetail    StallType = "clean_detail"
	StallServiceBay     StallType = "service_bay"
	StallStaging        StallType = "staging"
)

// StallTypes lists every known stall type in section order.
var StallTypes = []StallType{StallChargeStandard, StallChargeFast, StallCleanDetail, StallServiceBay, StallStaging}

// Valid reports whether t is a known stall type.
func (t StallType) Valid() bool {
	switch t {
	case StallChargeStandard, StallChargeFast, StallCleanDetail, StallServiceBay, StallStaging:
		return true
	default:
		return false
	}
}

// IsCharge returns true for both charger types.
func (t StallType) IsCharge() bool {
	return t == StallChargeStandard || t == StallChargeFast
}

// MatchingTypes returns the stall types that can satisfy a request for t.
// Standard and fast chargers substitute for each other.
func (t StallType) MatchingTypes() []StallType {
	if t.IsCharge() {
		return []StallType{StallChargeStandard, StallChargeFast}
	}
	return []StallType{t}
}

// ParseStallType converts a raw string into a StallType.
func ParseStallType(s string) (StallType, error) {
	t := StallType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown stall type %q", s)
	}
	return t, nil
}

// SectionRange is the contiguous block of stall numbers reserved for a type.
type SectionRange struct {
	Start int
	End   int
}

// Midpoint returns the center of the range.
func (r SectionRange) Midpoint() float64 { return float64(r.Start+r.End) / 2 }

// MaxSectionSpan is the largest possible distance between two stall numbers.
const MaxSectionSpan = 61.0

// Sections maps every stall type to its stall-number block on the depot floor.
var Sections = map[StallType]SectionRange{
	StallChargeStandard: {Start: 1, End: 20},
	StallChargeFast:     {Start: 21, End: 30},
	StallCleanDetail:    {Start: 31, End: 42},
	StallServiceBay:     {Start: 43, End: 52},
	StallStaging:        {Start: 53, End: 62},
}

// StallStatus is the occupancy state of a stall.
type StallStatus string

const (
	StallAvailable   StallStatus = "available"
	StallReserved    StallStatus = "reserved"
	StallOccupied    StallStatus = "occupied"
	StallMaintenance StallStatus = "maintenance"
)

// Valid reports whether s is a known stall status.
func (s StallStatus) Valid() bool {
	switch s {
	case StallAvailable, StallReserved, StallOccupied, StallMaintenance:
		return true
	default:
		return false
	}
}

// HoldsOccupant is true when a vehicle or job is bound to the stall.
func (s StallStatus) HoldsOccupant() bool {
	return s == StallReserved || s == StallOccupied
}

// FastChargeThresholdKW separates fast from standard chargers.
const FastChargeThresholdKW = 150.0

// Stall is a single physical resource slot at a depot.
type Stall struct {
	ID                    string      `json:"id"`
	DepotID               string      `json:"depot_id"`
	StallNumber           int         `json:"stall_number"`
	StallType             StallType   `json:"stall_type"`
	Status                StallStatus `json:"status"`
	ChargerPowerKW        *float64    `json:"charger_power_kw,omitempty"`
	CurrentVehicleID      string      `json:"current_vehicle_id,omitempty"`
	CurrentJobID          string      `json:"current_job_id,omitempty"`
	SessionStartedAt      *time.Time  `json:"session_started_at,omitempty"`
	EstimatedCompletionAt *time.Time  `json:"estimated_completion_at,omitempty"`
}

// IsFastCharger reports whether the stall's charger reaches the fast threshold.
// Stalls without a charger rating are treated as standard.
func (s Stall) IsFastCharger() bool {
	return s.ChargerPowerKW != nil && *s.ChargerPowerKW >= FastChargeThresholdKW
}

// Vacated returns a copy of the stall with all occupant and session fields cleared.
func (s Stall) Vacated(status StallStatus) Stall {
	s.Status = status
	s.CurrentVehicleID = ""
	s.CurrentJobID = ""
	s.SessionStartedAt = nil
	s.EstimatedCompletionAt = nil
	return s
}
