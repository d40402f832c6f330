package model

import "fmt"

// VehicleStatus is the operational status reported for a fleet vehicle.
type VehicleStatus string

const (
	VehicleIdle      VehicleStatus = "idle"
	VehicleEnRoute   VehicleStatus = "en_route_to_depot"
	VehicleInService VehicleStatus = "in_service"
	VehicleDeployed  VehicleStatus = "deployed"
)

// Vehicle is an autonomous fleet vehicle visiting the depot.
type Vehicle struct {
	ID       string        `json:"id"`
	DepotID  string        `json:"depot_id,omitempty"`
	SoC      float64       `json:"soc"` // State of charge between 0 and 1
	Status   VehicleStatus `json:"status"`
	IsMember bool          `json:"is_member,omitempty"`
}

// Validate checks that the vehicle data is sound.
func (v Vehicle) Validate() error {
	if v.ID == "" {
		return fmt.Errorf("vehicle id is required")
	}
	if v.SoC < 0 || v.SoC > 1 {
		return fmt.Errorf("soc must be within [0,1], got %.3f", v.SoC)
	}
	return nil
}

// NeedsCharge is true below the arrival charge threshold of 90%.
func (v Vehicle) NeedsCharge() bool {
	return v.SoC < 0.9
}
