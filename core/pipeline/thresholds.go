package pipeline

import (
	"context"

	"github.com/kilianp07/depotsched/core/model"
)

// ChargeRecommendation tells the orchestrator which charger class suits a vehicle.
type ChargeRecommendation struct {
	PreferFast bool    `json:"prefer_fast"`
	TargetSoC  float64 `json:"target_soc"`
}

// ThresholdEngine predicts which services a vehicle is due for.
type ThresholdEngine interface {
	PredictServiceNeeds(ctx context.Context, v model.Vehicle) ([]model.ServiceType, error)
	ChargeRecommendation(v model.Vehicle) ChargeRecommendation
}

// StaticThresholds is a ThresholdEngine driven by fixed tables.
type StaticThresholds struct {
	// Needs lists predicted services per vehicle id.
	Needs map[string][]model.ServiceType
	// Default applies to vehicles missing from Needs.
	Default []model.ServiceType
	// FastBelowSoC selects fast charging below this state of charge.
	FastBelowSoC float64
}

func (s StaticThresholds) PredictServiceNeeds(_ context.Context, v model.Vehicle) ([]model.ServiceType, error) {
	if needs, ok := s.Needs[v.ID]; ok {
		return needs, nil
	}
	return s.Default, nil
}

func (s StaticThresholds) ChargeRecommendation(v model.Vehicle) ChargeRecommendation {
	limit := s.FastBelowSoC
	if limit == 0 {
		limit = 0.3
	}
	return ChargeRecommendation{PreferFast: v.SoC < limit, TargetSoC: 0.9}
}
