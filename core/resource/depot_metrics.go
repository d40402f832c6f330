package resource

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/depotsched/core/events"
	"github.com/kilianp07/depotsched/core/model"
	"github.com/kilianp07/depotsched/core/store"
)

// UtilizationStatus labels how loaded a stall type is.
type UtilizationStatus string

const (
	StatusCritical      UtilizationStatus = "critical"
	StatusBusy          UtilizationStatus = "busy"
	StatusOptimal       UtilizationStatus = "optimal"
	StatusUnderutilized UtilizationStatus = "underutilized"
)

// ClassifyUtilization maps a utilization percentage to its label.
func ClassifyUtilization(pct float64) UtilizationStatus {
	switch {
	case pct > 85:
		return StatusCritical
	case pct > 70:
		return StatusBusy
	case pct < 50:
		return StatusUnderutilized
	default:
		return StatusOptimal
	}
}

// TypeMetrics summarises one stall type at a depot. Occupied counts both
// reserved and occupied stalls.
type TypeMetrics struct {
	StallType       model.StallType   `json:"stall_type"`
	Total           int               `json:"total"`
	Occupied        int               `json:"occupied"`
	Reserved        int               `json:"reserved"`
	Available       int               `json:"available"`
	Maintenance     int               `json:"maintenance"`
	UtilizationPct  float64           `json:"utilization_pct"`
	AvgDwellMinutes float64           `json:"avg_dwell_minutes"`
	Status          UtilizationStatus `json:"status"`
}

// DepotMetrics is the per-type throughput report of a depot.
type DepotMetrics struct {
	DepotID     string        `json:"depot_id"`
	GeneratedAt time.Time     `json:"generated_at"`
	Types       []TypeMetrics `json:"types"`
}

// GetDepotMetrics computes counts, utilization and dwell per stall type.
// Types with no stalls at the depot are omitted.
func (m *Manager) GetDepotMetrics(ctx context.Context, depotID string) (DepotMetrics, error) {
	if depotID == "" {
		return DepotMetrics{}, validationError([]string{"depot_id"})
	}
	stalls, err := m.stalls.ListStalls(ctx, store.StallFilter{DepotID: depotID})
	if err != nil {
		return DepotMetrics{}, fmt.Errorf("list stalls: %w", err)
	}
	now := m.clock.Now()
	byType := make(map[model.StallType][]model.Stall)
	for _, s := range stalls {
		byType[s.StallType] = append(byType[s.StallType], s)
	}
	res := DepotMetrics{DepotID: depotID, GeneratedAt: now}
	for _, t := range model.StallTypes {
		group := byType[t]
		if len(group) == 0 {
			continue
		}
		tm := summarise(t, group, now)
		res.Types = append(res.Types, tm)
		if m.bus != nil {
			m.bus.Publish(events.UtilizationEvent{
				DepotID:        depotID,
				StallType:      t,
				Total:          tm.Total,
				Occupied:       tm.Occupied,
				Available:      tm.Available,
				Maintenance:    tm.Maintenance,
				UtilizationPct: tm.UtilizationPct,
				Time:           now,
			})
		}
	}
	return res, nil
}

func summarise(t model.StallType, group []model.Stall, now time.Time) TypeMetrics {
	tm := TypeMetrics{StallType: t, Total: len(group)}
	var dwell []float64
	for _, s := range group {
		switch s.Status {
		case model.StallAvailable:
			tm.Available++
		case model.StallMaintenance:
			tm.Maintenance++
		case model.StallReserved:
			tm.Reserved++
			tm.Occupied++
		case model.StallOccupied:
			tm.Occupied++
		}
		if s.Status.HoldsOccupant() && s.SessionStartedAt != nil {
			dwell = append(dwell, now.Sub(*s.SessionStartedAt).Minutes())
		}
	}
	if capacity := tm.Total - tm.Maintenance; capacity > 0 {
		tm.UtilizationPct = float64(tm.Occupied) / float64(capacity) * 100
	}
	if len(dwell) > 0 {
		tm.AvgDwellMinutes = stat.Mean(dwell, nil)
	}
	tm.Status = ClassifyUtilization(tm.UtilizationPct)
	return tm
}
