// Package forecast holds the hourly demand forecast and the time-of-use
// energy arbitrage model. Both are pure functions over fixed tables.
package forecast

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// WeekdayDemand is the base number of vehicles needed per hour on weekdays.
var WeekdayDemand = [24]int{2, 1, 1, 1, 2, 4, 7, 9, 8, 6, 5, 5, 6, 5, 5, 6, 8, 10, 9, 7, 5, 4, 3, 2}

// WeekendDemand is the base number of vehicles needed per hour on weekends.
var WeekendDemand = [24]int{3, 2, 1, 1, 1, 2, 3, 4, 5, 6, 7, 7, 7, 7, 6, 6, 6, 7, 7, 6, 5, 4, 4, 3}

// HourDemand is the forecast for one hour of the day.
type HourDemand struct {
	Hour           int `json:"hour"`
	VehiclesNeeded int `json:"vehicles_needed"`
	Deficit        int `json:"deficit"`
}

// Demand is a 24-hour forecast for the day containing GeneratedAt.
type Demand struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Weekend     bool         `json:"weekend"`
	Multiplier  float64      `json:"multiplier"`
	Staged      int          `json:"staged"`
	Hours       []HourDemand `json:"hours"`
	PeakHour    int          `json:"peak_hour"`
	CurrentHour HourDemand   `json:"current_hour"`
}

// Forecaster computes demand with a settable surge multiplier.
type Forecaster struct {
	mu    sync.RWMutex
	surge float64
}

// NewForecaster returns a forecaster with a neutral surge multiplier.
func NewForecaster() *Forecaster { return &Forecaster{surge: 1} }

// SurgeMultiplier returns the current default multiplier.
func (f *Forecaster) SurgeMultiplier() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.surge
}

// SetSurgeMultiplier changes the default multiplier.
func (f *Forecaster) SetSurgeMultiplier(m float64) error {
	if m <= 0 || math.IsNaN(m) || math.IsInf(m, 0) {
		return fmt.Errorf("surge multiplier must be positive, got %v", m)
	}
	f.mu.Lock()
	f.surge = m
	f.mu.Unlock()
	return nil
}

// Forecast returns hourly demand for now's day. override replaces the surge
// multiplier when non-nil. staged is the number of vehicles ready to deploy.
func (f *Forecaster) Forecast(now time.Time, staged int, override *float64) Demand {
	m := f.SurgeMultiplier()
	if override != nil {
		m = *override
	}
	return Forecast(now, staged, m)
}

// Forecast computes demand for now's day with multiplier m.
func Forecast(now time.Time, staged int, m float64) Demand {
	wd := now.Weekday()
	weekend := wd == time.Saturday || wd == time.Sunday
	base := WeekdayDemand
	if weekend {
		base = WeekendDemand
	}
	d := Demand{GeneratedAt: now, Weekend: weekend, Multiplier: m, Staged: staged, Hours: make([]HourDemand, 24)}
	for h, b := range base {
		needed := int(math.Round(float64(b) * m))
		deficit := needed - staged
		if deficit < 0 {
			deficit = 0
		}
		d.Hours[h] = HourDemand{Hour: h, VehiclesNeeded: needed, Deficit: deficit}
		if needed > d.Hours[d.PeakHour].VehiclesNeeded {
			d.PeakHour = h
		}
	}
	d.CurrentHour = d.Hours[now.Hour()]
	return d
}
