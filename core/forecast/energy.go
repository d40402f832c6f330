package forecast

import (
	"time"

	"gonum.org/v1/gonum/floats"
)

// Tier is a time-of-use price band.
type Tier string

const (
	TierOffPeak  Tier = "off-peak"
	TierShoulder Tier = "shoulder"
	TierPeak     Tier = "peak"
)

// TierRate holds the price and per-vehicle consumption of a tier. Most
// charging is shifted to off-peak hours, hence the uneven consumption.
type TierRate struct {
	RatePerKWh    float64 `json:"rate_per_kwh"`
	KWhPerVehicle float64 `json:"kwh_per_vehicle"`
}

// Rates lists the tariff of every tier.
var Rates = map[Tier]TierRate{
	TierOffPeak:  {RatePerKWh: 0.06, KWhPerVehicle: 3.5},
	TierShoulder: {RatePerKWh: 0.09, KWhPerVehicle: 0.8},
	TierPeak:     {RatePerKWh: 0.14, KWhPerVehicle: 0.3},
}

// tierBoundaries are the hours at which the tier changes.
var tierBoundaries = []int{6, 14, 20, 22}

// TierForHour classifies an hour of the day.
func TierForHour(h int) Tier {
	switch {
	case h >= 22 || h < 6:
		return TierOffPeak
	case h < 14 || h >= 20:
		return TierShoulder
	default:
		return TierPeak
	}
}

// TierAt returns the tier in effect at t.
func TierAt(t time.Time) Tier { return TierForHour(t.Hour()) }

// MinutesUntilTierChange returns the whole minutes from t to the next tier
// boundary. After 22:00 the next boundary is 06:00 the following day.
func MinutesUntilTierChange(t time.Time) int {
	m := t.Hour()*60 + t.Minute()
	for _, b := range tierBoundaries {
		if b*60 > m {
			return b*60 - m
		}
	}
	return 24*60 + tierBoundaries[0]*60 - m
}

// HourCost is the energy and cost of one hour.
type HourCost struct {
	Hour int     `json:"hour"`
	Tier Tier    `json:"tier"`
	KWh  float64 `json:"kwh"`
	Cost float64 `json:"cost"`
}

// Arbitrage compares the shifted charging plan with charging at peak price.
type Arbitrage struct {
	FleetSize          int        `json:"fleet_size"`
	Hours              []HourCost `json:"hours"`
	TotalKWh           float64    `json:"total_kwh"`
	TotalCost          float64    `json:"total_cost"`
	PeakOnlyCost       float64    `json:"peak_only_cost"`
	SavingsDollars     float64    `json:"savings_dollars"`
	SavingsPct         float64    `json:"savings_pct"`
	MonthlyProjection  float64    `json:"monthly_projection"`
	CurrentTier        Tier       `json:"current_tier"`
	CurrentRate        float64    `json:"current_rate"`
	MinutesUntilChange int        `json:"minutes_until_change"`
}

// ComputeArbitrage prices a day of charging for fleetSize vehicles.
func ComputeArbitrage(fleetSize int, now time.Time) Arbitrage {
	a := Arbitrage{FleetSize: fleetSize, Hours: make([]HourCost, 24)}
	kwh := make([]float64, 24)
	cost := make([]float64, 24)
	for h := 0; h < 24; h++ {
		tier := TierForHour(h)
		r := Rates[tier]
		kwh[h] = float64(fleetSize) * r.KWhPerVehicle
		cost[h] = kwh[h] * r.RatePerKWh
		a.Hours[h] = HourCost{Hour: h, Tier: tier, KWh: kwh[h], Cost: cost[h]}
	}
	a.TotalKWh = floats.Sum(kwh)
	a.TotalCost = floats.Sum(cost)
	a.PeakOnlyCost = a.TotalKWh * Rates[TierPeak].RatePerKWh
	a.SavingsDollars = a.PeakOnlyCost - a.TotalCost
	if a.PeakOnlyCost > 0 {
		a.SavingsPct = a.SavingsDollars / a.PeakOnlyCost * 100
	}
	a.MonthlyProjection = a.SavingsDollars * 30
	a.CurrentTier = TierAt(now)
	a.CurrentRate = Rates[a.CurrentTier].RatePerKWh
	a.MinutesUntilChange = MinutesUntilTierChange(now)
	return a
}
