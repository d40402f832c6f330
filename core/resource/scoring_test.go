package resource

import (
	"math"
	"testing"

	"github.com/kilianp07/depotsched/core/model"
)

func kw(v float64) *float64 { return &v }

func TestRankPrefersLessLoadedCircuit(t *testing.T) {
	stalls := []model.Stall{
		{ID: "a", StallNumber: 1, StallType: model.StallServiceBay, Status: model.StallOccupied},
		{ID: "b", StallNumber: 2, StallType: model.StallServiceBay, Status: model.StallAvailable},
		{ID: "c", StallNumber: 3, StallType: model.StallServiceBay, Status: model.StallAvailable},
		{ID: "d", StallNumber: 4, StallType: model.StallServiceBay, Status: model.StallAvailable},
	}
	got := NewScorer().Rank(stalls, AllocationRequest{StallType: model.StallServiceBay})
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates got %d", len(got))
	}
	order := []string{got[0].Stall.ID, got[1].Stall.ID, got[2].Stall.ID}
	if order[0] != "b" || order[1] != "d" || order[2] != "c" {
		t.Fatalf("unexpected order %v", order)
	}
	if math.Abs(got[0].Score-0.6) > 1e-9 {
		t.Fatalf("expected 0.6 got %f", got[0].Score)
	}
	if got[2].Breakdown.LoadBal != 0.5 {
		t.Fatalf("odd circuit should be half loaded, got %f", got[2].Breakdown.LoadBal)
	}
}

func TestRankPowerMatch(t *testing.T) {
	fast := model.Stall{ID: "f", StallNumber: 21, StallType: model.StallChargeFast, Status: model.StallAvailable, ChargerPowerKW: kw(150)}
	urgent := NewScorer().Rank([]model.Stall{fast}, AllocationRequest{StallType: model.StallChargeFast, Urgency: 90})
	relaxed := NewScorer().Rank([]model.Stall{fast}, AllocationRequest{StallType: model.StallChargeFast, Urgency: 40})
	if urgent[0].Breakdown.PowerMatch != 1 || relaxed[0].Breakdown.PowerMatch != 0.3 {
		t.Fatalf("power match %f / %f", urgent[0].Breakdown.PowerMatch, relaxed[0].Breakdown.PowerMatch)
	}
	if urgent[0].Score <= relaxed[0].Score {
		t.Fatalf("urgent request should score higher on a fast charger")
	}

	slow := fast
	slow.ChargerPowerKW = kw(50)
	urgent = NewScorer().Rank([]model.Stall{slow}, AllocationRequest{StallType: model.StallChargeFast, Urgency: 90})
	relaxed = NewScorer().Rank([]model.Stall{slow}, AllocationRequest{StallType: model.StallChargeFast, Urgency: 40})
	if urgent[0].Score >= relaxed[0].Score {
		t.Fatalf("relaxed request should score higher on a standard charger")
	}
}

func TestRankSequentialPositioning(t *testing.T) {
	next := model.StallServiceBay
	stalls := []model.Stall{
		{ID: "a", StallNumber: 31, StallType: model.StallCleanDetail, Status: model.StallAvailable},
		{ID: "b", StallNumber: 42, StallType: model.StallCleanDetail, Status: model.StallAvailable},
	}
	got := NewScorer().Rank(stalls, AllocationRequest{StallType: model.StallCleanDetail, NextStallType: &next})
	byID := map[string]Candidate{}
	for _, c := range got {
		byID[c.Stall.ID] = c
	}
	want := 1 - math.Abs(42-47.5)/61
	if math.Abs(byID["b"].Breakdown.Sequential-want) > 1e-9 {
		t.Fatalf("sequential %f want %f", byID["b"].Breakdown.Sequential, want)
	}
	if byID["a"].Breakdown.Sequential >= byID["b"].Breakdown.Sequential {
		t.Fatalf("stall closer to the next section should score higher")
	}
	none := NewScorer().Rank(stalls, AllocationRequest{StallType: model.StallCleanDetail})
	if none[0].Breakdown.Sequential != 0.5 {
		t.Fatalf("expected neutral sequential score")
	}
}

func TestRankStableOnTies(t *testing.T) {
	var stalls []model.Stall
	for i, id := range []string{"z", "y", "x", "w"} {
		stalls = append(stalls, model.Stall{ID: id, StallNumber: i + 1, StallType: model.StallStaging, Status: model.StallAvailable})
	}
	for run := 0; run < 5; run++ {
		got := Scorer{}.Rank(stalls, AllocationRequest{StallType: model.StallStaging})
		for i, c := range got {
			if c.Stall.ID != stalls[i].ID {
				t.Fatalf("run %d: tie order changed at %d: %s", run, i, c.Stall.ID)
			}
		}
	}
}

func TestClassifyUtilization(t *testing.T) {
	cases := map[float64]UtilizationStatus{
		90: StatusCritical, 85: StatusBusy, 71: StatusBusy, 70: StatusOptimal, 50: StatusOptimal, 49.9: StatusUnderutilized,
	}
	for pct, want := range cases {
		if got := ClassifyUtilization(pct); got != want {
			t.Errorf("%v: got %s want %s", pct, got, want)
		}
	}
}
