package resource

import (
	"math"
	"sort"

	"github.com/kilianp07/depotsched/core/model"
)

// HighUrgency is the threshold above which a charge request prefers a fast charger.
const HighUrgency = 70

// Scorer ranks available stalls for a request using a weighted sum of
// proximity, charger power match, circuit load and distance to the next
// service section. The default weights sum to one.
type Scorer struct {
	ProximityWeight  float64
	PowerWeight      float64
	LoadWeight       float64
	SequentialWeight float64
}

// NewScorer returns a scorer with the standard weights.
func NewScorer() Scorer {
	return Scorer{
		ProximityWeight:  0.30,
		PowerWeight:      0.25,
		LoadWeight:       0.20,
		SequentialWeight: 0.25,
	}
}

// Breakdown holds the unweighted components of a stall score.
type Breakdown struct {
	Proximity  float64 `json:"proximity"`
	PowerMatch float64 `json:"power_match"`
	LoadBal    float64 `json:"load_balance"`
	Sequential float64 `json:"sequential"`
}

// Candidate is an available stall with its score.
type Candidate struct {
	Stall     model.Stall `json:"stall"`
	Score     float64     `json:"score"`
	Breakdown Breakdown   `json:"breakdown"`
}

// circuitLoad counts stalls per virtual electrical circuit.
type circuitLoad struct {
	total [2]int
	busy  [2]int
}

func newCircuitLoad(stalls []model.Stall) circuitLoad {
	var c circuitLoad
	for _, s := range stalls {
		k := circuit(s.StallNumber)
		c.total[k]++
		if s.Status.HoldsOccupant() {
			c.busy[k]++
		}
	}
	return c
}

func (c circuitLoad) score(stallNumber int) float64 {
	k := circuit(stallNumber)
	if c.total[k] == 0 {
		return 1
	}
	return 1 - float64(c.busy[k])/float64(c.total[k])
}

func circuit(stallNumber int) int {
	if stallNumber%2 == 0 {
		return 0
	}
	return 1
}

// Rank scores the available stalls among all and returns them best first.
// all must contain every stall of the request's matching types so circuit
// load and proximity are measured against the whole block. Ties keep the
// input order.
func (s Scorer) Rank(all []model.Stall, req AllocationRequest) []Candidate {
	maxNum := 0
	for _, st := range all {
		if st.StallNumber > maxNum {
			maxNum = st.StallNumber
		}
	}
	load := newCircuitLoad(all)
	var out []Candidate
	for _, st := range all {
		if st.Status != model.StallAvailable {
			continue
		}
		b := Breakdown{
			Proximity:  proximity(st.StallNumber, maxNum),
			PowerMatch: powerMatch(st, req.Urgency),
			LoadBal:    load.score(st.StallNumber),
			Sequential: sequential(st.StallNumber, req.NextStallType),
		}
		score := b.Proximity*s.ProximityWeight +
			b.PowerMatch*s.PowerWeight +
			b.LoadBal*s.LoadWeight +
			b.Sequential*s.SequentialWeight
		out = append(out, Candidate{Stall: st, Score: score, Breakdown: b})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func proximity(n, maxNum int) float64 {
	if maxNum <= 0 {
		return 0
	}
	return 1 - float64(n)/float64(maxNum)
}

func powerMatch(st model.Stall, urgency int) float64 {
	if !st.StallType.IsCharge() {
		return 0.5
	}
	wantFast := urgency > HighUrgency
	if wantFast == st.IsFastCharger() {
		return 1
	}
	return 0.3
}

func sequential(n int, next *model.StallType) float64 {
	if next == nil {
		return 0.5
	}
	section, ok := model.Sections[*next]
	if !ok {
		return 0.5
	}
	return 1 - math.Abs(float64(n)-section.Midpoint())/model.MaxSectionSpan
}
