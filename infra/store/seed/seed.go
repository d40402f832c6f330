// Package seed loads depot layouts and fleet vehicles from YAML fixtures.
package seed

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/kilianp07/depotsched/core/model"
	"github.com/kilianp07/depotsched/core/store"
)

// stallNamespace derives stable stall ids so re-seeding is idempotent.
var stallNamespace = uuid.MustParse("6f1c7a52-3d0e-4d8b-9a57-0d2c6e1f4b90")

type StallBlock struct {
	Type           string   `yaml:"type"`
	Count          int      `yaml:"count"`
	ChargerPowerKW *float64 `yaml:"charger_power_kw,omitempty"`
	Maintenance    []int    `yaml:"maintenance,omitempty"`
}

type DepotDef struct {
	ID     string       `yaml:"id"`
	Stalls []StallBlock `yaml:"stalls"`
}

type VehicleDef struct {
	ID       string  `yaml:"id"`
	DepotID  string  `yaml:"depot_id"`
	SoC      float64 `yaml:"soc"`
	IsMember bool    `yaml:"is_member"`
}

// Fixture is the root document of a seed file.
type Fixture struct {
	Depots   []DepotDef   `yaml:"depots"`
	Vehicles []VehicleDef `yaml:"vehicles,omitempty"`
}

// Load reads a fixture from path.
func Load(path string) (Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fixture{}, err
	}
	defer func() { _ = f.Close() }()
	return Decode(f)
}

// Decode parses a fixture from r.
func Decode(r io.Reader) (Fixture, error) {
	var fx Fixture
	if err := yaml.NewDecoder(r).Decode(&fx); err != nil {
		return fx, fmt.Errorf("decode fixture: %w", err)
	}
	return fx, nil
}

// StallID returns the stable id of a depot stall.
func StallID(depotID string, number int) string {
	return uuid.NewSHA1(stallNamespace, []byte(fmt.Sprintf("%s/%d", depotID, number))).String()
}

// Stalls expands the fixture into concrete stalls. Numbers are allocated
// from the start of each type's floor section.
func (fx Fixture) Stalls() ([]model.Stall, error) {
	var res []model.Stall
	for _, d := range fx.Depots {
		if d.ID == "" {
			return nil, fmt.Errorf("depot id is required")
		}
		next := map[model.StallType]int{}
		for _, b := range d.Stalls {
			st, err := model.ParseStallType(b.Type)
			if err != nil {
				return nil, fmt.Errorf("depot %s: %w", d.ID, err)
			}
			section := model.Sections[st]
			offline := map[int]bool{}
			for _, n := range b.Maintenance {
				offline[n] = true
			}
			for i := 0; i < b.Count; i++ {
				num := section.Start + next[st]
				if num > section.End {
					return nil, fmt.Errorf("depot %s: %s section holds at most %d stalls", d.ID, st, section.End-section.Start+1)
				}
				next[st]++
				status := model.StallAvailable
				if offline[num] {
					status = model.StallMaintenance
				}
				stall := model.Stall{
					ID:          StallID(d.ID, num),
					DepotID:     d.ID,
					StallNumber: num,
					StallType:   st,
					Status:      status,
				}
				if st.IsCharge() && b.ChargerPowerKW != nil {
					kw := *b.ChargerPowerKW
					stall.ChargerPowerKW = &kw
				}
				res = append(res, stall)
			}
		}
	}
	return res, nil
}

// Apply writes the fixture into the store.
func Apply(ctx context.Context, s store.Store, fx Fixture) (int, error) {
	stalls, err := fx.Stalls()
	if err != nil {
		return 0, err
	}
	for _, st := range stalls {
		if err := s.PutStall(ctx, st); err != nil {
			return 0, fmt.Errorf("seed stall %d: %w", st.StallNumber, err)
		}
	}
	for _, v := range fx.Vehicles {
		veh := model.Vehicle{ID: v.ID, DepotID: v.DepotID, SoC: v.SoC, IsMember: v.IsMember, Status: model.VehicleIdle}
		if err := veh.Validate(); err != nil {
			return 0, err
		}
		if err := s.PutVehicle(ctx, veh); err != nil {
			return 0, fmt.Errorf("seed vehicle %s: %w", v.ID, err)
		}
	}
	return len(stalls), nil
}
