package plugins

import (
	"fmt"

	"github.com/kilianp07/depotsched/core/factory"
	"github.com/kilianp07/depotsched/core/model"
	"github.com/kilianp07/depotsched/core/pipeline"
)

type staticConf struct {
	Default      []string            `json:"default"`
	Needs        map[string][]string `json:"needs"`
	FastBelowSoC float64             `json:"fast_below_soc"`
}

func parseServices(raw []string) ([]model.ServiceType, error) {
	out := make([]model.ServiceType, 0, len(raw))
	for _, s := range raw {
		svc := model.ServiceType(s)
		if !svc.Valid() {
			return nil, fmt.Errorf("unknown service %q", s)
		}
		out = append(out, svc)
	}
	return out, nil
}

func init() {
	_ = RegisterThresholds("static", func(conf map[string]any) (pipeline.ThresholdEngine, error) {
		var c staticConf
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.FastBelowSoC < 0 || c.FastBelowSoC > 1 {
			return nil, fmt.Errorf("fast_below_soc must be within [0,1]")
		}
		def, err := parseServices(c.Default)
		if err != nil {
			return nil, err
		}
		engine := pipeline.StaticThresholds{Default: def, FastBelowSoC: c.FastBelowSoC}
		if len(c.Needs) > 0 {
			engine.Needs = make(map[string][]model.ServiceType, len(c.Needs))
			for id, raw := range c.Needs {
				svcs, err := parseServices(raw)
				if err != nil {
					return nil, fmt.Errorf("vehicle %s: %w", id, err)
				}
				engine.Needs[id] = svcs
			}
		}
		return engine, nil
	})
}
