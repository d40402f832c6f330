// Package plugins holds the named factories for pluggable scheduling modules.
package plugins

import (
	"github.com/kilianp07/depotsched/core/factory"
	"github.com/kilianp07/depotsched/core/pipeline"
)

// Thresholds builds the service-need prediction engine of the orchestrator.
var Thresholds = factory.NewRegistry[pipeline.ThresholdEngine]()

// RegisterThresholds adds a threshold engine factory.
func RegisterThresholds(name string, f factory.Factory[pipeline.ThresholdEngine]) error {
	return Thresholds.Register(name, f)
}

// NewThresholdEngine instantiates the engine named by cfg. An empty type
// selects the static tables.
func NewThresholdEngine(cfg factory.ModuleConfig) (pipeline.ThresholdEngine, error) {
	if cfg.Type == "" {
		cfg.Type = "static"
	}
	return Thresholds.Create(cfg)
}
