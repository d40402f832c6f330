package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/depotsched/core/factory"
	"github.com/kilianp07/depotsched/core/jobs"
	"github.com/kilianp07/depotsched/core/journal"
	"github.com/kilianp07/depotsched/core/metrics"
	"github.com/kilianp07/depotsched/core/pipeline"
	"github.com/kilianp07/depotsched/infra/logger"
	"github.com/kilianp07/depotsched/infra/monitoring"
	"github.com/kilianp07/depotsched/infra/mqtt"
)

// Config is the root configuration of the depot scheduler.
type Config struct {
	Server     ServerConfig            `json:"server"`
	Store      StoreConfig             `json:"store"`
	Scheduler  jobs.Config             `json:"scheduler"`
	Pipeline   pipeline.Config         `json:"pipeline"`
	Thresholds factory.ModuleConfig    `json:"thresholds"`
	Forecast   ForecastConfig          `json:"forecast"`
	Metrics    metrics.Config          `json:"metrics"`
	MQTT       mqtt.Config             `json:"mqtt"`
	Journal    journal.Config          `json:"journal"`
	Logging    logger.Config           `json:"logging"`
	Sentry     monitoring.SentryConfig `json:"sentry"`
}

// Load reads path (YAML or JSON) and applies K_ prefixed environment
// overrides, e.g. K_SERVER__ADDR=:9000. An empty path loads defaults and
// environment only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies every section's defaults.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Store.SetDefaults()
	c.Scheduler.SetDefaults()
	c.Pipeline.SetDefaults()
	c.Forecast.SetDefaults()
	c.Metrics.SetDefaults()
	c.MQTT.SetDefaults()
	c.Journal.SetDefaults()
	c.Logging.SetDefaults()
	if c.Thresholds.Type == "" {
		c.Thresholds.Type = "static"
	}
}

// Validate checks every section and returns the first failure.
func (c Config) Validate() error {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"server", c.Server.Validate},
		{"store", c.Store.Validate},
		{"scheduler", c.Scheduler.Validate},
		{"pipeline", c.Pipeline.Validate},
		{"forecast", c.Forecast.Validate},
		{"mqtt", c.MQTT.Validate},
		{"journal", c.Journal.Validate},
		{"logging", c.Logging.Validate},
		{"sentry", c.Sentry.Validate},
	}
	for _, ch := range checks {
		if err := ch.fn(); err != nil {
			return fmt.Errorf("%s: %w", ch.name, err)
		}
	}
	return nil
}
