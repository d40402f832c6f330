package config

import (
	"fmt"
	"time"
)

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Addr                string `json:"addr"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
	ShutdownSeconds     int    `json:"shutdown_seconds"`
	// JournalToken guards GET /api/journal when set.
	JournalToken        string `json:"journal_token"`
}

// SetDefaults applies sane defaults.
func (c *ServerConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeoutSeconds == 0 {
		c.ReadTimeoutSeconds = 10
	}
	if c.WriteTimeoutSeconds == 0 {
		c.WriteTimeoutSeconds = 10
	}
	if c.ShutdownSeconds == 0 {
		c.ShutdownSeconds = 5
	}
}

// Validate checks mandatory fields.
func (c ServerConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.ReadTimeoutSeconds < 0 || c.WriteTimeoutSeconds < 0 || c.ShutdownSeconds < 0 {
		return fmt.Errorf("timeouts must be non-negative")
	}
	return nil
}

// ShutdownTimeout is the grace period for in-flight requests.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownSeconds) * time.Second
}

// StoreConfig selects the persistence backend for stalls, jobs and vehicles.
type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `json:"backend"`
	// Path is the sqlite DSN or file.
	Path string `json:"path"`
	// SeedFile is an optional YAML depot layout applied at startup.
	SeedFile string `json:"seed_file"`
}

// SetDefaults applies sane defaults.
func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.Backend == "sqlite" && c.Path == "" {
		c.Path = "data/depot.db"
	}
}

// Validate checks mandatory fields.
func (c StoreConfig) Validate() error {
	switch c.Backend {
	case "memory":
	case "sqlite":
		if c.Path == "" {
			return fmt.Errorf("path is required for sqlite")
		}
	default:
		return fmt.Errorf("unknown backend %s", c.Backend)
	}
	return nil
}

// ForecastConfig holds defaults for the forecast endpoints.
type ForecastConfig struct {
	SurgeMultiplier float64 `json:"surge_multiplier"`
	FleetSize       int     `json:"fleet_size"`
}

// SetDefaults applies sane defaults.
func (c *ForecastConfig) SetDefaults() {
	if c.SurgeMultiplier == 0 {
		c.SurgeMultiplier = 1
	}
	if c.FleetSize == 0 {
		c.FleetSize = 10
	}
}

// Validate checks value ranges.
func (c ForecastConfig) Validate() error {
	if c.SurgeMultiplier <= 0 {
		return fmt.Errorf("surge_multiplier must be positive")
	}
	if c.FleetSize < 0 {
		return fmt.Errorf("fleet_size must be non-negative")
	}
	return nil
}
