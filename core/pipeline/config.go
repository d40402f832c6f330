package pipeline

import "fmt"

// Config tunes pipeline layout and the progress driver.
type Config struct {
	EventLogCapacity        int `json:"event_log_capacity"`
	TransitionBufferMinutes int `json:"transition_buffer_minutes"`
	DefaultStepMinutes      int `json:"default_step_minutes"`
	ProgressMin             int `json:"progress_min"`
	ProgressMax             int `json:"progress_max"`
	// SimulateSeconds drives SimulateProgress periodically when positive.
	SimulateSeconds int `json:"simulate_seconds"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.EventLogCapacity == 0 {
		c.EventLogCapacity = DefaultEventLogCapacity
	}
	if c.TransitionBufferMinutes == 0 {
		c.TransitionBufferMinutes = 5
	}
	if c.DefaultStepMinutes == 0 {
		c.DefaultStepMinutes = 30
	}
	if c.ProgressMin == 0 {
		c.ProgressMin = 5
	}
	if c.ProgressMax == 0 {
		c.ProgressMax = 20
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.EventLogCapacity < 1 {
		return fmt.Errorf("pipeline.event_log_capacity must be positive")
	}
	if c.DefaultStepMinutes < 1 {
		return fmt.Errorf("pipeline.default_step_minutes must be positive")
	}
	if c.TransitionBufferMinutes < 0 {
		return fmt.Errorf("pipeline.transition_buffer_minutes must not be negative")
	}
	if c.ProgressMin < 1 || c.ProgressMax < c.ProgressMin {
		return fmt.Errorf("pipeline progress range [%d,%d] is invalid", c.ProgressMin, c.ProgressMax)
	}
	return nil
}
