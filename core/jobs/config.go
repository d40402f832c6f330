package jobs

import "fmt"

// Config tunes the scheduler sweeps.
type Config struct {
	// BatchSize bounds how many jobs each sweep touches per call.
	BatchSize int `json:"batch_size"`
	// CandidateLimit bounds how many available stalls ScheduleJob reads.
	CandidateLimit int `json:"candidate_limit"`
	// TickSeconds is the period of the background sweep.
	TickSeconds int `json:"tick_seconds"`
	// Seed makes ETA sampling reproducible when non-zero.
	Seed int64 `json:"seed"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 20
	}
	if c.CandidateLimit == 0 {
		c.CandidateLimit = 5
	}
	if c.TickSeconds == 0 {
		c.TickSeconds = 30
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("scheduler.batch_size must be positive")
	}
	if c.CandidateLimit < 1 {
		return fmt.Errorf("scheduler.candidate_limit must be positive")
	}
	if c.TickSeconds < 1 {
		return fmt.Errorf("scheduler.tick_seconds must be positive")
	}
	return nil
}
