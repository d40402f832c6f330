package journal

import "fmt"

// Backend names a journal storage implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendJSONL  Backend = "jsonl"
	BackendSQLite Backend = "sqlite"
)

// Config selects and tunes the journal backend.
type Config struct {
	Backend    Backend `json:"backend"`
	Path       string  `json:"path"`
	MaxSizeMB  int     `json:"max_size_mb"`
	MaxBackups int     `json:"max_backups"`
	MaxAgeDays int     `json:"max_age_days"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.Path == "" {
		switch c.Backend {
		case BackendJSONL:
			c.Path = "data/journal.jsonl"
		case BackendSQLite:
			c.Path = "data/journal.db"
		}
	}
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 50
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = 5
	}
	if c.MaxAgeDays == 0 {
		c.MaxAgeDays = 30
	}
}

// Validate checks backend and rotation settings.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendJSONL, BackendSQLite:
		if c.Path == "" {
			return fmt.Errorf("journal path is required for %s backend", c.Backend)
		}
	default:
		return fmt.Errorf("unknown journal backend %q", c.Backend)
	}
	if c.MaxSizeMB < 0 || c.MaxBackups < 0 || c.MaxAgeDays < 0 {
		return fmt.Errorf("journal rotation settings must be non-negative")
	}
	return nil
}

// Open builds the configured Store.
func Open(cfg Config) (Store, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendJSONL:
		return NewRotatingJSONLStore(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	case BackendSQLite:
		return NewSQLiteStore(cfg.Path)
	default:
		return NewMemoryStore(), nil
	}
}
