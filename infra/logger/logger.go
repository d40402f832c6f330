package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	corelogger "github.com/kilianp07/depotsched/core/logger"
)

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger implements Logger with no-op methods.
type NopLogger = corelogger.NopLogger

// Level is the minimum severity a logger emits.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Backend selects the logging library behind New.
type Backend string

const (
	BackendZerolog Backend = "zerolog"
	BackendLogrus  Backend = "logrus"
)

// Config controls how component loggers are built.
type Config struct {
	Backend Backend `json:"backend"`
	Level   Level   `json:"level"`
	// Pretty switches to human readable console output.
	Pretty bool `json:"pretty"`
}

// SetDefaults fills unset fields from LOG_BACKEND, LOG_LEVEL and APP_ENV.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = Backend(strings.ToLower(os.Getenv("LOG_BACKEND")))
		if c.Backend == "" {
			c.Backend = BackendZerolog
		}
	}
	if c.Level == "" {
		c.Level = Level(strings.ToLower(os.Getenv("LOG_LEVEL")))
		if c.Level == "" {
			c.Level = InfoLevel
		}
	}
	if !c.Pretty && strings.ToLower(os.Getenv("APP_ENV")) == "dev" {
		c.Pretty = true
	}
}

// Validate rejects unknown backends and levels.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendZerolog, BackendLogrus:
	default:
		return fmt.Errorf("unknown log backend %q", c.Backend)
	}
	switch c.Level {
	case DebugLevel, InfoLevel, WarnLevel, ErrorLevel:
	default:
		return fmt.Errorf("unknown log level %q", c.Level)
	}
	return nil
}

var (
	mu      sync.RWMutex
	current Config
)

// Configure sets the process-wide logging configuration used by New.
func Configure(cfg Config) error {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	mu.Lock()
	current = cfg
	mu.Unlock()
	return nil
}

func active() Config {
	mu.RLock()
	cfg := current
	mu.RUnlock()
	cfg.SetDefaults()
	return cfg
}

// New returns a Logger for the given component using the configured backend.
func New(component string) Logger {
	cfg := active()
	if cfg.Backend == BackendLogrus {
		return NewLogrusLogger(component, cfg)
	}
	return NewZerologLogger(component, cfg)
}
