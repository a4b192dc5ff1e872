// Package config loads host configuration from SPLITHOST_* environment
// variables. Command-line flags override individual fields afterwards.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/roach88/splithost/internal/settings"
)

// Config is the runtime configuration of the host.
type Config struct {
	// Listen is the control surface address. Empty disables it.
	Listen string `env:"SPLITHOST_LISTEN" envDefault:"127.0.0.1:7878"`

	// Journal is the SQLite journal path. Empty disables journaling.
	Journal string `env:"SPLITHOST_JOURNAL"`

	// Watch reloads the module or restarts on script change.
	Watch bool `env:"SPLITHOST_WATCH" envDefault:"true"`

	// WatchDebounce coalesces bursts of file events.
	WatchDebounce time.Duration `env:"SPLITHOST_WATCH_DEBOUNCE" envDefault:"200ms"`

	// DumpPath is where memory dumps are written.
	DumpPath string `env:"SPLITHOST_DUMP_PATH" envDefault:"memory_dump.bin"`

	// LivenessAttempts and LivenessBackoff bound how long the host waits
	// for a module before interrupting it.
	LivenessAttempts int           `env:"SPLITHOST_LIVENESS_ATTEMPTS" envDefault:"100"`
	LivenessBackoff  time.Duration `env:"SPLITHOST_LIVENESS_BACKOFF" envDefault:"1ms"`

	// HookInterval is the number of Lua instructions between interrupt checks.
	HookInterval int `env:"SPLITHOST_LUA_HOOK_INTERVAL" envDefault:"1000"`

	// StartTimeout bounds the module chunk's top-level run on every start.
	StartTimeout time.Duration `env:"SPLITHOST_START_TIMEOUT" envDefault:"1s"`

	// SettingsFile seeds the first loaded module's settings (YAML).
	SettingsFile string `env:"SPLITHOST_SETTINGS"`

	// Script is the auxiliary script path handed to the module.
	Script string `env:"SPLITHOST_SCRIPT"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses a Config from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	var errs []error
	if c.LivenessAttempts < 1 {
		errs = append(errs, fmt.Errorf("liveness attempts must be at least 1, got %d", c.LivenessAttempts))
	}
	if c.LivenessBackoff < 0 {
		errs = append(errs, fmt.Errorf("liveness backoff must not be negative, got %s", c.LivenessBackoff))
	}
	if c.HookInterval < 1 {
		errs = append(errs, fmt.Errorf("lua hook interval must be at least 1, got %d", c.HookInterval))
	}
	if c.StartTimeout <= 0 {
		errs = append(errs, fmt.Errorf("start timeout must be positive, got %s", c.StartTimeout))
	}
	if c.WatchDebounce < 0 {
		errs = append(errs, fmt.Errorf("watch debounce must not be negative, got %s", c.WatchDebounce))
	}
	return errors.Join(errs...)
}

// InitialSettings loads SettingsFile, or returns nil when none is set.
func (c Config) InitialSettings() (*settings.Map, error) {
	if c.SettingsFile == "" {
		return nil, nil
	}
	m, err := settings.LoadFile(c.SettingsFile)
	if err != nil {
		return nil, fmt.Errorf("initial settings: %w", err)
	}
	return m, nil
}
