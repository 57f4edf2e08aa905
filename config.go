package xpool

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config controls registry behavior.
type Config struct {
	// StrictCheck enables in-use tracking for pools created after it is set.
	StrictCheck bool `env:"XPOOL_STRICT_CHECK" envDefault:"false"`
	// PanicOnViolation turns strict violations into panics (debug builds).
	PanicOnViolation bool `env:"XPOOL_PANIC_ON_VIOLATION" envDefault:"false"`
	// AutoCreate allows acquiring unregistered types, constructed with new(E).
	AutoCreate bool `env:"XPOOL_AUTO_CREATE" envDefault:"true"`
	// FailOnLeak makes Shutdown return ErrLeakedObjects when instances are still in use.
	FailOnLeak bool `env:"XPOOL_FAIL_ON_LEAK" envDefault:"true"`
	// ObserverWorkers > 0 dispatches lifecycle events asynchronously.
	ObserverWorkers int `env:"XPOOL_OBSERVER_WORKERS" envDefault:"0"`
	// ObserverBuffer is the async observer channel capacity.
	ObserverBuffer int `env:"XPOOL_OBSERVER_BUFFER" envDefault:"1024"`
}

// Defaults returns the registry defaults.
func Defaults() Config {
	return Config{
		AutoCreate:     true,
		FailOnLeak:     true,
		ObserverBuffer: 1024,
	}
}

// LoadConfigFromEnv reads XPOOL_* variables on top of the defaults.
func LoadConfigFromEnv() (Config, error) {
	cfg := Defaults()
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks Config for consistency.
func (c Config) Validate() error {
	if c.ObserverWorkers < 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("observer_workers must be >= 0, got %d", c.ObserverWorkers)}
	}
	if c.ObserverWorkers > 0 && c.ObserverBuffer < 1 {
		return &ConfigurationError{Reason: fmt.Sprintf("observer_buffer must be >= 1, got %d", c.ObserverBuffer)}
	}
	return nil
}

// ConfigFromMap converts a generic map to Config, keeping defaults for missing keys.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()
	if v, ok := m["strict_check"].(bool); ok {
		c.StrictCheck = v
	}
	if v, ok := m["panic_on_violation"].(bool); ok {
		c.PanicOnViolation = v
	}
	if v, ok := m["auto_create"].(bool); ok {
		c.AutoCreate = v
	}
	if v, ok := m["fail_on_leak"].(bool); ok {
		c.FailOnLeak = v
	}
	if v, ok := m["observer_workers"].(int); ok && v >= 0 {
		c.ObserverWorkers = v
	}
	if v, ok := m["observer_buffer"].(int); ok && v > 0 {
		c.ObserverBuffer = v
	}
	return c
}
