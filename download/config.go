package download

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/trickstertwo/xpool"
)

// Config controls the download manager.
type Config struct {
	// MaxConcurrent caps downloads in Doing; 0 means unlimited.
	MaxConcurrent int `env:"XPOOL_DOWNLOAD_MAX_CONCURRENT" envDefault:"4"`
	// Timeout is the per-download default; 0 disables timeouts.
	Timeout time.Duration `env:"XPOOL_DOWNLOAD_TIMEOUT" envDefault:"30s"`
	// FlushSize is the default flush threshold in bytes.
	FlushSize int64 `env:"XPOOL_DOWNLOAD_FLUSH_SIZE" envDefault:"65536"`
	// MaxRetries is how many consecutive transient failures per source are retried.
	MaxRetries int `env:"XPOOL_DOWNLOAD_MAX_RETRIES" envDefault:"3"`
	// ProgressWindow is the throughput record window.
	ProgressWindow time.Duration `env:"XPOOL_DOWNLOAD_PROGRESS_WINDOW" envDefault:"5s"`
	// ReportBuffer is the capacity of the agent report channel.
	ReportBuffer int `env:"XPOOL_DOWNLOAD_REPORT_BUFFER" envDefault:"256"`
}

// Defaults returns the manager defaults.
func Defaults() Config {
	return Config{
		MaxConcurrent:  4,
		Timeout:        30 * time.Second,
		FlushSize:      64 << 10,
		MaxRetries:     3,
		ProgressWindow: xpool.DefaultProgressWindow,
		ReportBuffer:   256,
	}
}

// LoadConfigFromEnv reads XPOOL_DOWNLOAD_* variables on top of the defaults.
func LoadConfigFromEnv() (Config, error) {
	cfg := Defaults()
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks Config for consistency.
func (c Config) Validate() error {
	switch {
	case c.MaxConcurrent < 0:
		return &xpool.ConfigurationError{Reason: fmt.Sprintf("max_concurrent must be >= 0, got %d", c.MaxConcurrent)}
	case c.Timeout < 0:
		return &xpool.ConfigurationError{Reason: fmt.Sprintf("timeout must be >= 0, got %s", c.Timeout)}
	case c.FlushSize < 1:
		return &xpool.ConfigurationError{Reason: fmt.Sprintf("flush_size must be >= 1, got %d", c.FlushSize)}
	case c.MaxRetries < 0:
		return &xpool.ConfigurationError{Reason: fmt.Sprintf("max_retries must be >= 0, got %d", c.MaxRetries)}
	case c.ProgressWindow <= 0:
		return &xpool.ConfigurationError{Reason: fmt.Sprintf("progress_window must be > 0, got %s", c.ProgressWindow)}
	case c.ReportBuffer < 1:
		return &xpool.ConfigurationError{Reason: fmt.Sprintf("report_buffer must be >= 1, got %d", c.ReportBuffer)}
	}
	return nil
}

// ConfigFromMap converts a generic map to Config, keeping defaults for missing keys.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()
	if v, ok := m["max_concurrent"].(int); ok && v >= 0 {
		c.MaxConcurrent = v
	}
	if v, ok := durationOf(m["timeout"]); ok && v >= 0 {
		c.Timeout = v
	}
	switch v := m["flush_size"].(type) {
	case int:
		if v > 0 {
			c.FlushSize = int64(v)
		}
	case int64:
		if v > 0 {
			c.FlushSize = v
		}
	}
	if v, ok := m["max_retries"].(int); ok && v >= 0 {
		c.MaxRetries = v
	}
	if v, ok := durationOf(m["progress_window"]); ok && v > 0 {
		c.ProgressWindow = v
	}
	if v, ok := m["report_buffer"].(int); ok && v > 0 {
		c.ReportBuffer = v
	}
	return c
}

func durationOf(v any) (time.Duration, bool) {
	switch d := v.(type) {
	case time.Duration:
		return d, true
	case string:
		p, err := time.ParseDuration(d)
		return p, err == nil
	}
	return 0, false
}
