package redisstream

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
)

// Config for the Redis mirror and snapshot publisher.
type Config struct {
	// Connection
	Addr          string `env:"XPOOL_REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	Username      string `env:"XPOOL_REDIS_USERNAME"`
	Password      string `env:"XPOOL_REDIS_PASSWORD"`
	DB            int    `env:"XPOOL_REDIS_DB" envDefault:"0"`
	TLS           bool   `env:"XPOOL_REDIS_TLS" envDefault:"false"`
	TLSServerName string `env:"XPOOL_REDIS_TLS_SERVER_NAME"`

	// Event mirror
	Stream        string        `env:"XPOOL_REDIS_STREAM" envDefault:"xpool:events"`
	Source        string        `env:"XPOOL_REDIS_SOURCE"`
	Codec         string        `env:"XPOOL_REDIS_CODEC" envDefault:"json"`
	MaxLenApprox  int64         `env:"XPOOL_REDIS_MAX_LEN_APPROX" envDefault:"0"`
	BatchSize     int           `env:"XPOOL_REDIS_BATCH_SIZE" envDefault:"128"`
	BufferSize    int           `env:"XPOOL_REDIS_BUFFER_SIZE" envDefault:"4096"`
	FlushInterval time.Duration `env:"XPOOL_REDIS_FLUSH_INTERVAL" envDefault:"250ms"`

	// Registry snapshots
	SnapshotKey      string        `env:"XPOOL_REDIS_SNAPSHOT_KEY" envDefault:"xpool:pools"`
	SnapshotInterval time.Duration `env:"XPOOL_REDIS_SNAPSHOT_INTERVAL" envDefault:"5s"`
}

// Defaults returns a Config with a fresh random source identity.
func Defaults() Config {
	return Config{
		Addr:             "127.0.0.1:6379",
		Stream:           "xpool:events",
		Source:           uuid.NewString(),
		Codec:            "json",
		BatchSize:        128,
		BufferSize:       4096,
		FlushInterval:    250 * time.Millisecond,
		SnapshotKey:      "xpool:pools",
		SnapshotInterval: 5 * time.Second,
	}
}

// LoadConfigFromEnv reads XPOOL_REDIS_* variables on top of the defaults.
func LoadConfigFromEnv() (Config, error) {
	cfg := Defaults()
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Source == "" {
		cfg.Source = uuid.NewString()
	}
	return cfg, cfg.Validate()
}

// Validate checks Config for consistency.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.Stream == "" {
		return fmt.Errorf("config: stream required")
	}
	if c.Source == "" {
		return fmt.Errorf("config: source required")
	}
	if c.SnapshotKey == "" {
		return fmt.Errorf("config: snapshot_key required")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.BufferSize < 1 {
		return fmt.Errorf("config: buffer_size must be >= 1, got %d", c.BufferSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("config: flush_interval must be > 0, got %v", c.FlushInterval)
	}
	if c.SnapshotInterval < 0 {
		return fmt.Errorf("config: snapshot_interval must be >= 0, got %v", c.SnapshotInterval)
	}
	return nil
}

// toMap converts typed Config into a generic map, the inverse of ConfigFromMap.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"addr":              c.Addr,
		"username":          c.Username,
		"password":          c.Password,
		"db":                c.DB,
		"tls":               c.TLS,
		"tls_server_name":   c.TLSServerName,
		"stream":            c.Stream,
		"source":            c.Source,
		"codec":             c.Codec,
		"max_len_approx":    c.MaxLenApprox,
		"batch_size":        c.BatchSize,
		"buffer_size":       c.BufferSize,
		"flush_interval":    c.FlushInterval,
		"snapshot_key":      c.SnapshotKey,
		"snapshot_interval": c.SnapshotInterval,
	}
}

// ConfigFromMap safely converts cfg into Config with defaults.
func ConfigFromMap(cfg map[string]any) Config {
	getString := func(k, d string) string {
		if v, ok := cfg[k].(string); ok && v != "" {
			return v
		}
		return d
	}
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
		return d
	}
	getInt64 := func(k string, d int64) int64 {
		switch v := cfg[k].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
		return d
	}
	getBool := func(k string, d bool) bool {
		if v, ok := cfg[k].(bool); ok {
			return v
		}
		return d
	}
	getDur := func(k string, d time.Duration) time.Duration {
		switch v := cfg[k].(type) {
		case time.Duration:
			return v
		case string:
			if p, err := time.ParseDuration(v); err == nil {
				return p
			}
		case float64:
			return time.Duration(v)
		}
		return d
	}

	c := Defaults()
	c.Addr = getString("addr", c.Addr)
	c.Username = getString("username", c.Username)
	c.Password = getString("password", c.Password)
	c.DB = getInt("db", c.DB)
	c.TLS = getBool("tls", c.TLS)
	c.TLSServerName = getString("tls_server_name", c.TLSServerName)
	c.Stream = getString("stream", c.Stream)
	c.Source = getString("source", c.Source)
	c.Codec = getString("codec", c.Codec)
	c.MaxLenApprox = max(0, getInt64("max_len_approx", c.MaxLenApprox))
	c.BatchSize = max(1, getInt("batch_size", c.BatchSize))
	c.BufferSize = max(1, getInt("buffer_size", c.BufferSize))
	if d := getDur("flush_interval", c.FlushInterval); d > 0 {
		c.FlushInterval = d
	}
	c.SnapshotKey = getString("snapshot_key", c.SnapshotKey)
	if d := getDur("snapshot_interval", c.SnapshotInterval); d >= 0 {
		c.SnapshotInterval = d
	}
	return c
}
