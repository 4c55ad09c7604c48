// Package config loads and validates the resolved configuration consumed by
// the SDK and the proxy. Loading happens once at process start; the hot
// request path only ever sees the resolved struct.
package config

import (
	"fmt"
	"time"

	"github.com/cxmware/cxm-go/pkg/batch"
	"github.com/cxmware/cxm-go/pkg/cache"
)

// ConfigurationError reports a missing or invalid setting at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Config is the resolved configuration surface.
type Config struct {
	// Host is the platform origin, no trailing slash.
	Host string `koanf:"host"`

	// APIKey authenticates the host application against the platform.
	APIKey string `koanf:"api_key"`

	// Scope is the auth context: public, contact, or user.
	Scope string `koanf:"scope"`

	// Debug enables request-flow debug logging.
	Debug bool `koanf:"debug"`

	// Timeout bounds each upstream request.
	Timeout time.Duration `koanf:"timeout"`

	Cache   CacheConfig   `koanf:"cache"`
	Pool    PoolConfig    `koanf:"pool"`
	Proxy   ProxyConfig   `koanf:"proxy"`
	Logging LoggingConfig `koanf:"logging"`
}

// CacheConfig addresses the cache backend and declares the rule groups.
type CacheConfig struct {
	Enabled bool              `koanf:"enabled"`
	Addr    string            `koanf:"addr"`
	DB      int               `koanf:"db"`
	Groups  []RuleGroupConfig `koanf:"groups"`
}

// RuleGroupConfig is one URL-patterns-to-TTL mapping.
type RuleGroupConfig struct {
	URLPatterns []string `koanf:"url_patterns"`
	TTLSeconds  int      `koanf:"ttl_seconds"`
}

// PoolConfig sizes the batch dispatcher worker pool.
type PoolConfig struct {
	MinWorkers int `koanf:"min_workers"`
	MaxWorkers int `koanf:"max_workers"`
	QueueDepth int `koanf:"queue_depth"`
}

// ProxyConfig configures the reverse-proxy binary.
type ProxyConfig struct {
	Listen         string  `koanf:"listen"`
	RateLimitRPS   float64 `koanf:"rate_limit_rps"`
	RateLimitBurst int     `koanf:"rate_limit_burst"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

// defaultConfig returns the built-in defaults, applied before file and env
// layers.
func defaultConfig() *Config {
	return &Config{
		Scope:   "public",
		Timeout: 30 * time.Second,
		Cache: CacheConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Pool: PoolConfig{
			MinWorkers: 2,
			MaxWorkers: 2,
			QueueDepth: 10,
		},
		Proxy: ProxyConfig{
			Listen:         ":8080",
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: false,
		},
	}
}

// Validate checks the resolved configuration. Cache patterns are compiled
// here so a bad rule fails the process at startup, not a request at runtime.
func (c *Config) Validate() error {
	if c.Host == "" {
		return &ConfigurationError{Field: "host", Reason: "is required"}
	}
	if c.APIKey == "" {
		return &ConfigurationError{Field: "api_key", Reason: "is required"}
	}
	if c.Timeout <= 0 {
		return &ConfigurationError{Field: "timeout", Reason: "must be positive"}
	}

	if c.Pool.MinWorkers <= 0 {
		return &ConfigurationError{Field: "pool.min_workers", Reason: "must be positive"}
	}
	if c.Pool.MaxWorkers < c.Pool.MinWorkers {
		return &ConfigurationError{Field: "pool.max_workers", Reason: "must be >= pool.min_workers"}
	}
	if c.Pool.QueueDepth <= 0 {
		return &ConfigurationError{Field: "pool.queue_depth", Reason: "must be positive"}
	}

	if c.Cache.Enabled {
		if c.Cache.Addr == "" {
			return &ConfigurationError{Field: "cache.addr", Reason: "is required when cache is enabled"}
		}
		if _, err := cache.NewRules(true, c.RuleGroups()); err != nil {
			return &ConfigurationError{Field: "cache.groups", Reason: err.Error()}
		}
	}

	return nil
}

// RuleGroups converts the declared rule groups into the cache package's form.
func (c *Config) RuleGroups() []cache.RuleGroup {
	groups := make([]cache.RuleGroup, 0, len(c.Cache.Groups))
	for _, g := range c.Cache.Groups {
		groups = append(groups, cache.RuleGroup{
			URLPatterns: g.URLPatterns,
			TTL:         time.Duration(g.TTLSeconds) * time.Second,
		})
	}
	return groups
}

// BatchConfig converts the pool settings into the batch package's form.
func (c *Config) BatchConfig() batch.Config {
	return batch.Config{
		MinWorkers: c.Pool.MinWorkers,
		MaxWorkers: c.Pool.MaxWorkers,
		QueueDepth: c.Pool.QueueDepth,
	}
}
