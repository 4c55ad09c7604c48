package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
var DefaultConfigPaths = []string{
	"cxm.yaml",
	"cxm.yml",
	"/etc/cxm/config.yaml",
	"/etc/cxm/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CXM_CONFIG"

// Load resolves the configuration from layered sources:
//
//  1. Built-in defaults
//  2. Optional YAML config file (path argument, CXM_CONFIG, or DefaultConfigPaths)
//  3. CXM_* environment variables (highest priority)
//
// The result is validated before being returned.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("CXM_", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// findConfigFile returns the first config file that exists, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envMappings maps environment variable names onto config paths. Unmapped
// variables are skipped so stray CXM_* entries cannot pollute the config.
var envMappings = map[string]string{
	"cxm_host":    "host",
	"cxm_api_key": "api_key",
	"cxm_scope":   "scope",
	"cxm_debug":   "debug",
	"cxm_timeout": "timeout",

	"cxm_cache_enabled": "cache.enabled",
	"cxm_cache_addr":    "cache.addr",
	"cxm_cache_db":      "cache.db",

	"cxm_pool_min_workers": "pool.min_workers",
	"cxm_pool_max_workers": "pool.max_workers",
	"cxm_pool_queue_depth": "pool.queue_depth",

	"cxm_proxy_listen":           "proxy.listen",
	"cxm_proxy_rate_limit_rps":   "proxy.rate_limit_rps",
	"cxm_proxy_rate_limit_burst": "proxy.rate_limit_burst",

	"cxm_log_level":  "logging.level",
	"cxm_log_pretty": "logging.pretty",
}

func envTransform(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
