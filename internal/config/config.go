package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config represents runtime configuration for the relay.
type Config struct {
	BasicConfig     BasicConfig               `json:"basic_config"`
	Providers       map[string]ProviderConfig `json:"providers"`
	DefaultProvider string                    `json:"default_provider"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type BasicConfig struct {
	ServerAddress          string `json:"server_address"`
	UpstreamTimeoutMinutes int    `json:"upstream_timeout_minutes"`
}

// UpstreamTimeout returns the configured upstream call bound, or zero when
// unset so callers can fall back to their default.
func (b BasicConfig) UpstreamTimeout() time.Duration {
	return time.Duration(b.UpstreamTimeoutMinutes) * time.Minute
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider must be configured")
	}
	if cfg.DefaultProvider == "" {
		for name := range cfg.Providers {
			cfg.DefaultProvider = name
			break
		}
	}
	if _, ok := cfg.Providers[cfg.DefaultProvider]; !ok {
		return nil, fmt.Errorf("default provider %s not configured", cfg.DefaultProvider)
	}

	return &cfg, nil
}
