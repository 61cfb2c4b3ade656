// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Parse HJSON to intermediate map
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	// Convert to JSON and unmarshal to struct (for type safety)
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with default values applied.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

// Default returns a config with all defaults and no file input.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// FindConfig searches for a config file in the current directory.
// It looks for localdock.hjson first, then localdock.json.
func (l *Loader) FindConfig() (string, error) {
	candidates := []string{
		"localdock.hjson",
		"localdock.json",
	}

	for _, name := range candidates {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("config file not found (looked for localdock.hjson, localdock.json)")
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 4777
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}

	// Registry defaults
	if cfg.Registry.Path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.Registry.Path = filepath.Join(home, ".localdock", "apps.db")
	}

	// Port range defaults
	if cfg.Ports.Min == 0 {
		cfg.Ports.Min = 10000
	}
	if cfg.Ports.Max == 0 {
		cfg.Ports.Max = 60000
	}
	if cfg.Ports.MaxAttempts == 0 {
		cfg.Ports.MaxAttempts = 100
	}

	// Proxy defaults
	if cfg.Proxy.AdminURL == "" {
		cfg.Proxy.AdminURL = "http://127.0.0.1:2019"
	}
	if cfg.Proxy.ProcessName == "" {
		cfg.Proxy.ProcessName = "caddy"
	}
	if cfg.Proxy.Domain == "" {
		cfg.Proxy.Domain = "local"
	}
	if cfg.Proxy.Timeout == "" {
		cfg.Proxy.Timeout = "5s"
	}
	if cfg.Proxy.Reconcile == "" {
		cfg.Proxy.Reconcile = "30s"
	}

	// Log capture defaults
	if cfg.Logs.BufferSize == 0 {
		cfg.Logs.BufferSize = 200
	}
	if cfg.Logs.StopTimeout == "" {
		cfg.Logs.StopTimeout = "10s"
	}

	// Events defaults
	if cfg.Events.History.MaxEvents == 0 {
		cfg.Events.History.MaxEvents = 10000
	}
	if cfg.Events.History.MaxAge == "" {
		cfg.Events.History.MaxAge = "1h"
	}

	// Watch defaults
	if cfg.Watch.Debounce == "" {
		cfg.Watch.Debounce = "200ms"
	}
}
