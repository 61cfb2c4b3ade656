// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading for the localdock daemon.
package config

import (
	"time"
)

// Config is the root configuration structure for localdock.
type Config struct {
	Project  ProjectConfig  `json:"project"`
	Server   ServerConfig   `json:"server"`
	Registry RegistryConfig `json:"registry"`
	Ports    PortsConfig    `json:"ports"`
	Proxy    ProxyConfig    `json:"proxy"`
	Logs     LogsConfig     `json:"logs"`
	Events   EventsConfig   `json:"events"`
	Watch    WatchConfig    `json:"watch"`
}

// ProjectConfig contains project metadata.
type ProjectConfig struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port         int    `json:"port"`
	Host         string `json:"host"`
	TLSCert      string `json:"tls_cert"`      // Path to TLS certificate file (enables HTTPS if both cert and key set)
	TLSKey       string `json:"tls_key"`       // Path to TLS private key file
	TLSTailscale bool   `json:"tls_tailscale"` // Fetch certificates from the local Tailscale daemon
}

// RegistryConfig configures the persisted app registry.
type RegistryConfig struct {
	Path string `json:"path"` // SQLite database file
}

// PortsConfig bounds the random port allocation range.
type PortsConfig struct {
	Min         int `json:"min"`
	Max         int `json:"max"`
	MaxAttempts int `json:"max_attempts"`
}

// ProxyConfig configures the reverse-proxy daemon admin client.
type ProxyConfig struct {
	AdminURL    string `json:"admin_url"`    // Admin endpoint of the proxy daemon
	ProcessName string `json:"process_name"` // Daemon process name, for liveness detection
	Domain      string `json:"domain"`       // Hostname suffix routes are published under
	Timeout     string `json:"timeout"`      // Per-request timeout
	Reconcile   string `json:"reconcile"`    // Periodic reconcile interval ("0" disables)
}

// LogsConfig configures per-app log capture.
type LogsConfig struct {
	BufferSize  int    `json:"buffer_size"`  // Ring buffer capacity per app, in lines
	StopTimeout string `json:"stop_timeout"` // Grace period before SIGKILL escalation
}

// EventsConfig configures the event bus.
type EventsConfig struct {
	History EventHistoryConfig `json:"history"`
}

// EventHistoryConfig configures event retention.
type EventHistoryConfig struct {
	MaxEvents int    `json:"max_events"`
	MaxAge    string `json:"max_age"`
}

// WatchConfig configures file watching for app auto-restart.
type WatchConfig struct {
	Debounce string `json:"debounce"`
}

// ParseDuration parses a duration string, returning defaultVal on empty or
// invalid input.
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
