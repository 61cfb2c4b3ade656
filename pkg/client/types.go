// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import "time"

// App is a registered app definition together with its runtime state.
type App struct {
	// ID is the app's registry id, assigned at creation.
	ID string `json:"id"`

	// Name is the human-readable app name, unique within the registry.
	Name string `json:"name"`

	// Path is the working directory the app's command runs in.
	Path string `json:"path"`

	// Command is the shell command that launches the app.
	Command string `json:"command"`

	// Port pins the app to a fixed port. Nil means a random free port is
	// allocated on each start.
	Port *int `json:"port"`

	// RunOnStartup launches the app when the daemon starts.
	RunOnStartup bool `json:"run_on_startup"`

	// CreatedAt is when the app was registered.
	CreatedAt time.Time `json:"created_at"`

	// Subdomain is the host label routes are published under. Nil means the
	// app gets no proxy route.
	Subdomain *string `json:"subdomain"`

	// WatchPaths are files or directories that trigger an automatic restart
	// when they change.
	WatchPaths []string `json:"watch_paths"`

	// Running reports whether the app has a live process.
	Running bool `json:"running"`

	// State is the process state ("starting", "running", "stopping", "exited").
	State string `json:"state,omitempty"`

	// CurrentPort is the port the live process was told to bind.
	CurrentPort int `json:"current_port,omitempty"`

	// PID is the live process id.
	PID int `json:"pid,omitempty"`
}

// NewApp holds the fields for registering or updating an app.
type NewApp struct {
	Name         string   `json:"name"`
	Path         string   `json:"path"`
	Command      string   `json:"command"`
	Port         *int     `json:"port,omitempty"`
	RunOnStartup bool     `json:"run_on_startup"`
	Subdomain    *string  `json:"subdomain,omitempty"`
	WatchPaths   []string `json:"watch_paths,omitempty"`
}

// LogLine is one captured output line from an app process.
type LogLine struct {
	// Stream is "stdout" or "stderr".
	Stream string `json:"stream"`

	// Text is the line content without the trailing newline.
	Text string `json:"text"`

	// Sequence orders lines within one app run.
	Sequence int64 `json:"sequence"`
}

// Logs is a snapshot of an app's retained output.
type Logs struct {
	ID    string    `json:"id"`
	Lines []LogLine `json:"lines"`
}

// Route describes one active proxy route.
type Route struct {
	// AppID is the registry id of the app the route points at.
	AppID string `json:"app_id"`

	// Label is the host label the route is published under.
	Label string `json:"label"`

	// Port is the upstream port traffic is forwarded to.
	Port int `json:"port"`

	// URL is the full address the app is reachable at through the proxy.
	URL string `json:"url"`
}

// RouteAssignment is the result of setting an app's subdomain.
type RouteAssignment struct {
	ID        string `json:"id"`
	Subdomain string `json:"subdomain"`
	URL       string `json:"url"`
}

// ProxyStatus reports the health of the reverse-proxy daemon.
type ProxyStatus struct {
	// Installed is true when the daemon binary is on PATH.
	Installed bool `json:"installed"`

	// Running is true when a daemon process exists.
	Running bool `json:"running"`

	// Responsive is true when the admin API answers.
	Responsive bool `json:"responsive"`
}

// Event is one entry from the daemon's event log.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}
