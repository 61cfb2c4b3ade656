// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyRunning is returned when starting an app that has a live process.
var ErrAlreadyRunning = errors.New("app is already running")

// ErrNotRunning is returned when operating on an app without a live process.
var ErrNotRunning = errors.New("app is not running")

// AppSpec describes one app launch: the inputs captured at spawn time.
// Port is assigned by the supervisor before spawning and is immutable for
// the lifetime of the process.
type AppSpec struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	WorkDir   string            `json:"workDir"`
	Command   string            `json:"command"`
	Env       map[string]string `json:"env,omitempty"`
	Port      int               `json:"port"`
	HostLabel string            `json:"hostLabel,omitempty"`
}

// ProcessState represents the state of a managed process.
type ProcessState int

const (
	StateStarting ProcessState = iota
	StateRunning
	StateStopping
	StateExited
)

func (s ProcessState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler to output the string representation.
func (s ProcessState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Status contains the current status of a managed process.
type Status struct {
	State     ProcessState
	PID       int
	Port      int
	ExitCode  int
	Crashed   bool
	StartedAt time.Time
	StoppedAt time.Time
}

// LogLine is one captured output line from a managed process.
type LogLine struct {
	Stream   string `json:"stream"` // "stdout" or "stderr"
	Text     string `json:"text"`
	Sequence int64  `json:"sequence"`
}

// Manager is the interface the rest of the system uses to drive the
// supervisor. The supervisor is the single source of truth for the set of
// running apps and their ports.
type Manager interface {
	Start(ctx context.Context, spec AppSpec) (int, error)
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) (int, error)
	List() map[string]int
	Status(id string) (Status, bool)
	Specs() []AppSpec
	Logs(id string, n int) ([]LogLine, error)
	SubscribeLogs(id string) (chan LogLine, error)
	UnsubscribeLogs(id string, ch chan LogLine)
	StopAll(ctx context.Context) error
}
