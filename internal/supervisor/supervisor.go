// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package supervisor owns the registry of managed app processes: start,
// stop, port assignment, log capture, and lifecycle event fanout.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/wingedpig/localdock/internal/events"
	"github.com/wingedpig/localdock/internal/ports"
)

// Supervisor manages all running app processes. It is the single writer of
// the process registry; every mutation happens under its lock, and lifecycle
// events flow out through the event bus in per-app order: started, zero or
// more log lines, then exactly one stopped.
type Supervisor struct {
	mu    sync.RWMutex
	procs map[string]*Process

	bus         events.EventBus
	alloc       *ports.Allocator
	logBufSize  int
	stopTimeout time.Duration
}

// Config holds supervisor construction options.
type Config struct {
	Allocator     *ports.Allocator
	LogBufferSize int
	StopTimeout   time.Duration
}

// New creates a supervisor.
func New(bus events.EventBus, cfg Config) *Supervisor {
	alloc := cfg.Allocator
	if alloc == nil {
		alloc = ports.NewAllocator()
	}
	return &Supervisor{
		procs:       make(map[string]*Process),
		bus:         bus,
		alloc:       alloc,
		logBufSize:  cfg.LogBufferSize,
		stopTimeout: cfg.StopTimeout,
	}
}

// Start launches the app described by spec and returns the port the child
// was told to bind. If spec.Port is zero a random free port is allocated;
// otherwise the pinned port is validated first. A second start for a live
// app id fails with ErrAlreadyRunning; it is rejected, not queued.
func (s *Supervisor) Start(ctx context.Context, spec AppSpec) (int, error) {
	s.mu.Lock()
	if _, exists := s.procs[spec.ID]; exists {
		s.mu.Unlock()
		return 0, fmt.Errorf("app %s: %w", spec.ID, ErrAlreadyRunning)
	}

	port, err := s.alloc.Allocate(spec.Port)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	spec.Port = port

	proc := NewProcess(spec, s.bus, s.logBufSize, s.stopTimeout)
	s.procs[spec.ID] = proc
	s.mu.Unlock()

	proc.OnExit(func(status Status) {
		s.handleExit(spec, proc, status)
	})

	if err := proc.Start(ctx); err != nil {
		s.mu.Lock()
		delete(s.procs, spec.ID)
		s.mu.Unlock()
		return 0, fmt.Errorf("start app %s: %w", spec.ID, err)
	}

	log.Printf("App %s started (PID %d, port %d)", spec.ID, proc.Status().PID, port)

	return port, nil
}

// Stop requests termination of a running app and waits for it to exit.
// Returns ErrNotRunning if the app has no live process.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	s.mu.RLock()
	proc, ok := s.procs[id]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("app %s: %w", id, ErrNotRunning)
	}

	return proc.Stop(ctx)
}

// Restart stops a running app and starts it again with the same spec,
// including the same port.
func (s *Supervisor) Restart(ctx context.Context, id string) (int, error) {
	s.mu.RLock()
	proc, ok := s.procs[id]
	s.mu.RUnlock()

	if !ok {
		return 0, fmt.Errorf("app %s: %w", id, ErrNotRunning)
	}

	spec := proc.Spec()
	if err := proc.Stop(ctx); err != nil {
		return 0, err
	}

	port, err := s.Start(ctx, spec)
	if err != nil {
		return 0, err
	}

	if s.bus != nil {
		s.bus.Publish(ctx, events.Event{
			Type: events.EventAppRestarted,
			Payload: map[string]interface{}{
				"id":   id,
				"port": port,
			},
		})
	}

	return port, nil
}

// List returns the ports of all currently running apps keyed by app id.
// This is the single source of truth the rest of the system queries to
// recover state after a caller restart.
func (s *Supervisor) List() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]int, len(s.procs))
	for id, proc := range s.procs {
		st := proc.Status()
		if st.State == StateRunning || st.State == StateStarting {
			result[id] = st.Port
		}
	}
	return result
}

// Status returns the status of one app's process.
func (s *Supervisor) Status(id string) (Status, bool) {
	s.mu.RLock()
	proc, ok := s.procs[id]
	s.mu.RUnlock()

	if !ok {
		return Status{}, false
	}
	return proc.Status(), true
}

// Specs returns the specs of all live processes, sorted by app id.
func (s *Supervisor) Specs() []AppSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]AppSpec, 0, len(s.procs))
	for _, proc := range s.procs {
		result = append(result, proc.Spec())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Logs returns the last n retained lines for an app. Lines older than the
// ring buffer bound are gone; they are not persisted anywhere.
func (s *Supervisor) Logs(id string, n int) ([]LogLine, error) {
	s.mu.RLock()
	proc, ok := s.procs[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("app %s: %w", id, ErrNotRunning)
	}
	return proc.Logs(n), nil
}

// SubscribeLogs returns a channel that receives new log lines for an app.
// The snapshot of already-retained lines is available through Logs; the
// channel only carries the live continuation.
func (s *Supervisor) SubscribeLogs(id string) (chan LogLine, error) {
	s.mu.RLock()
	proc, ok := s.procs[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("app %s: %w", id, ErrNotRunning)
	}
	return proc.SubscribeLogs(), nil
}

// UnsubscribeLogs removes a log subscription for an app.
func (s *Supervisor) UnsubscribeLogs(id string, ch chan LogLine) {
	s.mu.RLock()
	proc, ok := s.procs[id]
	s.mu.RUnlock()

	if ok {
		proc.UnsubscribeLogs(ch)
	}
}

// StopAll stops every running app in parallel.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.RLock()
	procs := make([]*Process, 0, len(s.procs))
	for _, proc := range s.procs {
		procs = append(procs, proc)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, proc := range procs {
		wg.Add(1)
		go func(p *Process) {
			defer wg.Done()
			if err := p.Stop(ctx); err != nil {
				log.Printf("Failed to stop app %s: %v", p.Spec().ID, err)
			}
		}(proc)
	}
	wg.Wait()
	return nil
}

// handleExit publishes the terminal event for a process and then removes its
// registry entry, so the entry is only destroyed after subscribers have seen
// the stop.
func (s *Supervisor) handleExit(spec AppSpec, proc *Process, status Status) {
	if status.Crashed {
		log.Printf("App %s crashed (exit code %d)", spec.ID, status.ExitCode)
	} else {
		log.Printf("App %s stopped (exit code %d)", spec.ID, status.ExitCode)
	}

	if s.bus != nil {
		s.bus.Publish(context.Background(), events.Event{
			Type: events.EventAppStopped,
			Payload: map[string]interface{}{
				"id":        spec.ID,
				"port":      status.Port,
				"exitCode":  status.ExitCode,
				"crashed":   status.Crashed,
				"hostLabel": spec.HostLabel,
			},
		})
		if status.Crashed {
			s.bus.Publish(context.Background(), events.Event{
				Type: events.EventAppCrashed,
				Payload: map[string]interface{}{
					"id":       spec.ID,
					"exitCode": status.ExitCode,
					"logs":     tailText(proc.Logs(50)),
				},
			})
		}
	}

	s.mu.Lock()
	// Only remove the entry if it still belongs to this process; Restart may
	// have already replaced it.
	if current, ok := s.procs[spec.ID]; ok && current == proc {
		delete(s.procs, spec.ID)
	}
	s.mu.Unlock()

	proc.CloseLogSubscribers()
}

func tailText(lines []LogLine) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text
	}
	return out
}
