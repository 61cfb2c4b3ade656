// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/wingedpig/localdock/internal/events"
)

const defaultStopTimeout = 10 * time.Second

// Process manages a single app's child process: spawn, output pumps,
// termination, exit observation.
type Process struct {
	spec        AppSpec
	bus         events.EventBus
	stopTimeout time.Duration

	mu            sync.RWMutex
	cmd           *exec.Cmd
	state         ProcessState
	pid           int
	exitCode      int
	crashed       bool
	startedAt     time.Time
	stoppedAt     time.Time
	logs          *LogBuffer
	stopRequested bool
	isRunning     bool

	onExit   func(Status)
	pumps    sync.WaitGroup
	waitDone chan struct{}
}

// NewProcess creates a process handle for the given app spec.
func NewProcess(spec AppSpec, bus events.EventBus, logBufferSize int, stopTimeout time.Duration) *Process {
	if stopTimeout <= 0 {
		stopTimeout = defaultStopTimeout
	}
	return &Process{
		spec:        spec,
		bus:         bus,
		stopTimeout: stopTimeout,
		state:       StateStarting,
		logs:        NewLogBuffer(logBufferSize),
	}
}

// loginShell returns the user's shell and the arguments that make it run the
// command with login and interactive initialization. Running through the
// login shell inherits version-manager shims and PATH customization the same
// way a manual terminal invocation would.
func loginShell(command string) (string, []string) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return shell, []string{"-i", "-l", "-c", command}
}

// Start spawns the child process. The assigned port is handed to the child
// exclusively through the PORT environment variable. The started event is
// published before the output pumps are released, so subscribers see started
// ahead of the first log line and of the stopped event.
func (p *Process) Start(ctx context.Context) error {
	stdout, stderr, err := p.spawn()
	if err != nil {
		return err
	}

	if p.bus != nil {
		p.bus.Publish(ctx, events.Event{
			Type: events.EventAppStarted,
			Payload: map[string]interface{}{
				"id":        p.spec.ID,
				"port":      p.spec.Port,
				"hostLabel": p.spec.HostLabel,
			},
		})
	}

	// Capture output in background, one pump per stream
	go p.captureOutput(stdout, "stdout")
	go p.captureOutput(stderr, "stderr")

	// Wait for process in background
	go p.waitForExit()

	return nil
}

func (p *Process) spawn() (io.ReadCloser, io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isRunning {
		return nil, nil, ErrAlreadyRunning
	}

	if strings.TrimSpace(p.spec.Command) == "" {
		err := fmt.Errorf("app %s: empty command", p.spec.ID)
		p.logs.Write("stderr", fmt.Sprintf("[localdock] Error: %v", err))
		return nil, nil, err
	}

	shell, args := loginShell(p.spec.Command)
	cmd := exec.Command(shell, args...)
	cmd.Dir = p.spec.WorkDir

	// New process group so a stop can signal forked children too
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	cmd.Env = os.Environ()
	for k, v := range p.spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Env = append(cmd.Env, "PORT="+strconv.Itoa(p.spec.Port))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		p.state = StateExited
		p.logs.Write("stderr", fmt.Sprintf("[localdock] Failed to start: %v", err))
		return nil, nil, fmt.Errorf("spawn: %w", err)
	}

	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.startedAt = time.Now()
	p.exitCode = 0
	p.crashed = false
	p.isRunning = true
	p.state = StateRunning
	p.waitDone = make(chan struct{})
	p.pumps.Add(2)

	return stdout, stderr, nil
}

// Stop terminates the process cooperatively, escalating to SIGKILL after the
// grace period. The stop signal goes to the whole process group so build
// tools and bundlers forked by the command are not orphaned.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}

	p.state = StateStopping
	p.stopRequested = true
	cmd := p.cmd
	waitDone := p.waitDone
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	// Signal the process group (negative PID) to reach child processes too
	pgid := cmd.Process.Pid
	syscall.Kill(-pgid, syscall.SIGTERM)

	select {
	case <-waitDone:
		// Process exited
	case <-time.After(p.stopTimeout):
		// Force kill the entire process group
		syscall.Kill(-pgid, syscall.SIGKILL)
		<-waitDone
	case <-ctx.Done():
		syscall.Kill(-pgid, syscall.SIGKILL)
		<-waitDone
	}

	return nil
}

// Spec returns the immutable inputs this process was spawned with.
func (p *Process) Spec() AppSpec {
	return p.spec
}

// Status returns the current process status.
func (p *Process) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return Status{
		State:     p.state,
		PID:       p.pid,
		Port:      p.spec.Port,
		ExitCode:  p.exitCode,
		Crashed:   p.crashed,
		StartedAt: p.startedAt,
		StoppedAt: p.stoppedAt,
	}
}

// Logs returns the last n captured lines.
func (p *Process) Logs(n int) []LogLine {
	return p.logs.Lines(n)
}

// SubscribeLogs returns a channel that receives new log lines.
func (p *Process) SubscribeLogs() chan LogLine {
	return p.logs.Subscribe()
}

// UnsubscribeLogs removes a log subscription.
func (p *Process) UnsubscribeLogs(ch chan LogLine) {
	p.logs.Unsubscribe(ch)
}

// CloseLogSubscribers closes all log subscriber channels.
func (p *Process) CloseLogSubscribers() {
	p.logs.CloseAllSubscribers()
}

// OnExit sets a callback invoked exactly once after the process exits and
// both output pumps have drained.
func (p *Process) OnExit(fn func(Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onExit = fn
}

func (p *Process) captureOutput(r io.Reader, stream string) {
	defer p.pumps.Done()

	br := bufio.NewReader(r)
	for {
		text, err := br.ReadString('\n')
		if len(text) > 0 {
			text = strings.TrimSuffix(text, "\n")
			text = strings.TrimSuffix(text, "\r")

			// Truncate very long lines (>1MB) to prevent memory issues
			const maxLineLen = 1024 * 1024
			if len(text) > maxLineLen {
				text = text[:maxLineLen] + "... [truncated]"
			}

			// A partial trailing line at process exit lands here with err
			// set, so it is flushed as a final line.
			p.logs.Write(stream, text)
			if p.bus != nil {
				p.bus.Publish(context.Background(), events.Event{
					Type: events.EventAppLog,
					Payload: map[string]interface{}{
						"id":     p.spec.ID,
						"stream": stream,
						"text":   text,
					},
				})
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *Process) waitForExit() {
	// Drain both pumps before Wait so no output is lost when the pipes close.
	p.pumps.Wait()

	cmd := p.cmd
	err := cmd.Wait()

	p.mu.Lock()
	p.isRunning = false
	p.stoppedAt = time.Now()
	wasStopRequested := p.stopRequested

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			p.exitCode = exitErr.ExitCode()
		} else {
			p.exitCode = -1
		}
		// A requested stop is a clean stop even when the shell dies from the
		// signal; anything else is a crash.
		p.crashed = !wasStopRequested
	} else {
		p.exitCode = 0
		p.crashed = false
	}
	p.state = StateExited

	status := Status{
		State:     p.state,
		PID:       p.pid,
		Port:      p.spec.Port,
		ExitCode:  p.exitCode,
		Crashed:   p.crashed,
		StartedAt: p.startedAt,
		StoppedAt: p.stoppedAt,
	}
	onExit := p.onExit
	waitDone := p.waitDone
	p.cmd = nil
	p.pid = 0
	p.stopRequested = false
	p.mu.Unlock()

	// Exactly one terminal event per process
	if onExit != nil {
		onExit(status)
	}

	close(waitDone)
}
