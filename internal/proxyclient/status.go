// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package proxyclient

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	ps "github.com/mitchellh/go-ps"
)

// Status describes the proxy daemon's health as far as a client can tell.
type Status struct {
	Installed  bool `json:"installed"`  // Binary found on PATH
	Running    bool `json:"running"`    // Process present in the process table
	Responsive bool `json:"responsive"` // Admin endpoint answered
}

// GetStatus probes the daemon. Installed checks PATH, Running scans the
// process table, Responsive pings the admin endpoint. Each probe is
// independent: a daemon mid-startup can be Running but not Responsive.
func (c *Client) GetStatus(ctx context.Context) Status {
	var st Status

	if _, err := exec.LookPath(c.processName); err == nil {
		st.Installed = true
	}

	if procs, err := ps.Processes(); err == nil {
		for _, p := range procs {
			if strings.EqualFold(p.Executable(), c.processName) {
				st.Running = true
				break
			}
		}
	}

	if err := c.Ping(ctx); err == nil {
		st.Responsive = true
		// The admin endpoint answering implies a live daemon even when
		// the process table scan missed it (renamed binary, container).
		st.Running = true
	}

	return st
}

// ReadyResult is the outcome of waiting for the daemon to come up.
type ReadyResult int

const (
	Ready ReadyResult = iota
	TimedOut
	Failed
)

func (r ReadyResult) String() string {
	switch r {
	case Ready:
		return "ready"
	case TimedOut:
		return "timed-out"
	default:
		return "failed"
	}
}

// WaitReady polls the admin endpoint until it answers, up to attempts
// probes spaced delay apart. Connectivity failures keep polling;
// anything else from the daemon means it is up but misbehaving and
// returns Failed immediately, as does context cancellation.
func (c *Client) WaitReady(ctx context.Context, attempts int, delay time.Duration) (ReadyResult, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return Failed, ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.Ping(ctx)
		if err == nil {
			return Ready, nil
		}
		if !errors.Is(err, ErrProxyUnreachable) {
			return Failed, err
		}
		lastErr = err
	}
	return TimedOut, lastErr
}
