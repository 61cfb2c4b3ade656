// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ports finds free TCP ports for managed apps.
package ports

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
)

const (
	// DefaultMin and DefaultMax bound the random allocation range.
	DefaultMin = 10000
	DefaultMax = 60000

	defaultMaxAttempts = 100
)

// ErrPortUnavailable is returned when a requested port cannot be bound.
var ErrPortUnavailable = errors.New("port unavailable")

// ErrNoFreePort is returned when no free port was found within the
// configured number of attempts.
var ErrNoFreePort = errors.New("no free port found")

// Allocator probes for free TCP ports on the loopback interface.
//
// Allocation is a point-in-time probe, not a reservation: between Allocate
// returning and the child process binding the port, another process may take
// it. That race is inherent to handing a port to a separately-spawned process
// and surfaces as an early exit of the child.
type Allocator struct {
	Min         int
	Max         int
	MaxAttempts int
}

// NewAllocator creates an allocator for the default port range.
func NewAllocator() *Allocator {
	return &Allocator{
		Min:         DefaultMin,
		Max:         DefaultMax,
		MaxAttempts: defaultMaxAttempts,
	}
}

// Allocate returns a free port. If preferred is non-zero, only that port is
// tried; failure to bind it returns ErrPortUnavailable so the caller can
// decide whether to fail or fall back to a random port.
func (a *Allocator) Allocate(preferred int) (int, error) {
	if preferred != 0 {
		if probe(preferred) {
			return preferred, nil
		}
		return 0, fmt.Errorf("%w: %d", ErrPortUnavailable, preferred)
	}

	min, max := a.Min, a.Max
	if min <= 0 || max <= min {
		min, max = DefaultMin, DefaultMax
	}
	attempts := a.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	for i := 0; i < attempts; i++ {
		port := min + rand.Intn(max-min)
		if probe(port) {
			return port, nil
		}
	}

	return 0, ErrNoFreePort
}

// probe attempts an exclusive bind-then-release on the loopback interface.
func probe(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}
