// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package ports

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocator_RandomInRange(t *testing.T) {
	a := NewAllocator()

	for i := 0; i < 10; i++ {
		port, err := a.Allocate(0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, port, DefaultMin)
		assert.Less(t, port, DefaultMax)
	}
}

func TestAllocator_PreferredFree(t *testing.T) {
	a := NewAllocator()

	// Find a port that is actually free, then release it and ask for it
	// explicitly.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	got, err := a.Allocate(port)
	require.NoError(t, err)
	assert.Equal(t, port, got)
}

func TestAllocator_PreferredBound(t *testing.T) {
	a := NewAllocator()

	// Hold the port so the allocator cannot bind it.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	_, err = a.Allocate(port)
	assert.ErrorIs(t, err, ErrPortUnavailable)
}

func TestAllocator_NoFreePort(t *testing.T) {
	// A single-port range that is already bound exhausts every attempt.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	a := &Allocator{Min: port, Max: port + 1, MaxAttempts: 5}
	_, err = a.Allocate(0)
	assert.ErrorIs(t, err, ErrNoFreePort)
}

func TestAllocator_PreferredErrorNamesPort(t *testing.T) {
	a := NewAllocator()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	_, err = a.Allocate(port)
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("%d", port))
}
