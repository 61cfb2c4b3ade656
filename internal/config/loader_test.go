// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "localdock.hjson")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoader_Load(t *testing.T) {
	path := writeConfig(t, `{
  // comments are allowed
  project: { name: "demo" }
  server: { port: 9000 }
  proxy: { admin_url: "http://127.0.0.1:2019" }
}`)

	loader := NewLoader()
	cfg, err := loader.Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.Project.Name)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "http://127.0.0.1:2019", cfg.Proxy.AdminURL)
}

func TestLoader_LoadWithDefaults(t *testing.T) {
	path := writeConfig(t, `{ project: { name: "demo" } }`)

	loader := NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 4777, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 10000, cfg.Ports.Min)
	assert.Equal(t, 60000, cfg.Ports.Max)
	assert.Equal(t, "http://127.0.0.1:2019", cfg.Proxy.AdminURL)
	assert.Equal(t, 200, cfg.Logs.BufferSize)
	assert.Equal(t, "30s", cfg.Proxy.Reconcile)
}

func TestLoader_LoadMissingFile(t *testing.T) {
	loader := NewLoader()
	_, err := loader.Load(context.Background(), "/nonexistent/localdock.hjson")
	assert.Error(t, err)
}

func TestLoader_LoadInvalidHJSON(t *testing.T) {
	path := writeConfig(t, `{ server: { port: [[[ } }`)

	loader := NewLoader()
	_, err := loader.Load(context.Background(), path)
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, ParseDuration("5s", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("garbage", time.Minute))
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "caddy", cfg.Proxy.ProcessName)
	assert.Equal(t, "local", cfg.Proxy.Domain)
	assert.NotEmpty(t, cfg.Registry.Path)
}
