// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
)

// AppClient provides access to app registry and lifecycle operations.
//
// Apps are registered once and then started and stopped on demand; the daemon
// supervises their processes and captures their output.
//
// Access this client through [Client.Apps]:
//
//	apps, err := client.Apps.List(ctx)
type AppClient struct {
	c *Client
}

// List returns all registered apps with their runtime state.
func (a *AppClient) List(ctx context.Context) ([]App, error) {
	data, err := a.c.get(ctx, "/api/v1/apps")
	if err != nil {
		return nil, err
	}

	var apps []App
	if err := json.Unmarshal(data, &apps); err != nil {
		return nil, fmt.Errorf("failed to parse apps: %w", err)
	}

	return apps, nil
}

// Get returns a specific app by id.
//
// Returns an error if the app does not exist.
func (a *AppClient) Get(ctx context.Context, id string) (*App, error) {
	data, err := a.c.get(ctx, "/api/v1/apps/"+id)
	if err != nil {
		return nil, err
	}

	var app App
	if err := json.Unmarshal(data, &app); err != nil {
		return nil, fmt.Errorf("failed to parse app: %w", err)
	}

	return &app, nil
}

// Create registers a new app and returns it with its assigned id.
func (a *AppClient) Create(ctx context.Context, def NewApp) (*App, error) {
	data, err := a.c.postJSON(ctx, "/api/v1/apps", def)
	if err != nil {
		return nil, err
	}

	var app App
	if err := json.Unmarshal(data, &app); err != nil {
		return nil, fmt.Errorf("failed to parse app: %w", err)
	}

	return &app, nil
}

// Update rewrites an app's definition.
func (a *AppClient) Update(ctx context.Context, id string, def NewApp) (*App, error) {
	data, err := a.c.putJSON(ctx, "/api/v1/apps/"+id, def)
	if err != nil {
		return nil, err
	}

	var app App
	if err := json.Unmarshal(data, &app); err != nil {
		return nil, fmt.Errorf("failed to parse app: %w", err)
	}

	return &app, nil
}

// Delete removes an app from the registry, stopping it first when running.
func (a *AppClient) Delete(ctx context.Context, id string) error {
	_, err := a.c.delete(ctx, "/api/v1/apps/"+id)
	return err
}

// Start launches an app and returns the port its process was told to bind.
//
// Starting an app that is already running fails with a "CONFLICT" error.
func (a *AppClient) Start(ctx context.Context, id string) (int, error) {
	data, err := a.c.post(ctx, "/api/v1/apps/"+id+"/start")
	if err != nil {
		return 0, err
	}

	var result struct {
		Port int `json:"port"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return 0, fmt.Errorf("failed to parse start result: %w", err)
	}

	return result.Port, nil
}

// Stop terminates a running app.
func (a *AppClient) Stop(ctx context.Context, id string) error {
	_, err := a.c.post(ctx, "/api/v1/apps/"+id+"/stop")
	return err
}

// Restart stops and relaunches a running app, keeping its port.
func (a *AppClient) Restart(ctx context.Context, id string) (int, error) {
	data, err := a.c.post(ctx, "/api/v1/apps/"+id+"/restart")
	if err != nil {
		return 0, err
	}

	var result struct {
		Port int `json:"port"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return 0, fmt.Errorf("failed to parse restart result: %w", err)
	}

	return result.Port, nil
}

// Logs returns the most recent retained output lines for a running app.
//
// The lines parameter bounds how many lines to return.
func (a *AppClient) Logs(ctx context.Context, id string, lines int) (*Logs, error) {
	path := fmt.Sprintf("/api/v1/apps/%s/logs?lines=%d", id, lines)
	data, err := a.c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var logs Logs
	if err := json.Unmarshal(data, &logs); err != nil {
		return nil, fmt.Errorf("failed to parse logs: %w", err)
	}

	return &logs, nil
}

// Running returns the ports of all currently running apps keyed by app id.
func (a *AppClient) Running(ctx context.Context) (map[string]int, error) {
	data, err := a.c.get(ctx, "/api/v1/running")
	if err != nil {
		return nil, err
	}

	var running map[string]int
	if err := json.Unmarshal(data, &running); err != nil {
		return nil, fmt.Errorf("failed to parse running apps: %w", err)
	}

	return running, nil
}
