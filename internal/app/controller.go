// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"

	"github.com/wingedpig/localdock/internal/store"
	"github.com/wingedpig/localdock/internal/supervisor"
)

// Controller bridges the app registry and the supervisor: it resolves an app
// id to its stored definition and drives the process lifecycle from it.
type Controller struct {
	store *store.Store
	sup   supervisor.Manager
}

// NewController creates a controller over the given registry and supervisor.
func NewController(st *store.Store, sup supervisor.Manager) *Controller {
	return &Controller{store: st, sup: sup}
}

// StartApp launches the app with the given registry id and returns the port
// the process was told to bind.
func (c *Controller) StartApp(ctx context.Context, id string) (int, error) {
	app, err := c.store.Get(id)
	if err != nil {
		return 0, err
	}
	return c.sup.Start(ctx, specFor(app))
}

// StopApp terminates the app's process.
func (c *Controller) StopApp(ctx context.Context, id string) error {
	return c.sup.Stop(ctx, id)
}

// RestartApp stops and relaunches the app's process, keeping its port.
func (c *Controller) RestartApp(ctx context.Context, id string) (int, error) {
	return c.sup.Restart(ctx, id)
}

// StartupApps launches every app flagged to run on startup. Failures are
// collected so one broken app does not block the others.
func (c *Controller) StartupApps(ctx context.Context) error {
	apps, err := c.store.StartupApps()
	if err != nil {
		return fmt.Errorf("load startup apps: %w", err)
	}

	var firstErr error
	for _, app := range apps {
		if _, err := c.sup.Start(ctx, specFor(&app)); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("start %s: %w", app.Name, err)
			}
		}
	}
	return firstErr
}

// specFor converts a stored app definition into a launch spec. A nil Port
// means the supervisor picks a random free port.
func specFor(app *store.App) supervisor.AppSpec {
	spec := supervisor.AppSpec{
		ID:        app.ID,
		Name:      app.Name,
		WorkDir:   app.Path,
		Command:   app.Command,
		HostLabel: app.HostLabel(),
	}
	if app.Port != nil {
		spec.Port = *app.Port
	}
	return spec
}
