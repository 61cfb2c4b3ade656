// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
)

// RouteClient provides access to the proxy routing table.
//
// Routes map host labels to the ports of running apps. The daemon keeps the
// reverse-proxy daemon's table in sync automatically; this client inspects
// and adjusts the mapping.
//
// Access this client through [Client.Routes].
type RouteClient struct {
	c *Client
}

// List returns the routes currently registered for running apps.
func (r *RouteClient) List(ctx context.Context) ([]Route, error) {
	data, err := r.c.get(ctx, "/api/v1/routes")
	if err != nil {
		return nil, err
	}

	var routes []Route
	if err := json.Unmarshal(data, &routes); err != nil {
		return nil, fmt.Errorf("failed to parse routes: %w", err)
	}

	return routes, nil
}

// Set assigns an app's subdomain. If the app is running, its proxy route is
// updated immediately.
func (r *RouteClient) Set(ctx context.Context, id, subdomain string) (*RouteAssignment, error) {
	body := map[string]string{"subdomain": subdomain}
	data, err := r.c.postJSON(ctx, "/api/v1/apps/"+id+"/route", body)
	if err != nil {
		return nil, err
	}

	var assignment RouteAssignment
	if err := json.Unmarshal(data, &assignment); err != nil {
		return nil, fmt.Errorf("failed to parse route assignment: %w", err)
	}

	return &assignment, nil
}

// Clear removes an app's subdomain and drops its proxy route if present.
func (r *RouteClient) Clear(ctx context.Context, id string) error {
	_, err := r.c.delete(ctx, "/api/v1/apps/"+id+"/route")
	return err
}

// Reconcile forces a full resync of the proxy routing table against the set
// of running apps.
func (r *RouteClient) Reconcile(ctx context.Context) error {
	_, err := r.c.post(ctx, "/api/v1/routes/reconcile")
	return err
}

// ProxyStatus reports whether the reverse-proxy daemon is installed, running
// and answering its admin API.
func (r *RouteClient) ProxyStatus(ctx context.Context) (*ProxyStatus, error) {
	data, err := r.c.get(ctx, "/api/v1/proxy/status")
	if err != nil {
		return nil, err
	}

	var status ProxyStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to parse proxy status: %w", err)
	}

	return &status, nil
}
