// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package proxyclient is an HTTP client for the reverse-proxy daemon's
// admin API. It only manipulates the daemon's route table; it knows
// nothing about process management.
package proxyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrProxyUnreachable indicates the admin endpoint could not be reached
// at all. It is distinct from an error the daemon itself returned.
var ErrProxyUnreachable = errors.New("proxy admin endpoint unreachable")

// ProxyError is an application-level error reported by the daemon.
type ProxyError struct {
	StatusCode int
	Message    string
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("proxy: %s (status %d)", e.Message, e.StatusCode)
}

// IsDuplicateLabel reports whether err is the daemon rejecting a route
// because the host label is already taken.
func IsDuplicateLabel(err error) bool {
	var pe *ProxyError
	return errors.As(err, &pe) && pe.StatusCode == http.StatusConflict
}

// IsNotFound reports whether err is the daemon reporting a missing route.
func IsNotFound(err error) bool {
	var pe *ProxyError
	return errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound
}

// Client talks to the proxy daemon's admin API.
type Client struct {
	baseURL     string
	domain      string
	processName string
	httpClient  *http.Client
}

// Config for the client. Zero values get sensible defaults.
type Config struct {
	AdminURL    string
	Domain      string
	ProcessName string
	Timeout     time.Duration
}

// New creates a client for the daemon admin API.
func New(cfg Config) *Client {
	if cfg.AdminURL == "" {
		cfg.AdminURL = "http://127.0.0.1:2019"
	}
	if cfg.Domain == "" {
		cfg.Domain = "local"
	}
	if cfg.ProcessName == "" {
		cfg.ProcessName = "caddy"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.AdminURL, "/"),
		domain:      cfg.Domain,
		processName: cfg.ProcessName,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Domain returns the hostname suffix routes are published under.
func (c *Client) Domain() string {
	return c.domain
}

// AppURL returns the browsable URL for a host label.
func (c *Client) AppURL(label string) string {
	return "http://" + label + "." + c.domain
}

type routeBody struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// AddRoute registers label -> localhost:port with the daemon. A duplicate
// host label is rejected by the daemon and surfaces as a *ProxyError
// satisfying IsDuplicateLabel.
func (c *Client) AddRoute(ctx context.Context, label string, port int) error {
	body, err := json.Marshal(routeBody{Host: label, Port: port})
	if err != nil {
		return fmt.Errorf("encode route: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/routes", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

// RemoveRoute deletes the route for label. Removing a route the daemon
// does not have returns a *ProxyError satisfying IsNotFound; callers
// that want idempotent teardown treat that as success.
func (c *Client) RemoveRoute(ctx context.Context, label string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/routes/"+label, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Routes returns the daemon's current route table as label -> port.
func (c *Client) Routes(ctx context.Context) (map[string]int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/routes", nil)
	if err != nil {
		return nil, err
	}
	var routes map[string]int
	if err := c.do(req, &routes); err != nil {
		return nil, err
	}
	if routes == nil {
		routes = map[string]int{}
	}
	return routes, nil
}

// Ping checks whether the admin endpoint answers at all.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/config/", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// do executes the request, decoding a JSON response into out when
// non-nil. Transport failures wrap ErrProxyUnreachable; non-2xx
// responses become *ProxyError.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProxyUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ProxyError{
			StatusCode: resp.StatusCode,
			Message:    readErrorMessage(resp.Body),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// readErrorMessage extracts the daemon's error message. The daemon
// responds with {"error": "..."} but plain-text bodies are tolerated.
func readErrorMessage(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(body) == 0 {
		return "request failed"
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}
