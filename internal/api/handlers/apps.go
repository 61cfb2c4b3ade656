// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/wingedpig/localdock/internal/ports"
	"github.com/wingedpig/localdock/internal/store"
	"github.com/wingedpig/localdock/internal/supervisor"
)

// AppController starts and stops apps by their registry id.
type AppController interface {
	StartApp(ctx context.Context, id string) (int, error)
	StopApp(ctx context.Context, id string) error
	RestartApp(ctx context.Context, id string) (int, error)
}

// AppInfo is an app definition together with its runtime state.
type AppInfo struct {
	store.App
	Running     bool   `json:"running"`
	State       string `json:"state,omitempty"`
	CurrentPort int    `json:"current_port,omitempty"`
	PID         int    `json:"pid,omitempty"`
}

// AppsHandler handles app registry and lifecycle API requests.
type AppsHandler struct {
	store *store.Store
	sup   supervisor.Manager
	ctrl  AppController
}

// NewAppsHandler creates a new apps handler.
func NewAppsHandler(st *store.Store, sup supervisor.Manager, ctrl AppController) *AppsHandler {
	return &AppsHandler{store: st, sup: sup, ctrl: ctrl}
}

func (h *AppsHandler) info(app store.App) AppInfo {
	out := AppInfo{App: app}
	if status, ok := h.sup.Status(app.ID); ok {
		out.State = status.State.String()
		out.Running = status.State == supervisor.StateRunning || status.State == supervisor.StateStarting
		out.CurrentPort = status.Port
		out.PID = status.PID
	}
	return out
}

// List returns all configured apps with their runtime state.
func (h *AppsHandler) List(w http.ResponseWriter, r *http.Request) {
	apps, err := h.store.List()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}

	out := make([]AppInfo, 0, len(apps))
	for _, app := range apps {
		out = append(out, h.info(app))
	}
	WriteJSON(w, http.StatusOK, out)
}

// Get returns a single app by id.
func (h *AppsHandler) Get(w http.ResponseWriter, r *http.Request) {
	app, err := h.store.Get(mux.Vars(r)["id"])
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, h.info(*app))
}

// Create adds a new app definition.
func (h *AppsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var app store.App
	if err := json.NewDecoder(r.Body).Decode(&app); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON body")
		return
	}
	if app.Name == "" || app.Path == "" || app.Command == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "name, path and command are required")
		return
	}
	app.ID = "" // ids are assigned, never supplied

	if err := h.store.Create(&app); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, h.info(app))
}

// Update rewrites an app definition.
func (h *AppsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	existing, err := h.store.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}

	app := *existing
	if err := json.NewDecoder(r.Body).Decode(&app); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON body")
		return
	}
	app.ID = id
	app.CreatedAt = existing.CreatedAt

	if err := h.store.Update(&app); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, h.info(app))
}

// Delete removes an app definition, stopping it first when running.
func (h *AppsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, running := h.sup.Status(id); running {
		// Stop should complete even if the request is cancelled.
		if err := h.ctrl.StopApp(context.Background(), id); err != nil && !errors.Is(err, supervisor.ErrNotRunning) {
			WriteError(w, http.StatusInternalServerError, ErrAppError, err.Error())
			return
		}
	}

	if err := h.store.Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"id": id, "deleted": true})
}

// Start launches an app.
func (h *AppsHandler) Start(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	// The process must outlive the HTTP request.
	port, err := h.ctrl.StartApp(context.Background(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
		case errors.Is(err, supervisor.ErrAlreadyRunning):
			WriteError(w, http.StatusConflict, ErrConflict, err.Error())
		case errors.Is(err, ports.ErrPortUnavailable), errors.Is(err, ports.ErrNoFreePort):
			WriteError(w, http.StatusConflict, ErrConflict, err.Error())
		default:
			WriteError(w, http.StatusBadRequest, ErrAppError, err.Error())
		}
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"id": id, "port": port})
}

// Stop terminates an app.
func (h *AppsHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.ctrl.StopApp(context.Background(), id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
		case errors.Is(err, supervisor.ErrNotRunning):
			WriteError(w, http.StatusConflict, ErrConflict, err.Error())
		default:
			WriteError(w, http.StatusBadRequest, ErrAppError, err.Error())
		}
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"id": id, "stopped": true})
}

// Restart stops and relaunches an app, keeping its port.
func (h *AppsHandler) Restart(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	port, err := h.ctrl.RestartApp(context.Background(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound), errors.Is(err, supervisor.ErrNotRunning):
			WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
		default:
			WriteError(w, http.StatusBadRequest, ErrAppError, err.Error())
		}
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"id": id, "port": port})
}

// Running returns appId -> port for all currently running apps.
func (h *AppsHandler) Running(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.sup.List())
}

// Logs returns a snapshot of an app's captured output.
func (h *AppsHandler) Logs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	lines := 100
	if s := r.URL.Query().Get("lines"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			lines = n
		}
	}

	logs, err := h.sup.Logs(id, lines)
	if err != nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"id":    id,
		"lines": logs,
	})
}
