// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wingedpig/localdock/internal/proxyclient"
	"github.com/wingedpig/localdock/internal/routesync"
	"github.com/wingedpig/localdock/internal/store"
	"github.com/wingedpig/localdock/internal/supervisor"
)

// RouteInfo describes one active proxy route.
type RouteInfo struct {
	AppID string `json:"app_id"`
	Label string `json:"label"`
	Port  int    `json:"port"`
	URL   string `json:"url"`
}

// RoutesHandler handles proxy route API requests.
type RoutesHandler struct {
	store  *store.Store
	sup    supervisor.Manager
	syncer *routesync.Syncer
	proxy  *proxyclient.Client
}

// NewRoutesHandler creates a new routes handler.
func NewRoutesHandler(st *store.Store, sup supervisor.Manager, syncer *routesync.Syncer, proxy *proxyclient.Client) *RoutesHandler {
	return &RoutesHandler{store: st, sup: sup, syncer: syncer, proxy: proxy}
}

// List returns the routes currently registered for running apps.
func (h *RoutesHandler) List(w http.ResponseWriter, r *http.Request) {
	running := h.sup.List()

	out := make([]RouteInfo, 0)
	for appID, label := range h.syncer.Routes() {
		out = append(out, RouteInfo{
			AppID: appID,
			Label: label,
			Port:  running[appID],
			URL:   h.proxy.AppURL(label),
		})
	}
	WriteJSON(w, http.StatusOK, out)
}

type setRouteRequest struct {
	Subdomain string `json:"subdomain"`
}

// Set assigns an app's subdomain and, when the app is running, updates the
// proxy route to match.
func (h *RoutesHandler) Set(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req setRouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON body")
		return
	}

	label := proxyclient.Slugify(req.Subdomain)
	if label == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "subdomain must contain at least one letter or digit")
		return
	}

	if err := h.store.SetSubdomain(id, &label); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}

	if port, ok := h.sup.List()[id]; ok {
		h.syncer.UpdateLabel(r.Context(), id, label, port)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"id":        id,
		"subdomain": label,
		"url":       h.proxy.AppURL(label),
	})
}

// Clear removes an app's subdomain and drops its proxy route if present.
func (h *RoutesHandler) Clear(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.store.SetSubdomain(id, nil); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}

	h.syncer.UpdateLabel(r.Context(), id, "", 0)

	WriteJSON(w, http.StatusOK, map[string]interface{}{"id": id, "subdomain": nil})
}

// Reconcile forces a full resync of the proxy routing table.
func (h *RoutesHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	h.syncer.Reconcile(r.Context())
	WriteJSON(w, http.StatusOK, map[string]interface{}{"routes": len(h.syncer.Routes())})
}

// ProxyStatus reports whether the proxy daemon is installed, running and
// answering its admin API.
func (h *RoutesHandler) ProxyStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.proxy.GetStatus(r.Context()))
}
