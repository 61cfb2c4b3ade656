// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api implements the HTTP control API for the daemon.
package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/tailscale/tscert"

	"github.com/wingedpig/localdock/internal/api/handlers"
	"github.com/wingedpig/localdock/internal/api/middleware"
	"github.com/wingedpig/localdock/internal/events"
	"github.com/wingedpig/localdock/internal/proxyclient"
	"github.com/wingedpig/localdock/internal/routesync"
	"github.com/wingedpig/localdock/internal/store"
	"github.com/wingedpig/localdock/internal/supervisor"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host         string
	Port         int
	TLSCert      string // Path to TLS certificate file
	TLSKey       string // Path to TLS private key file
	TLSTailscale bool   // Fetch certificates from the local Tailscale daemon
}

// Dependencies holds all dependencies for API handlers.
type Dependencies struct {
	Store      *store.Store
	Supervisor supervisor.Manager
	Controller handlers.AppController
	Syncer     *routesync.Syncer
	Proxy      *proxyclient.Client
	EventBus   events.EventBus
}

// NewRouter creates a new API router.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)

	// API v1 routes
	api := r.PathPrefix("/api/v1").Subrouter()

	// App handlers
	appsHandler := handlers.NewAppsHandler(deps.Store, deps.Supervisor, deps.Controller)
	api.HandleFunc("/apps", appsHandler.List).Methods("GET")
	api.HandleFunc("/apps", appsHandler.Create).Methods("POST")
	api.HandleFunc("/apps/{id}", appsHandler.Get).Methods("GET")
	api.HandleFunc("/apps/{id}", appsHandler.Update).Methods("PUT")
	api.HandleFunc("/apps/{id}", appsHandler.Delete).Methods("DELETE")
	api.HandleFunc("/apps/{id}/start", appsHandler.Start).Methods("POST")
	api.HandleFunc("/apps/{id}/stop", appsHandler.Stop).Methods("POST")
	api.HandleFunc("/apps/{id}/restart", appsHandler.Restart).Methods("POST")
	api.HandleFunc("/apps/{id}/logs", appsHandler.Logs).Methods("GET")
	api.HandleFunc("/apps/{id}/logs/stream", appsHandler.StreamLogs).Methods("GET")
	api.HandleFunc("/running", appsHandler.Running).Methods("GET")

	// Route handlers
	routesHandler := handlers.NewRoutesHandler(deps.Store, deps.Supervisor, deps.Syncer, deps.Proxy)
	api.HandleFunc("/routes", routesHandler.List).Methods("GET")
	api.HandleFunc("/routes/reconcile", routesHandler.Reconcile).Methods("POST")
	api.HandleFunc("/apps/{id}/route", routesHandler.Set).Methods("POST")
	api.HandleFunc("/apps/{id}/route", routesHandler.Clear).Methods("DELETE")
	api.HandleFunc("/proxy/status", routesHandler.ProxyStatus).Methods("GET")

	// Event handlers
	eventHandler := handlers.NewEventHandler(deps.EventBus)
	api.HandleFunc("/events", eventHandler.History).Methods("GET")
	api.HandleFunc("/events/ws", eventHandler.WebSocket).Methods("GET")

	// Debug/profiling endpoints
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	return r
}

// Server represents the API server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	return &Server{
		router: NewRouter(deps),
		cfg:    cfg,
	}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server.
// If TLS is configured (tls_cert and tls_key), uses HTTPS. With
// tls_tailscale, certificates come from the local Tailscale daemon instead.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	if s.cfg.TLSTailscale {
		s.server.TLSConfig = &tls.Config{
			GetCertificate: tscert.GetCertificate,
		}
		log.Printf("API server listening on https://%s (Tailscale TLS)", addr)
		return s.server.ListenAndServeTLS("", "")
	}

	tlsEnabled, err := CheckTLSConfig(s.cfg.TLSCert, s.cfg.TLSKey)
	if err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}

	if tlsEnabled {
		certPath := expandPath(s.cfg.TLSCert)
		keyPath := expandPath(s.cfg.TLSKey)
		log.Printf("API server listening on https://%s (TLS enabled)", addr)
		return s.server.ListenAndServeTLS(certPath, keyPath)
	}

	log.Printf("API server listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Println("Shutting down API server...")

	// Create a timeout context if none provided
	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return s.server.Shutdown(shutdownCtx)
}
