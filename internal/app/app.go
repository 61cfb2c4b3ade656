// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires the daemon's components together and owns their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/wingedpig/localdock/internal/api"
	"github.com/wingedpig/localdock/internal/config"
	"github.com/wingedpig/localdock/internal/events"
	"github.com/wingedpig/localdock/internal/ports"
	"github.com/wingedpig/localdock/internal/proxyclient"
	"github.com/wingedpig/localdock/internal/routesync"
	"github.com/wingedpig/localdock/internal/store"
	"github.com/wingedpig/localdock/internal/supervisor"
	"github.com/wingedpig/localdock/internal/watcher"
)

// App is the main application container.
type App struct {
	mu sync.RWMutex

	configPath string
	config     *config.Config
	eventBus   events.EventBus
	store      *store.Store
	supervisor *supervisor.Supervisor
	controller *Controller
	proxy      *proxyclient.Client
	syncer     *routesync.Syncer
	appWatcher *watcher.AppWatcher
	apiServer  *api.Server

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
}

// New creates a new App instance.
func New(opts Options) (*App, error) {
	app := &App{
		configPath: opts.ConfigPath,
		done:       make(chan struct{}),
	}

	// Load configuration
	var cfg *config.Config
	if opts.ConfigPath != "" {
		loader := config.NewLoader()
		loaded, err := loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}
	app.config = cfg

	// Override host/port if specified
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}

	// Initialize event bus
	app.eventBus = events.NewMemoryEventBus(events.MemoryBusConfig{
		HistoryMaxEvents: cfg.Events.History.MaxEvents,
		HistoryMaxAge:    config.ParseDuration(cfg.Events.History.MaxAge, time.Hour),
	})

	return app, nil
}

// Initialize sets up all components.
func (app *App) Initialize(ctx context.Context) error {
	cfg := app.config

	// Open the app registry
	st, err := store.Open(cfg.Registry.Path)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	app.store = st
	log.Printf("App registry: %s", cfg.Registry.Path)

	// Initialize the supervisor
	app.supervisor = supervisor.New(app.eventBus, supervisor.Config{
		Allocator: &ports.Allocator{
			Min:         cfg.Ports.Min,
			Max:         cfg.Ports.Max,
			MaxAttempts: cfg.Ports.MaxAttempts,
		},
		LogBufferSize: cfg.Logs.BufferSize,
		StopTimeout:   config.ParseDuration(cfg.Logs.StopTimeout, 10*time.Second),
	})

	app.controller = NewController(st, app.supervisor)

	// Initialize the proxy admin client and route syncer
	app.proxy = proxyclient.New(proxyclient.Config{
		AdminURL:    cfg.Proxy.AdminURL,
		Domain:      cfg.Proxy.Domain,
		ProcessName: cfg.Proxy.ProcessName,
		Timeout:     config.ParseDuration(cfg.Proxy.Timeout, 5*time.Second),
	})
	app.syncer = routesync.New(app.proxy, app.supervisor, app.eventBus, routesync.Config{
		CallTimeout: config.ParseDuration(cfg.Proxy.Timeout, 5*time.Second),
	})

	// Initialize the file watcher
	debounce := config.ParseDuration(cfg.Watch.Debounce, 200*time.Millisecond)
	aw, err := watcher.New(app.eventBus, debounce)
	if err != nil {
		log.Printf("Warning: failed to create file watcher: %v", err)
	} else {
		app.appWatcher = aw
	}

	// Watches follow the process lifecycle: set up on start, torn down on
	// stop. Restart republishes started, which re-establishes the watch.
	if app.appWatcher != nil {
		app.eventBus.Subscribe(events.EventAppStarted, func(ctx context.Context, event events.Event) error {
			id, ok := event.Payload["id"].(string)
			if !ok {
				return nil
			}
			appDef, err := app.store.Get(id)
			if err != nil || len(appDef.WatchPaths) == 0 {
				return nil
			}
			if err := app.appWatcher.Watch(id, appDef.WatchPaths); err != nil {
				log.Printf("Warning: failed to watch files for %s: %v", appDef.Name, err)
			}
			return nil
		})

		app.eventBus.Subscribe(events.EventAppStopped, func(ctx context.Context, event events.Event) error {
			if id, ok := event.Payload["id"].(string); ok {
				app.appWatcher.Unwatch(id)
			}
			return nil
		})
	}

	// Subscribe to file change events for auto-restart
	app.eventBus.Subscribe(events.EventFilesChanged, func(ctx context.Context, event events.Event) error {
		id, ok := event.Payload["id"].(string)
		if !ok {
			return nil
		}
		path, _ := event.Payload["path"].(string)
		log.Printf("Files changed for app %s (%s), restarting...", id, path)
		// Restart must outlive the event dispatch context.
		if _, err := app.controller.RestartApp(context.Background(), id); err != nil {
			log.Printf("Warning: failed to restart app %s: %v", id, err)
		}
		return nil
	})

	// Initialize API server
	app.apiServer = api.NewServer(
		api.ServerConfig{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			TLSCert:      cfg.Server.TLSCert,
			TLSKey:       cfg.Server.TLSKey,
			TLSTailscale: cfg.Server.TLSTailscale,
		},
		api.Dependencies{
			Store:      app.store,
			Supervisor: app.supervisor,
			Controller: app.controller,
			Syncer:     app.syncer,
			Proxy:      app.proxy,
			EventBus:   app.eventBus,
		},
	)

	return nil
}

// Start starts all components.
func (app *App) Start(ctx context.Context) error {
	// Wait for the proxy daemon's admin API before registering routes
	result, err := app.proxy.WaitReady(ctx, 5, time.Second)
	switch result {
	case proxyclient.Ready:
		log.Printf("Proxy daemon admin API is up at %s", app.config.Proxy.AdminURL)
		app.eventBus.Publish(ctx, events.Event{Type: events.EventProxyReady})
	case proxyclient.TimedOut:
		log.Printf("Warning: proxy daemon not reachable at %s, routes will not be published until it comes up: %v",
			app.config.Proxy.AdminURL, err)
		app.eventBus.Publish(ctx, events.Event{Type: events.EventProxyUnreachable})
	default:
		return fmt.Errorf("proxy daemon check failed: %w", err)
	}

	// Start route syncing (reconciles on start, then periodically)
	reconcile := config.ParseDuration(app.config.Proxy.Reconcile, 30*time.Second)
	if err := app.syncer.Start(reconcile); err != nil {
		return fmt.Errorf("start route syncer: %w", err)
	}

	// Launch run-on-startup apps
	if err := app.controller.StartupApps(ctx); err != nil {
		log.Printf("Warning: failed to start some apps: %v", err)
	}

	// Start API server in background
	go func() {
		if err := app.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("API server error: %v", err)
		}
	}()

	return nil
}

// Run starts the app and blocks until shutdown.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}

	if err := app.Start(ctx); err != nil {
		return err
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case <-ctx.Done():
		log.Printf("Context cancelled, shutting down...")
	case <-app.done:
		log.Printf("Shutdown requested...")
	}

	return app.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components.
func (app *App) Shutdown(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop API server first to stop accepting new requests
	if app.apiServer != nil {
		if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down API server: %v", err)
		}
	}

	// Stop all apps; their stop events deregister the proxy routes
	if app.supervisor != nil {
		if err := app.supervisor.StopAll(shutdownCtx); err != nil {
			log.Printf("Error stopping apps: %v", err)
		}
	}

	// Stop the route syncer and clear anything still registered
	if app.syncer != nil {
		app.syncer.TeardownAll(shutdownCtx)
		app.syncer.Stop()
	}

	// Stop the file watcher
	if app.appWatcher != nil {
		app.appWatcher.Close()
	}

	// Close the registry
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			log.Printf("Error closing registry: %v", err)
		}
	}

	// Close event bus
	if app.eventBus != nil {
		app.eventBus.Close()
	}

	log.Println("Shutdown complete")
	return nil
}

// Stop signals the app to shut down. Safe to call multiple times.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}
