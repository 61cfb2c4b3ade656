// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package routesync keeps the proxy daemon's route table in sync with
// the set of running apps. The proxy is an independently restartable
// peer, so the invariant is best-effort: failures degrade to "app
// running without a route" and are repaired by reconciliation.
package routesync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/wingedpig/localdock/internal/events"
	"github.com/wingedpig/localdock/internal/proxyclient"
	"github.com/wingedpig/localdock/internal/supervisor"
)

// RouteClient is the slice of the proxy admin client the syncer uses.
type RouteClient interface {
	AddRoute(ctx context.Context, label string, port int) error
	RemoveRoute(ctx context.Context, label string) error
}

// SpecLister reports the specs of currently running apps. The
// supervisor is the single source of truth for the running set.
type SpecLister interface {
	Specs() []supervisor.AppSpec
}

// Syncer subscribes to app lifecycle events and mirrors labeled running
// apps into the proxy's route table.
type Syncer struct {
	proxy   RouteClient
	sup     SpecLister
	bus     events.EventBus
	timeout time.Duration

	mu             sync.Mutex
	tracked        map[string]trackedRoute // appID -> registered route
	pendingRemoval map[string]struct{}     // labels whose remove failed, retried by Reconcile

	subs     []events.SubscriptionID
	queue    chan events.Event
	inFlight sync.WaitGroup
	stopTick chan struct{}
	workers  sync.WaitGroup
}

type trackedRoute struct {
	label string
	port  int
}

// Config for the syncer.
type Config struct {
	CallTimeout time.Duration // Per proxy call; default 5s
}

// New creates a syncer. Call Start to begin listening for events.
func New(proxy RouteClient, sup SpecLister, bus events.EventBus, cfg Config) *Syncer {
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	return &Syncer{
		proxy:          proxy,
		sup:            sup,
		bus:            bus,
		timeout:        cfg.CallTimeout,
		tracked:        make(map[string]trackedRoute),
		pendingRemoval: make(map[string]struct{}),
		queue:          make(chan events.Event, 256),
		stopTick:       make(chan struct{}),
	}
}

// Start subscribes to lifecycle events, performs an initial
// reconciliation, and begins periodic reconciliation when an interval
// was configured.
func (s *Syncer) Start(reconcileEvery time.Duration) error {
	startedSub, err := s.bus.Subscribe(events.EventAppStarted, s.enqueue)
	if err != nil {
		return fmt.Errorf("subscribe started: %w", err)
	}
	s.subs = append(s.subs, startedSub)

	stoppedSub, err := s.bus.Subscribe(events.EventAppStopped, s.enqueue)
	if err != nil {
		return fmt.Errorf("subscribe stopped: %w", err)
	}
	s.subs = append(s.subs, stoppedSub)

	s.workers.Add(1)
	go s.worker()

	s.Reconcile(context.Background())

	if reconcileEvery > 0 {
		s.workers.Add(1)
		go s.reconcileLoop(reconcileEvery)
	}
	return nil
}

// Stop unsubscribes, drains queued lifecycle events, and halts periodic
// reconciliation. Registered routes are left in place; TeardownAll
// removes them explicitly.
func (s *Syncer) Stop() {
	for _, id := range s.subs {
		s.bus.Unsubscribe(id)
	}
	s.subs = nil
	close(s.stopTick)
	s.workers.Wait()
}

// enqueue hands a lifecycle event to the worker. The proxy call happens
// off the publisher's goroutine so a slow or unreachable proxy never
// blocks a process start or stop from completing.
func (s *Syncer) enqueue(ctx context.Context, ev events.Event) error {
	s.inFlight.Add(1)
	select {
	case s.queue <- ev:
	default:
		s.inFlight.Done()
		log.Printf("Route sync queue full, dropped %s for %v", ev.Type, ev.Payload["id"])
	}
	return nil
}

// worker applies queued events one at a time, preserving the per-app
// started-then-stopped order the bus delivered them in.
func (s *Syncer) worker() {
	defer s.workers.Done()
	for {
		select {
		case ev := <-s.queue:
			s.apply(ev)
		case <-s.stopTick:
			// Drain what was queued before Stop unsubscribed.
			for {
				select {
				case ev := <-s.queue:
					s.apply(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *Syncer) apply(ev events.Event) {
	defer s.inFlight.Done()

	id, _ := ev.Payload["id"].(string)
	if id == "" {
		return
	}

	switch ev.Type {
	case events.EventAppStarted:
		label, _ := ev.Payload["hostLabel"].(string)
		port := payloadInt(ev.Payload["port"])
		if label == "" || port == 0 {
			return
		}
		s.register(context.Background(), id, label, port)
	case events.EventAppStopped:
		s.deregister(context.Background(), id)
	}
}

func (s *Syncer) reconcileLoop(interval time.Duration) {
	defer s.workers.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopTick:
			return
		case <-ticker.C:
			s.Reconcile(context.Background())
		}
	}
}

// register adds a route for a running app. Failure leaves the app
// running without a route and emits a route.error event.
func (s *Syncer) register(ctx context.Context, id, label string, port int) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.proxy.AddRoute(callCtx, label, port); err != nil {
		s.reportError(id, label, "add", err)
		return
	}

	s.mu.Lock()
	s.tracked[id] = trackedRoute{label: label, port: port}
	// The label is wanted again; cancel any repair queued for it.
	delete(s.pendingRemoval, label)
	s.mu.Unlock()

	s.publish(events.EventRouteAdded, map[string]interface{}{
		"id":    id,
		"label": label,
		"port":  port,
	})
}

// deregister removes the route registered for id, if any. A route the
// proxy no longer has counts as removed. A failed remove leaves a dead
// process's route in the proxy, so the label is queued for Reconcile to
// retry until it is gone.
func (s *Syncer) deregister(ctx context.Context, id string) {
	s.mu.Lock()
	route, ok := s.tracked[id]
	if ok {
		delete(s.tracked, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.proxy.RemoveRoute(callCtx, route.label); err != nil && !proxyclient.IsNotFound(err) {
		s.mu.Lock()
		s.pendingRemoval[route.label] = struct{}{}
		s.mu.Unlock()
		s.reportError(id, route.label, "remove", err)
		return
	}

	s.publish(events.EventRouteRemoved, map[string]interface{}{
		"id":    id,
		"label": route.label,
	})
}

// UpdateLabel handles host-label reconfiguration for a running app.
// A changed label removes the old route before adding the new one; an
// empty newLabel removes only. port is the app's current port.
func (s *Syncer) UpdateLabel(ctx context.Context, id, newLabel string, port int) {
	s.mu.Lock()
	old, had := s.tracked[id]
	s.mu.Unlock()

	if had && old.label == newLabel {
		return
	}
	if had {
		s.deregister(ctx, id)
	}
	if newLabel != "" {
		s.register(ctx, id, newLabel, port)
	}
}

// Reconcile rebuilds route state from the supervisor's running set.
// The proxy's own table is not trusted: the daemon may have restarted
// and lost its routes, so each labeled running app gets its route
// re-asserted. Any stale route under the same label is cleared first.
func (s *Syncer) Reconcile(ctx context.Context) {
	specs := s.sup.Specs()

	s.mu.Lock()
	s.tracked = make(map[string]trackedRoute, len(specs))
	pending := make([]string, 0, len(s.pendingRemoval))
	for label := range s.pendingRemoval {
		pending = append(pending, label)
	}
	s.mu.Unlock()

	// Retry removes that failed on the stop path, so a dead process's
	// route does not outlive it past the next reconciliation.
	for _, label := range pending {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.proxy.RemoveRoute(callCtx, label)
		cancel()
		if err == nil || proxyclient.IsNotFound(err) {
			s.mu.Lock()
			delete(s.pendingRemoval, label)
			s.mu.Unlock()
		}
	}

	for _, spec := range specs {
		if spec.HostLabel == "" {
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		// Clearing first makes re-assertion win over whatever the
		// daemon still remembers for this label.
		if err := s.proxy.RemoveRoute(callCtx, spec.HostLabel); err != nil && errors.Is(err, proxyclient.ErrProxyUnreachable) {
			cancel()
			s.reportError(spec.ID, spec.HostLabel, "reconcile", err)
			continue
		}
		if err := s.proxy.AddRoute(callCtx, spec.HostLabel, spec.Port); err != nil {
			cancel()
			s.reportError(spec.ID, spec.HostLabel, "reconcile", err)
			continue
		}
		cancel()

		s.mu.Lock()
		s.tracked[spec.ID] = trackedRoute{label: spec.HostLabel, port: spec.Port}
		s.mu.Unlock()
	}
}

// TeardownAll removes every tracked route, for daemon shutdown.
func (s *Syncer) TeardownAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.tracked))
	for id := range s.tracked {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.deregister(ctx, id)
	}
}

// Routes returns the currently tracked routes as appID -> label.
func (s *Syncer) Routes() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.tracked))
	for id, route := range s.tracked {
		out[id] = route.label
	}
	return out
}

func (s *Syncer) reportError(id, label, op string, err error) {
	log.Printf("Route %s failed for %s (%s): %v", op, id, label, err)
	s.publish(events.EventRouteError, map[string]interface{}{
		"id":    id,
		"label": label,
		"op":    op,
		"error": err.Error(),
	})
}

func (s *Syncer) publish(eventType string, payload map[string]interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(context.Background(), events.Event{
		Type:    eventType,
		Payload: payload,
	})
}

// payloadInt reads an int out of an event payload, where numbers may
// arrive as int or, after a JSON round trip, float64.
func payloadInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
