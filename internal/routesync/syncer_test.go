// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package routesync

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/localdock/internal/events"
	"github.com/wingedpig/localdock/internal/proxyclient"
	"github.com/wingedpig/localdock/internal/supervisor"
)

// fakeProxy counts admin calls and can be told to fail specific labels.
type fakeProxy struct {
	mu          sync.Mutex
	routes      map[string]int
	addCalls    map[string]int
	removeCalls map[string]int
	failAdd     map[string]error
	failRemove  map[string]error
}

func newFakeProxy() *fakeProxy {
	return &fakeProxy{
		routes:      map[string]int{},
		addCalls:    map[string]int{},
		removeCalls: map[string]int{},
		failAdd:     map[string]error{},
		failRemove:  map[string]error{},
	}
}

func (f *fakeProxy) AddRoute(ctx context.Context, label string, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls[label]++
	if err, ok := f.failAdd[label]; ok {
		return err
	}
	f.routes[label] = port
	return nil
}

func (f *fakeProxy) RemoveRoute(ctx context.Context, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeCalls[label]++
	if err, ok := f.failRemove[label]; ok {
		return err
	}
	if _, ok := f.routes[label]; !ok {
		return &proxyclient.ProxyError{StatusCode: http.StatusNotFound, Message: "no such route"}
	}
	delete(f.routes, label)
	return nil
}

func (f *fakeProxy) adds(label string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addCalls[label]
}

func (f *fakeProxy) removes(label string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removeCalls[label]
}

type fakeSpecs struct {
	mu    sync.Mutex
	specs []supervisor.AppSpec
}

func (f *fakeSpecs) Specs() []supervisor.AppSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]supervisor.AppSpec(nil), f.specs...)
}

func newTestBus(t *testing.T) events.EventBus {
	t.Helper()
	bus := events.NewMemoryEventBus(events.MemoryBusConfig{})
	t.Cleanup(func() { bus.Close() })
	return bus
}

// collectEvents records events matching pattern for later assertions.
func collectEvents(t *testing.T, bus events.EventBus, pattern string) func() []events.Event {
	t.Helper()
	var mu sync.Mutex
	var seen []events.Event
	_, err := bus.Subscribe(pattern, func(ctx context.Context, ev events.Event) error {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	return func() []events.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]events.Event(nil), seen...)
	}
}

// The syncer applies lifecycle events on its worker goroutine, so the
// helpers wait for the queue to drain before the test asserts.
func publishStarted(t *testing.T, bus events.EventBus, s *Syncer, id, label string, port int) {
	t.Helper()
	require.NoError(t, bus.Publish(context.Background(), events.Event{
		Type: events.EventAppStarted,
		Payload: map[string]interface{}{
			"id":        id,
			"port":      port,
			"hostLabel": label,
		},
	}))
	s.inFlight.Wait()
}

func publishStopped(t *testing.T, bus events.EventBus, s *Syncer, id string) {
	t.Helper()
	require.NoError(t, bus.Publish(context.Background(), events.Event{
		Type: events.EventAppStopped,
		Payload: map[string]interface{}{
			"id":       id,
			"exitCode": 0,
			"crashed":  false,
		},
	}))
	s.inFlight.Wait()
}

func TestSyncer_AddsRouteOnStarted(t *testing.T) {
	bus := newTestBus(t)
	proxy := newFakeProxy()
	syncer := New(proxy, &fakeSpecs{}, bus, Config{})
	require.NoError(t, syncer.Start(0))
	defer syncer.Stop()

	added := collectEvents(t, bus, events.EventRouteAdded)

	publishStarted(t, bus, syncer,"a1", "demo", 12345)

	assert.Equal(t, 1, proxy.adds("demo"))
	assert.Equal(t, map[string]int{"demo": 12345}, proxy.routes)
	assert.Equal(t, map[string]string{"a1": "demo"}, syncer.Routes())
	require.Len(t, added(), 1)
	assert.Equal(t, "a1", added()[0].Payload["id"])
}

func TestSyncer_IgnoresUnlabeledStart(t *testing.T) {
	bus := newTestBus(t)
	proxy := newFakeProxy()
	syncer := New(proxy, &fakeSpecs{}, bus, Config{})
	require.NoError(t, syncer.Start(0))
	defer syncer.Stop()

	publishStarted(t, bus, syncer,"a1", "", 12345)

	assert.Empty(t, proxy.addCalls)
	assert.Empty(t, syncer.Routes())
}

func TestSyncer_RemovesRouteExactlyOnceOnStopped(t *testing.T) {
	bus := newTestBus(t)
	proxy := newFakeProxy()
	syncer := New(proxy, &fakeSpecs{}, bus, Config{})
	require.NoError(t, syncer.Start(0))
	defer syncer.Stop()

	publishStarted(t, bus, syncer,"a1", "demo", 12345)
	publishStopped(t, bus, syncer,"a1")
	// A second stopped event for the same app must not trigger another
	// remove. Nothing is tracked for a1 anymore.
	publishStopped(t, bus, syncer,"a1")

	assert.Equal(t, 1, proxy.removes("demo"))
	assert.Empty(t, proxy.routes)
	assert.Empty(t, syncer.Routes())
}

func TestSyncer_StoppedWithoutRouteIsNoop(t *testing.T) {
	bus := newTestBus(t)
	proxy := newFakeProxy()
	proxy.failAdd["demo"] = &proxyclient.ProxyError{StatusCode: http.StatusConflict, Message: "taken"}
	syncer := New(proxy, &fakeSpecs{}, bus, Config{})
	require.NoError(t, syncer.Start(0))
	defer syncer.Stop()

	publishStarted(t, bus, syncer,"a1", "demo", 12345)
	publishStopped(t, bus, syncer,"a1")

	// Registration failed so there is nothing to remove.
	assert.Equal(t, 0, proxy.removes("demo"))
}

func TestSyncer_RemoveToleratesRouteNotFound(t *testing.T) {
	bus := newTestBus(t)
	proxy := newFakeProxy()
	syncer := New(proxy, &fakeSpecs{}, bus, Config{})
	require.NoError(t, syncer.Start(0))
	defer syncer.Stop()

	removed := collectEvents(t, bus, events.EventRouteRemoved)
	errs := collectEvents(t, bus, events.EventRouteError)

	publishStarted(t, bus, syncer,"a1", "demo", 12345)
	// The daemon restarted and lost the route behind our back.
	proxy.mu.Lock()
	delete(proxy.routes, "demo")
	proxy.mu.Unlock()

	publishStopped(t, bus, syncer,"a1")

	assert.Len(t, removed(), 1)
	assert.Empty(t, errs())
	assert.Empty(t, syncer.Routes())
}

func TestSyncer_DuplicateLabelIsNonFatal(t *testing.T) {
	bus := newTestBus(t)
	proxy := newFakeProxy()
	syncer := New(proxy, &fakeSpecs{}, bus, Config{})
	require.NoError(t, syncer.Start(0))
	defer syncer.Stop()

	errs := collectEvents(t, bus, events.EventRouteError)

	publishStarted(t, bus, syncer,"a1", "dup", 10001)
	proxy.mu.Lock()
	proxy.failAdd["dup"] = &proxyclient.ProxyError{StatusCode: http.StatusConflict, Message: "host label already in use"}
	proxy.mu.Unlock()
	publishStarted(t, bus, syncer,"a2", "dup", 10002)

	// The first app keeps its route, the second is reported and skipped.
	assert.Equal(t, map[string]int{"dup": 10001}, proxy.routes)
	assert.Equal(t, map[string]string{"a1": "dup"}, syncer.Routes())
	require.Len(t, errs(), 1)
	assert.Equal(t, "a2", errs()[0].Payload["id"])
}

func TestSyncer_StartupReconciliation(t *testing.T) {
	bus := newTestBus(t)
	proxy := newFakeProxy()
	// Stale entries left over from a previous daemon run.
	proxy.routes["web"] = 9999
	proxy.routes["ghost"] = 8888

	specs := &fakeSpecs{specs: []supervisor.AppSpec{
		{ID: "a1", HostLabel: "web", Port: 10001},
		{ID: "a2", HostLabel: "api", Port: 10002},
		{ID: "a3", Port: 10003}, // no label, no route
	}}

	syncer := New(proxy, specs, bus, Config{})
	require.NoError(t, syncer.Start(0))
	defer syncer.Stop()

	// Exactly one add per labeled running app, stale ports replaced.
	assert.Equal(t, 1, proxy.adds("web"))
	assert.Equal(t, 1, proxy.adds("api"))
	assert.Equal(t, 10001, proxy.routes["web"])
	assert.Equal(t, 10002, proxy.routes["api"])
	assert.Equal(t, map[string]string{"a1": "web", "a2": "api"}, syncer.Routes())
}

func TestSyncer_UpdateLabelChange(t *testing.T) {
	bus := newTestBus(t)
	proxy := newFakeProxy()
	syncer := New(proxy, &fakeSpecs{}, bus, Config{})
	require.NoError(t, syncer.Start(0))
	defer syncer.Stop()

	publishStarted(t, bus, syncer,"a1", "old-name", 12345)

	syncer.UpdateLabel(context.Background(), "a1", "new-name", 12345)

	assert.Equal(t, 1, proxy.removes("old-name"))
	assert.Equal(t, map[string]int{"new-name": 12345}, proxy.routes)
	assert.Equal(t, map[string]string{"a1": "new-name"}, syncer.Routes())
}

func TestSyncer_UpdateLabelCleared(t *testing.T) {
	bus := newTestBus(t)
	proxy := newFakeProxy()
	syncer := New(proxy, &fakeSpecs{}, bus, Config{})
	require.NoError(t, syncer.Start(0))
	defer syncer.Stop()

	publishStarted(t, bus, syncer,"a1", "demo", 12345)

	syncer.UpdateLabel(context.Background(), "a1", "", 12345)

	assert.Equal(t, 1, proxy.removes("demo"))
	assert.Empty(t, proxy.routes)
	assert.Empty(t, syncer.Routes())
}

func TestSyncer_UpdateLabelUnchangedIsNoop(t *testing.T) {
	bus := newTestBus(t)
	proxy := newFakeProxy()
	syncer := New(proxy, &fakeSpecs{}, bus, Config{})
	require.NoError(t, syncer.Start(0))
	defer syncer.Stop()

	publishStarted(t, bus, syncer,"a1", "demo", 12345)

	syncer.UpdateLabel(context.Background(), "a1", "demo", 12345)

	assert.Equal(t, 1, proxy.adds("demo"))
	assert.Equal(t, 0, proxy.removes("demo"))
}

func TestSyncer_UpdateLabelAfterFailedRegistration(t *testing.T) {
	bus := newTestBus(t)
	proxy := newFakeProxy()
	proxy.failAdd["demo"] = &proxyclient.ProxyError{StatusCode: http.StatusConflict, Message: "taken"}
	syncer := New(proxy, &fakeSpecs{}, bus, Config{})
	require.NoError(t, syncer.Start(0))
	defer syncer.Stop()

	publishStarted(t, bus, syncer,"a1", "demo", 12345)
	require.Empty(t, syncer.Routes())

	// No stale remove for a registration that never happened.
	syncer.UpdateLabel(context.Background(), "a1", "demo2", 12345)

	assert.Equal(t, 0, proxy.removes("demo"))
	assert.Equal(t, map[string]int{"demo2": 12345}, proxy.routes)
}

func TestSyncer_TeardownAll(t *testing.T) {
	bus := newTestBus(t)
	proxy := newFakeProxy()
	syncer := New(proxy, &fakeSpecs{}, bus, Config{})
	require.NoError(t, syncer.Start(0))
	defer syncer.Stop()

	publishStarted(t, bus, syncer,"a1", "web", 10001)
	publishStarted(t, bus, syncer,"a2", "api", 10002)

	syncer.TeardownAll(context.Background())

	assert.Empty(t, proxy.routes)
	assert.Empty(t, syncer.Routes())
	assert.Equal(t, 1, proxy.removes("web"))
	assert.Equal(t, 1, proxy.removes("api"))
}

// blockingProxy hangs every call until its context times out.
type blockingProxy struct{}

func (blockingProxy) AddRoute(ctx context.Context, label string, port int) error {
	<-ctx.Done()
	return proxyclient.ErrProxyUnreachable
}

func (blockingProxy) RemoveRoute(ctx context.Context, label string) error {
	<-ctx.Done()
	return proxyclient.ErrProxyUnreachable
}

func TestSyncer_UnresponsiveProxyDoesNotBlockPublish(t *testing.T) {
	bus := newTestBus(t)
	syncer := New(blockingProxy{}, &fakeSpecs{}, bus, Config{CallTimeout: 200 * time.Millisecond})
	require.NoError(t, syncer.Start(0))
	defer syncer.Stop()

	// The proxy call runs on the syncer's worker; publishing the
	// lifecycle event must return without waiting out the call timeout.
	start := time.Now()
	require.NoError(t, bus.Publish(context.Background(), events.Event{
		Type: events.EventAppStarted,
		Payload: map[string]interface{}{
			"id":        "a1",
			"port":      10001,
			"hostLabel": "demo",
		},
	}))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestSyncer_ReconcileRepairsFailedRemove(t *testing.T) {
	bus := newTestBus(t)
	proxy := newFakeProxy()
	syncer := New(proxy, &fakeSpecs{}, bus, Config{})
	require.NoError(t, syncer.Start(0))
	defer syncer.Stop()

	publishStarted(t, bus, syncer, "a1", "demo", 12345)

	// The proxy becomes unreachable just as the app stops, so the stale
	// route stays behind in its table.
	proxy.mu.Lock()
	proxy.failRemove["demo"] = proxyclient.ErrProxyUnreachable
	proxy.mu.Unlock()
	publishStopped(t, bus, syncer, "a1")

	require.Empty(t, syncer.Routes())
	assert.Equal(t, 12345, proxy.routes["demo"])

	// The proxy comes back and the next reconciliation clears the route.
	proxy.mu.Lock()
	delete(proxy.failRemove, "demo")
	proxy.mu.Unlock()
	syncer.Reconcile(context.Background())

	assert.NotContains(t, proxy.routes, "demo")

	// The repair is one-shot; a further reconcile does not remove again.
	removes := proxy.removes("demo")
	syncer.Reconcile(context.Background())
	assert.Equal(t, removes, proxy.removes("demo"))
}

func TestSyncer_PeriodicReconcile(t *testing.T) {
	bus := newTestBus(t)
	proxy := newFakeProxy()
	specs := &fakeSpecs{specs: []supervisor.AppSpec{
		{ID: "a1", HostLabel: "web", Port: 10001},
	}}

	syncer := New(proxy, specs, bus, Config{})
	require.NoError(t, syncer.Start(20 * time.Millisecond))
	defer syncer.Stop()

	// The daemon restarts and forgets the route; the ticker repairs it.
	proxy.mu.Lock()
	delete(proxy.routes, "web")
	proxy.mu.Unlock()

	assert.Eventually(t, func() bool {
		proxy.mu.Lock()
		defer proxy.mu.Unlock()
		return proxy.routes["web"] == 10001
	}, 2*time.Second, 10*time.Millisecond)
}
