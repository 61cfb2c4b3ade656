// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/localdock/internal/events"
	"github.com/wingedpig/localdock/internal/proxyclient"
	"github.com/wingedpig/localdock/internal/routesync"
	"github.com/wingedpig/localdock/internal/store"
	"github.com/wingedpig/localdock/internal/supervisor"
)

// Mock implementations

type mockSupervisor struct {
	running  map[string]supervisor.Status
	specs    []supervisor.AppSpec
	logLines map[string][]supervisor.LogLine
}

func newMockSupervisor() *mockSupervisor {
	return &mockSupervisor{
		running:  make(map[string]supervisor.Status),
		logLines: make(map[string][]supervisor.LogLine),
	}
}

func (m *mockSupervisor) Start(ctx context.Context, spec supervisor.AppSpec) (int, error) {
	if _, ok := m.running[spec.ID]; ok {
		return 0, supervisor.ErrAlreadyRunning
	}
	m.running[spec.ID] = supervisor.Status{State: supervisor.StateRunning, PID: 4242, Port: spec.Port}
	return spec.Port, nil
}

func (m *mockSupervisor) Stop(ctx context.Context, id string) error {
	if _, ok := m.running[id]; !ok {
		return supervisor.ErrNotRunning
	}
	delete(m.running, id)
	return nil
}

func (m *mockSupervisor) Restart(ctx context.Context, id string) (int, error) {
	st, ok := m.running[id]
	if !ok {
		return 0, supervisor.ErrNotRunning
	}
	return st.Port, nil
}

func (m *mockSupervisor) List() map[string]int {
	out := make(map[string]int, len(m.running))
	for id, st := range m.running {
		out[id] = st.Port
	}
	return out
}

func (m *mockSupervisor) Status(id string) (supervisor.Status, bool) {
	st, ok := m.running[id]
	return st, ok
}

func (m *mockSupervisor) Specs() []supervisor.AppSpec {
	return m.specs
}

func (m *mockSupervisor) Logs(id string, n int) ([]supervisor.LogLine, error) {
	if _, ok := m.running[id]; !ok {
		return nil, supervisor.ErrNotRunning
	}
	lines := m.logLines[id]
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

func (m *mockSupervisor) SubscribeLogs(id string) (chan supervisor.LogLine, error) {
	if _, ok := m.running[id]; !ok {
		return nil, supervisor.ErrNotRunning
	}
	return make(chan supervisor.LogLine, 100), nil
}

func (m *mockSupervisor) UnsubscribeLogs(id string, ch chan supervisor.LogLine) {}

func (m *mockSupervisor) StopAll(ctx context.Context) error {
	m.running = make(map[string]supervisor.Status)
	return nil
}

// mockController drives the mock supervisor from app definitions the way the
// real controller does.
type mockController struct {
	store *store.Store
	sup   *mockSupervisor
}

func (c *mockController) StartApp(ctx context.Context, id string) (int, error) {
	app, err := c.store.Get(id)
	if err != nil {
		return 0, err
	}
	port := 10001
	if app.Port != nil {
		port = *app.Port
	}
	return c.sup.Start(ctx, supervisor.AppSpec{ID: app.ID, Name: app.Name, Port: port})
}

func (c *mockController) StopApp(ctx context.Context, id string) error {
	return c.sup.Stop(ctx, id)
}

func (c *mockController) RestartApp(ctx context.Context, id string) (int, error) {
	return c.sup.Restart(ctx, id)
}

type mockEventBus struct {
	events []events.Event
}

func newMockEventBus() *mockEventBus {
	return &mockEventBus{
		events: []events.Event{
			{ID: "1", Type: "app.started", Timestamp: time.Now()},
			{ID: "2", Type: "app.stopped", Timestamp: time.Now()},
		},
	}
}

func (m *mockEventBus) Publish(ctx context.Context, event events.Event) error {
	m.events = append(m.events, event)
	return nil
}

func (m *mockEventBus) Subscribe(pattern string, handler events.EventHandler) (events.SubscriptionID, error) {
	return "sub-1", nil
}

func (m *mockEventBus) SubscribeAsync(pattern string, handler events.EventHandler, bufferSize int) (events.SubscriptionID, error) {
	return "sub-1", nil
}

func (m *mockEventBus) Unsubscribe(id events.SubscriptionID) error {
	return nil
}

func (m *mockEventBus) History(filter events.EventFilter) ([]events.Event, error) {
	return m.events, nil
}

func (m *mockEventBus) Close() error {
	return nil
}

// Test fixtures

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "apps.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestApp(t *testing.T, st *store.Store, name string) *store.App {
	t.Helper()
	app := &store.App{Name: name, Path: "/work/" + name, Command: "./run.sh"}
	require.NoError(t, st.Create(app))
	return app
}

func newAppsFixture(t *testing.T) (*AppsHandler, *store.Store, *mockSupervisor) {
	t.Helper()
	st := newTestStore(t)
	sup := newMockSupervisor()
	h := NewAppsHandler(st, sup, &mockController{store: st, sup: sup})
	return h, st, sup
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// Tests

func TestAppsHandler_List(t *testing.T) {
	h, st, sup := newAppsFixture(t)
	app := newTestApp(t, st, "web")
	newTestApp(t, st, "api")
	sup.running[app.ID] = supervisor.Status{State: supervisor.StateRunning, PID: 99, Port: 10005}

	req := httptest.NewRequest("GET", "/api/v1/apps", nil)
	rec := httptest.NewRecorder()

	h.List(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Data)

	raw, _ := json.Marshal(resp.Data)
	var infos []AppInfo
	require.NoError(t, json.Unmarshal(raw, &infos))
	require.Len(t, infos, 2)
}

func TestAppsHandler_Get(t *testing.T) {
	h, st, _ := newAppsFixture(t)
	app := newTestApp(t, st, "web")

	req := httptest.NewRequest("GET", "/api/v1/apps/"+app.ID, nil)
	req = mux.SetURLVars(req, map[string]string{"id": app.ID})
	rec := httptest.NewRecorder()

	h.Get(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAppsHandler_Get_NotFound(t *testing.T) {
	h, _, _ := newAppsFixture(t)

	req := httptest.NewRequest("GET", "/api/v1/apps/nope", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "nope"})
	rec := httptest.NewRecorder()

	h.Get(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrNotFound, resp.Error.Code)
}

func TestAppsHandler_Create(t *testing.T) {
	h, st, _ := newAppsFixture(t)

	body := `{"name": "My App", "path": "/work/myapp", "command": "npm start"}`
	req := httptest.NewRequest("POST", "/api/v1/apps", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	app, err := st.GetByName("My App")
	require.NoError(t, err)
	assert.Equal(t, "my-app", app.HostLabel())
}

func TestAppsHandler_Create_MissingFields(t *testing.T) {
	h, _, _ := newAppsFixture(t)

	req := httptest.NewRequest("POST", "/api/v1/apps", bytes.NewBufferString(`{"name": "x"}`))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAppsHandler_Update(t *testing.T) {
	h, st, _ := newAppsFixture(t)
	app := newTestApp(t, st, "web")

	body := `{"name": "web", "path": "/work/web", "command": "make serve"}`
	req := httptest.NewRequest("PUT", "/api/v1/apps/"+app.ID, bytes.NewBufferString(body))
	req = mux.SetURLVars(req, map[string]string{"id": app.ID})
	rec := httptest.NewRecorder()

	h.Update(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	updated, err := st.Get(app.ID)
	require.NoError(t, err)
	assert.Equal(t, "make serve", updated.Command)
}

func TestAppsHandler_Delete_StopsRunning(t *testing.T) {
	h, st, sup := newAppsFixture(t)
	app := newTestApp(t, st, "web")
	sup.running[app.ID] = supervisor.Status{State: supervisor.StateRunning, Port: 10001}

	req := httptest.NewRequest("DELETE", "/api/v1/apps/"+app.ID, nil)
	req = mux.SetURLVars(req, map[string]string{"id": app.ID})
	rec := httptest.NewRecorder()

	h.Delete(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	_, ok := sup.running[app.ID]
	assert.False(t, ok)
	_, err := st.Get(app.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAppsHandler_Start(t *testing.T) {
	h, st, _ := newAppsFixture(t)
	app := newTestApp(t, st, "web")

	req := httptest.NewRequest("POST", "/api/v1/apps/"+app.ID+"/start", nil)
	req = mux.SetURLVars(req, map[string]string{"id": app.ID})
	rec := httptest.NewRecorder()

	h.Start(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAppsHandler_Start_AlreadyRunning(t *testing.T) {
	h, st, sup := newAppsFixture(t)
	app := newTestApp(t, st, "web")
	sup.running[app.ID] = supervisor.Status{State: supervisor.StateRunning, Port: 10001}

	req := httptest.NewRequest("POST", "/api/v1/apps/"+app.ID+"/start", nil)
	req = mux.SetURLVars(req, map[string]string{"id": app.ID})
	rec := httptest.NewRecorder()

	h.Start(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrConflict, resp.Error.Code)
}

func TestAppsHandler_Start_NotFound(t *testing.T) {
	h, _, _ := newAppsFixture(t)

	req := httptest.NewRequest("POST", "/api/v1/apps/nope/start", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "nope"})
	rec := httptest.NewRecorder()

	h.Start(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAppsHandler_Stop_NotRunning(t *testing.T) {
	h, st, _ := newAppsFixture(t)
	app := newTestApp(t, st, "web")

	req := httptest.NewRequest("POST", "/api/v1/apps/"+app.ID+"/stop", nil)
	req = mux.SetURLVars(req, map[string]string{"id": app.ID})
	rec := httptest.NewRecorder()

	h.Stop(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAppsHandler_Restart(t *testing.T) {
	h, st, sup := newAppsFixture(t)
	app := newTestApp(t, st, "web")
	sup.running[app.ID] = supervisor.Status{State: supervisor.StateRunning, Port: 10007}

	req := httptest.NewRequest("POST", "/api/v1/apps/"+app.ID+"/restart", nil)
	req = mux.SetURLVars(req, map[string]string{"id": app.ID})
	rec := httptest.NewRecorder()

	h.Restart(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAppsHandler_Logs(t *testing.T) {
	h, st, sup := newAppsFixture(t)
	app := newTestApp(t, st, "web")
	sup.running[app.ID] = supervisor.Status{State: supervisor.StateRunning, Port: 10001}
	sup.logLines[app.ID] = []supervisor.LogLine{
		{Stream: "stdout", Text: "listening", Sequence: 1},
		{Stream: "stderr", Text: "warning", Sequence: 2},
	}

	req := httptest.NewRequest("GET", "/api/v1/apps/"+app.ID+"/logs?lines=50", nil)
	req = mux.SetURLVars(req, map[string]string{"id": app.ID})
	rec := httptest.NewRecorder()

	h.Logs(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAppsHandler_Logs_NotRunning(t *testing.T) {
	h, st, _ := newAppsFixture(t)
	app := newTestApp(t, st, "web")

	req := httptest.NewRequest("GET", "/api/v1/apps/"+app.ID+"/logs", nil)
	req = mux.SetURLVars(req, map[string]string{"id": app.ID})
	rec := httptest.NewRecorder()

	h.Logs(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAppsHandler_Running(t *testing.T) {
	h, _, sup := newAppsFixture(t)
	sup.running["a1"] = supervisor.Status{State: supervisor.StateRunning, Port: 10001}

	req := httptest.NewRequest("GET", "/api/v1/running", nil)
	rec := httptest.NewRecorder()

	h.Running(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse(t, rec)
	raw, _ := json.Marshal(resp.Data)
	var running map[string]int
	require.NoError(t, json.Unmarshal(raw, &running))
	assert.Equal(t, 10001, running["a1"])
}

func TestEventHandler_History(t *testing.T) {
	handler := NewEventHandler(newMockEventBus())

	req := httptest.NewRequest("GET", "/api/v1/events?limit=10", nil)
	rec := httptest.NewRecorder()

	handler.History(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.NotNil(t, resp.Data)
}

// Routes handler fixtures

type stubRouteClient struct {
	routes map[string]int
}

func (c *stubRouteClient) AddRoute(ctx context.Context, label string, port int) error {
	if c.routes == nil {
		c.routes = make(map[string]int)
	}
	c.routes[label] = port
	return nil
}

func (c *stubRouteClient) RemoveRoute(ctx context.Context, label string) error {
	delete(c.routes, label)
	return nil
}

func newRoutesFixture(t *testing.T) (*RoutesHandler, *store.Store, *mockSupervisor, *routesync.Syncer) {
	t.Helper()
	st := newTestStore(t)
	sup := newMockSupervisor()
	bus := events.NewMemoryEventBus(events.MemoryBusConfig{})
	t.Cleanup(func() { bus.Close() })

	syncer := routesync.New(&stubRouteClient{}, sup, bus, routesync.Config{})
	proxy := proxyclient.New(proxyclient.Config{})
	h := NewRoutesHandler(st, sup, syncer, proxy)
	return h, st, sup, syncer
}

func TestRoutesHandler_List(t *testing.T) {
	h, _, sup, syncer := newRoutesFixture(t)
	sup.running["a1"] = supervisor.Status{State: supervisor.StateRunning, Port: 10001}
	sup.specs = []supervisor.AppSpec{{ID: "a1", Port: 10001, HostLabel: "web"}}
	syncer.Reconcile(context.Background())

	req := httptest.NewRequest("GET", "/api/v1/routes", nil)
	rec := httptest.NewRecorder()

	h.List(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse(t, rec)
	raw, _ := json.Marshal(resp.Data)
	var routes []RouteInfo
	require.NoError(t, json.Unmarshal(raw, &routes))
	require.Len(t, routes, 1)
	assert.Equal(t, "web", routes[0].Label)
	assert.Equal(t, 10001, routes[0].Port)
	assert.Equal(t, "http://web.local", routes[0].URL)
}

func TestRoutesHandler_Set(t *testing.T) {
	h, st, _, _ := newRoutesFixture(t)
	app := newTestApp(t, st, "web")

	body := `{"subdomain": "My Frontend"}`
	req := httptest.NewRequest("POST", "/api/v1/apps/"+app.ID+"/route", bytes.NewBufferString(body))
	req = mux.SetURLVars(req, map[string]string{"id": app.ID})
	rec := httptest.NewRecorder()

	h.Set(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	updated, err := st.Get(app.ID)
	require.NoError(t, err)
	assert.Equal(t, "my-frontend", updated.HostLabel())
}

func TestRoutesHandler_Set_InvalidSubdomain(t *testing.T) {
	h, st, _, _ := newRoutesFixture(t)
	app := newTestApp(t, st, "web")

	req := httptest.NewRequest("POST", "/api/v1/apps/"+app.ID+"/route", bytes.NewBufferString(`{"subdomain": "___"}`))
	req = mux.SetURLVars(req, map[string]string{"id": app.ID})
	rec := httptest.NewRecorder()

	h.Set(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoutesHandler_Clear(t *testing.T) {
	h, st, _, _ := newRoutesFixture(t)
	app := newTestApp(t, st, "web")

	req := httptest.NewRequest("DELETE", "/api/v1/apps/"+app.ID+"/route", nil)
	req = mux.SetURLVars(req, map[string]string{"id": app.ID})
	rec := httptest.NewRecorder()

	h.Clear(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	updated, err := st.Get(app.ID)
	require.NoError(t, err)
	assert.Empty(t, updated.HostLabel())
}

func TestRoutesHandler_Reconcile(t *testing.T) {
	h, _, sup, _ := newRoutesFixture(t)
	sup.specs = []supervisor.AppSpec{{ID: "a1", Port: 10001, HostLabel: "web"}}

	req := httptest.NewRequest("POST", "/api/v1/routes/reconcile", nil)
	rec := httptest.NewRecorder()

	h.Reconcile(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
