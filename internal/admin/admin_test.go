package admin_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ourisland/litemacro/internal/admin"
	"github.com/ourisland/litemacro/internal/config"
	"github.com/ourisland/litemacro/internal/db"
	"github.com/ourisland/litemacro/internal/host"
	"github.com/ourisland/litemacro/internal/metrics"
	"github.com/ourisland/litemacro/internal/service"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	handler http.Handler
	svc     *service.Service
	host    *host.Host
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.MacrosFile = filepath.Join(dir, config.DefaultMacrosFile)

	database, err := db.OpenInMemory()
	require.NoError(t, err)
	_, err = database.MigrateUp(context.Background())
	require.NoError(t, err)

	h := host.New(host.Config{
		Backends:       map[string]string{"lobby": ""},
		DefaultBackend: "lobby",
		ConsoleOutput:  &bytes.Buffer{},
	})
	require.NoError(t, h.Start(context.Background()))

	m := metrics.New()
	events := db.NewEventRepository(database)
	invocations := db.NewInvocationRepository(database)
	svc, err := service.New(service.Options{
		Config:      cfg,
		Host:        h,
		Events:      events,
		Invocations: invocations,
		Metrics:     m,
	})
	require.NoError(t, err)
	_, err = svc.Load(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = h.Close()
		svc.Close()
		database.Close()
	})

	return &fixture{
		handler: admin.NewHandler(admin.Options{
			Service:     svc,
			Events:      events,
			Invocations: invocations,
			Metrics:     m.Handler(),
		}),
		svc:  svc,
		host: h,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	require.Equal(t, "ok", health["status"])
	require.EqualValues(t, 1, health["generation"])

	rr = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "litemacro_registered_macros")
}

func TestMacros(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/v1/macros", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Generation uint64              `json:"generation"`
		Macros     []service.MacroInfo `json:"macros"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Equal(t, uint64(1), list.Generation)
	require.Len(t, list.Macros, 3)

	rr = f.do(t, http.MethodGet, "/v1/macros/WARP", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var info service.MacroInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	require.Equal(t, "goto", info.Name)

	rr = f.do(t, http.MethodGet, "/v1/macros/nope", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestReload(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/v1/reload", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Generation uint64 `json:"generation"`
		Macros     int    `json:"macros"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, uint64(2), resp.Generation)
	require.Equal(t, 3, resp.Macros)
}

func TestCommandsAndHistory(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/v1/commands", map[string]string{"command": "say hi"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodPost, "/v1/commands", map[string]string{"command": "nothing-here"})
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodPost, "/v1/commands", map[string]string{"command": " "})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	// The console holds every permission, so it may run hello.
	rr = f.do(t, http.MethodPost, "/v1/commands", map[string]string{"command": "/hello"})
	require.Equal(t, http.StatusOK, rr.Code)

	deadline := time.Now().Add(3 * time.Second)
	for f.svc.Completed() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	f.svc.Flush()

	rr = f.do(t, http.MethodGet, "/v1/invocations?macro=HELLO", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var records []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &records))
	require.Len(t, records, 1)
	require.Equal(t, "CONSOLE", records[0]["invoker"])

	rr = f.do(t, http.MethodGet, "/v1/events?type=macro.invoked&limit=10", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var page struct {
		Events []map[string]any `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Events, 1)

	rr = f.do(t, http.MethodGet, "/v1/stats?since=1h", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"macro":"hello"`)

	rr = f.do(t, http.MethodGet, "/v1/stats?since=yesterday", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSessions(t *testing.T) {
	f := newFixture(t)
	_, err := f.host.Connect("Alex")
	require.NoError(t, err)

	rr := f.do(t, http.MethodGet, "/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var sessions []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	require.Equal(t, "Alex", sessions[0]["name"])
	require.Equal(t, "lobby", sessions[0]["backend"])
}
