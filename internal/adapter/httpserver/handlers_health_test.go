package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/marketpulse/internal/broadcast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthOK(_ context.Context) error { return nil }

func healthErr(msg string) func(context.Context) error {
	return func(_ context.Context) error { return errors.New(msg) }
}

func getHealth(t *testing.T, srv *Server, handler func(*Server) echo.HandlerFunc, path string) (int, healthResponse) {
	t.Helper()

	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, path, nil), rec)
	require.NoError(t, handler(srv)(c))

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func startup(s *Server) echo.HandlerFunc { return s.handleStartup }
func readiness(s *Server) echo.HandlerFunc { return s.handleReadiness }

func TestHealthEndpoints(t *testing.T) {
	tests := []struct {
		name       string
		checks     []HealthCheck
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checks",
			wantCode:   http.StatusOK,
			wantStatus: "ready",
		},
		{
			name: "all healthy",
			checks: []HealthCheck{
				{Name: "postgres", Check: healthOK},
				{Name: "redis", Check: healthOK},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ready",
			wantChecks: map[string]string{"postgres": "ok", "redis": "ok"},
		},
		{
			name: "redis down",
			checks: []HealthCheck{
				{Name: "postgres", Check: healthOK},
				{Name: "redis", Check: healthErr("connection refused")},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
			wantChecks: map[string]string{"postgres": "ok", "redis": "connection refused"},
		},
		{
			name: "every failure reported",
			checks: []HealthCheck{
				{Name: "postgres", Check: healthErr("schema version 2 behind 4")},
				{Name: "redis", Check: healthErr("connection refused")},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
			wantChecks: map[string]string{"postgres": "schema version 2 behind 4", "redis": "connection refused"},
		},
	}

	for _, tt := range tests {
		for _, p := range []struct {
			name    string
			handler func(*Server) echo.HandlerFunc
		}{{"startup", startup}, {"readiness", readiness}} {
			t.Run(tt.name+"/"+p.name, func(t *testing.T) {
				srv := newTestServer(t, withHealthChecks(tt.checks...))

				code, resp := getHealth(t, srv, p.handler, "/health/"+p.name)

				assert.Equal(t, tt.wantCode, code)
				assert.Equal(t, tt.wantStatus, resp.Status)
				assert.Equal(t, tt.wantChecks, resp.Checks)
			})
		}
	}
}

func TestHandleReadiness_Draining(t *testing.T) {
	called := false
	srv := newTestServer(t, withHealthChecks(HealthCheck{Name: "postgres", Check: func(context.Context) error {
		called = true
		return nil
	}}))
	srv.MarkDraining()

	code, resp := getHealth(t, srv, readiness, "/health/ready")

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "draining", resp.Status)
	assert.False(t, called, "checks are skipped while draining")

	code, _ = getHealth(t, srv, startup, "/health/startup")
	assert.Equal(t, http.StatusOK, code, "startup check is unaffected")
}

func TestHandleLiveness(t *testing.T) {
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/health/live", nil), rec)

	srv := newTestServer(t, withRegistry(&fakeRegistry{stats: broadcast.Stats{TotalConnections: 7}}))
	require.NoError(t, srv.handleLiveness(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","uptime":0,"connections":7}`, rec.Body.String())
}

func TestHandleVersion(t *testing.T) {
	rec := serve(newTestServer(t), httptest.NewRequest(http.MethodGet, "/version", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	for _, key := range []string{"version", "commit", "build_time", "go_version"} {
		assert.Contains(t, body, key)
	}
}
