package router

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltixdb/morgoth/internal/config"
	"github.com/soltixdb/morgoth/internal/handlers"
	"github.com/soltixdb/morgoth/internal/logging"
	"github.com/soltixdb/morgoth/internal/metric"
	"github.com/soltixdb/morgoth/internal/models"
	"github.com/soltixdb/morgoth/internal/sink"
	"github.com/soltixdb/morgoth/internal/telemetry"
)

var apiKey = strings.Repeat("a", 40)

func newTestApp(t *testing.T, authEnabled bool) (*fiber.App, *metric.Manager) {
	t.Helper()
	logger := logging.NewNop()

	manager, err := metric.NewManager(nil, logger)
	require.NoError(t, err)
	tm := telemetry.New()
	manager.SetTelemetry(tm)

	cfg := config.DefaultConfig()
	cfg.Auth = config.AuthConfig{Enabled: authEnabled, APIKeys: []string{apiKey}}

	app := New(logger, handlers.Deps{
		Metrics:  manager,
		Verdicts: sink.NewLatestStore(),
	}, *cfg, tm.Handler())
	return app, manager
}

func TestRouter_HealthAndMetricsAreOpen(t *testing.T) {
	app, _ := newTestApp(t, true)

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "morgoth_tracked_metrics")
}

func TestRouter_V1RequiresKey(t *testing.T) {
	app, manager := newTestApp(t, true)

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest("POST", "/v1/metrics", strings.NewReader(`{"metric":"cpu.user"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.True(t, manager.Has("cpu.user"))

	req = httptest.NewRequest("GET", "/admin/scheduler", nil)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	resp, err = app.Test(req)
	require.NoError(t, err)
	// no scheduler wired in this app
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestRouter_UntrackThroughManager(t *testing.T) {
	app, manager := newTestApp(t, false)
	_, err := manager.Add("mem.free")
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest("DELETE", "/v1/metrics/mem.free", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.False(t, manager.Has("mem.free"))

	resp, err = app.Test(httptest.NewRequest("DELETE", "/v1/metrics/mem.free", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestRouter_NotFound(t *testing.T) {
	app, _ := newTestApp(t, false)

	resp, err := app.Test(httptest.NewRequest("GET", "/v2/anything", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	var body models.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
}
