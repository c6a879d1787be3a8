package admin_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/failgate/failgate/internal/admin"
	"github.com/failgate/failgate/internal/alert"
	"github.com/failgate/failgate/internal/health"
	"github.com/failgate/failgate/internal/metrics"
	"github.com/failgate/failgate/internal/upstream"
)

const testSigningKey = "test-signing-key"

type adminFixture struct {
	server     *httptest.Server
	tracker    *health.Tracker
	window     *metrics.Window
	dispatcher *alert.Dispatcher
	validator  *admin.TokenValidator
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()

	tracker, err := health.NewTracker(health.TrackerConfig{
		MaxFails:    2,
		FailTimeout: time.Minute,
		Logger:      zerolog.Nop(),
	}, []upstream.Target{
		{Pool: "blue", Address: "http://app-blue:8000", Role: upstream.RolePrimary},
		{Pool: "green", Address: "http://app-green:8000", Role: upstream.RoleBackup},
	})
	require.NoError(t, err)

	window := metrics.NewWindow(10)
	dispatcher := alert.NewDispatcher(alert.DispatcherConfig{
		Owner:       "platform-team",
		Environment: "test",
		Logger:      zerolog.Nop(),
	})
	validator := admin.NewTokenValidator(testSigningKey)

	router := admin.NewRouter(admin.RouterConfig{
		Version:    "test",
		BuildTime:  "now",
		Tracker:    tracker,
		Window:     window,
		Dispatcher: dispatcher,
		Validator:  validator,
		Logger:     zerolog.Nop(),
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &adminFixture{
		server:     server,
		tracker:    tracker,
		window:     window,
		dispatcher: dispatcher,
		validator:  validator,
	}
}

func TestAdmin_HealthCheck(t *testing.T) {
	f := newAdminFixture(t)

	resp, err := http.Get(f.server.URL + "/ops/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "ok", payload["status"])
	assert.Equal(t, "test", payload["version"])
}

func TestAdmin_StatusReportsTargetsAndWindow(t *testing.T) {
	f := newAdminFixture(t)

	// Trip the primary and record some outcomes.
	f.tracker.ReportOutcome("blue", false)
	f.tracker.ReportOutcome("blue", false)
	f.window.Record(metrics.Outcome{Pool: "blue", Success: false})
	f.window.Record(metrics.Outcome{Pool: "green", Success: true})
	f.dispatcher.ObservePool("green")

	resp, err := http.Get(f.server.URL + "/ops/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Status      string  `json:"status"`
		ActivePool  string  `json:"activePool"`
		Maintenance bool    `json:"maintenance"`
		Window      struct {
			Size      int     `json:"size"`
			Capacity  int     `json:"capacity"`
			ErrorRate float64 `json:"errorRate"`
		} `json:"window"`
		Targets []struct {
			Pool   string `json:"pool"`
			Health string `json:"health"`
		} `json:"targets"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))

	assert.Equal(t, "degraded", payload.Status)
	assert.Equal(t, "green", payload.ActivePool)
	assert.False(t, payload.Maintenance)
	assert.Equal(t, 2, payload.Window.Size)
	assert.Equal(t, 10, payload.Window.Capacity)
	assert.InDelta(t, 0.5, payload.Window.ErrorRate, 1e-9)
	require.Len(t, payload.Targets, 2)
	assert.Equal(t, "down", payload.Targets[0].Health)
	assert.Equal(t, "up", payload.Targets[1].Health)
}

func TestAdmin_MaintenanceToggleRequiresToken(t *testing.T) {
	f := newAdminFixture(t)

	req, err := http.NewRequest(http.MethodPut, f.server.URL+"/ops/maintenance", strings.NewReader(`{"enabled":true}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, f.dispatcher.Maintenance())
}

func TestAdmin_MaintenanceToggleWithToken(t *testing.T) {
	f := newAdminFixture(t)

	token, err := f.validator.GenerateToken("ops-cli", time.Minute)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPut, f.server.URL+"/ops/maintenance", strings.NewReader(`{"enabled":true}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, f.dispatcher.Maintenance())
}

func TestAdmin_MaintenanceRejectsInvalidBody(t *testing.T) {
	f := newAdminFixture(t)

	token, err := f.validator.GenerateToken("ops-cli", time.Minute)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPut, f.server.URL+"/ops/maintenance", strings.NewReader(`{}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
}

func TestAdmin_ExpiredTokenRejected(t *testing.T) {
	f := newAdminFixture(t)

	token, err := f.validator.GenerateToken("ops-cli", -time.Minute)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPut, f.server.URL+"/ops/maintenance", strings.NewReader(`{"enabled":true}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTokenValidator_RoundTrip(t *testing.T) {
	v := admin.NewTokenValidator(testSigningKey)

	token, err := v.GenerateToken("ops-cli", time.Minute)
	require.NoError(t, err)
	require.NoError(t, v.Validate(token))

	// A token signed with a different key is rejected.
	other := admin.NewTokenValidator("other-key")
	otherToken, err := other.GenerateToken("ops-cli", time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, v.Validate(otherToken), admin.ErrInvalidToken)
}
