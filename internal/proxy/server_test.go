package proxy_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/failgate/failgate/internal/alert"
	"github.com/failgate/failgate/internal/health"
	"github.com/failgate/failgate/internal/metrics"
	"github.com/failgate/failgate/internal/proxy"
	"github.com/failgate/failgate/internal/upstream"
)

// recordingSink captures dispatched alerts for the end-to-end tests.
type recordingSink struct {
	mu     sync.Mutex
	events []alert.Event
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, event alert.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) byKind(kind alert.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type proxyFixture struct {
	proxy  *httptest.Server
	blue   *poolBackend
	green  *poolBackend
	window *metrics.Window
	sink   *recordingSink
}

func newProxyFixture(t *testing.T, windowSize int) *proxyFixture {
	t.Helper()

	blue := newPoolBackend(t, "blue", "v1.0.0")
	green := newPoolBackend(t, "green", "v1.1.0")

	targets := []upstream.Target{
		{Pool: "blue", Address: blue.server.URL, Role: upstream.RolePrimary},
		{Pool: "green", Address: green.server.URL, Role: upstream.RoleBackup},
	}

	tracker, err := health.NewTracker(health.TrackerConfig{
		MaxFails:    2,
		FailTimeout: time.Minute,
		Logger:      zerolog.Nop(),
	}, targets)
	require.NoError(t, err)

	sink := &recordingSink{}
	dispatcher := alert.NewDispatcher(alert.DispatcherConfig{
		Cooldown:           time.Minute,
		ErrorRateThreshold: 0.02,
		Owner:              "platform-team",
		Environment:        "test",
		Sinks:              []alert.Sink{sink},
		Logger:             zerolog.Nop(),
	})

	window := metrics.NewWindow(windowSize)

	router := proxy.NewRouter(proxy.RouterConfig{
		Targets:      targets,
		Tracker:      tracker,
		Forwarder:    proxy.NewForwarder(proxy.ForwarderConfig{ConnectTimeout: time.Second, ReadTimeout: time.Second}),
		OnTransition: dispatcher.OnHealthTransition,
		Logger:       zerolog.Nop(),
	})

	handler := proxy.NewHandler(proxy.ServerConfig{
		Router:     router,
		Window:     window,
		Dispatcher: dispatcher,
		Logger:     zerolog.Nop(),
	})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &proxyFixture{proxy: server, blue: blue, green: green, window: window, sink: sink}
}

func TestServer_AddsPoolAndReleaseHeaders(t *testing.T) {
	f := newProxyFixture(t, 200)

	resp, err := http.Get(f.proxy.URL + "/api/data")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "blue", resp.Header.Get("X-App-Pool"))
	assert.Equal(t, "v1.0.0", resp.Header.Get("X-Release-Id"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"pool":"blue"`)
}

func TestServer_MethodAndPathAgnostic(t *testing.T) {
	f := newProxyFixture(t, 200)

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
		req, err := http.NewRequest(method, f.proxy.URL+"/any/nested/path?q=1", strings.NewReader("payload"))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, method)
	}
}

func TestServer_FailoverEmitsSingleAlert(t *testing.T) {
	f := newProxyFixture(t, 200)
	f.blue.failing.Store(true)

	// Two failing requests trip the primary; the failover alert fires
	// exactly once despite repeated triggers.
	for i := 0; i < 5; i++ {
		resp, err := http.Get(f.proxy.URL + "/api/data")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, "backup keeps serving")
		assert.Equal(t, "green", resp.Header.Get("X-App-Pool"))
	}

	require.Eventually(t, func() bool { return f.sink.byKind(alert.KindFailover) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.sink.byKind(alert.KindFailover))
}

func TestServer_SynthesizedBadGatewayOnTotalFailure(t *testing.T) {
	f := newProxyFixture(t, 200)
	f.blue.server.Close()
	f.green.server.Close()

	resp, err := http.Get(f.proxy.URL + "/api/data")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "all upstream attempts failed")
}

func TestServer_PoolHeaderMatchesRespondingTargetOnExhaustion(t *testing.T) {
	blue := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"pool":"blue","error":"unavailable"}`))
	}))
	defer blue.Close()

	// Unreachable backup, so the last attempt is a connect error to green
	// while the delivered 503 body is blue's.
	green := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	green.Close()

	targets := []upstream.Target{
		{Pool: "blue", Address: blue.URL, Role: upstream.RolePrimary},
		{Pool: "green", Address: green.URL, Role: upstream.RoleBackup},
	}
	tracker, err := health.NewTracker(health.TrackerConfig{MaxFails: 5, Logger: zerolog.Nop()}, targets)
	require.NoError(t, err)

	handler := proxy.NewHandler(proxy.ServerConfig{
		Router: proxy.NewRouter(proxy.RouterConfig{
			Targets:   targets,
			Tracker:   tracker,
			Forwarder: proxy.NewForwarder(proxy.ForwarderConfig{ConnectTimeout: time.Second, ReadTimeout: time.Second}),
			Logger:    zerolog.Nop(),
		}),
		Window: metrics.NewWindow(10),
		Logger: zerolog.Nop(),
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/data")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "blue", resp.Header.Get("X-App-Pool"))
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `"pool":"blue"`)
}

func TestServer_WindowRecordsEveryAttempt(t *testing.T) {
	f := newProxyFixture(t, 200)
	f.blue.failing.Store(true)

	// One request: failed attempt on blue plus successful attempt on green.
	resp, err := http.Get(f.proxy.URL + "/api/data")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 2, f.window.Size())
	assert.Equal(t, 1, f.window.Failures())
}

func TestServer_ErrorRateAlertAfterFullWindow(t *testing.T) {
	f := newProxyFixture(t, 20)

	// 2 requests while the primary fails: 2 failures + 2 backup successes.
	f.blue.failing.Store(true)
	for i := 0; i < 2; i++ {
		resp, err := http.Get(f.proxy.URL + "/api/data")
		require.NoError(t, err)
		resp.Body.Close()
	}
	f.blue.failing.Store(false)

	// Primary is DOWN now, so the remaining successes come from green.
	for i := 0; i < 16; i++ {
		resp, err := http.Get(f.proxy.URL + "/api/data")
		require.NoError(t, err)
		resp.Body.Close()
	}

	// Window full at 10% error rate: the error-rate alert fires once.
	require.Eventually(t, func() bool { return f.sink.byKind(alert.KindErrorRate) == 1 }, time.Second, 5*time.Millisecond)

	resp, err := http.Get(f.proxy.URL + "/api/data")
	require.NoError(t, err)
	resp.Body.Close()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.sink.byKind(alert.KindErrorRate), "cooldown suppresses the repeat")
}

func TestServer_ForwardsRequestBody(t *testing.T) {
	var received string
	echo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer echo.Close()

	targets := []upstream.Target{
		{Pool: "blue", Address: echo.URL, Role: upstream.RolePrimary},
	}
	tracker, err := health.NewTracker(health.TrackerConfig{MaxFails: 2, Logger: zerolog.Nop()}, targets)
	require.NoError(t, err)

	handler := proxy.NewHandler(proxy.ServerConfig{
		Router: proxy.NewRouter(proxy.RouterConfig{
			Targets:   targets,
			Tracker:   tracker,
			Forwarder: proxy.NewForwarder(proxy.ForwarderConfig{}),
			Logger:    zerolog.Nop(),
		}),
		Window: metrics.NewWindow(10),
		Logger: zerolog.Nop(),
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	resp, err := http.Post(server.URL+"/submit", "text/plain", strings.NewReader("hello upstream"))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "hello upstream", received)
}
