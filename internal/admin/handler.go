// Package admin provides the operational HTTP surface of the proxy:
// liveness, target/window status, and the maintenance-mode toggle.
package admin

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/failgate/failgate/internal/alert"
	"github.com/failgate/failgate/internal/health"
	"github.com/failgate/failgate/internal/metrics"
	"github.com/failgate/failgate/internal/proxy/middleware"
	"github.com/failgate/failgate/internal/upstream"
)

// RouterConfig holds configuration for the admin router.
type RouterConfig struct {
	Version    string
	BuildTime  string
	Tracker    health.SignalSource
	Window     *metrics.Window
	Dispatcher *alert.Dispatcher
	Validator  *TokenValidator
	Logger     zerolog.Logger
}

// healthResponse is the GET /ops/health payload.
type healthResponse struct {
	Status    string    `json:"status"`
	Time      time.Time `json:"time"`
	Version   string    `json:"version"`
	BuildTime string    `json:"buildTime"`
}

// statusResponse is the GET /ops/status payload.
type statusResponse struct {
	Status      string            `json:"status"`
	Time        time.Time         `json:"time"`
	Uptime      string            `json:"uptime"`
	ActivePool  string            `json:"activePool,omitempty"`
	Maintenance bool              `json:"maintenance"`
	Window      windowStatus      `json:"window"`
	Targets     []upstream.Status `json:"targets"`
}

type windowStatus struct {
	Size      int     `json:"size"`
	Capacity  int     `json:"capacity"`
	ErrorRate float64 `json:"errorRate"`
}

// maintenanceRequest is the PUT /ops/maintenance body.
type maintenanceRequest struct {
	Enabled *bool `json:"enabled"`
}

// NewRouter creates the admin chi router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	h := &handler{
		version:    cfg.Version,
		buildTime:  cfg.BuildTime,
		tracker:    cfg.Tracker,
		window:     cfg.Window,
		dispatcher: cfg.Dispatcher,
		startedAt:  time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(Recovery(cfg.Logger))
	r.Use(httprate.Limit(
		100,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(rateLimitExceededHandler),
	))

	r.Route("/ops", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/status", h.systemStatus)
		// Only the mutating endpoint requires a token.
		r.With(cfg.Validator.Middleware()).Put("/maintenance", h.setMaintenance)
	})

	return r
}

type handler struct {
	version    string
	buildTime  string
	tracker    health.SignalSource
	window     *metrics.Window
	dispatcher *alert.Dispatcher
	startedAt  time.Time
}

// healthCheck handles GET /ops/health - liveness check.
func (h *handler) healthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Time:      time.Now(),
		Version:   h.version,
		BuildTime: h.buildTime,
	})
}

// systemStatus handles GET /ops/status - target health and window state.
func (h *handler) systemStatus(w http.ResponseWriter, _ *http.Request) {
	targets := h.tracker.Snapshot()

	status := "ok"
	for _, t := range targets {
		if t.Role == upstream.RolePrimary && t.Health == upstream.HealthDown {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status:      status,
		Time:        time.Now(),
		Uptime:      time.Since(h.startedAt).Round(time.Second).String(),
		ActivePool:  h.dispatcher.ActivePool(),
		Maintenance: h.dispatcher.Maintenance(),
		Window: windowStatus{
			Size:      h.window.Size(),
			Capacity:  h.window.Capacity(),
			ErrorRate: h.window.ErrorRate(),
		},
		Targets: targets,
	})
}

// setMaintenance handles PUT /ops/maintenance - toggles alert suppression.
func (h *handler) setMaintenance(w http.ResponseWriter, r *http.Request) {
	var req maintenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		problem := NewValidationProblem(middleware.GetRequestID(r.Context()), `body must be {"enabled": true|false}`)
		problem.Instance = r.URL.Path
		problem.Write(w)
		return
	}

	h.dispatcher.SetMaintenance(*req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"maintenance": *req.Enabled})
}

func rateLimitExceededHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Retry-After", strconv.Itoa(60))
	problem := NewTooManyRequests(middleware.GetRequestID(r.Context()), "rate limit exceeded")
	problem.Instance = r.URL.Path
	problem.Write(w)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload) //nolint:errcheck // response already committed
}
