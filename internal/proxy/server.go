// Package proxy implements the failover-aware reverse proxy: a front
// listener that routes each request to the healthiest upstream target,
// retries across candidates, and feeds outcomes to the health tracker,
// metrics window, and alert dispatcher.
package proxy

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/failgate/failgate/internal/alert"
	"github.com/failgate/failgate/internal/metrics"
	"github.com/failgate/failgate/internal/proxy/middleware"
)

// maxBufferedBody caps how much request body is buffered for retry
// safety. Larger bodies are rejected with 413.
const maxBufferedBody = 10 << 20

// HeaderPool carries the pool name that served the request.
const HeaderPool = "X-App-Pool"

// HeaderReleaseID carries the backend-reported release identifier,
// passed through unmodified.
const HeaderReleaseID = "X-Release-Id"

// ServerConfig holds configuration for the proxy server.
type ServerConfig struct {
	Router     *Router
	Window     *metrics.Window
	Dispatcher *alert.Dispatcher
	Metrics    *middleware.Metrics
	Logger     zerolog.Logger
}

// NewHandler builds the proxy's HTTP handler: the shared middleware chain
// in front of a method- and path-agnostic forwarding handler.
func NewHandler(cfg ServerConfig) http.Handler {
	s := &server{
		router:     cfg.Router,
		window:     cfg.Window,
		dispatcher: cfg.Dispatcher,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Handle("/*", http.HandlerFunc(s.proxy))
	return r
}

type server struct {
	router     *Router
	window     *metrics.Window
	dispatcher *alert.Dispatcher
	metrics    *middleware.Metrics
	logger     zerolog.Logger
}

// proxy handles a single client request end to end. The client always
// receives exactly one response.
func (s *server) proxy(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBufferedBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body")
		return
	}
	if len(body) > maxBufferedBody {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	resp, attempts, routeErr := s.router.Route(r.Context(), r, body)
	s.recordOutcomes(attempts)

	switch {
	case resp != nil:
		s.serve(w, r, resp, attempts)
	case errors.Is(routeErr, ErrNoEligibleTargets):
		writeError(w, http.StatusServiceUnavailable, "no eligible upstream targets")
	case r.Context().Err() != nil:
		// Client disconnected; nothing left to deliver.
	default:
		writeError(w, http.StatusBadGateway, "all upstream attempts failed")
	}
}

// serve copies the upstream response to the client, attaching the pool
// identity header of the attempt that produced it.
func (s *server) serve(w http.ResponseWriter, r *http.Request, resp *http.Response, attempts []Attempt) {
	defer resp.Body.Close()

	served := servedAttempt(attempts)

	header := w.Header()
	for key, values := range resp.Header {
		for _, v := range values {
			header.Add(key, v)
		}
	}
	header.Set(HeaderPool, served.Target.Pool)

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.Debug().Err(err).Msg("copying upstream response body")
		return
	}

	if served.Success && s.dispatcher != nil {
		s.dispatcher.ObservePool(served.Target.Pool)
	}
}

// servedAttempt returns the attempt whose response went to the client.
// A retained retryable response can belong to an earlier attempt than
// the last one, so the marker is authoritative over position.
func servedAttempt(attempts []Attempt) Attempt {
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].Served {
			return attempts[i]
		}
	}
	return attempts[len(attempts)-1]
}

// recordOutcomes forwards the per-request outcome log to the metrics
// window and lets the dispatcher evaluate the error-rate condition once.
func (s *server) recordOutcomes(attempts []Attempt) {
	for _, a := range attempts {
		if s.window != nil {
			s.window.Record(metrics.Outcome{Pool: a.Target.Pool, Success: a.Success})
		}
		if s.metrics != nil {
			s.metrics.RecordAttempt(a.Target.Pool, a.Success, a.StatusCode, a.Latency)
		}
	}
	if len(attempts) > 0 && s.window != nil && s.dispatcher != nil {
		s.dispatcher.OnWindowUpdate(s.window)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + detail + `"}`))
}
