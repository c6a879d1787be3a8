package proxy

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/failgate/failgate/internal/health"
	"github.com/failgate/failgate/internal/upstream"
)

// FailureMode decides what happens when no target is eligible.
type FailureMode string

// Failure modes.
const (
	// FailureOpen serves from the full ordered target list as a last
	// resort: a confirmed-broken backend is still tried rather than
	// refusing all traffic.
	FailureOpen FailureMode = "open"

	// FailureClosed refuses traffic with 503 when no target is eligible.
	FailureClosed FailureMode = "closed"
)

// Attempt is the outcome of one forwarding attempt.
type Attempt struct {
	Target     upstream.Target
	Success    bool
	StatusCode int
	Latency    time.Duration
	Err        error

	// Served marks the attempt whose response was returned to the
	// client. On exhaustion this can be an earlier attempt than the
	// last one: a retained retryable response outlives a later connect
	// error.
	Served bool
}

// RouterConfig holds configuration for the request router.
type RouterConfig struct {
	// Targets in configured order. Candidate order is primaries first,
	// then backups.
	Targets []upstream.Target

	Tracker   *health.Tracker
	Forwarder *Forwarder

	// MaxRetries is the total forwarding attempt budget per request,
	// each to a distinct candidate. Default: 2.
	MaxRetries int

	// RetryableStatuses are upstream status codes treated as retryable
	// failures. Default: 500, 502, 503, 504.
	RetryableStatuses []int

	// FailureMode selects the no-eligible-target policy. Default: open.
	FailureMode FailureMode

	// OnTransition receives health transitions caused by attempt
	// outcomes. May be nil.
	OnTransition func(*health.Transition)

	Logger zerolog.Logger
}

// Router selects a target for each request given current health state and
// pool priority, and performs bounded retry across targets on failure.
type Router struct {
	primaries    []upstream.Target
	backups      []upstream.Target
	tracker      *health.Tracker
	forwarder    *Forwarder
	maxRetries   int
	retryable    map[int]struct{}
	failureMode  FailureMode
	onTransition func(*health.Transition)
	logger       zerolog.Logger
}

// NewRouter creates a router.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if len(cfg.RetryableStatuses) == 0 {
		cfg.RetryableStatuses = []int{
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		}
	}
	if cfg.FailureMode == "" {
		cfg.FailureMode = FailureOpen
	}

	retryable := make(map[int]struct{}, len(cfg.RetryableStatuses))
	for _, code := range cfg.RetryableStatuses {
		retryable[code] = struct{}{}
	}

	rt := &Router{
		tracker:      cfg.Tracker,
		forwarder:    cfg.Forwarder,
		maxRetries:   cfg.MaxRetries,
		retryable:    retryable,
		failureMode:  cfg.FailureMode,
		onTransition: cfg.OnTransition,
		logger:       cfg.Logger,
	}
	for _, target := range cfg.Targets {
		if target.Role == upstream.RolePrimary {
			rt.primaries = append(rt.primaries, target)
		} else {
			rt.backups = append(rt.backups, target)
		}
	}
	return rt
}

// Route forwards the request to the best available target, retrying
// across distinct candidates within the attempt budget. It returns the
// final response (which may be a retryable-status response when the
// budget ran out), the per-attempt outcome log for the metrics window,
// and an error when no response can be served.
//
// Health and metrics locks are never held across the forwarding I/O.
func (rt *Router) Route(ctx context.Context, req *http.Request, body []byte) (*http.Response, []Attempt, error) {
	candidates := rt.candidates()
	if len(candidates) == 0 {
		if rt.failureMode == FailureClosed {
			return nil, nil, ErrNoEligibleTargets
		}
		// Last resort: degrade rather than fail closed.
		candidates = append(append([]upstream.Target{}, rt.primaries...), rt.backups...)
		rt.logger.Warn().Msg("no eligible targets, falling back to full target list")
	}
	if len(candidates) > rt.maxRetries {
		candidates = candidates[:rt.maxRetries]
	}

	var (
		attempts    []Attempt
		lastResp    *http.Response
		lastRespIdx int
	)

	for _, target := range candidates {
		start := time.Now()
		resp, err := rt.forwarder.Forward(ctx, target, req, body)
		latency := time.Since(start)

		if err != nil {
			if ctx.Err() != nil {
				// Client went away; the aborted attempt is not a health
				// signal for the backend.
				if lastResp != nil {
					drainAndClose(lastResp)
				}
				return nil, attempts, ctx.Err()
			}
			attempts = append(attempts, Attempt{Target: target, Latency: latency, Err: err})
			rt.report(target, false, latency, 0, err)
			continue
		}

		if _, retry := rt.retryable[resp.StatusCode]; retry {
			statusErr := &UpstreamStatusError{Pool: target.Pool, StatusCode: resp.StatusCode}
			attempts = append(attempts, Attempt{
				Target:     target,
				StatusCode: resp.StatusCode,
				Latency:    latency,
				Err:        statusErr,
			})
			rt.report(target, false, latency, resp.StatusCode, statusErr)

			// Keep the most recent failed response so exhaustion can
			// still answer the client with something real.
			if lastResp != nil {
				drainAndClose(lastResp)
			}
			lastResp = resp
			lastRespIdx = len(attempts) - 1
			continue
		}

		// Success, or a non-retryable status (client errors are not
		// backend health signals and are returned as-is).
		attempts = append(attempts, Attempt{
			Target:     target,
			Success:    true,
			StatusCode: resp.StatusCode,
			Latency:    latency,
			Served:     true,
		})
		rt.report(target, true, latency, resp.StatusCode, nil)
		if lastResp != nil {
			drainAndClose(lastResp)
		}
		return resp, attempts, nil
	}

	if lastResp != nil {
		attempts[lastRespIdx].Served = true
		return lastResp, attempts, nil
	}
	return nil, attempts, ErrAllAttemptsFailed
}

// candidates returns eligible primaries first, then eligible backups.
func (rt *Router) candidates() []upstream.Target {
	now := time.Now()
	var out []upstream.Target
	for _, target := range rt.primaries {
		if rt.tracker.IsEligible(target.Pool, now) {
			out = append(out, target)
		}
	}
	for _, target := range rt.backups {
		if rt.tracker.IsEligible(target.Pool, now) {
			out = append(out, target)
		}
	}
	return out
}

func (rt *Router) report(target upstream.Target, success bool, latency time.Duration, status int, err error) {
	transition := rt.tracker.ReportOutcome(target.Pool, success)

	evt := rt.logger.Debug()
	if !success {
		evt = rt.logger.Warn().Err(err)
	}
	evt.Str("pool", target.Pool).
		Bool("success", success).
		Int("status", status).
		Dur("latency", latency).
		Msg("upstream attempt")

	if transition != nil && rt.onTransition != nil {
		rt.onTransition(transition)
	}
}

// drainAndClose discards a bounded amount of the body so the connection
// can be reused, then closes it.
func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 32*1024)) //nolint:errcheck // best effort drain
	resp.Body.Close()
}
