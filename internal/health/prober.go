package health

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/failgate/failgate/internal/upstream"
)

// ProberConfig holds configuration for the active prober.
type ProberConfig struct {
	// Interval between probe rounds. Default: 5s.
	Interval time.Duration

	// Timeout for each probe request. Default: 2s.
	Timeout time.Duration

	// Path is the health endpoint probed on each target. Default: /healthz.
	Path string

	// OnTransition is invoked for every health transition a probe causes.
	// May be nil.
	OnTransition func(*Transition)

	Logger zerolog.Logger
}

// Prober periodically probes each target's health endpoint and feeds the
// outcomes into the tracker. It is an optional supplement to passive
// tracking: probe outcomes go through the same hysteresis as real traffic.
type Prober struct {
	tracker      *Tracker
	targets      []upstream.Target
	client       *http.Client
	interval     time.Duration
	path         string
	onTransition func(*Transition)
	logger       zerolog.Logger
}

// NewProber creates a prober for all targets known to the tracker.
func NewProber(cfg ProberConfig, tracker *Tracker) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Path == "" {
		cfg.Path = "/healthz"
	}
	return &Prober{
		tracker:      tracker,
		targets:      tracker.Targets(),
		client:       &http.Client{Timeout: cfg.Timeout},
		interval:     cfg.Interval,
		path:         cfg.Path,
		onTransition: cfg.OnTransition,
		logger:       cfg.Logger,
	}
}

// Run probes all targets on the configured interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	p.logger.Info().
		Dur("interval", p.interval).
		Str("path", p.path).
		Int("targets", len(p.targets)).
		Msg("active prober started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("active prober stopped")
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

func (p *Prober) probeAll(ctx context.Context) {
	for _, target := range p.targets {
		success := p.probe(ctx, target)
		if transition := p.tracker.ReportOutcome(target.Pool, success); transition != nil && p.onTransition != nil {
			p.onTransition(transition)
		}
	}
}

// probe performs a single GET against the target's health endpoint. Any
// connection error, timeout, or 5xx response counts as a failure.
func (p *Prober) probe(ctx context.Context, target upstream.Target) bool {
	url := strings.TrimSuffix(target.Address, "/") + p.path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		p.logger.Error().Err(err).Str("pool", target.Pool).Msg("building probe request")
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug().Err(err).Str("pool", target.Pool).Msg("probe failed")
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < 500
}
