// Package health tracks per-target health state inferred from request
// outcomes, with hysteresis between the UP and DOWN states.
package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/failgate/failgate/internal/upstream"
)

// Transition describes a health state change for a single target.
type Transition struct {
	Target upstream.Target
	From   upstream.Health
	To     upstream.Health
	At     time.Time
}

// SignalSource is the capability the router and admin surface need from a
// health implementation. The passive Tracker is the default; an active
// Prober feeds the same Tracker from background probes.
type SignalSource interface {
	// ReportOutcome records a request outcome for a pool and returns the
	// resulting transition, if any.
	ReportOutcome(pool string, success bool) *Transition

	// IsEligible reports whether the pool may receive traffic at the
	// given time.
	IsEligible(pool string, now time.Time) bool

	// Snapshot returns the current state of every tracked target.
	Snapshot() []upstream.Status
}

// TrackerConfig holds configuration for the passive health tracker.
type TrackerConfig struct {
	// MaxFails is the number of consecutive failures before a target is
	// marked DOWN. Default: 2.
	MaxFails int

	// FailTimeout is how long a DOWN target is withheld from traffic
	// before it is offered again as a probe candidate. Default: 5s.
	FailTimeout time.Duration

	Logger zerolog.Logger
}

// Tracker derives a binary up/down state per target from real traffic
// outcomes. A target flips DOWN only after MaxFails consecutive failures
// and becomes a candidate again once FailTimeout has elapsed since its
// last failure; it flips back UP only when a real outcome succeeds.
type Tracker struct {
	maxFails    int
	failTimeout time.Duration
	logger      zerolog.Logger

	// targets is built once at construction and never mutated, so it is
	// read without a lock. Each entry serializes its own state.
	targets map[string]*targetState
	order   []string
}

type targetState struct {
	mu sync.Mutex

	target              upstream.Target
	health              upstream.Health
	consecutiveFailures int
	downSince           time.Time
	lastFailureAt       time.Time
	lastSuccessAt       time.Time
}

// NewTracker creates a tracker for the given targets. All targets start UP.
func NewTracker(cfg TrackerConfig, targets []upstream.Target) (*Tracker, error) {
	if cfg.MaxFails <= 0 {
		cfg.MaxFails = 2
	}
	if cfg.FailTimeout <= 0 {
		cfg.FailTimeout = 5 * time.Second
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("health: no targets configured")
	}

	t := &Tracker{
		maxFails:    cfg.MaxFails,
		failTimeout: cfg.FailTimeout,
		logger:      cfg.Logger,
		targets:     make(map[string]*targetState, len(targets)),
	}
	for _, target := range targets {
		if _, exists := t.targets[target.Pool]; exists {
			return nil, fmt.Errorf("health: duplicate pool %q", target.Pool)
		}
		t.targets[target.Pool] = &targetState{
			target: target,
			health: upstream.HealthUp,
		}
		t.order = append(t.order, target.Pool)
	}
	return t, nil
}

// ReportOutcome records a success or failure for a pool. It returns a
// non-nil Transition when the outcome flipped the target's health state.
// Outcomes for unknown pools are ignored.
func (t *Tracker) ReportOutcome(pool string, success bool) *Transition {
	st, ok := t.targets[pool]
	if !ok {
		return nil
	}

	now := time.Now()

	st.mu.Lock()
	var transition *Transition
	if success {
		st.consecutiveFailures = 0
		st.lastSuccessAt = now
		if st.health == upstream.HealthDown {
			st.health = upstream.HealthUp
			st.downSince = time.Time{}
			transition = &Transition{
				Target: st.target,
				From:   upstream.HealthDown,
				To:     upstream.HealthUp,
				At:     now,
			}
		}
	} else {
		st.consecutiveFailures++
		st.lastFailureAt = now
		if st.health == upstream.HealthUp && st.consecutiveFailures >= t.maxFails {
			st.health = upstream.HealthDown
			st.downSince = now
			transition = &Transition{
				Target: st.target,
				From:   upstream.HealthUp,
				To:     upstream.HealthDown,
				At:     now,
			}
		}
	}
	failures := st.consecutiveFailures
	st.mu.Unlock()

	if transition != nil {
		t.logger.Warn().
			Str("pool", pool).
			Str("from", string(transition.From)).
			Str("to", string(transition.To)).
			Int("consecutive_failures", failures).
			Msg("target health transition")
	}
	return transition
}

// IsEligible reports whether a pool may receive traffic. UP targets are
// always eligible. A DOWN target becomes eligible once FailTimeout has
// elapsed since its last failure, but stays DOWN until a real outcome
// succeeds; a failed probe restarts the probation clock.
func (t *Tracker) IsEligible(pool string, now time.Time) bool {
	st, ok := t.targets[pool]
	if !ok {
		return false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.health == upstream.HealthUp {
		return true
	}
	return now.Sub(st.lastFailureAt) >= t.failTimeout
}

// Snapshot returns the current state of every target in configured order.
func (t *Tracker) Snapshot() []upstream.Status {
	statuses := make([]upstream.Status, 0, len(t.order))
	for _, pool := range t.order {
		st := t.targets[pool]
		st.mu.Lock()
		status := upstream.Status{
			Target:              st.target,
			Health:              st.health,
			ConsecutiveFailures: st.consecutiveFailures,
		}
		if !st.downSince.IsZero() {
			downSince := st.downSince
			status.DownSince = &downSince
		}
		if !st.lastSuccessAt.IsZero() {
			lastSuccess := st.lastSuccessAt
			status.LastSuccessAt = &lastSuccess
		}
		if !st.lastFailureAt.IsZero() {
			lastFailure := st.lastFailureAt
			status.LastFailureAt = &lastFailure
		}
		st.mu.Unlock()
		statuses = append(statuses, status)
	}
	return statuses
}

// Targets returns the tracked targets in configured order.
func (t *Tracker) Targets() []upstream.Target {
	targets := make([]upstream.Target, 0, len(t.order))
	for _, pool := range t.order {
		targets = append(targets, t.targets[pool].target)
	}
	return targets
}
