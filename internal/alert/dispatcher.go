package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/failgate/failgate/internal/health"
	"github.com/failgate/failgate/internal/metrics"
	"github.com/failgate/failgate/internal/upstream"
)

// deliveryTimeout bounds each sink delivery so a dead transport cannot
// pile up goroutines.
const deliveryTimeout = 10 * time.Second

// DispatcherConfig holds configuration for the alert dispatcher.
type DispatcherConfig struct {
	// Cooldown is the minimum spacing between alerts of the same kind.
	// Default: 5 minutes.
	Cooldown time.Duration

	// ErrorRateThreshold triggers an error-rate alert when exceeded over
	// a full window. Default: 0.02.
	ErrorRateThreshold float64

	// Maintenance suppresses all notifications at startup. State keeps
	// updating while suppressed; it can be toggled at runtime.
	Maintenance bool

	// Owner and Environment identify the deployment in alert payloads.
	Owner       string
	Environment string

	Sinks  []Sink
	Logger zerolog.Logger
}

// Dispatcher observes health transitions and window updates and emits
// alerts. Cooldown check-and-set is serialized so concurrent triggers
// cannot double-fire; delivery is fire-and-forget.
type Dispatcher struct {
	cooldown  time.Duration
	threshold float64
	owner     string
	env       string
	sinks     []Sink
	logger    zerolog.Logger

	mu          sync.Mutex
	lastAlert   map[Kind]time.Time
	activePool  string
	maintenance bool

	now func() time.Time
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = 0.02
	}
	return &Dispatcher{
		cooldown:    cfg.Cooldown,
		threshold:   cfg.ErrorRateThreshold,
		owner:       cfg.Owner,
		env:         cfg.Environment,
		sinks:       cfg.Sinks,
		logger:      cfg.Logger,
		lastAlert:   make(map[Kind]time.Time),
		maintenance: cfg.Maintenance,
		now:         time.Now,
	}
}

// OnHealthTransition emits a failover or recovery alert when a primary
// target changes state. Backup transitions are logged but not alerted:
// they do not change which pool serves the majority of traffic.
func (d *Dispatcher) OnHealthTransition(t *health.Transition) {
	if t == nil {
		return
	}
	if t.Target.Role != upstream.RolePrimary {
		d.logger.Info().
			Str("pool", t.Target.Pool).
			Str("to", string(t.To)).
			Msg("backup target health changed")
		return
	}

	switch t.To {
	case upstream.HealthDown:
		d.dispatch(Event{
			Kind:   KindFailover,
			Pool:   t.Target.Pool,
			Detail: fmt.Sprintf("primary pool %q is down, traffic failing over to backup", t.Target.Pool),
			Time:   t.At,
		})
	case upstream.HealthUp:
		d.dispatch(Event{
			Kind:   KindRecovery,
			Pool:   t.Target.Pool,
			Detail: fmt.Sprintf("primary pool %q recovered, traffic returning", t.Target.Pool),
			Time:   t.At,
		})
	}
}

// OnWindowUpdate evaluates the error-rate condition. It only fires once
// the window is full, so a handful of early failures cannot page anyone.
func (d *Dispatcher) OnWindowUpdate(w *metrics.Window) {
	if w == nil || !w.Full() {
		return
	}
	rate := w.ErrorRate()
	if rate <= d.threshold {
		return
	}
	d.dispatch(Event{
		Kind: KindErrorRate,
		Detail: fmt.Sprintf("error rate %.1f%% over last %d requests exceeds threshold %.1f%%",
			rate*100, w.Capacity(), d.threshold*100),
		ErrorRate:  rate,
		WindowSize: w.Capacity(),
		Time:       d.now(),
	})
}

// ObservePool records which pool served a request so the admin surface
// and alert payloads can report the effectively-active pool.
func (d *Dispatcher) ObservePool(pool string) {
	d.mu.Lock()
	previous := d.activePool
	d.activePool = pool
	d.mu.Unlock()

	if previous == "" {
		d.logger.Info().Str("pool", pool).Msg("initial serving pool observed")
	} else if previous != pool {
		d.logger.Warn().
			Str("from", previous).
			Str("to", pool).
			Msg("serving pool changed")
	}
}

// ActivePool returns the last observed serving pool.
func (d *Dispatcher) ActivePool() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activePool
}

// SetMaintenance toggles maintenance mode at runtime.
func (d *Dispatcher) SetMaintenance(on bool) {
	d.mu.Lock()
	changed := d.maintenance != on
	d.maintenance = on
	d.mu.Unlock()

	if changed {
		d.logger.Info().Bool("maintenance", on).Msg("maintenance mode changed")
	}
}

// Maintenance reports whether notifications are currently suppressed.
func (d *Dispatcher) Maintenance() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maintenance
}

// dispatch applies maintenance suppression and the per-kind cooldown,
// then delivers to every sink asynchronously. A delivery failure is
// logged and never propagated.
func (d *Dispatcher) dispatch(event Event) {
	now := d.now()

	d.mu.Lock()
	if d.maintenance {
		d.mu.Unlock()
		d.logger.Info().
			Str("kind", string(event.Kind)).
			Msg("alert suppressed by maintenance mode")
		return
	}
	if last, ok := d.lastAlert[event.Kind]; ok && now.Sub(last) < d.cooldown {
		d.mu.Unlock()
		d.logger.Debug().
			Str("kind", string(event.Kind)).
			Dur("since_last", now.Sub(last)).
			Msg("alert suppressed by cooldown")
		return
	}
	d.lastAlert[event.Kind] = now
	if event.Pool == "" {
		event.Pool = d.activePool
	}
	d.mu.Unlock()

	event.Owner = d.owner
	event.Environment = d.env
	if event.Time.IsZero() {
		event.Time = now
	}

	d.logger.Warn().
		Str("kind", string(event.Kind)).
		Str("pool", event.Pool).
		Str("detail", event.Detail).
		Msg("alert dispatched")

	for _, sink := range d.sinks {
		go func(s Sink) {
			ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
			defer cancel()
			if err := s.Send(ctx, event); err != nil {
				d.logger.Error().
					Err(err).
					Str("sink", s.Name()).
					Str("kind", string(event.Kind)).
					Msg("alert delivery failed")
			}
		}(sink)
	}
}
