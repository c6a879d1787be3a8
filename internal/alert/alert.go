// Package alert turns health transitions and error-rate breaches into
// deduplicated, cooldown-gated notifications delivered to pluggable sinks.
package alert

import "time"

// Kind identifies an alert category. Cooldowns are enforced per kind.
type Kind string

// Alert kinds.
const (
	// KindFailover fires when a primary target goes DOWN and traffic
	// shifts to a backup.
	KindFailover Kind = "failover"

	// KindRecovery fires when a previously DOWN primary comes back UP.
	KindRecovery Kind = "recovery"

	// KindErrorRate fires when the rolling error rate exceeds the
	// configured threshold over a full window.
	KindErrorRate Kind = "error_rate"
)

// Event is the payload delivered to sinks.
type Event struct {
	Kind        Kind      `json:"kind"`
	Pool        string    `json:"pool,omitempty"`
	Detail      string    `json:"detail"`
	ErrorRate   float64   `json:"errorRate,omitempty"`
	WindowSize  int       `json:"windowSize,omitempty"`
	Owner       string    `json:"owner"`
	Environment string    `json:"environment"`
	Time        time.Time `json:"time"`
}
