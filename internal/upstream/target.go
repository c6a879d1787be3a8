// Package upstream defines the backend target model shared by the health
// tracker, request router, and admin surface.
package upstream

import (
	"fmt"
	"net/url"
	"time"
)

// Role designates whether a target receives traffic by default or only
// when all primaries are ineligible.
type Role string

// Target roles.
const (
	RolePrimary Role = "primary"
	RoleBackup  Role = "backup"
)

// Valid reports whether the role is a known value.
func (r Role) Valid() bool {
	return r == RolePrimary || r == RoleBackup
}

// Health is the binary health state of a target.
type Health string

// Health states.
const (
	HealthUp   Health = "up"
	HealthDown Health = "down"
)

// Target is a single backend endpoint. Identity is immutable after
// creation; mutable health state lives in the health tracker.
type Target struct {
	// Pool is the unique pool name, e.g. "blue" or "green".
	Pool string `yaml:"pool" json:"pool"`

	// Address is the base URL of the backend, e.g. "http://app-blue:8000".
	Address string `yaml:"address" json:"address"`

	// Role determines candidate ordering: primaries first, backups only
	// when no primary is eligible.
	Role Role `yaml:"role" json:"role"`
}

// Validate checks that the target identity is well formed.
func (t Target) Validate() error {
	if t.Pool == "" {
		return fmt.Errorf("target missing pool name")
	}
	if !t.Role.Valid() {
		return fmt.Errorf("target %q: invalid role %q", t.Pool, t.Role)
	}
	u, err := url.Parse(t.Address)
	if err != nil {
		return fmt.Errorf("target %q: parsing address: %w", t.Pool, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("target %q: address must be http or https, got %q", t.Pool, t.Address)
	}
	if u.Host == "" {
		return fmt.Errorf("target %q: address %q has no host", t.Pool, t.Address)
	}
	return nil
}

// URL returns the parsed base URL of the target. Must only be called on a
// validated target.
func (t Target) URL() *url.URL {
	u, err := url.Parse(t.Address)
	if err != nil {
		panic(fmt.Sprintf("upstream: invalid address %q escaped validation: %v", t.Address, err))
	}
	return u
}

// Status is a point-in-time snapshot of a target's health state, as
// reported by the tracker for the admin surface.
type Status struct {
	Target

	Health              Health     `json:"health"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	DownSince           *time.Time `json:"downSince,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
}
