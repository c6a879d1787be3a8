package proxy

import (
	"errors"
	"fmt"
)

// Predefined routing errors.
var (
	// ErrAllAttemptsFailed is returned when every candidate attempt
	// failed; the proxy answers with the last upstream response or a
	// synthesized 502.
	ErrAllAttemptsFailed = errors.New("all upstream attempts failed")

	// ErrNoEligibleTargets is returned in failure-closed mode when no
	// target is eligible for traffic.
	ErrNoEligibleTargets = errors.New("no eligible upstream targets")
)

// UpstreamStatusError marks an upstream response whose status code is in
// the configured retryable set.
type UpstreamStatusError struct {
	Pool       string
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream %q returned retryable status %d", e.Pool, e.StatusCode)
}
