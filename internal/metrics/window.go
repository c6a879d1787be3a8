// Package metrics provides a fixed-size sliding window of request
// outcomes used to compute the rolling error rate.
package metrics

import "sync"

// Outcome is a single recorded request result.
type Outcome struct {
	// Pool is the pool that served (or failed to serve) the request.
	Pool string

	// Success is false for connect errors, timeouts, and retryable
	// upstream statuses.
	Success bool
}

// Window is a ring buffer of the last N outcomes. Once full, each insert
// evicts the oldest entry. Safe for concurrent use.
type Window struct {
	mu       sync.Mutex
	buf      []Outcome
	head     int
	count    int
	failures int
}

// NewWindow creates a window with the given capacity.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 200
	}
	return &Window{buf: make([]Outcome, capacity)}
}

// Record inserts an outcome, evicting the oldest when the window is full.
// The failure count is maintained incrementally so ErrorRate reflects
// exactly the retained entries.
func (w *Window) Record(o Outcome) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.count == len(w.buf) {
		if !w.buf[w.head].Success {
			w.failures--
		}
	} else {
		w.count++
	}
	w.buf[w.head] = o
	w.head = (w.head + 1) % len(w.buf)
	if !o.Success {
		w.failures++
	}
}

// ErrorRate returns failures/retained as a value in [0,1]. It is 0 while
// the window is empty.
func (w *Window) ErrorRate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.count == 0 {
		return 0
	}
	return float64(w.failures) / float64(w.count)
}

// Size returns the number of outcomes currently retained.
func (w *Window) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Capacity returns the configured window size.
func (w *Window) Capacity() int {
	return len(w.buf)
}

// Full reports whether the window has reached capacity. Alert evaluation
// only begins once enough samples exist to be meaningful.
func (w *Window) Full() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count == len(w.buf)
}

// Failures returns the number of failed outcomes currently retained.
func (w *Window) Failures() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failures
}
