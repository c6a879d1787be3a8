package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/failgate/failgate/internal/proxy/middleware"

// Metrics holds the OpenTelemetry instruments for the proxy data plane:
// per-request measurements plus per-upstream-attempt measurements.
type Metrics struct {
	requestDuration  metric.Float64Histogram
	requestTotal     metric.Int64Counter
	requestsInFlight metric.Int64UpDownCounter
	attemptDuration  metric.Float64Histogram
	attemptTotal     metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with initialized instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	requestDuration, err := meter.Float64Histogram(
		"proxy.request.duration",
		metric.WithDescription("Duration of proxied requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	requestTotal, err := meter.Int64Counter(
		"proxy.request.total",
		metric.WithDescription("Total number of proxied requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	requestsInFlight, err := meter.Int64UpDownCounter(
		"proxy.requests_in_flight",
		metric.WithDescription("Number of requests currently being proxied"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	attemptDuration, err := meter.Float64Histogram(
		"proxy.upstream.attempt.duration",
		metric.WithDescription("Duration of upstream forwarding attempts in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	attemptTotal, err := meter.Int64Counter(
		"proxy.upstream.attempt.total",
		metric.WithDescription("Total number of upstream forwarding attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		requestsInFlight: requestsInFlight,
		attemptDuration:  attemptDuration,
		attemptTotal:     attemptTotal,
	}, nil
}

// Middleware returns an HTTP middleware that records request metrics.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			attrs := []attribute.KeyValue{
				attribute.String("http.method", r.Method),
			}
			m.requestsInFlight.Add(r.Context(), 1, metric.WithAttributes(attrs...))
			defer m.requestsInFlight.Add(r.Context(), -1, metric.WithAttributes(attrs...))

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			if pool := wrapped.Header().Get("X-App-Pool"); pool != "" {
				attrs = append(attrs, attribute.String("pool", pool))
			}
			attrs = append(attrs, attribute.String("http.status_code", strconv.Itoa(wrapped.statusCode)))
			if wrapped.statusCode >= 500 {
				attrs = append(attrs, attribute.Bool("error", true))
			}

			m.requestDuration.Record(r.Context(), time.Since(start).Seconds(), metric.WithAttributes(attrs...))
			m.requestTotal.Add(r.Context(), 1, metric.WithAttributes(attrs...))
		})
	}
}

// RecordAttempt records one upstream forwarding attempt.
func (m *Metrics) RecordAttempt(pool string, success bool, status int, latency time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("pool", pool),
		attribute.Bool("success", success),
	}
	if status > 0 {
		attrs = append(attrs, attribute.String("upstream.status_code", strconv.Itoa(status)))
	}

	// Background context: attempt metrics must survive client cancellation.
	ctx := context.Background()
	m.attemptDuration.Record(ctx, latency.Seconds(), metric.WithAttributes(attrs...))
	m.attemptTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}
