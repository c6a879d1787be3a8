package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// ErrWebhookCircuitOpen is returned when the webhook endpoint has failed
// often enough that deliveries are being short-circuited.
var ErrWebhookCircuitOpen = errors.New("webhook circuit breaker is open")

// WebhookConfig holds configuration for the webhook sink.
type WebhookConfig struct {
	// URL is the webhook endpoint, e.g. a Slack incoming webhook.
	URL string

	// Timeout for each delivery attempt. Default: 10s.
	Timeout time.Duration

	// MaxRetries is the number of retry attempts per delivery. Default: 3.
	MaxRetries uint64

	// InitialInterval is the initial retry backoff. Default: 200ms.
	InitialInterval time.Duration
}

// WebhookSink posts alert events as JSON to a webhook URL. Deliveries are
// retried with exponential backoff and guarded by a circuit breaker so a
// dead endpoint stops consuming goroutines quickly.
type WebhookSink struct {
	url        string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[struct{}]
	maxRetries uint64
	initial    time.Duration
}

// webhookPayload is the wire format, compatible with Slack incoming
// webhooks: a text summary plus structured fields for other consumers.
type webhookPayload struct {
	Text  string `json:"text"`
	Event Event  `json:"event"`
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "alert-webhook",
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &WebhookSink{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
		maxRetries: cfg.MaxRetries,
		initial:    cfg.InitialInterval,
	}
}

// Name implements Sink.
func (s *WebhookSink) Name() string { return "webhook" }

// Send implements Sink. Non-2xx responses and network errors are retried
// with exponential backoff; an open circuit fails fast.
func (s *WebhookSink) Send(ctx context.Context, event Event) error {
	payload := webhookPayload{
		Text:  summaryText(event),
		Event: event,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.initial
	bo.MaxElapsedTime = 0

	operation := func() error {
		_, err := s.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, s.post(ctx, body)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(ErrWebhookCircuitOpen)
		}
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, s.maxRetries), ctx))
}

func (s *WebhookSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// summaryText renders the one-line summary shown by chat clients.
func summaryText(event Event) string {
	switch event.Kind {
	case KindFailover:
		return fmt.Sprintf("[%s] FAILOVER: %s", event.Owner, event.Detail)
	case KindRecovery:
		return fmt.Sprintf("[%s] RECOVERY: %s", event.Owner, event.Detail)
	case KindErrorRate:
		return fmt.Sprintf("[%s] HIGH ERROR RATE: %s", event.Owner, event.Detail)
	default:
		return fmt.Sprintf("[%s] %s: %s", event.Owner, event.Kind, event.Detail)
	}
}
