package alert

import (
	"context"

	"github.com/rs/zerolog"
)

// Sink delivers alert events to a notification transport. Implementations
// must be safe for concurrent use; delivery failures are logged by the
// dispatcher and never reach the request path.
type Sink interface {
	// Name identifies the sink in logs.
	Name() string

	// Send delivers one event. The context carries the delivery deadline.
	Send(ctx context.Context, event Event) error
}

// LogSink writes alert events to the structured log. It is always
// registered so alerts remain observable without an external transport.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink that logs events at warn level.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Send implements Sink.
func (s *LogSink) Send(_ context.Context, event Event) error {
	evt := s.logger.Warn().
		Str("kind", string(event.Kind)).
		Str("detail", event.Detail).
		Str("owner", event.Owner).
		Str("environment", event.Environment).
		Time("at", event.Time)
	if event.Pool != "" {
		evt = evt.Str("pool", event.Pool)
	}
	if event.Kind == KindErrorRate {
		evt = evt.Float64("error_rate", event.ErrorRate).Int("window_size", event.WindowSize)
	}
	evt.Msg("alert")
	return nil
}
