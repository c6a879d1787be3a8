package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
)

// PubSubConfig holds configuration for the Pub/Sub sink.
type PubSubConfig struct {
	ProjectID string
	TopicName string
}

// PubSubSink publishes alert events to a Pub/Sub topic so downstream
// automation (paging, ticketing) can react to failovers.
type PubSubSink struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topicName string
}

// NewPubSubSink creates a Pub/Sub sink.
func NewPubSubSink(ctx context.Context, cfg PubSubConfig) (*PubSubSink, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	return &PubSubSink{
		client:    client,
		publisher: client.Publisher(cfg.TopicName),
		topicName: cfg.TopicName,
	}, nil
}

// Name implements Sink.
func (s *PubSubSink) Name() string { return "pubsub:" + s.topicName }

// Send implements Sink. Publish blocks until the message is acknowledged
// or the context expires.
func (s *PubSubSink) Send(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding alert event: %w", err)
	}

	result := s.publisher.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"kind": string(event.Kind),
			"pool": event.Pool,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publishing alert event: %w", err)
	}
	return nil
}

// Close flushes pending publishes and releases the client.
func (s *PubSubSink) Close() error {
	s.publisher.Stop()
	return s.client.Close()
}
