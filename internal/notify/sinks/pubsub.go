package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/finchsearch/finch/internal/notify"
)

// PubSubSink publishes notifications to a Google Cloud Pub/Sub topic.
type PubSubSink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubSink connects a client and resolves the topic.
func NewPubSubSink(ctx context.Context, projectID, topicID string) (*PubSubSink, error) {
	if projectID == "" || topicID == "" {
		return nil, fmt.Errorf("pubsub sink requires project and topic ids")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &PubSubSink{client: client, topic: client.Topic(topicID)}, nil
}

// Deliver marshals the event to JSON and publishes it.
func (s *PubSubSink) Deliver(ctx context.Context, evt notify.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	result := s.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"type":      string(evt.Type),
			"source_id": evt.SourceID,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close stops the topic publisher and closes the client.
func (s *PubSubSink) Close(context.Context) error {
	s.topic.Stop()
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
