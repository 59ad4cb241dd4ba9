package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubNotifier durably mirrors audit notifications to a Cloud Pub/Sub
// topic, creating it if absent — adapted from the teacher's
// internal/events/pubsub_bus.go. It publishes only the notification shape
// (event_type/id/correlation_id), never the encrypted payload.
type PubSubNotifier struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubNotifier connects to projectID and ensures topicID exists.
func NewPubSubNotifier(projectID, topicID string) (*PubSubNotifier, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("audit: pubsub.NewClient: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("audit: topic.Exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("audit: create topic: %w", err)
		}
	}

	return &PubSubNotifier{client: client, topic: topic}, nil
}

// Notify publishes n asynchronously; a publish failure is logged, never
// surfaced to the audit write path that triggered it.
func (p *PubSubNotifier) Notify(n Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		slog.Warn("audit: marshal pubsub notification failed", "error", err)
		return
	}

	result := p.topic.Publish(context.Background(), &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"event_type":     n.EventType,
			"correlation_id": n.CorrelationID,
		},
	})

	go func() {
		if _, err := result.Get(context.Background()); err != nil {
			slog.Warn("audit: pubsub publish failed", "error", err, "event_type", n.EventType)
		}
	}()
}

// Close releases the Pub/Sub client.
func (p *PubSubNotifier) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
