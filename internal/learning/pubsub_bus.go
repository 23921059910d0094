package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"

	"github.com/ocx/botdetect/internal/core"
)

// PubSubBus durably fans out LearningEvents via Google Cloud Pub/Sub for
// deployments that need cross-region or cross-cluster delivery beyond what
// Redis pub/sub offers. Grounded on internal/events/pubsub_bus.go's
// embed-the-local-bus-and-also-publish-durably structure.
type PubSubBus struct {
	*LocalBus
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubBus creates the topic if absent and wires message ordering by
// event kind so consumers can rely on per-kind delivery order.
func NewPubSubBus(ctx context.Context, projectID, topicID string) (*PubSubBus, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("topic.Exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("CreateTopic: %w", err)
		}
		slog.Info("created learning bus pubsub topic", "topic", topicID)
	}
	topic.EnableMessageOrdering = true

	return &PubSubBus{LocalBus: NewLocalBus(), client: client, topic: topic}, nil
}

func (b *PubSubBus) Publish(event core.LearningEvent) {
	b.LocalBus.Publish(event)

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Warn("learning event marshal failed", "error", err)
		return
	}

	msg := &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"kind": string(event.Kind),
			"id":   event.ID,
		},
		OrderingKey: string(event.Kind),
	}

	result := b.topic.Publish(context.Background(), msg)
	go func() {
		if _, err := result.Get(context.Background()); err != nil {
			slog.Warn("learning bus pubsub publish failed", "event_id", event.ID, "error", err)
		}
	}()
}

func (b *PubSubBus) Close() error {
	b.topic.Stop()
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("pubsub client close: %w", err)
	}
	return nil
}
