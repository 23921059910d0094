package learning

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ocx/botdetect/internal/core"
)

// RedisBus durably fans out LearningEvents across process instances via
// Redis Pub/Sub, while still delivering to local in-process subscribers
// immediately: Redis for cross-pod delivery, local channels for
// zero-latency same-process handlers.
type RedisBus struct {
	*LocalBus
	client  *redis.Client
	channel string
}

func NewRedisBus(client *redis.Client, channel string) *RedisBus {
	if channel == "" {
		channel = "botdetect:learning"
	}
	bus := &RedisBus{LocalBus: NewLocalBus(), client: client, channel: channel}
	bus.startReceiver()
	return bus
}

// Publish sends event to Redis so every instance's receiver loop (this
// one included) delivers it to local subscribers. If the Redis publish
// itself fails, it falls back to immediate local-only delivery rather than
// silently dropping the event.
func (b *RedisBus) Publish(event core.LearningEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Warn("learning event marshal failed", "error", err)
		b.LocalBus.Publish(event)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		slog.Warn("learning bus redis publish failed, falling back to local delivery", "error", err)
		b.LocalBus.Publish(event)
	}
}

// startReceiver subscribes to the Redis channel and delivers incoming
// events (published by this instance or any other) to local subscribers.
func (b *RedisBus) startReceiver() {
	pubsub := b.client.Subscribe(context.Background(), b.channel)
	go func() {
		ch := pubsub.Channel()
		for msg := range ch {
			var event core.LearningEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				slog.Warn("learning bus redis message unmarshal failed", "error", err)
				continue
			}
			b.LocalBus.Publish(event)
		}
	}()
}
