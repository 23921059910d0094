package learning

import (
	"context"
	"log/slog"

	"github.com/ocx/botdetect/internal/core"
	"github.com/ocx/botdetect/internal/reputation"
)

// RegisterReputationSink subscribes a handler that translates
// HighConfidenceDetection and UserFeedback learning events into
// observe(pattern_id, label) calls against the reputation store.
func RegisterReputationSink(bus Bus, store reputation.Store) {
	bus.Subscribe(core.EventHighConfidenceDetection, func(ev core.LearningEvent) {
		observeFromEvent(store, ev, 1)
	})
	bus.Subscribe(core.EventUserFeedback, func(ev core.LearningEvent) {
		label, ok := ev.Payload["label"].(float64)
		if !ok {
			slog.Warn("user feedback event missing numeric label", "event_id", ev.ID)
			return
		}
		observeFromEvent(store, ev, label)
	})
}

func observeFromEvent(store reputation.Store, ev core.LearningEvent, label float64) {
	ctx := context.Background()
	for _, key := range []string{"ua_pattern_id", "ip_pattern_id", "pattern_id"} {
		id, ok := ev.Payload[key].(string)
		if !ok || id == "" {
			continue
		}
		if err := store.Observe(ctx, id, label); err != nil {
			slog.Warn("reputation sink observe failed", "pattern_id", id, "error", err)
		}
	}
}
