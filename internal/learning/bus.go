// Package learning implements the Learning Bus: a publish-subscribe
// channel the request path publishes onto without blocking, and a set of
// background handlers (reputation sink, drift monitor) that consume events
// to update the Pattern Reputation Engine and watch for distribution
// shift.
//
// Grounded on internal/events/bus.go's bounded-channel, drop-on-overflow
// in-memory bus, generalized from CloudEvents to the engine's typed
// LearningEvent.
package learning

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ocx/botdetect/internal/core"
)

// Handler consumes a LearningEvent. Handlers must be idempotent: the same
// event may be redelivered after a crash when running on a durable bus.
type Handler func(core.LearningEvent)

// Bus is the publish side the request path calls; Publish must never
// block.
type Bus interface {
	Publish(event core.LearningEvent)
	Subscribe(kind core.LearningEventKind, h Handler)
	// OverflowCount returns how many publications were dropped because a
	// subscriber's queue was full.
	OverflowCount() int64
}

const defaultQueueSize = 256

// LocalBus is an in-process Bus: each subscriber gets its own bounded
// channel and goroutine, so a slow handler only drops its own events
// rather than back-pressuring the publisher or other subscribers.
type LocalBus struct {
	mu          sync.RWMutex
	subscribers map[core.LearningEventKind][]chan core.LearningEvent
	queueSize   int
	overflow    atomic.Int64
}

func NewLocalBus() *LocalBus {
	return &LocalBus{
		subscribers: make(map[core.LearningEventKind][]chan core.LearningEvent),
		queueSize:   defaultQueueSize,
	}
}

func (b *LocalBus) Subscribe(kind core.LearningEventKind, h Handler) {
	ch := make(chan core.LearningEvent, b.queueSize)

	b.mu.Lock()
	b.subscribers[kind] = append(b.subscribers[kind], ch)
	b.mu.Unlock()

	go func() {
		for ev := range ch {
			h(ev)
		}
	}()
}

// Publish enqueues event onto every subscriber of its kind. On a full
// queue the event is dropped and the overflow counter increments — the
// request path must never block on a slow subscriber.
func (b *LocalBus) Publish(event core.LearningEvent) {
	b.mu.RLock()
	subs := b.subscribers[event.Kind]
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			b.overflow.Add(1)
			slog.Warn("learning bus overflow, dropping event", "kind", event.Kind, "event_id", event.ID)
		}
	}
}

func (b *LocalBus) OverflowCount() int64 {
	return b.overflow.Load()
}
