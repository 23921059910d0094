package reputation

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically garbage-collects stale Neutral records via the same
// ticker-driven cleanup loop shape as internal/middleware/rate_limiter.go's
// cleanup().
type Sweeper struct {
	store    Store
	interval time.Duration
	stop     chan struct{}
}

// NewSweeper starts no goroutine yet; call Start to begin the background
// loop.
func NewSweeper(store Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Sweeper{store: store, interval: interval, stop: make(chan struct{})}
}

// Start runs the sweep loop until Stop is called.
func (s *Sweeper) Start() {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				removed, err := s.store.Sweep(ctx, time.Now())
				cancel()
				if err != nil {
					slog.Warn("reputation sweep failed", "error", err)
					continue
				}
				if removed > 0 {
					slog.Info("reputation sweep removed stale records", "removed", removed)
				}
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the background loop.
func (s *Sweeper) Stop() {
	close(s.stop)
}
