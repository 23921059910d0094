package detectors

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ocx/botdetect/internal/core"
)

// BehavioralOptions configures the Behavioral detector's fixed-window
// request-rate tracking. Exposed as a struct (rather than folding the
// knobs into Contribute's fixed (ctx, state) signature) so the window size
// and thresholds can be tuned per policy without touching the Detector
// interface.
type BehavioralOptions struct {
	WindowSize      time.Duration // default 10s
	RequestsPerWindowForSuspicion int // default 20
	RequestsPerWindowForHighConfidence int // default 50
	CleanupInterval time.Duration // default 5m
}

func defaultBehavioralOptions() BehavioralOptions {
	return BehavioralOptions{
		WindowSize:                         10 * time.Second,
		RequestsPerWindowForSuspicion:      20,
		RequestsPerWindowForHighConfidence: 50,
		CleanupInterval:                    5 * time.Minute,
	}
}

type behavioralWindow struct {
	count       int
	windowStart time.Time
}

// Behavioral counts requests per IP in-process over a fixed window that
// restarts once WindowSize has elapsed; bursts far beyond human browsing
// cadence are bot evidence. Grounded on internal/middleware/rate_limiter.go's
// read-mostly fixed window and background cleanup loop.
type Behavioral struct {
	Base
	opts BehavioralOptions

	mu      sync.RWMutex
	windows map[string]*behavioralWindow

	stop chan struct{}
}

func NewBehavioral(opts BehavioralOptions) *Behavioral {
	defaults := defaultBehavioralOptions()
	if opts.WindowSize <= 0 {
		opts.WindowSize = defaults.WindowSize
	}
	if opts.RequestsPerWindowForSuspicion <= 0 {
		opts.RequestsPerWindowForSuspicion = defaults.RequestsPerWindowForSuspicion
	}
	if opts.RequestsPerWindowForHighConfidence <= 0 {
		opts.RequestsPerWindowForHighConfidence = defaults.RequestsPerWindowForHighConfidence
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaults.CleanupInterval
	}
	d := &Behavioral{
		Base:    NewBase("behavioral", 40, 10*time.Millisecond),
		opts:    opts,
		windows: make(map[string]*behavioralWindow),
		stop:    make(chan struct{}),
	}
	go d.cleanupLoop()
	return d
}

// Stop ends the background cleanup loop; call once at shutdown.
func (d *Behavioral) Stop() {
	close(d.stop)
}

func (d *Behavioral) Contribute(_ context.Context, state *core.BlackboardState) ([]core.Contribution, error) {
	ip := state.Request.RemoteAddr
	if ip == nil {
		return nil, nil
	}
	key := ip.String()
	now := time.Now()

	d.mu.RLock()
	w, exists := d.windows[key]
	if exists && now.Sub(w.windowStart) <= d.opts.WindowSize {
		d.mu.RUnlock()
		d.mu.Lock()
		w.count++
		count := w.count
		d.mu.Unlock()
		return d.evaluate(count), nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	w, exists = d.windows[key]
	if exists && now.Sub(w.windowStart) <= d.opts.WindowSize {
		w.count++
		return d.evaluate(w.count), nil
	}
	d.windows[key] = &behavioralWindow{count: 1, windowStart: now}
	return d.evaluate(1), nil
}

func (d *Behavioral) evaluate(count int) []core.Contribution {
	signals := core.SignalMap{"behavioral.window_count": core.IntSignal(int64(count))}

	switch {
	case count >= d.opts.RequestsPerWindowForHighConfidence:
		return []core.Contribution{{
			Detector:        d.Name(),
			Category:        "behavioral",
			ConfidenceDelta: 0.8,
			Weight:          1.0,
			Reason:          "request rate far exceeds human cadence",
			Signals:         signals,
		}}
	case count >= d.opts.RequestsPerWindowForSuspicion:
		return []core.Contribution{{
			Detector:        d.Name(),
			Category:        "behavioral",
			ConfidenceDelta: 0.4,
			Weight:          0.6,
			Reason:          "elevated request rate from this source",
			Signals:         signals,
		}}
	default:
		return []core.Contribution{{
			Detector: d.Name(),
			Category: "behavioral",
			Signals:  signals,
		}}
	}
}

func (d *Behavioral) cleanupLoop() {
	ticker := time.NewTicker(d.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.cleanup()
		case <-d.stop:
			return
		}
	}
}

func (d *Behavioral) cleanup() {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for key, w := range d.windows {
		if now.Sub(w.windowStart) > d.opts.WindowSize*4 {
			delete(d.windows, key)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("behavioral window cleanup", "removed", removed)
	}
}
