package reputation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ocx/botdetect/internal/circuitbreaker"
	"github.com/ocx/botdetect/internal/core"
)

// ErrStoreUnavailable indicates the reputation backend is unreachable.
// Callers on the fast path must treat this the same as "no record" and
// continue rather than aborting.
var ErrStoreUnavailable = errors.New("reputation store unavailable")

// Backend is implemented by the pluggable durable stores (Redis, Spanner,
// Postgres). It is narrower than Store: it has no in-process decay/EMA
// logic of its own, leaving that to GuardedStore, which layers the same
// hysteresis engine as MemStore on top of whatever the backend persists.
type Backend interface {
	Load(ctx context.Context, patternID string) (core.PatternReputation, bool, error)
	Save(ctx context.Context, rep core.PatternReputation) error
	Delete(ctx context.Context, patternID string) error
	Scan(ctx context.Context, fn func(core.PatternReputation) bool) error
}

// GuardedStore wraps a durable Backend with the in-memory hysteresis engine
// (for fast, linearizable per-pattern updates) and a circuit breaker that
// trips when the backend is unreachable: reads fall back to "no record"
// and the caller proceeds.
type GuardedStore struct {
	mem     *MemStore
	backend Backend
	cb      *circuitbreaker.CircuitBreaker
}

// NewGuardedStore builds a store that keeps the hysteresis engine local
// (fast, always available) while best-effort persisting to/loading from a
// durable backend behind a circuit breaker.
func NewGuardedStore(cfg Config, backend Backend) *GuardedStore {
	cbCfg := circuitbreaker.DefaultConfig("reputation-backend")
	return &GuardedStore{
		mem:     NewMemStore(cfg),
		backend: backend,
		cb:      circuitbreaker.New(cbCfg),
	}
}

// Get serves from the in-memory engine, hydrating from the backend first if
// this is the first time the pattern has been seen in this process.
func (g *GuardedStore) Get(ctx context.Context, patternID string) (core.PatternReputation, bool, error) {
	if rep, ok, _ := g.mem.Get(ctx, patternID); ok {
		return rep, true, nil
	}

	result, err := g.cb.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		rep, ok, err := g.backend.Load(ctx, patternID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return rep, nil
	})
	if err != nil {
		slog.Warn("reputation backend unavailable, continuing with no record", "pattern_id", patternID, "error", err)
		rep, _, _ := g.mem.Get(ctx, patternID)
		return rep, false, ErrStoreUnavailable
	}
	if result == nil {
		rep, _, _ := g.mem.Get(ctx, patternID)
		return rep, false, nil
	}

	rep := result.(core.PatternReputation)
	_ = g.mem.SetState(ctx, patternID, rep.State)
	return rep, true, nil
}

// Observe updates the in-memory engine synchronously (this is on the
// request path and must be fast) and asynchronously best-effort persists
// to the backend.
func (g *GuardedStore) Observe(ctx context.Context, patternID string, label float64) error {
	if err := g.mem.Observe(ctx, patternID, label); err != nil {
		return err
	}
	rep, _, _ := g.mem.Get(ctx, patternID)

	go func() {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := g.cb.ExecuteContext(saveCtx, func(ctx context.Context) (interface{}, error) {
			return nil, g.backend.Save(ctx, rep)
		}); err != nil {
			slog.Warn("reputation backend persist failed", "pattern_id", patternID, "error", err)
		}
	}()
	return nil
}

func (g *GuardedStore) SetState(ctx context.Context, patternID string, state core.ReputationState) error {
	if err := g.mem.SetState(ctx, patternID, state); err != nil {
		return err
	}
	rep, _, _ := g.mem.Get(ctx, patternID)

	saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := g.cb.ExecuteContext(saveCtx, func(ctx context.Context) (interface{}, error) {
		return nil, g.backend.Save(ctx, rep)
	})
	return err
}

// Range calls fn with every record in the durable backend, falling back to
// the in-memory set if the backend is unreachable. Used by the admin
// export/listing endpoints, not on the request path.
func (g *GuardedStore) Range(ctx context.Context, fn func(core.PatternReputation) bool) error {
	_, err := g.cb.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, g.backend.Scan(ctx, fn)
	})
	if err != nil {
		slog.Warn("reputation backend unavailable for range scan, falling back to in-memory set", "error", err)
		return g.mem.Range(ctx, fn)
	}
	return nil
}

func (g *GuardedStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed, err := g.mem.Sweep(ctx, now)
	if err != nil {
		return removed, err
	}

	_, cbErr := g.cb.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, g.backend.Scan(ctx, func(rep core.PatternReputation) bool {
			if rep.State != core.ReputationNeutral {
				return true
			}
			if now.Sub(rep.LastSeen) < g.mem.cfg.GCEligibleAge {
				return true
			}
			_ = g.backend.Delete(ctx, rep.PatternID)
			removed++
			return true
		})
	})
	if cbErr != nil {
		slog.Warn("reputation backend sweep failed", "error", cbErr)
	}
	return removed, nil
}
