// Package reputation implements the Pattern Reputation Engine: a keyed
// store of PatternReputation records with online EMA updates, lazy time
// decay, hysteretic state-machine transitions, and garbage collection.
package reputation

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/ocx/botdetect/internal/core"
)

// Config tunes the learning, decay, and hysteresis constants.
type Config struct {
	Alpha              float64 // EMA learning rate
	Prior              float64 // neutral bot_score target for decay
	MaxSupport         float64
	TauScore           time.Duration // decay time constant for bot_score
	TauSupport         time.Duration // decay time constant for support

	PromoteSuspectScore   float64 // Neutral -> Suspect
	PromoteSuspectSupport float64
	PromoteBadScore       float64 // Suspect -> ConfirmedBad
	PromoteBadSupport     float64
	DemoteBadScore        float64 // ConfirmedBad -> Suspect ("forgive")
	DemoteBadSupport      float64 // must be > PromoteBadSupport
	DemoteSuspectScore    float64 // Suspect -> Neutral

	PromoteGoodScore      float64 // Neutral -> Suspect(good side), symmetric to bad side
	PromoteGoodSupport    float64
	ConfirmGoodScore      float64 // Suspect(good) -> ConfirmedGood
	ConfirmGoodSupport    float64
	DemoteGoodScore       float64 // ConfirmedGood -> Suspect(good)
	DemoteGoodSupport     float64
	PromoteNeutralScore   float64 // Suspect(good) -> Neutral

	GCEligibleAge time.Duration
	GCMinSupport  float64
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Alpha:      0.2,
		Prior:      0.5,
		MaxSupport: 1000,
		TauScore:   72 * time.Hour,
		TauSupport: 24 * time.Hour,

		PromoteSuspectScore:   0.6,
		PromoteSuspectSupport: 10,
		PromoteBadScore:       0.9,
		PromoteBadSupport:     50,
		DemoteBadScore:        0.7,
		DemoteBadSupport:      100,
		DemoteSuspectScore:    0.4,

		PromoteGoodScore:   0.4, // score <= this, symmetric to PromoteSuspectScore on the human side
		PromoteGoodSupport: 10,
		ConfirmGoodScore:   0.1,
		ConfirmGoodSupport: 50,
		DemoteGoodScore:    0.3,
		DemoteGoodSupport:  100,
		PromoteNeutralScore: 0.6,

		GCEligibleAge: 30 * 24 * time.Hour,
		GCMinSupport:  1,
	}
}

// Store is the reputation backend contract. The process-wide store is
// shared and concurrently accessed; per-pattern operations are
// linearizable, cross-pattern operations (Sweep) need not be.
type Store interface {
	Get(ctx context.Context, patternID string) (core.PatternReputation, bool, error)
	Observe(ctx context.Context, patternID string, label float64) error
	SetState(ctx context.Context, patternID string, state core.ReputationState) error
	Sweep(ctx context.Context, now time.Time) (removed int, err error)
}

const shardCount = 32

type entry struct {
	rep core.PatternReputation
}

// MemStore is a sharded in-memory Store. Each shard has its own mutex so
// updates to unrelated pattern ids never contend.
type MemStore struct {
	cfg    Config
	shards [shardCount]*shard
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewMemStore creates a ready-to-use in-memory reputation store.
func NewMemStore(cfg Config) *MemStore {
	s := &MemStore{cfg: cfg}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return s
}

func (s *MemStore) shardFor(patternID string) *shard {
	var h uint32 = 2166136261
	for i := 0; i < len(patternID); i++ {
		h ^= uint32(patternID[i])
		h *= 16777619
	}
	return s.shards[h%shardCount]
}

// Get returns the pattern's reputation, applying lazy time decay first.
// A pattern never seen before returns the neutral prior and ok=false.
func (s *MemStore) Get(_ context.Context, patternID string) (core.PatternReputation, bool, error) {
	sh := s.shardFor(patternID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[patternID]
	if !ok {
		return core.PatternReputation{
			PatternID: patternID,
			BotScore:  s.cfg.Prior,
			State:     core.ReputationNeutral,
		}, false, nil
	}

	s.decayLocked(e)
	return e.rep, true, nil
}

// decayLocked applies the lazy time-decay formula. It is
// idempotent with respect to LastSeen: calling it twice back-to-back with
// no elapsed time is a no-op, since decay only advances LastSeen forward
// and the delta is derived from it.
func (s *MemStore) decayLocked(e *entry) {
	now := time.Now()
	dt := now.Sub(e.rep.LastSeen)
	if dt <= 0 {
		return
	}

	if s.cfg.TauScore > 0 {
		decay := 1 - math.Exp(-float64(dt)/float64(s.cfg.TauScore))
		e.rep.BotScore += (s.cfg.Prior - e.rep.BotScore) * decay
	}
	if s.cfg.TauSupport > 0 {
		e.rep.Support *= math.Exp(-float64(dt) / float64(s.cfg.TauSupport))
	}
	e.rep.LastSeen = now
}

// Observe applies the online EMA update for a labeled outcome (label is 0
// for human, 1 for bot) and re-evaluates the hysteresis state machine.
func (s *MemStore) Observe(_ context.Context, patternID string, label float64) error {
	sh := s.shardFor(patternID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[patternID]
	if !ok {
		e = &entry{rep: core.PatternReputation{
			PatternID: patternID,
			BotScore:  s.cfg.Prior,
			State:     core.ReputationNeutral,
			LastSeen:  time.Now(),
		}}
		sh.entries[patternID] = e
	} else {
		s.decayLocked(e)
	}

	e.rep.BotScore = clamp01((1-s.cfg.Alpha)*e.rep.BotScore + s.cfg.Alpha*label)
	e.rep.Support = math.Min(e.rep.Support+1, s.cfg.MaxSupport)
	e.rep.LastSeen = time.Now()

	s.transitionLocked(e)
	return nil
}

// SetState forces a manual transition (ManuallyBlocked / ManuallyAllowed,
// or an admin override to any other state). Manual states are immune to
// Observe-driven transitions until another SetState call moves them.
func (s *MemStore) SetState(_ context.Context, patternID string, state core.ReputationState) error {
	sh := s.shardFor(patternID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[patternID]
	if !ok {
		e = &entry{rep: core.PatternReputation{
			PatternID: patternID,
			BotScore:  s.cfg.Prior,
			LastSeen:  time.Now(),
		}}
		sh.entries[patternID] = e
	}
	e.rep.State = state
	e.rep.LastSeen = time.Now()
	return nil
}

// transitionLocked applies the hysteretic state machine. Manual* states
// never auto-transition; only SetState moves them.
func (s *MemStore) transitionLocked(e *entry) {
	cfg := s.cfg
	rep := &e.rep

	switch rep.State {
	case core.ReputationManuallyBlocked, core.ReputationManuallyAllowed:
		return

	case core.ReputationNeutral:
		if rep.BotScore >= cfg.PromoteSuspectScore && rep.Support >= cfg.PromoteSuspectSupport {
			rep.State = core.ReputationSuspect
		} else if rep.BotScore <= cfg.PromoteGoodScore && rep.Support >= cfg.PromoteGoodSupport {
			rep.State = core.ReputationSuspect // suspect-of-being-good; confirmed via ConfirmGoodScore below
		}

	case core.ReputationSuspect:
		if rep.BotScore >= cfg.PromoteBadScore && rep.Support >= cfg.PromoteBadSupport {
			rep.State = core.ReputationConfirmedBad
		} else if rep.BotScore <= cfg.ConfirmGoodScore && rep.Support >= cfg.ConfirmGoodSupport {
			rep.State = core.ReputationConfirmedGood
		} else if rep.BotScore > cfg.Prior && rep.BotScore <= cfg.DemoteSuspectScore {
			// Bad-side suspect drifted all the way back across the neutral
			// band to the good side's entry threshold.
			rep.State = core.ReputationNeutral
		} else if rep.BotScore <= cfg.Prior && rep.BotScore >= cfg.PromoteNeutralScore {
			// Good-side suspect drifted all the way back to the bad side's
			// entry threshold.
			rep.State = core.ReputationNeutral
		}

	case core.ReputationConfirmedBad:
		// Forgive side requires MORE support than the accuse side.
		if rep.BotScore <= cfg.DemoteBadScore && rep.Support >= cfg.DemoteBadSupport {
			rep.State = core.ReputationSuspect
		}

	case core.ReputationConfirmedGood:
		if rep.BotScore >= cfg.DemoteGoodScore && rep.Support >= cfg.DemoteGoodSupport {
			rep.State = core.ReputationSuspect
		}
	}
}

// Sweep removes records with LastSeen older than GCEligibleAge, Support <
// GCMinSupport, and State == Neutral. Manual and Confirmed* states are
// never garbage-collected.
func (s *MemStore) Sweep(_ context.Context, now time.Time) (int, error) {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, e := range sh.entries {
			if e.rep.State != core.ReputationNeutral {
				continue
			}
			if e.rep.Support >= s.cfg.GCMinSupport {
				continue
			}
			if now.Sub(e.rep.LastSeen) < s.cfg.GCEligibleAge {
				continue
			}
			delete(sh.entries, id)
			removed++
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Range calls fn with every currently-held record, for admin export/listing.
// Iteration order is unspecified; fn stopping (returning false) stops the
// whole scan, not just the current shard.
func (s *MemStore) Range(_ context.Context, fn func(core.PatternReputation) bool) error {
	for _, sh := range s.shards {
		sh.mu.Lock()
		reps := make([]core.PatternReputation, 0, len(sh.entries))
		for _, e := range sh.entries {
			reps = append(reps, e.rep)
		}
		sh.mu.Unlock()

		for _, rep := range reps {
			if !fn(rep) {
				return nil
			}
		}
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
