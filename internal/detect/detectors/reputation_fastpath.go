package detectors

import (
	"context"
	"time"

	"github.com/ocx/botdetect/internal/core"
	"github.com/ocx/botdetect/internal/reputation"
)

// ReputationFastPath is the highest-priority detector: it derives the UA
// and IP pattern ids and checks the reputation store before
// any other detector runs. A ConfirmedBad/ManuallyBlocked hit short-circuits
// the whole pipeline via a verified_bad contribution.
type ReputationFastPath struct {
	Base
	store reputation.Store
}

func NewReputationFastPath(store reputation.Store) *ReputationFastPath {
	return &ReputationFastPath{
		Base:  NewBase("reputation_fastpath", 3, 50*time.Millisecond),
		store: store,
	}
}

func (d *ReputationFastPath) Contribute(ctx context.Context, state *core.BlackboardState) ([]core.Contribution, error) {
	req := state.Request
	ua := req.Headers.Get("User-Agent")

	var contributions []core.Contribution
	signals := core.SignalMap{}

	if ua != "" {
		uaID := reputation.UAPatternID(ua)
		signals["reputation.fastpath.ua.pattern_id"] = core.StringSignal(uaID)
		if c := d.check(ctx, uaID, "ua"); c != nil {
			contributions = append(contributions, *c)
		}
	}

	if req.RemoteAddr != nil {
		ipID := reputation.IPPatternID(req.RemoteAddr)
		signals["reputation.fastpath.ip.pattern_id"] = core.StringSignal(ipID)
		if c := d.check(ctx, ipID, "ip"); c != nil {
			contributions = append(contributions, *c)
		}
	}

	if len(contributions) == 0 {
		return []core.Contribution{{
			Detector: d.Name(),
			Category: "reputation",
			Signals:  signals,
		}}, nil
	}

	// Attach the lookup signals to the first emitted contribution so they
	// still reach the blackboard even when a verified_bad fires.
	contributions[0].Signals = signals.Merge(contributions[0].Signals)
	return contributions, nil
}

func (d *ReputationFastPath) check(ctx context.Context, patternID, source string) *core.Contribution {
	rep, ok, err := d.store.Get(ctx, patternID)
	if err != nil || !ok {
		return nil
	}

	if rep.State.CanFastAbort() {
		return &core.Contribution{
			Detector:         d.Name(),
			Category:         "reputation",
			ConfidenceDelta:  1.0,
			Weight:           10.0,
			Reason:           source + " pattern has confirmed-bad reputation",
			VerifiedBad:      true,
			TriggerEarlyExit: true,
			Signals: core.SignalMap{
				"reputation.fastpath." + source + ".state": core.EnumSignal(rep.State.String()),
			},
		}
	}

	if rep.State == core.ReputationManuallyAllowed {
		return &core.Contribution{
			Detector:     d.Name(),
			Category:     "reputation",
			VerifiedGood: true,
			Reason:       source + " pattern is manually allow-listed",
			Weight:       10.0,
			Signals: core.SignalMap{
				"reputation.fastpath." + source + ".state": core.EnumSignal(rep.State.String()),
			},
		}
	}

	// Non-decisive states still carry weighted evidence proportional to how
	// far the score sits from neutral, scaled down by support.
	delta := (rep.BotScore - 0.5) * 2
	weight := 0.3 * minF(rep.Support/50, 1)
	if weight <= 0 {
		return nil
	}
	return &core.Contribution{
		Detector:        d.Name(),
		Category:        "reputation",
		ConfidenceDelta: delta,
		Weight:          weight,
		Reason:          source + " pattern reputation: " + rep.State.String(),
		Signals: core.SignalMap{
			"reputation.fastpath." + source + ".state": core.EnumSignal(rep.State.String()),
		},
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
