package detectors

import (
	"context"
	"time"

	"github.com/ocx/botdetect/internal/core"
	"github.com/ocx/botdetect/internal/detect/trigger"
)

// aiSignalWeight is how much a given already-collected blackboard signal
// contributes to the escalation score, grouped by the same
// category-scoring idea the generic AI payload heuristic uses: count
// matches across independent categories rather than trust a single one.
var aiSignalWeight = map[string]float64{
	"ua.is_bot":                   1,
	"ip.is_datacenter":            1,
	"inconsistency.ua_vs_headers": 1,
}

// AIEscalation is the AI-path detector: it only runs once earlier waves
// have pushed running risk into the ambiguous middle band, where the cheap
// detectors disagree enough that a heavier combined-signal heuristic is
// worth its cost. It reduces the signals already on the blackboard to a
// category match count, mirroring the keyword-category scoring in the
// teacher's generic payload heuristic, rather than re-deriving evidence
// the earlier waves already computed.
type AIEscalation struct {
	Base
}

func NewAIEscalation(earlyExitThreshold, aiEscalationThreshold float64) *AIEscalation {
	return &AIEscalation{
		Base: NewBase("ai_escalation", 120, 200*time.Millisecond,
			trigger.RiskExceeds{Threshold: aiEscalationThreshold},
			trigger.AnyOf{
				trigger.RiskExceeds{Threshold: earlyExitThreshold},
				trigger.DetectorCount{N: 3},
			},
		),
	}
}

func (d *AIEscalation) Contribute(_ context.Context, state *core.BlackboardState) ([]core.Contribution, error) {
	matches := 0
	for key, weight := range aiSignalWeight {
		sig, ok := state.Signals[key]
		if !ok {
			continue
		}
		if sig.Kind == core.SignalBool && sig.Bool {
			matches++
			_ = weight
		}
	}

	signals := core.SignalMap{"ai.category_matches": core.IntSignal(int64(matches))}

	if matches >= 2 {
		return []core.Contribution{{
			Detector:        d.Name(),
			Category:        "ai_escalation",
			ConfidenceDelta: 0.5,
			Weight:          1.0,
			Reason:          "multiple independent automation signals converge",
			BotType:         "likely_automation",
			Signals:         signals,
		}}, nil
	}

	return []core.Contribution{{
		Detector: d.Name(),
		Category: "ai_escalation",
		Signals:  signals,
	}}, nil
}
