// Package aggregator implements the Evidence Aggregator: it reduces a
// request's accumulated Contributions into a single AggregatedEvidence
// verdict, and exposes the same reduction as a "running risk" helper the
// orchestrator calls after every detector completes.
package aggregator

import (
	"math"
	"sort"

	"github.com/ocx/botdetect/internal/core"
)

// Config tunes the aggregation weighting constants.
type Config struct {
	ReferenceWeight float64 // normalizing constant for confidence, default 3.0

	// Risk band thresholds on bot probability p. Must be monotonically
	// increasing.
	ElevatedThreshold float64 // default 0.25
	MediumThreshold   float64 // default 0.50
	HighThreshold     float64 // default 0.75
	VeryHighThreshold float64 // default 0.90
}

func DefaultConfig() Config {
	return Config{
		ReferenceWeight:   3.0,
		ElevatedThreshold: 0.25,
		MediumThreshold:   0.50,
		HighThreshold:     0.75,
		VeryHighThreshold: 0.90,
	}
}

// Aggregator reduces contributions per Config, applying a policy's weight
// overrides.
type Aggregator struct {
	cfg Config
}

func New(cfg Config) *Aggregator {
	return &Aggregator{cfg: cfg}
}

// effectiveWeight applies policy.weight_override[detector_name], defaulting
// to 1.0 when no override is configured for that detector.
func effectiveWeight(c core.Contribution, overrides map[string]float64) float64 {
	mult := 1.0
	if overrides != nil {
		if v, ok := overrides[c.Detector]; ok {
			mult = v
		}
	}
	return c.Weight * mult
}

// RunningRisk applies the same reduction as Aggregate but returns only the
// probability, for trigger.RiskExceeds evaluation mid-orchestration. It
// never look at verified flags — the orchestrator handles those as
// explicit early-exit conditions, not via the running-risk number.
func (a *Aggregator) RunningRisk(contributions []core.Contribution, overrides map[string]float64) float64 {
	var numerator, denominator float64
	for _, c := range contributions {
		w := effectiveWeight(c, overrides)
		numerator += w * c.ConfidenceDelta
		denominator += w
	}
	if denominator == 0 {
		return 0.5
	}
	meanDelta := numerator / denominator
	return clamp(0.5+0.5*meanDelta, 0, 1)
}

// Aggregate reduces the final contributions list into an AggregatedEvidence.
// policy may be nil for a neutral, override-free reduction (used by tests
// and the test-mode middleware bypass).
func (a *Aggregator) Aggregate(contributions []core.Contribution, signals core.SignalMap, policy *core.DetectionPolicy) core.AggregatedEvidence {
	var overrides map[string]float64
	if policy != nil {
		overrides = policy.WeightOverrides
	}

	evidence := core.AggregatedEvidence{
		Contributions:     contributions,
		Signals:           signals,
		CategoryBreakdown: core.CategoryBreakdown{},
	}

	detectorSet := map[string]struct{}{}
	for _, c := range contributions {
		detectorSet[c.Detector] = struct{}{}
		if c.VerifiedGood {
			evidence.VerifiedGood = true
		}
		if c.VerifiedBad {
			evidence.VerifiedBad = true
		}
	}
	for name := range detectorSet {
		evidence.ContributingDetectors = append(evidence.ContributingDetectors, name)
	}
	sort.Strings(evidence.ContributingDetectors)

	if evidence.VerifiedGood && !evidence.VerifiedBad {
		evidence.BotProbability = 0
		evidence.RiskBand = core.RiskLow
		evidence.Confidence = a.verifiedConfidence(contributions, func(c core.Contribution) bool { return c.VerifiedGood })
		a.fillCategoryBreakdown(&evidence, contributions, overrides)
		a.resolveBotTypeAndName(&evidence, contributions, overrides)
		a.resolveAction(&evidence, policy)
		return evidence
	}
	if evidence.VerifiedBad {
		evidence.BotProbability = 1
		evidence.RiskBand = core.RiskVeryHigh
		evidence.Confidence = a.verifiedConfidence(contributions, func(c core.Contribution) bool { return c.VerifiedBad })
		a.fillCategoryBreakdown(&evidence, contributions, overrides)
		a.resolveBotTypeAndName(&evidence, contributions, overrides)
		a.resolveAction(&evidence, policy)
		return evidence
	}

	var numerator, denominator float64
	for _, c := range contributions {
		w := effectiveWeight(c, overrides)
		numerator += w * c.ConfidenceDelta
		denominator += w
	}

	if denominator == 0 {
		evidence.BotProbability = 0.5
		evidence.Confidence = 0
		evidence.RiskBand = core.RiskLow
		a.resolveAction(&evidence, policy)
		return evidence
	}

	meanDelta := numerator / denominator
	evidence.BotProbability = clamp(0.5+0.5*meanDelta, 0, 1)
	evidence.Confidence = math.Min(1, denominator/a.cfg.ReferenceWeight)
	evidence.RiskBand = a.riskBand(evidence.BotProbability)

	a.fillCategoryBreakdown(&evidence, contributions, overrides)
	a.resolveBotTypeAndName(&evidence, contributions, overrides)
	a.resolveAction(&evidence, policy)
	return evidence
}

// verifiedConfidence bounds a verified contribution's weight to [0,1] as
// the confidence value.
func (a *Aggregator) verifiedConfidence(contributions []core.Contribution, match func(core.Contribution) bool) float64 {
	for _, c := range contributions {
		if match(c) {
			return clamp(c.Weight, 0, 1)
		}
	}
	return 1
}

func (a *Aggregator) riskBand(p float64) core.RiskBand {
	switch {
	case p >= a.cfg.VeryHighThreshold:
		return core.RiskVeryHigh
	case p >= a.cfg.HighThreshold:
		return core.RiskHigh
	case p >= a.cfg.MediumThreshold:
		return core.RiskMedium
	case p >= a.cfg.ElevatedThreshold:
		return core.RiskElevated
	default:
		return core.RiskLow
	}
}

func (a *Aggregator) fillCategoryBreakdown(evidence *core.AggregatedEvidence, contributions []core.Contribution, overrides map[string]float64) {
	for _, c := range contributions {
		if c.Category == "" {
			continue
		}
		w := effectiveWeight(c, overrides)
		evidence.CategoryBreakdown[c.Category] += w * c.ConfidenceDelta
	}
}

// resolveBotTypeAndName picks from contributions in descending
// |effective_weight * confidence_delta|, taking the first whose bot type
// is set.
func (a *Aggregator) resolveBotTypeAndName(evidence *core.AggregatedEvidence, contributions []core.Contribution, overrides map[string]float64) {
	type scored struct {
		c     core.Contribution
		score float64
	}
	ranked := make([]scored, 0, len(contributions))
	for _, c := range contributions {
		if c.BotType == "" {
			continue
		}
		w := effectiveWeight(c, overrides)
		ranked = append(ranked, scored{c: c, score: math.Abs(w * c.ConfidenceDelta)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > 0 {
		evidence.BotType = ranked[0].c.BotType
		evidence.BotName = ranked[0].c.BotName
	}
}

// resolveAction evaluates policy.Transitions in order; the first match
// wins, falling back to DefaultActionPolicy. The actual
// PolicyActionType/name resolution beyond the transition's named policy is
// the Action Resolver's job; here we only record which action-policy name
// won so the caller can look it up.
func (a *Aggregator) resolveAction(evidence *core.AggregatedEvidence, policy *core.DetectionPolicy) {
	if policy == nil {
		return
	}
	for _, t := range policy.Transitions {
		if a.transitionMatches(t, evidence) {
			evidence.ActionPolicyName = t.ActionPolicy
			return
		}
	}
	evidence.ActionPolicyName = policy.DefaultActionPolicy
}

func (a *Aggregator) transitionMatches(t core.TransitionRule, evidence *core.AggregatedEvidence) bool {
	if t.RiskExceeds != nil && evidence.BotProbability < *t.RiskExceeds {
		return false
	}
	if t.SignalKey != "" {
		_, ok := evidence.Signals[t.SignalKey]
		if ok != t.SignalPresent {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
