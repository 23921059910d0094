package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/botdetect/internal/core"
)

func TestAggregate_NoContributionsYieldsNeutral(t *testing.T) {
	agg := New(DefaultConfig())
	evidence := agg.Aggregate(nil, nil, nil)

	assert.Equal(t, 0.5, evidence.BotProbability)
	assert.Equal(t, 0.0, evidence.Confidence)
	assert.Equal(t, core.RiskLow, evidence.RiskBand)
}

func TestAggregate_WeightedMeanAndRiskBand(t *testing.T) {
	agg := New(DefaultConfig())
	contributions := []core.Contribution{
		{Detector: "user_agent", ConfidenceDelta: 1.0, Weight: 2.0, Category: "identity"},
		{Detector: "header", ConfidenceDelta: 0.5, Weight: 1.0, Category: "protocol"},
	}
	evidence := agg.Aggregate(contributions, nil, nil)

	// meanDelta = (2*1.0 + 1*0.5) / 3 = 0.8333; p = 0.5 + 0.5*0.8333 = 0.9167
	assert.InDelta(t, 0.9167, evidence.BotProbability, 0.001)
	assert.Equal(t, core.RiskVeryHigh, evidence.RiskBand)
	assert.Equal(t, 1.0, evidence.Confidence, "denominator(3.0) / referenceWeight(3.0) clamped to 1")
}

func TestAggregate_VerifiedBadShortCircuitsToMax(t *testing.T) {
	agg := New(DefaultConfig())
	contributions := []core.Contribution{
		{Detector: "reputation_fastpath", ConfidenceDelta: -0.9, Weight: 5.0, VerifiedBad: true},
	}
	evidence := agg.Aggregate(contributions, nil, nil)

	assert.Equal(t, 1.0, evidence.BotProbability)
	assert.Equal(t, core.RiskVeryHigh, evidence.RiskBand)
	assert.True(t, evidence.VerifiedBad)
}

func TestAggregate_VerifiedGoodShortCircuitsToMin(t *testing.T) {
	agg := New(DefaultConfig())
	contributions := []core.Contribution{
		{Detector: "reputation_fastpath", ConfidenceDelta: 0.9, Weight: 5.0, VerifiedGood: true},
	}
	evidence := agg.Aggregate(contributions, nil, nil)

	assert.Equal(t, 0.0, evidence.BotProbability)
	assert.Equal(t, core.RiskLow, evidence.RiskBand)
	assert.True(t, evidence.VerifiedGood)
}

func TestAggregate_VerifiedBadWinsOverVerifiedGood(t *testing.T) {
	agg := New(DefaultConfig())
	contributions := []core.Contribution{
		{Detector: "a", VerifiedGood: true, Weight: 1},
		{Detector: "b", VerifiedBad: true, Weight: 1},
	}
	evidence := agg.Aggregate(contributions, nil, nil)

	assert.Equal(t, 1.0, evidence.BotProbability)
}

func TestAggregate_WeightOverridesFromPolicy(t *testing.T) {
	agg := New(DefaultConfig())
	contributions := []core.Contribution{
		{Detector: "user_agent", ConfidenceDelta: 1.0, Weight: 1.0},
		{Detector: "header", ConfidenceDelta: -1.0, Weight: 1.0},
	}
	policy := &core.DetectionPolicy{WeightOverrides: map[string]float64{"user_agent": 5.0}}
	evidence := agg.Aggregate(contributions, nil, policy)

	// meanDelta = (5*1.0 + 1*-1.0) / 6 = 0.6667; p = 0.5 + 0.5*0.6667 ≈ 0.8333
	assert.InDelta(t, 0.8333, evidence.BotProbability, 0.001)
}

func TestAggregate_BotTypeResolvedByHighestAbsoluteScore(t *testing.T) {
	agg := New(DefaultConfig())
	contributions := []core.Contribution{
		{Detector: "weak", ConfidenceDelta: 0.2, Weight: 1.0, BotType: "crawler"},
		{Detector: "strong", ConfidenceDelta: 0.9, Weight: 3.0, BotType: "scraper", BotName: "acme-scraper"},
	}
	evidence := agg.Aggregate(contributions, nil, nil)

	assert.Equal(t, "scraper", evidence.BotType)
	assert.Equal(t, "acme-scraper", evidence.BotName)
}

func TestAggregate_CategoryBreakdownSumsPerCategory(t *testing.T) {
	agg := New(DefaultConfig())
	contributions := []core.Contribution{
		{Detector: "a", Category: "identity", ConfidenceDelta: 0.5, Weight: 1.0},
		{Detector: "b", Category: "identity", ConfidenceDelta: 0.3, Weight: 1.0},
		{Detector: "c", Category: "protocol", ConfidenceDelta: -0.2, Weight: 1.0},
	}
	evidence := agg.Aggregate(contributions, nil, nil)

	assert.InDelta(t, 0.8, evidence.CategoryBreakdown["identity"], 1e-9)
	assert.InDelta(t, -0.2, evidence.CategoryBreakdown["protocol"], 1e-9)
}

func TestAggregate_TransitionsSelectActionPolicy(t *testing.T) {
	agg := New(DefaultConfig())
	risk := 0.8
	policy := &core.DetectionPolicy{
		Transitions: []core.TransitionRule{
			{RiskExceeds: &risk, ActionPolicy: "block-hard"},
		},
		DefaultActionPolicy: "allow",
	}

	contributions := []core.Contribution{{Detector: "a", ConfidenceDelta: 1.0, Weight: 10.0}}
	evidence := agg.Aggregate(contributions, nil, policy)
	require.Equal(t, "block-hard", evidence.ActionPolicyName)

	lowRiskContribs := []core.Contribution{{Detector: "a", ConfidenceDelta: -1.0, Weight: 10.0}}
	evidence = agg.Aggregate(lowRiskContribs, nil, policy)
	assert.Equal(t, "allow", evidence.ActionPolicyName)
}

func TestAggregate_TransitionBySignalPresence(t *testing.T) {
	agg := New(DefaultConfig())
	policy := &core.DetectionPolicy{
		Transitions: []core.TransitionRule{
			{SignalKey: "captcha.failed", SignalPresent: true, ActionPolicy: "block"},
		},
		DefaultActionPolicy: "allow",
	}
	signals := core.SignalMap{"captcha.failed": core.BoolSignal(true)}

	evidence := agg.Aggregate(nil, signals, policy)
	assert.Equal(t, "block", evidence.ActionPolicyName)
}

func TestRunningRisk_MatchesAggregateMeanDelta(t *testing.T) {
	agg := New(DefaultConfig())
	contributions := []core.Contribution{
		{Detector: "a", ConfidenceDelta: 0.4, Weight: 1.0},
	}
	risk := agg.RunningRisk(contributions, nil)
	assert.InDelta(t, 0.7, risk, 1e-9)
}

func TestRunningRisk_EmptyDefaultsToNeutral(t *testing.T) {
	agg := New(DefaultConfig())
	assert.Equal(t, 0.5, agg.RunningRisk(nil, nil))
}
