package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/botdetect/internal/core"
	"github.com/ocx/botdetect/internal/detect/aggregator"
	"github.com/ocx/botdetect/internal/detect/detectors"
	"github.com/ocx/botdetect/internal/detect/trigger"
	"github.com/ocx/botdetect/internal/learning"
)

// fakeDetector is a minimal Detector stub that returns a fixed contribution
// (or blocks past its timeout) without depending on any real signal source.
type fakeDetector struct {
	detectors.Base
	contrib *core.Contribution
	err     error
	delay   time.Duration
}

func (f *fakeDetector) Contribute(ctx context.Context, _ *core.BlackboardState) ([]core.Contribution, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.contrib == nil {
		return nil, nil
	}
	return []core.Contribution{*f.contrib}, nil
}

func newFakeDetector(name string, priority int, contrib *core.Contribution) *fakeDetector {
	return &fakeDetector{Base: detectors.NewBase(name, priority, 100*time.Millisecond), contrib: contrib}
}

func TestOrchestrator_MergesContributionsAcrossWaves(t *testing.T) {
	wave0 := newFakeDetector("wave0", 5, &core.Contribution{Detector: "wave0", ConfidenceDelta: 0.4, Weight: 1.0})
	wave2 := newFakeDetector("wave2", 60, &core.Contribution{Detector: "wave2", ConfidenceDelta: 0.6, Weight: 1.0})

	orc := New([]detectors.Detector{wave0, wave2}, aggregator.New(aggregator.DefaultConfig()), DefaultConfig())

	req := &core.RequestView{RequestID: "r1", Deadline: time.Now().Add(time.Second)}
	evidence := orc.Run(context.Background(), req, nil)

	assert.ElementsMatch(t, []string{"wave0", "wave2"}, evidence.ContributingDetectors)
	assert.Greater(t, evidence.BotProbability, 0.5)
}

func TestOrchestrator_VerifiedBadShortCircuitsRemainingWaves(t *testing.T) {
	fastPath := newFakeDetector("fastpath", 1, &core.Contribution{Detector: "fastpath", VerifiedBad: true, Weight: 1.0})
	neverRuns := newFakeDetector("slow", 60, &core.Contribution{Detector: "slow", ConfidenceDelta: -1.0, Weight: 1.0})

	orc := New([]detectors.Detector{fastPath, neverRuns}, aggregator.New(aggregator.DefaultConfig()), DefaultConfig())

	req := &core.RequestView{RequestID: "r2", Deadline: time.Now().Add(time.Second)}
	evidence := orc.Run(context.Background(), req, nil)

	assert.Equal(t, 1.0, evidence.BotProbability)
	assert.True(t, evidence.VerifiedBad)
	assert.NotContains(t, evidence.ContributingDetectors, "slow", "a later wave must not run once a verified-bad exit fires")
}

func TestOrchestrator_DetectorTimeoutDoesNotBlockTheRun(t *testing.T) {
	slow := &fakeDetector{Base: detectors.NewBase("slow", 5, 10*time.Millisecond), delay: time.Second}
	fast := newFakeDetector("fast", 5, &core.Contribution{Detector: "fast", ConfidenceDelta: 0.3, Weight: 1.0})

	orc := New([]detectors.Detector{slow, fast}, aggregator.New(aggregator.DefaultConfig()), Config{
		MaxParallelDetectors: 8,
		WallClockBudget:      200 * time.Millisecond,
	})

	req := &core.RequestView{RequestID: "r3", Deadline: time.Now().Add(time.Second)}
	start := time.Now()
	evidence := orc.Run(context.Background(), req, nil)
	elapsed := time.Since(start)

	require.Less(t, elapsed, 500*time.Millisecond, "a single slow detector must not stall the whole run past its own timeout")
	assert.Contains(t, evidence.ContributingDetectors, "fast")
	assert.NotContains(t, evidence.ContributingDetectors, "slow")
}

func TestOrchestrator_TriggerGatesLaterWaveDetector(t *testing.T) {
	gated := &fakeDetector{
		Base:    detectors.NewBase("gated", 60, 100*time.Millisecond, trigger.SignalExists{Key: "never.present"}),
		contrib: &core.Contribution{Detector: "gated", ConfidenceDelta: 1.0, Weight: 1.0},
	}
	orc := New([]detectors.Detector{gated}, aggregator.New(aggregator.DefaultConfig()), DefaultConfig())

	req := &core.RequestView{RequestID: "r4", Deadline: time.Now().Add(time.Second)}
	evidence := orc.Run(context.Background(), req, nil)

	assert.NotContains(t, evidence.ContributingDetectors, "gated")
}

func TestOrchestrator_PolicyEarlyExitOnHighRunningRisk(t *testing.T) {
	wave0 := newFakeDetector("wave0", 5, &core.Contribution{Detector: "wave0", ConfidenceDelta: 0.95, Weight: 10.0})
	neverRuns := newFakeDetector("wave2", 60, &core.Contribution{Detector: "wave2", ConfidenceDelta: -1.0, Weight: 1.0})

	orc := New([]detectors.Detector{wave0, neverRuns}, aggregator.New(aggregator.DefaultConfig()), DefaultConfig())

	policy := &core.DetectionPolicy{
		Name:                   "strict",
		EarlyExitThreshold:     0.8,
		MinEarlyExitConfidence: 0,
		Timeout:                time.Second,
	}
	req := &core.RequestView{RequestID: "r5", Deadline: time.Now().Add(time.Second)}
	evidence := orc.Run(context.Background(), req, policy)

	assert.NotContains(t, evidence.ContributingDetectors, "wave2", "high running risk should trigger an early exit before the slow wave runs")
}

func TestOrchestrator_PublishesInconsistencyDetected(t *testing.T) {
	inconsistency := newFakeDetector("inconsistency", 30, &core.Contribution{
		Detector:        "inconsistency",
		ConfidenceDelta: 0.5,
		Weight:          1.0,
		Reason:          "UA claims Chrome but Sec-Ch-Ua is absent",
	})

	bus := learning.NewLocalBus()
	received := make(chan core.LearningEvent, 1)
	bus.Subscribe(core.EventInconsistencyDetected, func(ev core.LearningEvent) {
		received <- ev
	})

	orc := New([]detectors.Detector{inconsistency}, aggregator.New(aggregator.DefaultConfig()), DefaultConfig()).WithBus(bus)

	req := &core.RequestView{RequestID: "r6", Deadline: time.Now().Add(time.Second)}
	orc.Run(context.Background(), req, nil)

	select {
	case ev := <-received:
		assert.Equal(t, "r6", ev.Payload["request_id"])
		assert.Equal(t, "UA claims Chrome but Sec-Ch-Ua is absent", ev.Payload["reason"])
		assert.Equal(t, 0.5, ev.Payload["confidence_delta"])
	case <-time.After(time.Second):
		t.Fatal("expected InconsistencyDetected to be published")
	}
}

func TestOrchestrator_DoesNotPublishInconsistencyDetectedForNegativeDelta(t *testing.T) {
	inconsistency := newFakeDetector("inconsistency", 30, &core.Contribution{
		Detector:        "inconsistency",
		ConfidenceDelta: -0.5,
		Weight:          1.0,
	})

	bus := learning.NewLocalBus()
	received := make(chan core.LearningEvent, 1)
	bus.Subscribe(core.EventInconsistencyDetected, func(ev core.LearningEvent) {
		received <- ev
	})

	orc := New([]detectors.Detector{inconsistency}, aggregator.New(aggregator.DefaultConfig()), DefaultConfig()).WithBus(bus)

	req := &core.RequestView{RequestID: "r7", Deadline: time.Now().Add(time.Second)}
	orc.Run(context.Background(), req, nil)

	select {
	case <-received:
		t.Fatal("a consistent (non-bot-leaning) contribution must not publish InconsistencyDetected")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOrchestrator_PublishesHighConfidenceDetection(t *testing.T) {
	fastPath := newFakeDetector("fastpath", 1, &core.Contribution{
		Detector:    "fastpath",
		VerifiedBad: true,
		Weight:      1.0,
		BotType:     "scraper",
	})

	bus := learning.NewLocalBus()
	received := make(chan core.LearningEvent, 1)
	bus.Subscribe(core.EventHighConfidenceDetection, func(ev core.LearningEvent) {
		received <- ev
	})

	orc := New([]detectors.Detector{fastPath}, aggregator.New(aggregator.DefaultConfig()), DefaultConfig()).WithBus(bus)

	req := &core.RequestView{RequestID: "r8", Deadline: time.Now().Add(time.Second)}
	evidence := orc.Run(context.Background(), req, nil)
	require.Equal(t, 1.0, evidence.BotProbability)
	require.GreaterOrEqual(t, evidence.Confidence, 0.8)

	select {
	case ev := <-received:
		assert.Equal(t, "r8", ev.Payload["request_id"])
		assert.Equal(t, 1.0, ev.Payload["bot_probability"])
	case <-time.After(time.Second):
		t.Fatal("expected HighConfidenceDetection to be published")
	}
}

func TestOrchestrator_NoBusAttachedNeverPublishes(t *testing.T) {
	fastPath := newFakeDetector("fastpath", 1, &core.Contribution{Detector: "fastpath", VerifiedBad: true, Weight: 1.0})
	orc := New([]detectors.Detector{fastPath}, aggregator.New(aggregator.DefaultConfig()), DefaultConfig())

	req := &core.RequestView{RequestID: "r9", Deadline: time.Now().Add(time.Second)}
	assert.NotPanics(t, func() {
		orc.Run(context.Background(), req, nil)
	})
}
