// Package orchestrator implements the Blackboard Orchestrator: it drives
// registered detectors to completion wave by wave under a wall-clock
// budget, merges their contributions, and asks the Evidence Aggregator for
// the running risk after each completion so early-exit conditions can be
// checked without waiting for the whole pipeline.
//
// Grounded on internal/escrow/gate.go's goroutine-per-factor fan-out with
// a completion channel per unit of work, generalized from a fixed
// tri-factor gate to an arbitrary, priority-waved detector set.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/botdetect/internal/core"
	"github.com/ocx/botdetect/internal/detect/aggregator"
	"github.com/ocx/botdetect/internal/detect/detectors"
	"github.com/ocx/botdetect/internal/detect/trigger"
	"github.com/ocx/botdetect/internal/learning"
	"github.com/ocx/botdetect/internal/obsv"
)

// highConfidenceProbability and highConfidenceConfidence gate when a
// completed run publishes a HighConfidenceDetection learning event.
const (
	highConfidenceProbability = 0.9
	highConfidenceConfidence  = 0.8
)

// Config bounds the orchestrator's execution.
type Config struct {
	MaxParallelDetectors int
	WallClockBudget      time.Duration
}

func DefaultConfig() Config {
	return Config{MaxParallelDetectors: 8, WallClockBudget: 500 * time.Millisecond}
}

// Orchestrator runs a fixed detector roster against each request.
type Orchestrator struct {
	detectors []detectors.Detector
	waves     [4][]detectors.Detector
	agg       *aggregator.Aggregator
	cfg       Config
	metrics   *obsv.Metrics
	bus       learning.Bus
}

func New(detectorRoster []detectors.Detector, agg *aggregator.Aggregator, cfg Config) *Orchestrator {
	if cfg.MaxParallelDetectors <= 0 {
		cfg.MaxParallelDetectors = 8
	}
	if cfg.WallClockBudget <= 0 {
		cfg.WallClockBudget = 500 * time.Millisecond
	}

	o := &Orchestrator{detectors: detectorRoster, agg: agg, cfg: cfg}
	for _, d := range detectorRoster {
		w := detectors.Wave(d.Priority())
		o.waves[w] = append(o.waves[w], d)
	}
	return o
}

// WithMetrics attaches a Prometheus metrics sink; nil-safe if never called.
func (o *Orchestrator) WithMetrics(m *obsv.Metrics) *Orchestrator {
	o.metrics = m
	return o
}

// WithBus attaches the Learning Bus; nil-safe if never called. When set,
// Run publishes HighConfidenceDetection after aggregation and
// InconsistencyDetected whenever the inconsistency detector contributes a
// positive (bot-leaning) delta.
func (o *Orchestrator) WithBus(b learning.Bus) *Orchestrator {
	o.bus = b
	return o
}

type detectorResult struct {
	name          string
	contributions []core.Contribution
	err           error
	elapsed       time.Duration
}

// exitKind distinguishes why Run stopped early, for callers that want to
// log or count outcomes separately.
type exitKind int

const (
	exitNone exitKind = iota
	exitVerifiedGood
	exitVerifiedBad
	exitProbableBot
	exitBudgetExhausted
	exitAllComplete
)

// Run drives the detector roster to completion for one request and returns
// the final AggregatedEvidence.
func (o *Orchestrator) Run(ctx context.Context, req *core.RequestView, policy *core.DetectionPolicy) core.AggregatedEvidence {
	runStart := time.Now()
	budget := o.cfg.WallClockBudget
	if policy != nil && policy.Timeout > 0 && policy.Timeout < budget {
		budget = policy.Timeout
	}
	deadline := time.Now().Add(budget)

	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	state := core.NewBlackboardState(req)
	var overrides map[string]float64
	if policy != nil {
		overrides = policy.WeightOverrides
	}

	activeByName := make(map[string]detectors.Detector, len(o.detectors))
	for _, d := range o.detectors {
		activeByName[d.Name()] = d
	}

	exit := exitNone

waveLoop:
	for w := 0; w < len(o.waves) && exit == exitNone; w++ {
		remaining := o.selectRemaining(o.waves[w], state)
		for len(remaining) > 0 {
			batch := remaining
			if len(batch) > o.cfg.MaxParallelDetectors {
				batch = batch[:o.cfg.MaxParallelDetectors]
			}
			remaining = remaining[len(batch):]

			results := o.runBatch(runCtx, batch, state, deadline)
			for _, res := range results {
				state = state.WithContribution(res.name, nil, res.err != nil, res.elapsed)
				if res.err != nil {
					slog.Warn("detector failed", "detector", res.name, "error", res.err, "elapsed", res.elapsed)
					continue
				}
				for i := range res.contributions {
					c := res.contributions[i]
					state = state.WithContribution(res.name, &c, false, res.elapsed)

					if o.bus != nil && res.name == "inconsistency" && c.ConfidenceDelta > 0 {
						o.publishInconsistencyDetected(req, state, c)
					}

					if c.VerifiedGood {
						exit = exitVerifiedGood
						break waveLoop
					}
					if c.VerifiedBad || (c.TriggerEarlyExit && policy != nil && state.RunningRisk >= policy.ImmediateBlockThreshold) {
						exit = exitVerifiedBad
						break waveLoop
					}
				}

				state.RunningRisk = o.agg.RunningRisk(state.Contributions, overrides)

				if policy != nil && state.RunningRisk >= policy.EarlyExitThreshold {
					conf := o.agg.Aggregate(state.Contributions, state.Signals, policy).Confidence
					if conf >= policy.MinEarlyExitConfidence {
						exit = exitProbableBot
						break waveLoop
					}
				}
			}

			if time.Now().After(deadline) {
				exit = exitBudgetExhausted
				break waveLoop
			}
		}

		if policy != nil && state.RunningRisk < policy.SkipSlowPathThreshold && w >= 1 {
			break
		}
	}

	if exit == exitNone {
		exit = exitAllComplete
	}

	evidence := o.agg.Aggregate(state.Contributions, state.Signals, policy)
	slog.Debug("orchestrator run complete",
		"request_id", req.RequestID,
		"exit_kind", exit,
		"bot_probability", evidence.BotProbability,
		"risk_band", evidence.RiskBand.String(),
		"completed_detectors", len(state.CompletedDetectors),
		"failed_detectors", len(state.FailedDetectors),
	)
	if o.metrics != nil {
		policyName := "default"
		if policy != nil {
			policyName = policy.Name
		}
		o.metrics.ObserveRequest(policyName, time.Since(runStart))
		o.metrics.ObserveRiskBand(evidence.RiskBand.String())
		if reason, ok := earlyExitReason(exit); ok {
			o.metrics.ObserveEarlyExit(reason)
		}
	}
	if o.bus != nil && evidence.BotProbability >= highConfidenceProbability && evidence.Confidence >= highConfidenceConfidence {
		o.publishHighConfidenceDetection(req, state, evidence)
	}
	return evidence
}

func earlyExitReason(exit exitKind) (string, bool) {
	switch exit {
	case exitVerifiedGood:
		return "verified_good", true
	case exitVerifiedBad:
		return "verified_bad", true
	case exitProbableBot:
		return "probable_bot", true
	case exitBudgetExhausted:
		return "budget_exhausted", true
	default:
		return "", false
	}
}

// patternIDsFromSignals pulls the UA/IP pattern ids the reputation
// fast-path detector stashed on the blackboard, if present.
func patternIDsFromSignals(signals core.SignalMap) map[string]interface{} {
	payload := map[string]interface{}{}
	if s, ok := signals["reputation.fastpath.ua.pattern_id"]; ok {
		payload["ua_pattern_id"] = s.Str
	}
	if s, ok := signals["reputation.fastpath.ip.pattern_id"]; ok {
		payload["ip_pattern_id"] = s.Str
	}
	return payload
}

// publishInconsistencyDetected fires whenever the inconsistency detector
// raises a bot-leaning delta. No handler in this repository subscribes to
// these events; they reach only whatever subscribers the bus has.
func (o *Orchestrator) publishInconsistencyDetected(req *core.RequestView, state *core.BlackboardState, c core.Contribution) {
	payload := patternIDsFromSignals(state.Signals)
	payload["request_id"] = req.RequestID
	payload["reason"] = c.Reason
	payload["confidence_delta"] = c.ConfidenceDelta
	o.bus.Publish(core.LearningEvent{
		ID:        uuid.NewString(),
		Kind:      core.EventInconsistencyDetected,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

// publishHighConfidenceDetection feeds the reputation sink so a request
// the aggregator is already confident about reinforces the pattern's
// reputation without waiting on an admin override.
func (o *Orchestrator) publishHighConfidenceDetection(req *core.RequestView, state *core.BlackboardState, evidence core.AggregatedEvidence) {
	payload := patternIDsFromSignals(state.Signals)
	payload["request_id"] = req.RequestID
	payload["bot_probability"] = evidence.BotProbability
	payload["confidence"] = evidence.Confidence
	payload["bot_type"] = evidence.BotType
	o.bus.Publish(core.LearningEvent{
		ID:        uuid.NewString(),
		Kind:      core.EventHighConfidenceDetection,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

// selectRemaining returns the detectors in wave that are eligible
// (triggers satisfied) and neither completed nor failed yet.
func (o *Orchestrator) selectRemaining(wave []detectors.Detector, state *core.BlackboardState) []detectors.Detector {
	var out []detectors.Detector
	for _, d := range wave {
		if _, done := state.CompletedDetectors[d.Name()]; done {
			continue
		}
		if _, failed := state.FailedDetectors[d.Name()]; failed {
			continue
		}
		if !trigger.Eligible(d.Triggers(), state) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// runBatch fans a batch of detectors out to goroutines and collects their
// results on a buffered channel, mirroring the escrow gate's
// goroutine-per-factor completion pattern.
func (o *Orchestrator) runBatch(ctx context.Context, batch []detectors.Detector, state *core.BlackboardState, deadline time.Time) []detectorResult {
	resultsCh := make(chan detectorResult, len(batch))

	for _, d := range batch {
		go func(d detectors.Detector) {
			start := time.Now()

			detDeadline := deadline
			if t := time.Now().Add(d.Timeout()); t.Before(detDeadline) {
				detDeadline = t
			}
			detCtx, cancel := context.WithDeadline(ctx, detDeadline)
			defer cancel()

			contributions, err := d.Contribute(detCtx, state)
			if err == nil && detCtx.Err() != nil {
				err = detCtx.Err()
			}
			if o.metrics != nil {
				o.metrics.ObserveDetector(d.Name(), time.Since(start), err == context.DeadlineExceeded)
			}
			resultsCh <- detectorResult{
				name:          d.Name(),
				contributions: contributions,
				err:           err,
				elapsed:       time.Since(start),
			}
		}(d)
	}

	results := make([]detectorResult, 0, len(batch))
	for i := 0; i < len(batch); i++ {
		results = append(results, <-resultsCh)
	}
	return results
}
