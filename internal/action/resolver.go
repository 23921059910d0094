// Package action implements the Action Resolver: it maps an
// AggregatedEvidence plus the resolved ActionPolicy to a concrete HTTP-side
// effect (allow, delay-then-forward, challenge, or block).
package action

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/ocx/botdetect/internal/core"
)

// Effect is what the middleware boundary should do with the response.
type Effect struct {
	Allow           bool
	ShortCircuit    bool
	StatusCode      int
	Message         string
	ResponseHeaders map[string]string
	ChallengeKind   string
	WaitDuration    time.Duration
}

// Resolver applies an ActionPolicy to produce an Effect.
type Resolver struct {
	// EnableInfoHeaders opts in to attaching risk-score/risk-band/
	// bot-detected/bot-type response headers, which leak internals and
	// default to off.
	EnableInfoHeaders bool
}

func NewResolver(enableInfoHeaders bool) *Resolver {
	return &Resolver{EnableInfoHeaders: enableInfoHeaders}
}

// Resolve computes the Effect for one request. policy may be nil, in which
// case the request is allowed (fail-open on missing action policy
// configuration, never fail-closed on a config gap).
func (r *Resolver) Resolve(ctx context.Context, evidence core.AggregatedEvidence, policy *core.ActionPolicy) Effect {
	effect := Effect{Allow: true}
	if r.EnableInfoHeaders {
		effect.ResponseHeaders = r.infoHeaders(evidence)
	}

	if policy == nil {
		return effect
	}

	switch policy.Type {
	case core.ActionAllow:
		return effect

	case core.ActionThrottle:
		effect.WaitDuration = r.throttleDelay(evidence, policy)
		r.wait(ctx, effect.WaitDuration)
		return effect

	case core.ActionChallenge:
		effect.Allow = false
		effect.ShortCircuit = true
		effect.ChallengeKind = policy.ChallengeKind
		effect.StatusCode = http.StatusOK
		if policy.StatusCode != 0 {
			effect.StatusCode = policy.StatusCode
		}
		return effect

	case core.ActionBlock:
		effect.Allow = false
		effect.ShortCircuit = true
		effect.StatusCode = policy.StatusCode
		if effect.StatusCode == 0 {
			effect.StatusCode = http.StatusForbidden
		}
		effect.Message = policy.Message
		for k, v := range policy.ResponseHeaders {
			if effect.ResponseHeaders == nil {
				effect.ResponseHeaders = map[string]string{}
			}
			effect.ResponseHeaders[k] = v
		}
		return effect

	default:
		return effect
	}
}

// throttleDelay computes clamp(base_delay * scale(risk), 0, max_delay) with
// random jitter in [1-jitter_fraction, 1+jitter_fraction].
func (r *Resolver) throttleDelay(evidence core.AggregatedEvidence, policy *core.ActionPolicy) time.Duration {
	scale := 1.0
	if policy.ScaleByRisk {
		scale = evidence.BotProbability
	}

	base := float64(policy.BaseDelayMs) * scale
	maxDelay := float64(policy.MaxDelayMs)
	if maxDelay > 0 && base > maxDelay {
		base = maxDelay
	}
	if base < 0 {
		base = 0
	}

	if policy.JitterFraction > 0 {
		jitter := 1 + policy.JitterFraction*(2*rand.Float64()-1)
		base *= jitter
		if base < 0 {
			base = 0
		}
		if maxDelay > 0 && base > maxDelay {
			base = maxDelay
		}
	}

	return time.Duration(base) * time.Millisecond
}

// wait blocks for d or until ctx is cancelled, whichever comes first —
// throttling is cooperative and must never outlive the request's own
// cancellation.
func (r *Resolver) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (r *Resolver) infoHeaders(evidence core.AggregatedEvidence) map[string]string {
	botDetected := "false"
	if evidence.BotProbability >= 0.5 {
		botDetected = "true"
	}
	headers := map[string]string{
		"X-Bot-Risk-Score": strconv.FormatFloat(evidence.BotProbability, 'f', 3, 64),
		"X-Bot-Risk-Band":  evidence.RiskBand.String(),
		"X-Bot-Detected":   botDetected,
	}
	if evidence.BotType != "" {
		headers["X-Bot-Type"] = evidence.BotType
	}
	return headers
}
