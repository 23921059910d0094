package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/botdetect/internal/action"
	"github.com/ocx/botdetect/internal/adminapi"
	"github.com/ocx/botdetect/internal/core"
	"github.com/ocx/botdetect/internal/detect/orchestrator"
	"github.com/ocx/botdetect/internal/obsv"
	"github.com/ocx/botdetect/internal/policy"
)

// DefaultTestModeHeader is the request header that, when test-mode is
// enabled, synthesizes an AggregatedEvidence instead of running the
// orchestrator. When test-mode is disabled, this header must be ignored
// entirely and never produce any response-side signal. The header name
// itself is configurable (Detect.TestModeHeader); this is only the
// fallback when none is set.
const DefaultTestModeHeader = "ml-bot-test-mode"

// TestModeResponseHeader reports, on the response, whether test-mode
// synthesis applied ("true") or was explicitly turned off for this
// request via the "disable" header value ("disabled").
const TestModeResponseHeader = "X-Test-Mode"

type evidenceContextKey struct{}

// EvidenceFromContext retrieves the AggregatedEvidence a downstream
// handler can inspect after Detect has run.
func EvidenceFromContext(ctx context.Context) (core.AggregatedEvidence, bool) {
	v, ok := ctx.Value(evidenceContextKey{}).(core.AggregatedEvidence)
	return v, ok
}

// Detect is the HTTP middleware boundary: it resolves the request's
// policy, runs the Blackboard Orchestrator, stores the evidence on the
// request context, and applies the resolved action before (or instead
// of) invoking next.
//
// A func(http.HandlerFunc) http.HandlerFunc closure that inspects the
// request, optionally short-circuits, and otherwise calls next with an
// enriched context.
type Detect struct {
	Registry     *policy.Registry
	Orchestrator *orchestrator.Orchestrator
	Resolver     *action.Resolver
	Metrics      *obsv.Metrics
	Stream       *adminapi.VerdictStream
	TestMode     bool
	// TestModeHeader is the configurable header name test-mode reads from;
	// defaults to DefaultTestModeHeader when left empty.
	TestModeHeader string
}

func NewDetect(reg *policy.Registry, orc *orchestrator.Orchestrator, resolver *action.Resolver, testMode bool) *Detect {
	return &Detect{Registry: reg, Orchestrator: orc, Resolver: resolver, TestMode: testMode, TestModeHeader: DefaultTestModeHeader}
}

// WithTestModeHeader overrides the header name test-mode reads from.
func (d *Detect) WithTestModeHeader(name string) *Detect {
	if name != "" {
		d.TestModeHeader = name
	}
	return d
}

// WithMetrics attaches a Prometheus metrics sink; nil-safe if never called.
func (d *Detect) WithMetrics(m *obsv.Metrics) *Detect {
	d.Metrics = m
	return d
}

// WithStream attaches the admin live-verdict stream; nil-safe if never
// called.
func (d *Detect) WithStream(s *adminapi.VerdictStream) *Detect {
	d.Stream = s
	return d
}

func (d *Detect) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var evidence core.AggregatedEvidence
		var pol *core.DetectionPolicy

		if d.TestMode {
			headerName := d.TestModeHeader
			if headerName == "" {
				headerName = DefaultTestModeHeader
			}
			if hdr := r.Header.Get(headerName); hdr != "" {
				if strings.EqualFold(hdr, "disable") {
					w.Header().Set(TestModeResponseHeader, "disabled")
				} else {
					evidence = synthesizeTestEvidence(hdr)
					w.Header().Set(TestModeResponseHeader, "true")
					d.finish(w, r, next, evidence, nil)
					return
				}
			}
		}

		pol = d.Registry.Resolve(r.URL.Path)
		view := requestViewFromHTTP(r)

		evidence = d.Orchestrator.Run(r.Context(), view, pol)
		d.finish(w, r, next, evidence, pol)
	}
}

func (d *Detect) finish(w http.ResponseWriter, r *http.Request, next http.HandlerFunc, evidence core.AggregatedEvidence, pol *core.DetectionPolicy) {
	var actionPolicy *core.ActionPolicy
	if pol != nil {
		if evidence.ActionPolicyName != "" {
			if a, ok := d.Registry.ActionPolicy(evidence.ActionPolicyName); ok {
				actionPolicy = a
			}
		}
		if actionPolicy != nil {
			evidence.Action = actionPolicy.Type
		} else {
			evidence.Action = core.ActionAllow
		}
	}

	effect := d.Resolver.Resolve(r.Context(), evidence, actionPolicy)
	if d.Metrics != nil {
		d.Metrics.ObserveAction(evidence.Action.String())
	}
	if d.Stream != nil {
		d.Stream.Publish(requestID(r), evidence)
	}

	ctx := context.WithValue(r.Context(), evidenceContextKey{}, evidence)
	r = r.WithContext(ctx)

	for k, v := range effect.ResponseHeaders {
		w.Header().Set(k, v)
	}

	if effect.ShortCircuit {
		slog.Info("request blocked by policy",
			"request_id", requestID(r),
			"risk_band", evidence.RiskBand.String(),
			"bot_probability", evidence.BotProbability,
			"action_policy", evidence.ActionPolicyName,
		)
		w.WriteHeader(effect.StatusCode)
		if effect.Message != "" {
			_, _ = w.Write([]byte(effect.Message))
		}
		return
	}

	next(w, r)
}

// synthesizeTestEvidence builds a deterministic AggregatedEvidence from the
// test-mode header value, bypassing the orchestrator entirely. Recognized
// values are "human", "bot", "googlebot", "bingbot", "scraper",
// "malicious", "social", "monitor"; any other value is treated as a
// generic bot at probability 0.7.
func synthesizeTestEvidence(verdict string) core.AggregatedEvidence {
	switch strings.ToLower(verdict) {
	case "human":
		return core.AggregatedEvidence{
			BotProbability: 0.05, Confidence: 0.9, RiskBand: core.RiskLow,
			VerifiedGood: true, Action: core.ActionAllow, ActionPolicyName: "allow",
		}
	case "bot":
		return core.AggregatedEvidence{
			BotProbability: 0.9, Confidence: 0.9, RiskBand: core.RiskVeryHigh,
			VerifiedBad: true, BotType: "automation_tool",
			Action: core.ActionBlock, ActionPolicyName: "block",
		}
	case "googlebot":
		return core.AggregatedEvidence{
			BotProbability: 0.9, Confidence: 0.9, RiskBand: core.RiskLow,
			VerifiedGood: true, BotType: "search_engine", BotName: "Googlebot",
			Action: core.ActionAllow, ActionPolicyName: "allow",
		}
	case "bingbot":
		return core.AggregatedEvidence{
			BotProbability: 0.9, Confidence: 0.9, RiskBand: core.RiskLow,
			VerifiedGood: true, BotType: "search_engine", BotName: "Bingbot",
			Action: core.ActionAllow, ActionPolicyName: "allow",
		}
	case "scraper":
		return core.AggregatedEvidence{
			BotProbability: 0.85, Confidence: 0.85, RiskBand: core.RiskHigh,
			BotType: "scraper", Action: core.ActionThrottle, ActionPolicyName: "throttle",
		}
	case "malicious":
		return core.AggregatedEvidence{
			BotProbability: 1.0, Confidence: 1.0, RiskBand: core.RiskVeryHigh,
			VerifiedBad: true, BotType: "malicious",
			Action: core.ActionBlock, ActionPolicyName: "block",
		}
	case "social":
		return core.AggregatedEvidence{
			BotProbability: 0.8, Confidence: 0.8, RiskBand: core.RiskLow,
			VerifiedGood: true, BotType: "social",
			Action: core.ActionAllow, ActionPolicyName: "allow",
		}
	case "monitor":
		return core.AggregatedEvidence{
			BotProbability: 0.8, Confidence: 0.8, RiskBand: core.RiskLow,
			VerifiedGood: true, BotType: "monitor",
			Action: core.ActionAllow, ActionPolicyName: "allow",
		}
	default:
		return core.AggregatedEvidence{
			BotProbability: 0.7, Confidence: 0.7, RiskBand: core.RiskMedium,
			BotType: "unknown", Action: core.ActionThrottle, ActionPolicyName: "throttle",
		}
	}
}

func requestViewFromHTTP(r *http.Request) *core.RequestView {
	headers := core.Headers{}
	for k, v := range r.Header {
		headers[k] = v
	}

	var ip net.IP
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip = net.ParseIP(host)

	protocol := r.Proto
	deadline := time.Now().Add(2 * time.Second)
	if dl, ok := r.Context().Deadline(); ok {
		deadline = dl
	}

	return &core.RequestView{
		RequestID:  requestID(r),
		Method:     r.Method,
		Path:       r.URL.Path,
		Query:      r.URL.RawQuery,
		Protocol:   protocol,
		TLS:        r.TLS != nil,
		RemoteAddr: ip,
		Headers:    headers,
		Deadline:   deadline,
		ReceivedAt: time.Now(),
	}
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}
