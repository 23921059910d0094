package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/ocx/botdetect/internal/core"
)

// fileDocument is the on-disk shape of a policies.yaml file: a default
// detection policy, named overrides bound to path patterns, and the
// action policies those detection policies' transition tables reference.
type fileDocument struct {
	Default       policyYAML            `yaml:"default"`
	Routes        []routeYAML           `yaml:"routes"`
	ActionPolicies []actionPolicyYAML    `yaml:"action_policies"`
}

type routeYAML struct {
	Pattern string     `yaml:"pattern"`
	Policy  policyYAML `yaml:"policy"`
}

type policyYAML struct {
	Name string `yaml:"name"`

	FastPath []string `yaml:"fast_path"`
	SlowPath []string `yaml:"slow_path"`
	AIPath   []string `yaml:"ai_path"`

	UseFastPath   bool `yaml:"use_fast_path"`
	ForceSlowPath bool `yaml:"force_slow_path"`
	EscalateToAI  bool `yaml:"escalate_to_ai"`

	EarlyExitThreshold      float64 `yaml:"early_exit_threshold"`
	AIEscalationThreshold   float64 `yaml:"ai_escalation_threshold"`
	ImmediateBlockThreshold float64 `yaml:"immediate_block_threshold"`
	SkipSlowPathThreshold   float64 `yaml:"skip_slow_path_threshold"`
	MinEarlyExitConfidence  float64 `yaml:"min_early_exit_confidence"`

	TimeoutMs int `yaml:"timeout_ms"`

	WeightOverrides map[string]float64 `yaml:"weight_overrides"`

	Transitions         []transitionYAML `yaml:"transitions"`
	DefaultActionPolicy string            `yaml:"default_action_policy"`
}

type transitionYAML struct {
	RiskExceeds   *float64 `yaml:"risk_exceeds"`
	SignalKey     string   `yaml:"signal_key"`
	SignalPresent bool     `yaml:"signal_present"`
	ActionPolicy  string   `yaml:"action_policy"`
}

type actionPolicyYAML struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // allow, throttle, challenge, block

	BaseDelayMs    int     `yaml:"base_delay_ms"`
	MaxDelayMs     int     `yaml:"max_delay_ms"`
	JitterFraction float64 `yaml:"jitter_fraction"`
	ScaleByRisk    bool    `yaml:"scale_by_risk"`

	StatusCode      int               `yaml:"status_code"`
	Message         string            `yaml:"message"`
	ResponseHeaders map[string]string `yaml:"response_headers"`

	ChallengeKind string `yaml:"challenge_kind"`
}

// DefaultPermissive returns a DetectionPolicy that runs the full detector
// roster but never early-exits or blocks on its own — used when no
// policies.yaml is present so the engine starts in an observe-only mode
// instead of refusing to start.
func DefaultPermissive() *core.DetectionPolicy {
	return &core.DetectionPolicy{
		Name:                    "default-permissive",
		EarlyExitThreshold:      1.1,
		AIEscalationThreshold:   1.1,
		ImmediateBlockThreshold: 1.1,
		SkipSlowPathThreshold:   0,
		MinEarlyExitConfidence:  1.1,
		Timeout:                 500 * time.Millisecond,
	}
}

// LoadFile parses a policies.yaml document into the Route/ActionPolicy/
// DetectionPolicy triple Registry.Reload expects.
func LoadFile(path string) ([]Route, []*core.ActionPolicy, *core.DetectionPolicy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open policy file: %w", err)
	}
	defer f.Close()

	var doc fileDocument
	if err := yaml.NewDecoder(f).Decode(&doc); err != nil {
		return nil, nil, nil, fmt.Errorf("decode policy file: %w", err)
	}

	actions := make([]*core.ActionPolicy, 0, len(doc.ActionPolicies))
	for _, a := range doc.ActionPolicies {
		ap, err := toActionPolicy(a)
		if err != nil {
			return nil, nil, nil, err
		}
		actions = append(actions, ap)
	}

	routes := make([]Route, 0, len(doc.Routes))
	for _, r := range doc.Routes {
		routes = append(routes, Route{
			Pattern: r.Pattern,
			Policy:  toDetectionPolicy(r.Policy),
		})
	}

	deflt := toDetectionPolicy(doc.Default)
	return routes, actions, deflt, nil
}

func toDetectionPolicy(p policyYAML) *core.DetectionPolicy {
	transitions := make([]core.TransitionRule, 0, len(p.Transitions))
	for _, t := range p.Transitions {
		transitions = append(transitions, core.TransitionRule{
			RiskExceeds:   t.RiskExceeds,
			SignalKey:     t.SignalKey,
			SignalPresent: t.SignalPresent,
			ActionPolicy:  t.ActionPolicy,
		})
	}
	timeout := time.Duration(p.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &core.DetectionPolicy{
		Name:                    p.Name,
		FastPath:                p.FastPath,
		SlowPath:                p.SlowPath,
		AIPath:                  p.AIPath,
		UseFastPath:             p.UseFastPath,
		ForceSlowPath:           p.ForceSlowPath,
		EscalateToAI:            p.EscalateToAI,
		EarlyExitThreshold:      p.EarlyExitThreshold,
		AIEscalationThreshold:   p.AIEscalationThreshold,
		ImmediateBlockThreshold: p.ImmediateBlockThreshold,
		SkipSlowPathThreshold:   p.SkipSlowPathThreshold,
		MinEarlyExitConfidence:  p.MinEarlyExitConfidence,
		Timeout:                 timeout,
		WeightOverrides:         p.WeightOverrides,
		Transitions:             transitions,
		DefaultActionPolicy:     p.DefaultActionPolicy,
	}
}

func toActionPolicy(a actionPolicyYAML) (*core.ActionPolicy, error) {
	var t core.PolicyActionType
	switch a.Type {
	case "allow":
		t = core.ActionAllow
	case "throttle":
		t = core.ActionThrottle
	case "challenge":
		t = core.ActionChallenge
	case "block":
		t = core.ActionBlock
	default:
		return nil, fmt.Errorf("action policy %q: unknown type %q", a.Name, a.Type)
	}
	return &core.ActionPolicy{
		Name:            a.Name,
		Type:            t,
		BaseDelayMs:     a.BaseDelayMs,
		MaxDelayMs:      a.MaxDelayMs,
		JitterFraction:  a.JitterFraction,
		ScaleByRisk:     a.ScaleByRisk,
		StatusCode:      a.StatusCode,
		Message:         a.Message,
		ResponseHeaders: a.ResponseHeaders,
		ChallengeKind:   a.ChallengeKind,
	}, nil
}
