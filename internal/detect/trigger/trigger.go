// Package trigger evaluates a detector's activation predicates against the
// current blackboard state.
package trigger

import "github.com/ocx/botdetect/internal/core"

// Condition is a boolean predicate over a BlackboardState. Conditions are
// composable via AllOf / AnyOf.
type Condition interface {
	Eval(state *core.BlackboardState) bool
}

// SignalExists is true iff key is present in the signal map.
type SignalExists struct{ Key string }

func (c SignalExists) Eval(state *core.BlackboardState) bool {
	_, ok := state.Signals[c.Key]
	return ok
}

// SignalEquals is true iff key is present and its string/enum value equals v.
type SignalEquals struct {
	Key   string
	Value string
}

func (c SignalEquals) Eval(state *core.BlackboardState) bool {
	sig, ok := state.Signals[c.Key]
	if !ok {
		return false
	}
	switch sig.Kind {
	case core.SignalString, core.SignalEnum:
		return sig.Str == c.Value
	default:
		return false
	}
}

// RiskExceeds is true iff the current running risk (the aggregator formula
// applied to contributions accumulated so far) is >= Threshold.
type RiskExceeds struct{ Threshold float64 }

func (c RiskExceeds) Eval(state *core.BlackboardState) bool {
	return state.RunningRisk >= c.Threshold
}

// DetectorCount is true iff N or more distinct detectors have completed.
type DetectorCount struct{ N int }

func (c DetectorCount) Eval(state *core.BlackboardState) bool {
	return len(state.CompletedDetectors) >= c.N
}

// AllOf is true iff every sub-condition is true. An empty AllOf is true.
type AllOf []Condition

func (c AllOf) Eval(state *core.BlackboardState) bool {
	for _, cond := range c {
		if !cond.Eval(state) {
			return false
		}
	}
	return true
}

// AnyOf is true iff at least one sub-condition is true. An empty AnyOf is
// false.
type AnyOf []Condition

func (c AnyOf) Eval(state *core.BlackboardState) bool {
	for _, cond := range c {
		if cond.Eval(state) {
			return true
		}
	}
	return false
}

// Eligible evaluates whether a detector with the given trigger list may run
// against state. An empty trigger list is always eligible (first-wave
// detector).
func Eligible(triggers []Condition, state *core.BlackboardState) bool {
	if len(triggers) == 0 {
		return true
	}
	return AllOf(triggers).Eval(state)
}
