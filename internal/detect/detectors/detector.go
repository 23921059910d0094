// Package detectors defines the Contributing Detector contract and the
// concrete detectors that ship with the engine.
package detectors

import (
	"context"
	"time"

	"github.com/ocx/botdetect/internal/core"
	"github.com/ocx/botdetect/internal/detect/trigger"
)

// Detector is a pluggable unit that reads the blackboard and emits zero or
// more Contribution records.
//
// Implementations must be pure with respect to the blackboard and must
// never mutate the RequestView. A detector that has no opinion returns a
// nil/empty slice and a nil error — it must never use an error to signal
// "no signal".
type Detector interface {
	// Name is a stable identifier used in completed/failed detector sets,
	// weight overrides, and trigger references.
	Name() string

	// Priority determines wave membership: priority < 20 is Wave 0,
	// 20-49 Wave 1, 50-99 Wave 2, >= 100 Wave 3.
	Priority() int

	// Triggers returns the activation predicates gating this detector. An
	// empty slice means eligible from the first wave.
	Triggers() []trigger.Condition

	// Timeout is this detector's own execution budget; the orchestrator
	// takes the minimum of this, the policy timeout, and the remaining
	// wall-clock budget.
	Timeout() time.Duration

	// Contribute runs the detector's logic against a read-only snapshot.
	Contribute(ctx context.Context, state *core.BlackboardState) ([]core.Contribution, error)
}

// Base provides the bookkeeping fields most detectors share. Embed it and
// override Contribute.
type Base struct {
	name     string
	priority int
	triggers []trigger.Condition
	timeout  time.Duration
}

func NewBase(name string, priority int, timeout time.Duration, triggers ...trigger.Condition) Base {
	return Base{name: name, priority: priority, triggers: triggers, timeout: timeout}
}

func (b Base) Name() string                      { return b.name }
func (b Base) Priority() int                     { return b.priority }
func (b Base) Triggers() []trigger.Condition      { return b.triggers }
func (b Base) Timeout() time.Duration             { return b.timeout }

// Wave buckets a detector's nominal priority into its scheduling wave.
func Wave(priority int) int {
	switch {
	case priority < 20:
		return 0
	case priority < 50:
		return 1
	case priority < 100:
		return 2
	default:
		return 3
	}
}
