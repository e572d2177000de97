package orchestrate

import "stackup/internal/state"

// Outcome is the terminal verdict of a whole run.
type Outcome uint8

const (
	OutcomeReady Outcome = iota + 1
	OutcomeFailed
	OutcomeCancelled
	OutcomeRuntimeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReady:
		return "ready"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeRuntimeUnavailable:
		return "runtime unavailable"
	default:
		return "unknown"
	}
}

// Report is the final per-service state table of a run. Services keep
// declaration order; NeverStarted lists downstream services that were
// blocked by a failed dependency.
type Report struct {
	Project      string
	Outcome      Outcome
	Services     []state.Entry
	NeverStarted []string
}
