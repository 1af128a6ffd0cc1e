package incremental

import "fmt"

// Phase is the orchestrator's position in one build.
type Phase string

const (
	PhaseScanning  Phase = "scanning"
	PhaseTainting  Phase = "tainting"
	PhaseCompiling Phase = "compiling"
	PhaseCommitted Phase = "committed"
	PhaseFailed    Phase = "failed"
)

// IsTerminal reports whether the build has finished in this phase.
func (p Phase) IsTerminal() bool {
	return p == PhaseCommitted || p == PhaseFailed
}

func isAllowedTransition(from, to Phase) bool {
	if to == PhaseFailed {
		return !from.IsTerminal()
	}
	switch from {
	case PhaseScanning:
		return to == PhaseTainting
	case PhaseTainting:
		return to == PhaseCompiling || to == PhaseCommitted
	case PhaseCompiling:
		return to == PhaseTainting || to == PhaseCommitted
	default:
		return false
	}
}

// phaseTracker enforces the build state machine.
type phaseTracker struct {
	current Phase
	onEnter func(from, to Phase)
}

func newPhaseTracker(onEnter func(from, to Phase)) *phaseTracker {
	return &phaseTracker{current: PhaseScanning, onEnter: onEnter}
}

func (t *phaseTracker) transition(to Phase) error {
	if !isAllowedTransition(t.current, to) {
		return fmt.Errorf("disallowed phase transition: %s -> %s", t.current, to)
	}
	from := t.current
	t.current = to
	if t.onEnter != nil {
		t.onEnter(from, to)
	}
	return nil
}
