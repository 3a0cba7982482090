package deps

import "fmt"

// State is the progress of one dependency through the pipeline.
type State string

const (
	StatePending    State = "pending"
	StateFetched    State = "fetched"
	StateConfigured State = "configured"
	StateBuilt      State = "built"
	StateInstalled  State = "installed"
	StateCopied     State = "copied"
	StateDone       State = "done"
	StateFailed     State = "failed"
	// StateSkipped marks dependencies excluded by the request filters.
	StateSkipped State = "skipped"
	// StateSatisfied marks dependencies whose outputs are already current.
	StateSatisfied State = "satisfied"
)

// IsTerminal reports whether no further transition can leave s.
func (s State) IsTerminal() bool {
	switch s {
	case StateDone, StateFailed, StateSkipped, StateSatisfied:
		return true
	default:
		return false
	}
}

var stageOrder = map[State]State{
	StatePending:    StateFetched,
	StateFetched:    StateConfigured,
	StateConfigured: StateBuilt,
	StateBuilt:      StateInstalled,
	StateInstalled:  StateCopied,
	StateCopied:     StateDone,
}

// Transition moves name from the expected state to the next one and fails
// when the move is not allowed. states is modified only on success.
func Transition(states map[string]State, name string, from, to State) error {
	current, ok := states[name]
	if !ok {
		return fmt.Errorf("unknown dependency in state: %q", name)
	}
	if current != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", name, from, current)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", name, from, to)
	}
	states[name] = to
	return nil
}

func isAllowedTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	if from == StatePending && (to == StateSkipped || to == StateSatisfied) {
		return true
	}
	return stageOrder[from] == to
}
