package engine

import (
	"fmt"
	"strings"
)

// State is a scenario run state. Runs only ever move forward through the
// states below; Failed is reachable from every non-terminal state.
type State int

const (
	Idle State = iota
	Attaching
	LoggingIn
	AddingItems
	ApplyingPromotion
	ApplyingLoyalty
	Tendering
	Verifying
	Completed
	Failed
)

// String returns the state name used as the step name in results and metrics.
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Attaching:
		return "Attaching"
	case LoggingIn:
		return "LoggingIn"
	case AddingItems:
		return "AddingItems"
	case ApplyingPromotion:
		return "ApplyingPromotion"
	case ApplyingLoyalty:
		return "ApplyingLoyalty"
	case Tendering:
		return "Tendering"
	case Verifying:
		return "Verifying"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	default:
		return "unknown"
	}
}

// StepStates are the states that perform UI work, in execution order.
var StepStates = []State{Attaching, LoggingIn, AddingItems, ApplyingPromotion, ApplyingLoyalty, Tendering, Verifying}

// ParseState resolves a step name. Matching ignores case and underscores,
// so "LoggingIn" and "logging_in" are equivalent.
func ParseState(name string) (State, error) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", ""))
	for _, s := range StepStates {
		if strings.ToLower(s.String()) == key {
			return s, nil
		}
	}
	return Idle, fmt.Errorf("unknown step %q", name)
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == Completed || s == Failed
}

// transitions lists the forward successors of each state. Optional states may
// be jumped over. Failed is added for every non-terminal state by canTransition.
var transitions = map[State][]State{
	Idle:              {Attaching},
	Attaching:         {LoggingIn},
	LoggingIn:         {AddingItems},
	AddingItems:       {ApplyingPromotion, ApplyingLoyalty, Tendering},
	ApplyingPromotion: {ApplyingLoyalty, Tendering},
	ApplyingLoyalty:   {Tendering},
	Tendering:         {Verifying},
	Verifying:         {Completed},
}

func canTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == Failed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
