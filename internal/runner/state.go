// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"fmt"
	"log/slog"
	"slices"
)

// Target run states.
const (
	StateIdle State = iota
	StateResolving
	StateProvisioning
	StateStarting
	StateExecuting
	StateCompleted
	StateFailed
)

var stateNames = [...]string{
	StateIdle:         "Idle",
	StateResolving:    "Resolving",
	StateProvisioning: "Provisioning",
	StateStarting:     "Starting",
	StateExecuting:    "Executing",
	StateCompleted:    "Completed",
	StateFailed:       "Failed",
}

// forward lists the single successor of every non-terminal state.
var forward = map[State]State{
	StateIdle:         StateResolving,
	StateResolving:    StateProvisioning,
	StateProvisioning: StateStarting,
	StateStarting:     StateExecuting,
	StateExecuting:    StateCompleted,
}

type (
	// State is the progress of one target run.
	State int

	// tracker enforces and logs state transitions for one target.
	tracker struct {
		state   State
		logger  *slog.Logger
		history []State
	}
)

// String returns the state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	next, ok := forward[from]
	return ok && next == to
}

func newTracker(logger *slog.Logger) *tracker {
	return &tracker{state: StateIdle, logger: logger, history: []State{StateIdle}}
}

// to moves to the next state. An illegal transition is a programming error.
func (t *tracker) to(next State) {
	if !CanTransition(t.state, next) {
		panic(fmt.Sprintf("runner: illegal state transition %s → %s", t.state, next))
	}
	t.logger.Debug("state transition", "from", t.state.String(), "to", next.String())
	t.state = next
	t.history = append(t.history, next)
}

func (t *tracker) states() []State {
	return slices.Clone(t.history)
}
