package models

import (
	"fmt"
	"strings"
)

// validTransitions maps from-state to allowed to-states.
// Pending -> {Completed, Failed} covers a run whose Processing update never landed.
var validTransitions = map[TimelapseStatus]map[TimelapseStatus]bool{
	StatusPending: {
		StatusProcessing: true,
		StatusCompleted:  true,
		StatusFailed:     true,
	},
	StatusProcessing: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
	// Terminal states (no transitions allowed)
	StatusCompleted: {},
	StatusFailed:    {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to TimelapseStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("%w from %s to %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// SourceStates returns every state from which to is reachable in one step.
// Stores use it to guard conditional updates.
func SourceStates(to TimelapseStatus) []TimelapseStatus {
	var out []TimelapseStatus
	for _, from := range []TimelapseStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		if validTransitions[from][to] {
			out = append(out, from)
		}
	}
	return out
}

// IsTerminalState returns true if the state is terminal (no further transitions)
func IsTerminalState(state TimelapseStatus) bool {
	return state == StatusCompleted || state == StatusFailed
}

// IsActiveState returns true if the job has not reached a terminal state
func IsActiveState(state TimelapseStatus) bool {
	return state == StatusPending || state == StatusProcessing
}

// ParseStatus accepts the canonical names case-insensitively.
func ParseStatus(s string) (TimelapseStatus, bool) {
	for st := range validTransitions {
		if strings.EqualFold(string(st), s) {
			return st, true
		}
	}
	return "", false
}
