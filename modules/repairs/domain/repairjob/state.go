package repairjob

import (
	"fmt"
	"strings"
)

// State is one of the twelve fixed stages a repair job can occupy.
type State string

const (
	StateCreated          State = "CREATED"
	StateInDiagnosis      State = "IN_DIAGNOSIS"
	StateAwaitingApproval State = "AWAITING_APPROVAL"
	StateApproved         State = "APPROVED"
	StateInProgress       State = "IN_PROGRESS"
	StatePartsOrdered     State = "PARTS_ORDERED"
	StateTesting          State = "TESTING"
	StateQualityCheck     State = "QUALITY_CHECK"
	StateCompleted        State = "COMPLETED"
	StateCustomerApproved State = "CUSTOMER_APPROVED"
	StateDelivered        State = "DELIVERED"
	StateCancelled        State = "CANCELLED"
)

// AllStates returns every registered state in lifecycle order.
func AllStates() []State {
	return []State{
		StateCreated,
		StateInDiagnosis,
		StateAwaitingApproval,
		StateApproved,
		StateInProgress,
		StatePartsOrdered,
		StateTesting,
		StateQualityCheck,
		StateCompleted,
		StateCustomerApproved,
		StateDelivered,
		StateCancelled,
	}
}

func ParseState(v string) (State, error) {
	s := State(strings.ToUpper(strings.TrimSpace(v)))
	for _, known := range AllStates() {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown repair state %q", v)
}

func (s State) String() string {
	return string(s)
}

// Priority orders jobs for intake triage. It has no effect on the state
// machine itself.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// ParsePriority maps free-form input to a known priority, defaulting to
// NORMAL for empty input.
func ParsePriority(v string) (Priority, error) {
	p := Priority(strings.ToUpper(strings.TrimSpace(v)))
	switch p {
	case "":
		return PriorityNormal, nil
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return p, nil
	default:
		return "", fmt.Errorf("unknown priority %q", v)
	}
}
