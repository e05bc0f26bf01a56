package repairjob

import (
	"fmt"

	gerrors "github.com/go-faster/errors"
)

var (
	// ErrJobNotFound is returned when no job exists for the given id or number.
	ErrJobNotFound = gerrors.New("repair job not found")

	// ErrDuplicateIdempotencyKey is returned by Save when another transition
	// already claimed the command's idempotency key. The engine treats it as
	// a replay, not a failure.
	ErrDuplicateIdempotencyKey = gerrors.New("idempotency key already used for this job")
)

// RegistryConfigurationError halts startup: the static state table is
// inconsistent and must never reach runtime.
type RegistryConfigurationError struct {
	State  State
	Reason string
}

func (e *RegistryConfigurationError) Error() string {
	return fmt.Sprintf("state registry misconfigured at %s: %s", e.State, e.Reason)
}

// InvalidTransitionError rejects a target outside the stored state's
// allowed set.
type InvalidTransitionError struct {
	From    State
	To      State
	Allowed []State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("transition %s -> %s is not allowed (allowed: %v)", e.From, e.To, e.Allowed)
}

// UnauthorizedError rejects an actor whose role may not enter the target
// state.
type UnauthorizedError struct {
	To       State
	Required ActorRole
	Actual   ActorRole
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("role %s may not move a job into %s (requires %s)", e.Actual, e.To, e.Required)
}

// ValidationError rejects a payload missing a field the target state
// requires.
type ValidationError struct {
	To    State
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("payload for %s is missing required field %q", e.To, e.Field)
}

// ConcurrencyConflictError rejects a transition whose expected source
// state no longer matches the stored one.
type ConcurrencyConflictError struct {
	Expected State
	Actual   State
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("job state is %s, not %s as expected", e.Actual, e.Expected)
}

// AlreadyTerminalError rejects any transition attempt against a job that
// reached DELIVERED or CANCELLED.
type AlreadyTerminalError struct {
	State State
}

func (e *AlreadyTerminalError) Error() string {
	return fmt.Sprintf("job is in terminal state %s", e.State)
}
