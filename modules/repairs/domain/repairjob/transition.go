package repairjob

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransitionRecord is an immutable fact appended once per accepted
// transition. A job's history is the ordered sequence of its records.
type TransitionRecord struct {
	ID             uuid.UUID
	JobID          uuid.UUID
	From           State
	To             State
	Reason         string
	Notes          string
	Attachments    []string
	ActorID        uuid.UUID
	ActorRole      ActorRole
	IdempotencyKey string
	PerformedAt    time.Time
}

// CreateJobCommand opens a new job in CREATED.
type CreateJobCommand struct {
	CustomerID uuid.UUID
	Device     string
	Issue      string
	Priority   Priority
}

// TransitionCommand carries one requested state change. Scheduled marks
// moves the engine performs on its own behalf; only those may pass the
// role guard as SYSTEM.
type TransitionCommand struct {
	JobID          uuid.UUID
	ExpectedFrom   State
	To             State
	Actor          Actor
	Reason         string
	Notes          string
	Attachments    []string
	IdempotencyKey string
	Payload        json.RawMessage
	Scheduled      bool
}

// Replay folds a job's history from CREATED and returns the resulting
// state. The stored current state must always equal the replayed one.
func Replay(records []TransitionRecord) (State, error) {
	state := StateCreated
	for i, record := range records {
		if record.From != state {
			return "", fmt.Errorf("history record %d leaves %s but job was in %s", i, record.From, state)
		}
		state = record.To
	}
	return state, nil
}
