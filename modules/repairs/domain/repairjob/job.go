package repairjob

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Job is one repair case. It is owned by the Job Store and mutated only
// through the transition engine; a terminal job is retained read-only
// for audit and analytics.
type Job struct {
	id             uuid.UUID
	number         string
	customerID     uuid.UUID
	device         string
	issue          string
	priority       Priority
	technicianID   uuid.UUID
	state          State
	payloads       map[State]json.RawMessage
	enteredStateAt time.Time
	escalatedAt    *time.Time
	createdAt      time.Time
	updatedAt      time.Time
}

// New creates a job in CREATED. The job number is assigned by the store
// on insert.
func New(customerID uuid.UUID, device, issue string, priority Priority, now time.Time) Job {
	return Job{
		id:             uuid.New(),
		customerID:     customerID,
		device:         strings.TrimSpace(device),
		issue:          strings.TrimSpace(issue),
		priority:       priority,
		state:          StateCreated,
		enteredStateAt: now,
		createdAt:      now,
		updatedAt:      now,
	}
}

func Hydrate(
	id uuid.UUID,
	number string,
	customerID uuid.UUID,
	device string,
	issue string,
	priority Priority,
	technicianID uuid.UUID,
	state State,
	payloads map[State]json.RawMessage,
	enteredStateAt time.Time,
	escalatedAt *time.Time,
	createdAt time.Time,
	updatedAt time.Time,
) Job {
	return Job{
		id:             id,
		number:         number,
		customerID:     customerID,
		device:         device,
		issue:          issue,
		priority:       priority,
		technicianID:   technicianID,
		state:          state,
		payloads:       clonePayloads(payloads),
		enteredStateAt: enteredStateAt,
		escalatedAt:    escalatedAt,
		createdAt:      createdAt,
		updatedAt:      updatedAt,
	}
}

func (j Job) ID() uuid.UUID              { return j.id }
func (j Job) Number() string             { return j.number }
func (j Job) CustomerID() uuid.UUID      { return j.customerID }
func (j Job) Device() string             { return j.device }
func (j Job) Issue() string              { return j.issue }
func (j Job) Priority() Priority         { return j.priority }
func (j Job) TechnicianID() uuid.UUID    { return j.technicianID }
func (j Job) State() State               { return j.state }
func (j Job) EnteredStateAt() time.Time  { return j.enteredStateAt }
func (j Job) CreatedAt() time.Time       { return j.createdAt }
func (j Job) UpdatedAt() time.Time       { return j.updatedAt }
func (j Job) IsZero() bool               { return j.id == uuid.Nil }

// EscalatedAt reports when the current dwell period was escalated, if it
// was.
func (j Job) EscalatedAt() (time.Time, bool) {
	if j.escalatedAt == nil {
		return time.Time{}, false
	}
	return *j.escalatedAt, true
}

// Payload returns the payload recorded when the job entered s.
func (j Job) Payload(s State) (json.RawMessage, bool) {
	raw, ok := j.payloads[s]
	return raw, ok
}

// Payloads returns a copy of the per-state payload bag.
func (j Job) Payloads() map[State]json.RawMessage {
	return clonePayloads(j.payloads)
}

// Apply moves the job into to, merging the payload under the target
// state's key and starting a fresh dwell period.
func (j Job) Apply(to State, payload json.RawMessage, now time.Time) Job {
	next := j
	next.payloads = clonePayloads(j.payloads)
	if len(payload) > 0 {
		if next.payloads == nil {
			next.payloads = make(map[State]json.RawMessage, 1)
		}
		next.payloads[to] = payload
	}
	next.state = to
	next.enteredStateAt = now
	next.escalatedAt = nil
	next.updatedAt = now
	return next
}

// WithNumber attaches the number allocated by the store.
func (j Job) WithNumber(number string) Job {
	next := j
	next.number = number
	return next
}

// WithTechnician records the assigned technician.
func (j Job) WithTechnician(id uuid.UUID) Job {
	next := j
	next.technicianID = id
	return next
}

// WithEscalatedAt is used by the store when the sweep marks the current
// dwell period.
func (j Job) WithEscalatedAt(at time.Time) Job {
	next := j
	next.escalatedAt = &at
	return next
}

func clonePayloads(src map[State]json.RawMessage) map[State]json.RawMessage {
	if src == nil {
		return nil
	}
	out := make(map[State]json.RawMessage, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
