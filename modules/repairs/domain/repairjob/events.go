package repairjob

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	TopicTransitioned = "repairs.job.transitioned"
	TopicEscalated    = "repairs.job.escalated"
	TopicBilling      = "repairs.billing"
)

// BillingHookPrefix marks the hooks consumed by the invoicing
// collaborator rather than the notification dispatcher.
const BillingHookPrefix = "billing."

// Event is an outbound fact produced by an accepted transition. The
// Postgres store stages events in the outbox table inside the job-save
// transaction; the in-memory store publishes them directly.
type Event interface {
	EventID() uuid.UUID
	EventTopic() string
}

// TransitionedEvent notifies collaborators that a job entered a new
// state. Creation emits one with an empty From.
type TransitionedEvent struct {
	ID          uuid.UUID `json:"id"`
	JobID       uuid.UUID `json:"job_id"`
	JobNumber   string    `json:"job_number"`
	From        State     `json:"from_state,omitempty"`
	To          State     `json:"to_state"`
	Hooks       []string  `json:"hooks,omitempty"`
	ActorID     uuid.UUID `json:"actor_id"`
	ActorRole   ActorRole `json:"actor_role"`
	PerformedAt time.Time `json:"performed_at"`
}

func (e *TransitionedEvent) EventID() uuid.UUID { return e.ID }
func (e *TransitionedEvent) EventTopic() string { return TopicTransitioned }

// BillingEvent is consumed by the invoicing and payment collaborator.
type BillingEvent struct {
	ID          uuid.UUID `json:"id"`
	JobID       uuid.UUID `json:"job_id"`
	JobNumber   string    `json:"job_number"`
	State       State     `json:"state"`
	Hook        string    `json:"hook"`
	AmountCents int64     `json:"amount_cents,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (e *BillingEvent) EventID() uuid.UUID { return e.ID }
func (e *BillingEvent) EventTopic() string { return TopicBilling }

// EscalationEvent alerts that a job overstayed its state's max dwell.
type EscalationEvent struct {
	ID         uuid.UUID     `json:"id"`
	JobID      uuid.UUID     `json:"job_id"`
	JobNumber  string        `json:"job_number"`
	State      State         `json:"state"`
	Elapsed    time.Duration `json:"elapsed"`
	MaxDwell   time.Duration `json:"max_dwell"`
	OccurredAt time.Time     `json:"occurred_at"`
}

func (e *EscalationEvent) EventID() uuid.UUID { return e.ID }
func (e *EscalationEvent) EventTopic() string { return TopicEscalated }

func NewTransitionedEvent(job Job, record TransitionRecord, hooks []string) *TransitionedEvent {
	return &TransitionedEvent{
		ID:          uuid.New(),
		JobID:       job.ID(),
		JobNumber:   job.Number(),
		From:        record.From,
		To:          record.To,
		Hooks:       hooks,
		ActorID:     record.ActorID,
		ActorRole:   record.ActorRole,
		PerformedAt: record.PerformedAt,
	}
}

func NewBillingEvent(job Job, hook string, amountCents int64, at time.Time) *BillingEvent {
	return &BillingEvent{
		ID:          uuid.New(),
		JobID:       job.ID(),
		JobNumber:   job.Number(),
		State:       job.State(),
		Hook:        hook,
		AmountCents: amountCents,
		OccurredAt:  at,
	}
}

func NewEscalationEvent(job Job, cfg StateConfig, elapsed time.Duration, at time.Time) *EscalationEvent {
	return &EscalationEvent{
		ID:         uuid.New(),
		JobID:      job.ID(),
		JobNumber:  job.Number(),
		State:      job.State(),
		Elapsed:    elapsed,
		MaxDwell:   cfg.MaxDwell,
		OccurredAt: at,
	}
}

// BillingHooks splits a state's hook list into billing hooks and
// notification hooks.
func BillingHooks(hooks []string) (billing []string, notification []string) {
	for _, hook := range hooks {
		if strings.HasPrefix(hook, BillingHookPrefix) {
			billing = append(billing, hook)
		} else {
			notification = append(notification, hook)
		}
	}
	return billing, notification
}
