package services

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/repairhq/workshop/modules/repairs/domain/repairjob"
	"github.com/repairhq/workshop/pkg/composables"
)

// JobService is the transition engine. Every state change, whether
// requested over the API or scheduled by the sweep, passes through
// Transition's single validation path.
type JobService struct {
	registry *repairjob.Registry
	repo     repairjob.Repository
	clock    clockwork.Clock
}

func NewJobService(registry *repairjob.Registry, repo repairjob.Repository, clock clockwork.Clock) *JobService {
	return &JobService{
		registry: registry,
		repo:     repo,
		clock:    clock,
	}
}

// Registry exposes the validated state table to collaborators.
func (s *JobService) Registry() *repairjob.Registry {
	return s.registry
}

func (s *JobService) Create(ctx context.Context, cmd repairjob.CreateJobCommand) (repairjob.Job, error) {
	now := s.clock.Now().UTC()
	return composables.InTxResult(ctx, func(txCtx context.Context) (repairjob.Job, error) {
		number, err := s.repo.NextNumber(txCtx, now)
		if err != nil {
			return repairjob.Job{}, err
		}
		job := repairjob.New(cmd.CustomerID, cmd.Device, cmd.Issue, cmd.Priority, now).WithNumber(number)

		cfg, _ := s.registry.Config(repairjob.StateCreated)
		_, notification := repairjob.BillingHooks(cfg.Hooks)
		event := &repairjob.TransitionedEvent{
			ID:          uuid.New(),
			JobID:       job.ID(),
			JobNumber:   job.Number(),
			To:          repairjob.StateCreated,
			Hooks:       notification,
			ActorID:     cmd.CustomerID,
			ActorRole:   repairjob.RoleCustomer,
			PerformedAt: now,
		}
		return s.repo.Create(txCtx, job, []repairjob.Event{event})
	})
}

func (s *JobService) GetByID(ctx context.Context, id uuid.UUID) (repairjob.Job, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *JobService) GetByNumber(ctx context.Context, number string) (repairjob.Job, error) {
	return s.repo.GetByNumber(ctx, number)
}

func (s *JobService) List(ctx context.Context, params *repairjob.FindParams) ([]repairjob.Job, int64, error) {
	return s.repo.List(ctx, params)
}

func (s *JobService) History(ctx context.Context, jobID uuid.UUID) ([]repairjob.TransitionRecord, error) {
	if _, err := s.repo.GetByID(ctx, jobID); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, jobID)
}

type transitionOutcome struct {
	job      repairjob.Job
	record   repairjob.TransitionRecord
	replayed bool
}

// Transition validates and applies one state change. The checks run in
// a fixed order: job exists, idempotency replay, expected-from match,
// terminal, allowed set, role guard, payload fields. A rejected command
// leaves job and history untouched.
func (s *JobService) Transition(ctx context.Context, cmd repairjob.TransitionCommand) (repairjob.Job, repairjob.TransitionRecord, error) {
	out, err := composables.InTxResult(ctx, func(txCtx context.Context) (transitionOutcome, error) {
		job, err := s.repo.GetByID(txCtx, cmd.JobID)
		if err != nil {
			return transitionOutcome{}, err
		}

		if cmd.IdempotencyKey != "" {
			record, found, err := s.repo.FindByIdempotencyKey(txCtx, cmd.JobID, cmd.IdempotencyKey)
			if err != nil {
				return transitionOutcome{}, err
			}
			if found {
				return transitionOutcome{job: job, record: record, replayed: true}, nil
			}
		}

		if cmd.ExpectedFrom != "" && job.State() != cmd.ExpectedFrom {
			return transitionOutcome{}, &repairjob.ConcurrencyConflictError{
				Expected: cmd.ExpectedFrom,
				Actual:   job.State(),
			}
		}

		current, ok := s.registry.Config(job.State())
		if !ok {
			return transitionOutcome{}, &repairjob.RegistryConfigurationError{
				State:  job.State(),
				Reason: "stored state is not registered",
			}
		}
		if current.Terminal {
			return transitionOutcome{}, &repairjob.AlreadyTerminalError{State: job.State()}
		}
		if !s.registry.CanTransition(job.State(), cmd.To) {
			return transitionOutcome{}, &repairjob.InvalidTransitionError{
				From:    job.State(),
				To:      cmd.To,
				Allowed: current.Allowed,
			}
		}

		target, _ := s.registry.Config(cmd.To)
		if err := authorizeTransition(target, cmd); err != nil {
			return transitionOutcome{}, err
		}
		if err := repairjob.ValidatePayload(target, cmd.Payload); err != nil {
			return transitionOutcome{}, err
		}

		now := s.clock.Now().UTC()
		next := job.Apply(cmd.To, cmd.Payload, now)
		if cmd.To == repairjob.StateInDiagnosis {
			decoded, err := repairjob.DecodePayload(cmd.To, cmd.Payload)
			if err != nil {
				return transitionOutcome{}, err
			}
			if p, ok := decoded.(*repairjob.DiagnosisPayload); ok {
				next = next.WithTechnician(p.TechnicianID)
			}
		}

		record := repairjob.TransitionRecord{
			ID:             uuid.New(),
			JobID:          job.ID(),
			From:           job.State(),
			To:             cmd.To,
			Reason:         cmd.Reason,
			Notes:          cmd.Notes,
			Attachments:    cmd.Attachments,
			ActorID:        cmd.Actor.ID,
			ActorRole:      cmd.Actor.Role,
			IdempotencyKey: cmd.IdempotencyKey,
			PerformedAt:    now,
		}

		if err := s.repo.Save(txCtx, next, record, s.eventsFor(next, record, target)); err != nil {
			return transitionOutcome{}, err
		}
		return transitionOutcome{job: next, record: record}, nil
	})
	if err != nil {
		// A concurrent request claimed the same key between the replay
		// check and the append. The first writer's outcome stands.
		if errors.Is(err, repairjob.ErrDuplicateIdempotencyKey) && cmd.IdempotencyKey != "" {
			return s.replay(ctx, cmd)
		}
		recordTransition(transitionOutcomeLabel(err))
		return repairjob.Job{}, repairjob.TransitionRecord{}, err
	}
	if out.replayed {
		recordTransition("replayed")
	} else {
		recordTransition("accepted")
	}
	return out.job, out.record, nil
}

// replay runs in a fresh transaction because the losing insert aborted
// the previous one.
func (s *JobService) replay(ctx context.Context, cmd repairjob.TransitionCommand) (repairjob.Job, repairjob.TransitionRecord, error) {
	out, err := composables.InTxResult(ctx, func(txCtx context.Context) (transitionOutcome, error) {
		job, err := s.repo.GetByID(txCtx, cmd.JobID)
		if err != nil {
			return transitionOutcome{}, err
		}
		record, found, err := s.repo.FindByIdempotencyKey(txCtx, cmd.JobID, cmd.IdempotencyKey)
		if err != nil {
			return transitionOutcome{}, err
		}
		if !found {
			return transitionOutcome{}, repairjob.ErrDuplicateIdempotencyKey
		}
		return transitionOutcome{job: job, record: record}, nil
	})
	if err != nil {
		recordTransition(transitionOutcomeLabel(err))
		return repairjob.Job{}, repairjob.TransitionRecord{}, err
	}
	recordTransition("replayed")
	return out.job, out.record, nil
}

// authorizeTransition matches the actor's role against the target
// state's required role. SYSTEM additionally passes when the engine
// itself scheduled the move.
func authorizeTransition(target repairjob.StateConfig, cmd repairjob.TransitionCommand) error {
	if cmd.Actor.Role == target.RequiredRole {
		return nil
	}
	if cmd.Actor.Role == repairjob.RoleSystem && cmd.Scheduled {
		return nil
	}
	return &repairjob.UnauthorizedError{
		To:       target.State,
		Required: target.RequiredRole,
		Actual:   cmd.Actor.Role,
	}
}

func (s *JobService) eventsFor(job repairjob.Job, record repairjob.TransitionRecord, target repairjob.StateConfig) []repairjob.Event {
	billing, notification := repairjob.BillingHooks(target.Hooks)
	events := []repairjob.Event{repairjob.NewTransitionedEvent(job, record, notification)}
	for _, hook := range billing {
		events = append(events, repairjob.NewBillingEvent(job, hook, billingAmount(job), record.PerformedAt))
	}
	return events
}

// billingAmount picks the invoice amount from the job's payload bag:
// the final cost once COMPLETED recorded one, the approved estimate
// before that.
func billingAmount(job repairjob.Job) int64 {
	if raw, ok := job.Payload(repairjob.StateCompleted); ok {
		var p repairjob.CompletionPayload
		if json.Unmarshal(raw, &p) == nil && p.FinalCost > 0 {
			return p.FinalCost
		}
	}
	if raw, ok := job.Payload(repairjob.StateApproved); ok {
		var p repairjob.ApprovalPayload
		if json.Unmarshal(raw, &p) == nil {
			return p.ApprovedCost
		}
	}
	return 0
}
