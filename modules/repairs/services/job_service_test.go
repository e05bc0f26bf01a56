package services

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/repairhq/workshop/modules/repairs/domain/repairjob"
	"github.com/repairhq/workshop/modules/repairs/infrastructure/persistence"
	"github.com/repairhq/workshop/pkg/eventbus"
)

type eventRecorder struct {
	mu           sync.Mutex
	transitioned []*repairjob.TransitionedEvent
	billing      []*repairjob.BillingEvent
	escalated    []*repairjob.EscalationEvent
}

func (r *eventRecorder) subscribe(bus eventbus.EventBus) {
	bus.Subscribe(func(e *repairjob.TransitionedEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.transitioned = append(r.transitioned, e)
	})
	bus.Subscribe(func(e *repairjob.BillingEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.billing = append(r.billing, e)
	})
	bus.Subscribe(func(e *repairjob.EscalationEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.escalated = append(r.escalated, e)
	})
}

func (r *eventRecorder) transitionedTo(s repairjob.State) []*repairjob.TransitionedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*repairjob.TransitionedEvent
	for _, e := range r.transitioned {
		if e.To == s {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) billingByHook(hook string) []*repairjob.BillingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*repairjob.BillingEvent
	for _, e := range r.billing {
		if e.Hook == hook {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) escalationCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.escalated)
}

type engineEnv struct {
	registry *repairjob.Registry
	repo     *persistence.InmemJobRepository
	bus      eventbus.EventBus
	clock    *clockwork.FakeClock
	engine   *JobService
	events   *eventRecorder
	techID   uuid.UUID
}

func newEngineEnv(t *testing.T) *engineEnv {
	t.Helper()

	registry, err := repairjob.NewRegistry(repairjob.DefaultStateConfigs())
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	bus := eventbus.NewEventPublisher(logger)
	events := &eventRecorder{}
	events.subscribe(bus)

	clock := clockwork.NewFakeClockAt(time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC))
	repo := persistence.NewInmemJobRepository("WS", bus)

	return &engineEnv{
		registry: registry,
		repo:     repo,
		bus:      bus,
		clock:    clock,
		engine:   NewJobService(registry, repo, clock),
		events:   events,
		techID:   uuid.New(),
	}
}

func (e *engineEnv) createJob(t *testing.T) repairjob.Job {
	t.Helper()
	job, err := e.engine.Create(context.Background(), repairjob.CreateJobCommand{
		CustomerID: uuid.New(),
		Device:     "iPhone 13",
		Issue:      "cracked screen",
		Priority:   repairjob.PriorityNormal,
	})
	require.NoError(t, err)
	return job
}

type lifecycleStep struct {
	to      repairjob.State
	role    repairjob.ActorRole
	payload interface{}
}

func (e *engineEnv) nextStep(from repairjob.State) (lifecycleStep, bool) {
	steps := map[repairjob.State]lifecycleStep{
		repairjob.StateCreated:          {repairjob.StateInDiagnosis, repairjob.RoleSystem, repairjob.DiagnosisPayload{TechnicianID: e.techID}},
		repairjob.StateInDiagnosis:      {repairjob.StateAwaitingApproval, repairjob.RoleTechnician, repairjob.EstimatePayload{Diagnosis: "battery swollen", EstimatedCost: 9500}},
		repairjob.StateAwaitingApproval: {repairjob.StateApproved, repairjob.RoleCustomer, repairjob.ApprovalPayload{ApprovedCost: 9500}},
		repairjob.StateApproved:         {repairjob.StateInProgress, repairjob.RoleTechnician, nil},
		repairjob.StateInProgress:       {repairjob.StateTesting, repairjob.RoleTechnician, nil},
		repairjob.StateTesting:          {repairjob.StateQualityCheck, repairjob.RoleTechnician, repairjob.QualityPayload{QualityScore: 9}},
		repairjob.StateQualityCheck:     {repairjob.StateCompleted, repairjob.RoleSupervisor, repairjob.CompletionPayload{FinalCost: 10200}},
		repairjob.StateCompleted:        {repairjob.StateCustomerApproved, repairjob.RoleCustomer, nil},
		repairjob.StateCustomerApproved: {repairjob.StateDelivered, repairjob.RoleTechnician, nil},
	}
	step, ok := steps[from]
	return step, ok
}

// advanceTo walks the job along the regular lifecycle until it reaches
// target, one validated transition per step.
func (e *engineEnv) advanceTo(t *testing.T, job repairjob.Job, target repairjob.State) repairjob.Job {
	t.Helper()
	for job.State() != target {
		step, ok := e.nextStep(job.State())
		require.True(t, ok, "no scripted step out of %s", job.State())

		var payload json.RawMessage
		if step.payload != nil {
			payload = mustJSON(t, step.payload)
		}
		next, _, err := e.engine.Transition(context.Background(), repairjob.TransitionCommand{
			JobID:        job.ID(),
			ExpectedFrom: job.State(),
			To:           step.to,
			Actor:        repairjob.Actor{ID: uuid.New(), Role: step.role},
			Payload:      payload,
		})
		require.NoError(t, err)
		job = next
	}
	return job
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestJobService_CreateOpensJob(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	job := env.createJob(t)
	require.Equal(t, repairjob.StateCreated, job.State())
	require.Equal(t, "WS-202603-0001", job.Number())

	history, err := env.engine.History(ctx, job.ID())
	require.NoError(t, err)
	require.Empty(t, history, "a fresh job has no transition records")

	second := env.createJob(t)
	require.Equal(t, "WS-202603-0002", second.Number())

	created := env.events.transitionedTo(repairjob.StateCreated)
	require.Len(t, created, 2)
	require.Equal(t, []string{"customer.intake_confirmation"}, created[0].Hooks)
	require.Equal(t, job.Number(), created[0].JobNumber)
}

func TestJobService_SystemMovesIntoDiagnosis(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	job := env.createJob(t)
	next, record, err := env.engine.Transition(ctx, repairjob.TransitionCommand{
		JobID:        job.ID(),
		ExpectedFrom: repairjob.StateCreated,
		To:           repairjob.StateInDiagnosis,
		Actor:        repairjob.SystemActor(),
		Payload:      mustJSON(t, repairjob.DiagnosisPayload{TechnicianID: env.techID}),
	})
	require.NoError(t, err)
	require.Equal(t, repairjob.StateInDiagnosis, next.State())
	require.Equal(t, env.techID, next.TechnicianID())
	require.Equal(t, repairjob.StateCreated, record.From)
	require.Equal(t, repairjob.RoleSystem, record.ActorRole)

	history, err := env.engine.History(ctx, job.ID())
	require.NoError(t, err)
	require.Len(t, history, 1)

	notified := env.events.transitionedTo(repairjob.StateInDiagnosis)
	require.Len(t, notified, 1, "one notification event per accepted transition")
	require.Equal(t, []string{"customer.diagnosis_started"}, notified[0].Hooks)
}

func TestJobService_RejectsSkippingStates(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	job := env.advanceTo(t, env.createJob(t), repairjob.StateInDiagnosis)

	_, _, err := env.engine.Transition(ctx, repairjob.TransitionCommand{
		JobID: job.ID(),
		To:    repairjob.StateDelivered,
		Actor: repairjob.Actor{ID: uuid.New(), Role: repairjob.RoleTechnician},
	})
	var invalid *repairjob.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, repairjob.StateInDiagnosis, invalid.From)
	require.Equal(t, repairjob.StateDelivered, invalid.To)

	current, err := env.engine.GetByID(ctx, job.ID())
	require.NoError(t, err)
	require.Equal(t, repairjob.StateInDiagnosis, current.State(), "rejection leaves state unchanged")

	history, err := env.engine.History(ctx, job.ID())
	require.NoError(t, err)
	require.Len(t, history, 1, "rejection appends nothing")
	require.Empty(t, env.events.transitionedTo(repairjob.StateDelivered))
}

func TestJobService_ConcurrentTransitionsOneWins(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	job := env.advanceTo(t, env.createJob(t), repairjob.StateInProgress)

	commands := []repairjob.TransitionCommand{
		{
			JobID:        job.ID(),
			ExpectedFrom: repairjob.StateInProgress,
			To:           repairjob.StateTesting,
			Actor:        repairjob.Actor{ID: uuid.New(), Role: repairjob.RoleTechnician},
		},
		{
			JobID:        job.ID(),
			ExpectedFrom: repairjob.StateInProgress,
			To:           repairjob.StateCancelled,
			Actor:        repairjob.Actor{ID: uuid.New(), Role: repairjob.RoleAdmin},
			Payload:      mustJSON(t, repairjob.CancellationPayload{CancelReason: "customer walked in"}),
		},
	}

	errs := make([]error, len(commands))
	var wg sync.WaitGroup
	for i, cmd := range commands {
		wg.Add(1)
		go func(i int, cmd repairjob.TransitionCommand) {
			defer wg.Done()
			_, _, errs[i] = env.engine.Transition(ctx, cmd)
		}(i, cmd)
	}
	wg.Wait()

	var winner, loser int
	switch {
	case errs[0] == nil:
		winner, loser = 0, 1
	case errs[1] == nil:
		winner, loser = 1, 0
	default:
		t.Fatalf("expected one call to succeed, got %v and %v", errs[0], errs[1])
	}

	var conflict *repairjob.ConcurrencyConflictError
	require.ErrorAs(t, errs[loser], &conflict)
	require.Equal(t, repairjob.StateInProgress, conflict.Expected)

	current, err := env.engine.GetByID(ctx, job.ID())
	require.NoError(t, err)
	require.Equal(t, commands[winner].To, current.State())

	history, err := env.engine.History(ctx, job.ID())
	require.NoError(t, err)
	require.Len(t, history, 5, "only the winning call appends a record")
}

func TestJobService_IdempotentReplay(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	job := env.createJob(t)
	cmd := repairjob.TransitionCommand{
		JobID:          job.ID(),
		ExpectedFrom:   repairjob.StateCreated,
		To:             repairjob.StateInDiagnosis,
		Actor:          repairjob.SystemActor(),
		IdempotencyKey: "accept-1",
		Payload:        mustJSON(t, repairjob.DiagnosisPayload{TechnicianID: env.techID}),
	}

	_, first, err := env.engine.Transition(ctx, cmd)
	require.NoError(t, err)

	replayedJob, replayed, err := env.engine.Transition(ctx, cmd)
	require.NoError(t, err)
	require.Equal(t, first.ID, replayed.ID, "replay returns the original record")
	require.Equal(t, repairjob.StateInDiagnosis, replayedJob.State())

	// The same key also short-circuits a differing request.
	divergent := cmd
	divergent.To = repairjob.StateAwaitingApproval
	divergent.Payload = mustJSON(t, repairjob.EstimatePayload{Diagnosis: "x", EstimatedCost: 1})
	_, viaKey, err := env.engine.Transition(ctx, divergent)
	require.NoError(t, err)
	require.Equal(t, first.ID, viaKey.ID)

	history, err := env.engine.History(ctx, job.ID())
	require.NoError(t, err)
	require.Len(t, history, 1, "the key applies at most once")
	require.Len(t, env.events.transitionedTo(repairjob.StateInDiagnosis), 1)
}

func TestJobService_TerminalJobsRejectEverything(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	job := env.advanceTo(t, env.createJob(t), repairjob.StateDelivered)

	_, _, err := env.engine.Transition(ctx, repairjob.TransitionCommand{
		JobID:   job.ID(),
		To:      repairjob.StateCancelled,
		Actor:   repairjob.Actor{ID: uuid.New(), Role: repairjob.RoleAdmin},
		Payload: mustJSON(t, repairjob.CancellationPayload{CancelReason: "too late"}),
	})
	var terminal *repairjob.AlreadyTerminalError
	require.ErrorAs(t, err, &terminal)
	require.Equal(t, repairjob.StateDelivered, terminal.State)

	history, err := env.engine.History(ctx, job.ID())
	require.NoError(t, err)
	replayed, err := repairjob.Replay(history)
	require.NoError(t, err)
	require.Equal(t, job.State(), replayed, "folding history reproduces the stored state")
}

func TestJobService_RoleGuard(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	job := env.advanceTo(t, env.createJob(t), repairjob.StateInProgress)

	_, _, err := env.engine.Transition(ctx, repairjob.TransitionCommand{
		JobID: job.ID(),
		To:    repairjob.StateTesting,
		Actor: repairjob.Actor{ID: uuid.New(), Role: repairjob.RoleCustomer},
	})
	var unauthorized *repairjob.UnauthorizedError
	require.ErrorAs(t, err, &unauthorized)
	require.Equal(t, repairjob.RoleTechnician, unauthorized.Required)
	require.Equal(t, repairjob.RoleCustomer, unauthorized.Actual)

	// SYSTEM passes the guard only for moves the engine scheduled.
	_, _, err = env.engine.Transition(ctx, repairjob.TransitionCommand{
		JobID:   job.ID(),
		To:      repairjob.StateCancelled,
		Actor:   repairjob.SystemActor(),
		Payload: mustJSON(t, repairjob.CancellationPayload{CancelReason: "x"}),
	})
	require.ErrorAs(t, err, &unauthorized)

	history, err := env.engine.History(ctx, job.ID())
	require.NoError(t, err)
	require.Len(t, history, 4)
}

func TestJobService_PayloadValidation(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	job := env.createJob(t)

	_, _, err := env.engine.Transition(ctx, repairjob.TransitionCommand{
		JobID: job.ID(),
		To:    repairjob.StateInDiagnosis,
		Actor: repairjob.SystemActor(),
	})
	var validation *repairjob.ValidationError
	require.ErrorAs(t, err, &validation)
	require.Equal(t, "technician_id", validation.Field)

	job = env.advanceTo(t, job, repairjob.StateInDiagnosis)
	_, _, err = env.engine.Transition(ctx, repairjob.TransitionCommand{
		JobID:   job.ID(),
		To:      repairjob.StateAwaitingApproval,
		Actor:   repairjob.Actor{ID: uuid.New(), Role: repairjob.RoleTechnician},
		Payload: json.RawMessage(`{"diagnosis":"dead pixel row"}`),
	})
	require.ErrorAs(t, err, &validation)
	require.Equal(t, "estimated_cost", validation.Field)

	// A zero quality score is a present value, not a missing field.
	job = env.advanceTo(t, job, repairjob.StateTesting)
	next, _, err := env.engine.Transition(ctx, repairjob.TransitionCommand{
		JobID:   job.ID(),
		To:      repairjob.StateQualityCheck,
		Actor:   repairjob.Actor{ID: uuid.New(), Role: repairjob.RoleTechnician},
		Payload: json.RawMessage(`{"quality_score":0}`),
	})
	require.NoError(t, err)
	require.Equal(t, repairjob.StateQualityCheck, next.State())

	_, _, err = env.engine.Transition(ctx, repairjob.TransitionCommand{
		JobID:   next.ID(),
		To:      repairjob.StateCancelled,
		Actor:   repairjob.Actor{ID: uuid.New(), Role: repairjob.RoleAdmin},
		Payload: json.RawMessage(`{"cancel_reason":""}`),
	})
	require.ErrorAs(t, err, &validation)
	require.Equal(t, "cancel_reason", validation.Field)
}

func TestJobService_ExpectedFromMismatch(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	job := env.advanceTo(t, env.createJob(t), repairjob.StateInDiagnosis)

	_, _, err := env.engine.Transition(ctx, repairjob.TransitionCommand{
		JobID:        job.ID(),
		ExpectedFrom: repairjob.StateCreated,
		To:           repairjob.StateInDiagnosis,
		Actor:        repairjob.SystemActor(),
		Payload:      mustJSON(t, repairjob.DiagnosisPayload{TechnicianID: env.techID}),
	})
	var conflict *repairjob.ConcurrencyConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, repairjob.StateCreated, conflict.Expected)
	require.Equal(t, repairjob.StateInDiagnosis, conflict.Actual)
}

func TestJobService_BillingEventsCarryAmounts(t *testing.T) {
	env := newEngineEnv(t)

	job := env.advanceTo(t, env.createJob(t), repairjob.StateCompleted)

	drafts := env.events.billingByHook("billing.invoice_draft")
	require.Len(t, drafts, 1)
	require.Equal(t, int64(10200), drafts[0].AmountCents, "invoice uses the recorded final cost")

	completed := env.events.transitionedTo(repairjob.StateCompleted)
	require.Len(t, completed, 1)
	require.Equal(t, []string{"customer.ready_notice"}, completed[0].Hooks, "billing hooks stay off the notification event")

	env.advanceTo(t, job, repairjob.StateCustomerApproved)
	captures := env.events.billingByHook("billing.payment_capture")
	require.Len(t, captures, 1)
	require.Equal(t, int64(10200), captures[0].AmountCents)
}

func TestJobService_UnknownJob(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	_, _, err := env.engine.Transition(ctx, repairjob.TransitionCommand{
		JobID: uuid.New(),
		To:    repairjob.StateInDiagnosis,
		Actor: repairjob.SystemActor(),
	})
	require.ErrorIs(t, err, repairjob.ErrJobNotFound)

	_, err = env.engine.History(ctx, uuid.New())
	require.ErrorIs(t, err, repairjob.ErrJobNotFound)
}
