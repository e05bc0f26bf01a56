package services

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/repairhq/workshop/modules/repairs/domain/repairjob"
	"github.com/repairhq/workshop/modules/repairs/domain/technician"
	"github.com/repairhq/workshop/modules/repairs/infrastructure/persistence"
)

type sweepEnv struct {
	*engineEnv
	technicians *persistence.InmemTechnicianRepository
	sweeper     *SweepService
}

func newSweepEnv(t *testing.T) *sweepEnv {
	t.Helper()

	base := newEngineEnv(t)
	technicians := persistence.NewInmemTechnicianRepository()
	assigner := NewAssignmentService(base.registry, technicians, base.repo)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return &sweepEnv{
		engineEnv:   base,
		technicians: technicians,
		sweeper: NewSweepService(
			base.registry,
			base.repo,
			base.engine,
			assigner,
			base.bus,
			base.clock,
			SweepOptions{Interval: time.Second, BatchSize: 100, Logger: logger},
		),
	}
}

func (e *sweepEnv) addTechnician(t *testing.T, name string) technician.Technician {
	t.Helper()
	created, err := e.technicians.Create(context.Background(), technician.New(name, e.clock.Now().UTC()))
	require.NoError(t, err)
	return created
}

func TestSweepService_AppliesIntakeFollowUp(t *testing.T) {
	env := newSweepEnv(t)
	ctx := context.Background()

	tech := env.addTechnician(t, "Nodira")
	job := env.createJob(t)

	stats, err := env.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.FollowUps)
	require.Zero(t, stats.Failures)

	current, err := env.engine.GetByID(ctx, job.ID())
	require.NoError(t, err)
	require.Equal(t, repairjob.StateInDiagnosis, current.State())
	require.Equal(t, tech.ID(), current.TechnicianID())

	history, err := env.engine.History(ctx, job.ID())
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, repairjob.RoleSystem, history[0].ActorRole)
}

func TestSweepService_AssignsLeastLoadedTechnician(t *testing.T) {
	env := newSweepEnv(t)
	ctx := context.Background()

	busy := env.addTechnician(t, "Busy")
	env.clock.Advance(time.Second)
	idle := env.addTechnician(t, "Idle")

	first := env.createJob(t)
	_, err := env.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assigned, err := env.engine.GetByID(ctx, first.ID())
	require.NoError(t, err)
	require.Equal(t, busy.ID(), assigned.TechnicianID(), "ties go to the longest-serving technician")

	second := env.createJob(t)
	_, err = env.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assigned, err = env.engine.GetByID(ctx, second.ID())
	require.NoError(t, err)
	require.Equal(t, idle.ID(), assigned.TechnicianID())
}

func TestSweepService_EmptyPoolStillEscalates(t *testing.T) {
	env := newSweepEnv(t)
	ctx := context.Background()

	job := env.createJob(t)
	env.clock.Advance(16 * time.Minute)

	stats, err := env.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.FollowUps)
	require.Equal(t, 1, stats.Escalations)
	require.Equal(t, 1, stats.Failures, "the failed assignment is counted, not fatal")

	current, err := env.engine.GetByID(ctx, job.ID())
	require.NoError(t, err)
	require.Equal(t, repairjob.StateCreated, current.State())
}

// Ten consecutive sweeps over one overdue dwell period fire exactly one
// escalation event.
func TestSweepService_EscalatesOncePerDwellPeriod(t *testing.T) {
	env := newSweepEnv(t)
	ctx := context.Background()

	env.addTechnician(t, "Nodira")
	job := env.advanceTo(t, env.createJob(t), repairjob.StateApproved)

	// APPROVED allows 24h.
	env.clock.Advance(25 * time.Hour)

	total := 0
	for i := 0; i < 10; i++ {
		stats, err := env.sweeper.RunOnce(ctx)
		require.NoError(t, err)
		total += stats.Escalations
	}
	require.Equal(t, 1, total)
	require.Equal(t, 1, env.events.escalationCount())

	// A restarted process derives the same marker from persisted state.
	restarted := NewSweepService(
		env.registry, env.repo, env.engine,
		NewAssignmentService(env.registry, env.technicians, env.repo),
		env.bus, env.clock,
		SweepOptions{Interval: time.Second, BatchSize: 100, Logger: env.sweeper.opts.Logger},
	)
	stats, err := restarted.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Escalations)
	require.Equal(t, 1, env.events.escalationCount())

	// A real transition opens a fresh dwell period the sweep may
	// escalate again.
	env.advanceTo(t, job, repairjob.StateInProgress)
	env.clock.Advance(73 * time.Hour)
	stats, err = env.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Escalations)
	require.Equal(t, 2, env.events.escalationCount())
}

func TestSweepService_OverdueApprovalAutoCancels(t *testing.T) {
	env := newSweepEnv(t)
	ctx := context.Background()

	env.addTechnician(t, "Nodira")
	job := env.advanceTo(t, env.createJob(t), repairjob.StateAwaitingApproval)

	// AWAITING_APPROVAL allows 72h, then cancels as SYSTEM.
	env.clock.Advance(73 * time.Hour)

	stats, err := env.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Escalations)
	require.Equal(t, 1, stats.Advanced)

	current, err := env.engine.GetByID(ctx, job.ID())
	require.NoError(t, err)
	require.Equal(t, repairjob.StateCancelled, current.State())

	history, err := env.engine.History(ctx, job.ID())
	require.NoError(t, err)
	last := history[len(history)-1]
	require.Equal(t, repairjob.RoleSystem, last.ActorRole)
	require.Equal(t, "max dwell exceeded", last.Reason)

	raw, ok := current.Payload(repairjob.StateCancelled)
	require.True(t, ok)
	require.JSONEq(t, `{"cancel_reason":"approval window expired"}`, string(raw))
}

// An admin cancellation beats a pending automated follow-up: the
// follow-up loses the expected-from check and changes nothing.
func TestSweepService_CancellationDropsPendingFollowUp(t *testing.T) {
	env := newSweepEnv(t)
	ctx := context.Background()

	env.addTechnician(t, "Nodira")
	job := env.createJob(t)

	// The sweep has read the job in CREATED; the admin cancels before
	// the follow-up applies.
	stale := job
	cancelled, _, err := env.engine.Transition(ctx, repairjob.TransitionCommand{
		JobID:        job.ID(),
		ExpectedFrom: repairjob.StateCreated,
		To:           repairjob.StateCancelled,
		Actor:        repairjob.Actor{ID: uuid.New(), Role: repairjob.RoleAdmin},
		Payload:      mustJSON(t, repairjob.CancellationPayload{CancelReason: "customer withdrew"}),
	})
	require.NoError(t, err)
	require.Equal(t, repairjob.StateCancelled, cancelled.State())

	cfg, _ := env.registry.Config(repairjob.StateCreated)
	err = env.sweeper.applyFollowUp(ctx, stale, cfg)
	var conflict *repairjob.ConcurrencyConflictError
	require.ErrorAs(t, err, &conflict)

	// The sweep drops the loser silently.
	var stats SweepStats
	require.NoError(t, env.sweeper.sweepJob(ctx, stale, env.clock.Now().UTC(), &stats))
	require.Zero(t, stats.FollowUps)

	current, err := env.engine.GetByID(ctx, job.ID())
	require.NoError(t, err)
	require.Equal(t, repairjob.StateCancelled, current.State())

	history, err := env.engine.History(ctx, job.ID())
	require.NoError(t, err)
	require.Len(t, history, 1, "only the cancellation is recorded")
}

func TestSweepService_SkipsTerminalJobs(t *testing.T) {
	env := newSweepEnv(t)
	ctx := context.Background()

	env.addTechnician(t, "Nodira")
	env.advanceTo(t, env.createJob(t), repairjob.StateDelivered)
	env.clock.Advance(1000 * time.Hour)

	stats, err := env.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Scanned)
	require.Zero(t, stats.Escalations)
	require.Zero(t, env.events.escalationCount())
}

func TestSweepService_RunSweepsOnTicks(t *testing.T) {
	env := newSweepEnv(t)

	env.addTechnician(t, "Nodira")
	job := env.createJob(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- env.sweeper.Run(ctx)
	}()

	// One tick applies the intake follow-up.
	env.clock.BlockUntil(1)
	env.clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		current, err := env.engine.GetByID(context.Background(), job.ID())
		return err == nil && current.State() == repairjob.StateInDiagnosis
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
