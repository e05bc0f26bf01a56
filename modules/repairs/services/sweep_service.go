package services

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/repairhq/workshop/modules/repairs/domain/repairjob"
	"github.com/repairhq/workshop/pkg/composables"
	"github.com/repairhq/workshop/pkg/eventbus"
)

type SweepOptions struct {
	// Interval between sweep passes.
	Interval time.Duration
	// BatchSize caps how many jobs one pass examines.
	BatchSize int
	// SingleActive elects one sweeping replica via a Postgres advisory
	// lock. Ignored when no pool is configured.
	SingleActive bool
	Logger       *logrus.Logger
}

func (o *SweepOptions) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 200
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
	}
}

// SweepStats summarizes one sweep pass.
type SweepStats struct {
	Scanned     int
	FollowUps   int
	Escalations int
	Advanced    int
	Failures    int
}

// SweepService is the escalation scheduler: a bounded-interval sweep
// over all non-terminal jobs. All timing state derives from the
// persisted enteredStateAt, so a restarted process resumes where the
// previous one left off. Scheduled moves go through the ordinary
// transition path as SYSTEM.
type SweepService struct {
	registry *repairjob.Registry
	repo     repairjob.Repository
	engine   *JobService
	assigner *AssignmentService
	bus      eventbus.EventBus
	clock    clockwork.Clock
	opts     SweepOptions
	lockKey  int64
}

func NewSweepService(
	registry *repairjob.Registry,
	repo repairjob.Repository,
	engine *JobService,
	assigner *AssignmentService,
	bus eventbus.EventBus,
	clock clockwork.Clock,
	opts SweepOptions,
) *SweepService {
	opts.setDefaults()
	return &SweepService{
		registry: registry,
		repo:     repo,
		engine:   engine,
		assigner: assigner,
		bus:      bus,
		clock:    clock,
		opts:     opts,
		lockKey:  advisoryLockKey("repairs:sweep"),
	}
}

// Run sweeps until ctx is cancelled. With SingleActive set it first
// competes for the advisory lock and holds it for the process lifetime.
func (s *SweepService) Run(ctx context.Context) error {
	if !s.opts.SingleActive {
		return s.runLoop(ctx)
	}

	pool, err := composables.UsePool(ctx)
	if err != nil {
		return s.runLoop(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := pool.Acquire(ctx)
		if err != nil {
			s.opts.Logger.WithError(err).Warn("sweep: failed to acquire connection for leader election")
			if err := s.wait(ctx); err != nil {
				return err
			}
			continue
		}

		leader, err := s.tryAcquireLeader(ctx, conn)
		if err != nil {
			conn.Release()
			s.opts.Logger.WithError(err).Warn("sweep: failed to attempt advisory lock")
			if err := s.wait(ctx); err != nil {
				return err
			}
			continue
		}
		if !leader {
			conn.Release()
			if err := s.wait(ctx); err != nil {
				return err
			}
			continue
		}

		s.opts.Logger.Info("sweep: became leader")
		err = s.runLoop(ctx)
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1::bigint)`, s.lockKey)
		conn.Release()
		return err
	}
}

func (s *SweepService) runLoop(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}

		if _, err := s.RunOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			s.opts.Logger.WithError(err).Warn("sweep: pass failed")
		}
	}
}

// RunOnce performs one sweep pass. Per-job failures are logged and
// counted; they never abort the rest of the batch.
func (s *SweepService) RunOnce(ctx context.Context) (SweepStats, error) {
	sweepRuns.Inc()
	now := s.clock.Now().UTC()

	jobs, err := s.repo.ListInStates(ctx, s.registry.NonTerminalStates(), s.opts.BatchSize)
	if err != nil {
		return SweepStats{}, err
	}

	stats := SweepStats{Scanned: len(jobs)}
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := s.sweepJob(ctx, job, now, &stats); err != nil {
			stats.Failures++
			sweepFailures.Inc()
			s.opts.Logger.WithError(err).WithFields(logrus.Fields{
				"job_id": job.ID(),
				"state":  job.State(),
			}).Warn("sweep: job failed")
		}
	}
	return stats, nil
}

func (s *SweepService) sweepJob(ctx context.Context, job repairjob.Job, now time.Time, stats *SweepStats) error {
	cfg, ok := s.registry.Config(job.State())
	if !ok || cfg.Terminal {
		return nil
	}

	// Automated states advance on the next sweep regardless of dwell.
	// When the follow-up cannot run, for example with an empty
	// technician pool, the job stays swept and the dwell check below
	// still escalates it.
	var followUpErr error
	if cfg.Automated && cfg.FollowUp != "" {
		switch err := s.applyFollowUp(ctx, job, cfg); {
		case err == nil:
			stats.FollowUps++
			sweepTransitions.WithLabelValues("follow_up").Inc()
			return nil
		case isConcurrencyConflict(err):
			// another actor moved the job between the read and the apply
			return nil
		default:
			followUpErr = err
		}
	}

	if cfg.MaxDwell <= 0 {
		return followUpErr
	}
	elapsed := now.Sub(job.EnteredStateAt())
	if elapsed <= cfg.MaxDwell {
		return followUpErr
	}
	if _, done := job.EscalatedAt(); done {
		return followUpErr
	}

	marked, err := s.repo.MarkEscalated(ctx, job.ID(), job.EnteredStateAt(), now)
	if err != nil {
		return errors.Join(followUpErr, err)
	}
	if !marked {
		// a concurrent sweep or transition claimed this dwell period
		return followUpErr
	}

	stats.Escalations++
	sweepEscalations.Inc()
	s.bus.Publish(repairjob.NewEscalationEvent(job, cfg, elapsed, now))

	if cfg.OverdueAdvance != "" {
		switch err := s.advanceOverdue(ctx, job, cfg); {
		case err == nil:
			stats.Advanced++
			sweepTransitions.WithLabelValues("overdue").Inc()
		case isConcurrencyConflict(err):
		default:
			return errors.Join(followUpErr, err)
		}
	}
	return followUpErr
}

func (s *SweepService) applyFollowUp(ctx context.Context, job repairjob.Job, cfg repairjob.StateConfig) error {
	payload, err := s.followUpPayload(ctx, cfg.FollowUp)
	if err != nil {
		return err
	}
	_, _, err = s.engine.Transition(ctx, repairjob.TransitionCommand{
		JobID:        job.ID(),
		ExpectedFrom: job.State(),
		To:           cfg.FollowUp,
		Actor:        repairjob.SystemActor(),
		Reason:       "automated follow-up",
		Payload:      payload,
		Scheduled:    true,
	})
	return err
}

func (s *SweepService) advanceOverdue(ctx context.Context, job repairjob.Job, cfg repairjob.StateConfig) error {
	payload, err := overduePayload(cfg.OverdueAdvance)
	if err != nil {
		return err
	}
	_, _, err = s.engine.Transition(ctx, repairjob.TransitionCommand{
		JobID:        job.ID(),
		ExpectedFrom: job.State(),
		To:           cfg.OverdueAdvance,
		Actor:        repairjob.SystemActor(),
		Reason:       "max dwell exceeded",
		Payload:      payload,
		Scheduled:    true,
	})
	return err
}

// followUpPayload synthesizes the fields the follow-up target requires.
func (s *SweepService) followUpPayload(ctx context.Context, to repairjob.State) (json.RawMessage, error) {
	switch to {
	case repairjob.StateInDiagnosis:
		tech, err := s.assigner.PickTechnician(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(repairjob.DiagnosisPayload{TechnicianID: tech.ID()})
	default:
		return nil, nil
	}
}

func overduePayload(to repairjob.State) (json.RawMessage, error) {
	switch to {
	case repairjob.StateCancelled:
		return json.Marshal(repairjob.CancellationPayload{CancelReason: "approval window expired"})
	default:
		return nil, nil
	}
}

func (s *SweepService) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(s.opts.Interval):
		return nil
	}
}

func (s *SweepService) tryAcquireLeader(ctx context.Context, conn *pgxpool.Conn) (bool, error) {
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1::bigint)`, s.lockKey).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func isConcurrencyConflict(err error) bool {
	var conflict *repairjob.ConcurrencyConflictError
	return errors.As(err, &conflict)
}

func advisoryLockKey(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}
