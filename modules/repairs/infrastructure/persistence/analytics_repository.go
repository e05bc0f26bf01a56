package persistence

import (
	"context"
	"sort"
	"time"

	gerrors "github.com/go-faster/errors"

	"github.com/repairhq/workshop/modules/repairs/domain/repairjob"
	"github.com/repairhq/workshop/pkg/composables"
)

// PgAnalyticsRepository aggregates jobs and the transition log with
// plain SQL. Cycle time runs from creation to the DELIVERED entry;
// dwell per state comes from consecutive transition timestamps.
type PgAnalyticsRepository struct{}

func NewAnalyticsRepository() repairjob.AnalyticsRepository {
	return &PgAnalyticsRepository{}
}

func (r *PgAnalyticsRepository) Summary(ctx context.Context) (repairjob.AnalyticsSummary, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return repairjob.AnalyticsSummary{}, err
	}

	var summary repairjob.AnalyticsSummary
	var avgSeconds float64
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE state = $1),
		       COUNT(*) FILTER (WHERE state = $2),
		       COALESCE(AVG(EXTRACT(EPOCH FROM (entered_state_at - created_at))) FILTER (WHERE state = $1), 0)
		FROM repair_jobs`,
		string(repairjob.StateDelivered), string(repairjob.StateCancelled),
	).Scan(&summary.TotalJobs, &summary.DeliveredJobs, &summary.CancelledJobs, &avgSeconds); err != nil {
		return repairjob.AnalyticsSummary{}, gerrors.Wrap(err, "query summary")
	}
	summary.AvgCycleTime = secondsToDuration(avgSeconds)
	return summary, nil
}

func (r *PgAnalyticsRepository) DwellByState(ctx context.Context) ([]repairjob.StateDwell, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT from_state, COUNT(*), AVG(dwell), MAX(dwell)
		FROM (
			SELECT t.from_state,
			       EXTRACT(EPOCH FROM (t.performed_at - COALESCE(
			           LAG(t.performed_at) OVER (PARTITION BY t.job_id ORDER BY t.seq),
			           j.created_at
			       ))) AS dwell
			FROM repair_transitions t
			JOIN repair_jobs j ON j.id = t.job_id
		) spans
		GROUP BY from_state
		ORDER BY from_state`,
	)
	if err != nil {
		return nil, gerrors.Wrap(err, "query dwell")
	}
	defer rows.Close()

	var out []repairjob.StateDwell
	for rows.Next() {
		var state string
		var samples int64
		var avgSeconds, maxSeconds float64
		if err := rows.Scan(&state, &samples, &avgSeconds, &maxSeconds); err != nil {
			return nil, gerrors.Wrap(err, "scan dwell")
		}
		out = append(out, repairjob.StateDwell{
			State:    repairjob.State(state),
			Samples:  samples,
			AvgDwell: secondsToDuration(avgSeconds),
			MaxDwell: secondsToDuration(maxSeconds),
		})
	}
	return out, rows.Err()
}

// InmemAnalyticsRepository computes the same aggregates over the
// in-memory store's snapshot.
type InmemAnalyticsRepository struct {
	store *InmemJobRepository
}

func NewInmemAnalyticsRepository(store *InmemJobRepository) *InmemAnalyticsRepository {
	return &InmemAnalyticsRepository{store: store}
}

func (r *InmemAnalyticsRepository) Summary(_ context.Context) (repairjob.AnalyticsSummary, error) {
	jobs, _ := r.store.snapshot()

	var summary repairjob.AnalyticsSummary
	var cycleTotal time.Duration
	for _, job := range jobs {
		summary.TotalJobs++
		switch job.State() {
		case repairjob.StateDelivered:
			summary.DeliveredJobs++
			cycleTotal += job.EnteredStateAt().Sub(job.CreatedAt())
		case repairjob.StateCancelled:
			summary.CancelledJobs++
		}
	}
	if summary.DeliveredJobs > 0 {
		summary.AvgCycleTime = cycleTotal / time.Duration(summary.DeliveredJobs)
	}
	return summary, nil
}

func (r *InmemAnalyticsRepository) DwellByState(_ context.Context) ([]repairjob.StateDwell, error) {
	jobs, histories := r.store.snapshot()

	type span struct {
		total   time.Duration
		max     time.Duration
		samples int64
	}
	spans := make(map[repairjob.State]*span)

	for jobID, records := range histories {
		job, ok := jobs[jobID]
		if !ok {
			continue
		}
		previous := job.CreatedAt()
		for _, record := range records {
			dwell := record.PerformedAt.Sub(previous)
			s, ok := spans[record.From]
			if !ok {
				s = &span{}
				spans[record.From] = s
			}
			s.total += dwell
			s.samples++
			if dwell > s.max {
				s.max = dwell
			}
			previous = record.PerformedAt
		}
	}

	out := make([]repairjob.StateDwell, 0, len(spans))
	for state, s := range spans {
		out = append(out, repairjob.StateDwell{
			State:    state,
			Samples:  s.samples,
			AvgDwell: s.total / time.Duration(s.samples),
			MaxDwell: s.max,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].State < out[j].State })
	return out, nil
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
