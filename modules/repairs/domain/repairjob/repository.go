package repairjob

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type FindParams struct {
	State  State
	Limit  int
	Offset int
}

// Repository is the Job Store. Save is the single atomic
// append-and-update operation: it compares the stored state against
// record.From, appends the record, updates the job row and stages the
// events, or fails without any partial write.
type Repository interface {
	// NextNumber allocates the next collision-free job number for the
	// period containing at. Concurrent allocations never repeat.
	NextNumber(ctx context.Context, at time.Time) (string, error)

	// Create persists a new, already numbered job and stages the intake
	// events atomically.
	Create(ctx context.Context, job Job, events []Event) (Job, error)

	GetByID(ctx context.Context, id uuid.UUID) (Job, error)
	GetByNumber(ctx context.Context, number string) (Job, error)
	List(ctx context.Context, params *FindParams) ([]Job, int64, error)

	// ListInStates returns jobs currently in any of the given states,
	// oldest dwell first. The sweep feeds it the non-terminal set.
	ListInStates(ctx context.Context, states []State, limit int) ([]Job, error)

	History(ctx context.Context, jobID uuid.UUID) ([]TransitionRecord, error)

	// FindByIdempotencyKey returns the record previously written under
	// key for this job, or ErrJobNotFound-free (false) when none exists.
	FindByIdempotencyKey(ctx context.Context, jobID uuid.UUID, key string) (TransitionRecord, bool, error)

	// Save applies one accepted transition. It returns
	// *ConcurrencyConflictError when the stored state no longer equals
	// record.From and ErrDuplicateIdempotencyKey when the record's key
	// was claimed concurrently.
	Save(ctx context.Context, job Job, record TransitionRecord, events []Event) error

	// MarkEscalated sets the escalation marker for the dwell period that
	// began at enteredStateAt. It reports false when the marker was
	// already set or the job has since moved on.
	MarkEscalated(ctx context.Context, jobID uuid.UUID, enteredStateAt, at time.Time) (bool, error)

	// CountActiveByTechnician returns, per technician, the number of
	// non-terminal jobs currently assigned. Feed it the non-terminal
	// state set.
	CountActiveByTechnician(ctx context.Context, states []State) (map[uuid.UUID]int64, error)
}

// AnalyticsSummary aggregates the whole store. Rates are derived by the
// analytics service.
type AnalyticsSummary struct {
	TotalJobs     int64
	DeliveredJobs int64
	CancelledJobs int64
	AvgCycleTime  time.Duration
}

// StateDwell describes how long jobs dwell in one state, derived from
// the transition log.
type StateDwell struct {
	State    State
	Samples  int64
	AvgDwell time.Duration
	MaxDwell time.Duration
}

// AnalyticsRepository reads aggregates from the store and the
// transition log. It never mutates jobs or history.
type AnalyticsRepository interface {
	Summary(ctx context.Context) (AnalyticsSummary, error)
	DwellByState(ctx context.Context) ([]StateDwell, error)
}
