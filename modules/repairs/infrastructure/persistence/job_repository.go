package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/repairhq/workshop/modules/repairs/domain/repairjob"
	"github.com/repairhq/workshop/modules/repairs/infrastructure/persistence/models"
	"github.com/repairhq/workshop/pkg/composables"
	"github.com/repairhq/workshop/pkg/outbox"
	"github.com/repairhq/workshop/pkg/repo"
)

const (
	jobColumns = `id, number, customer_id, device, issue, priority, technician_id, state,
		payloads, entered_state_at, escalated_at, created_at, updated_at`

	transitionColumns = `seq, id, job_id, from_state, to_state, reason, notes, attachments,
		actor_id, actor_role, idempotency_key, performed_at`
)

// PgJobRepository persists jobs, their append-only transition log and
// the staged outbox events in one Postgres schema. It joins the
// transaction carried by the context.
type PgJobRepository struct {
	numberPrefix string
	publisher    outbox.Publisher
}

func NewJobRepository(numberPrefix string) repairjob.Repository {
	return &PgJobRepository{
		numberPrefix: numberPrefix,
		publisher:    outbox.NewPublisher(),
	}
}

// NextNumber bumps the per-period counter row. The upsert serializes
// concurrent allocations on the row lock, so numbers never repeat.
func (r *PgJobRepository) NextNumber(ctx context.Context, at time.Time) (string, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return "", err
	}

	period := repairjob.NumberPeriod(at)
	var seq int64
	if err := tx.QueryRow(ctx, `
		INSERT INTO repair_job_numbers (period, counter) VALUES ($1, 1)
		ON CONFLICT (period) DO UPDATE SET counter = repair_job_numbers.counter + 1
		RETURNING counter`,
		period,
	).Scan(&seq); err != nil {
		return "", gerrors.Wrap(err, "allocate job number")
	}
	return repairjob.FormatNumber(r.numberPrefix, period, seq), nil
}

func (r *PgJobRepository) Create(ctx context.Context, job repairjob.Job, events []repairjob.Event) (repairjob.Job, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return repairjob.Job{}, err
	}

	row, err := toDBJob(job)
	if err != nil {
		return repairjob.Job{}, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO repair_jobs (id, number, customer_id, device, issue, priority, technician_id,
			state, payloads, entered_state_at, escalated_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		row.ID, row.Number, row.CustomerID, row.Device, row.Issue, row.Priority, row.TechnicianID,
		row.State, row.Payloads, row.EnteredStateAt, row.EscalatedAt, row.CreatedAt, row.UpdatedAt,
	); err != nil {
		return repairjob.Job{}, gerrors.Wrap(err, "insert job")
	}

	if err := r.stageEvents(ctx, tx, job.ID(), events); err != nil {
		return repairjob.Job{}, err
	}
	return job, nil
}

func (r *PgJobRepository) GetByID(ctx context.Context, id uuid.UUID) (repairjob.Job, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return repairjob.Job{}, err
	}
	return r.queryOne(ctx, tx, `SELECT `+jobColumns+` FROM repair_jobs WHERE id = $1`, id)
}

func (r *PgJobRepository) GetByNumber(ctx context.Context, number string) (repairjob.Job, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return repairjob.Job{}, err
	}
	return r.queryOne(ctx, tx, `SELECT `+jobColumns+` FROM repair_jobs WHERE number = $1`, strings.TrimSpace(number))
}

func (r *PgJobRepository) queryOne(ctx context.Context, tx repo.Tx, query string, args ...interface{}) (repairjob.Job, error) {
	var row models.RepairJob
	if err := scanJob(tx.QueryRow(ctx, query, args...), &row); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repairjob.Job{}, repairjob.ErrJobNotFound
		}
		return repairjob.Job{}, gerrors.Wrap(err, "query job")
	}
	return toDomainJob(&row)
}

func (r *PgJobRepository) List(ctx context.Context, params *repairjob.FindParams) ([]repairjob.Job, int64, error) {
	if params == nil {
		params = &repairjob.FindParams{}
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, 0, err
	}

	where := []string{"1 = 1"}
	args := []interface{}{}
	if params.State != "" {
		where = append(where, fmt.Sprintf("state = $%d", len(args)+1))
		args = append(args, string(params.State))
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + jobColumns + ` FROM repair_jobs WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC ` + repo.FormatLimitOffset(limit, offset)

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, gerrors.Wrap(err, "list jobs")
	}
	defer rows.Close()

	var out []repairjob.Job
	for rows.Next() {
		var row models.RepairJob
		if err := scanJob(rows, &row); err != nil {
			return nil, 0, gerrors.Wrap(err, "scan job")
		}
		job, err := toDomainJob(&row)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int64
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM repair_jobs WHERE `+strings.Join(where, " AND "), args...,
	).Scan(&total); err != nil {
		return nil, 0, gerrors.Wrap(err, "count jobs")
	}
	return out, total, nil
}

func (r *PgJobRepository) ListInStates(ctx context.Context, states []repairjob.State, limit int) ([]repairjob.Job, error) {
	if len(states) == 0 {
		return nil, nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := tx.Query(ctx, `
		SELECT `+jobColumns+` FROM repair_jobs
		WHERE state = ANY($1)
		ORDER BY entered_state_at ASC
		LIMIT $2`,
		stateStrings(states), limit,
	)
	if err != nil {
		return nil, gerrors.Wrap(err, "list jobs by state")
	}
	defer rows.Close()

	var out []repairjob.Job
	for rows.Next() {
		var row models.RepairJob
		if err := scanJob(rows, &row); err != nil {
			return nil, gerrors.Wrap(err, "scan job")
		}
		job, err := toDomainJob(&row)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (r *PgJobRepository) History(ctx context.Context, jobID uuid.UUID) ([]repairjob.TransitionRecord, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT `+transitionColumns+` FROM repair_transitions
		WHERE job_id = $1
		ORDER BY seq ASC`,
		jobID,
	)
	if err != nil {
		return nil, gerrors.Wrap(err, "query history")
	}
	defer rows.Close()

	var out []repairjob.TransitionRecord
	for rows.Next() {
		var row models.RepairTransition
		if err := scanTransition(rows, &row); err != nil {
			return nil, gerrors.Wrap(err, "scan transition")
		}
		record, err := toDomainTransition(&row)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (r *PgJobRepository) FindByIdempotencyKey(ctx context.Context, jobID uuid.UUID, key string) (repairjob.TransitionRecord, bool, error) {
	if key == "" {
		return repairjob.TransitionRecord{}, false, nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return repairjob.TransitionRecord{}, false, err
	}

	var row models.RepairTransition
	err = scanTransition(tx.QueryRow(ctx, `
		SELECT `+transitionColumns+` FROM repair_transitions
		WHERE job_id = $1 AND idempotency_key = $2`,
		jobID, key,
	), &row)
	if errors.Is(err, pgx.ErrNoRows) {
		return repairjob.TransitionRecord{}, false, nil
	}
	if err != nil {
		return repairjob.TransitionRecord{}, false, gerrors.Wrap(err, "query idempotency key")
	}

	record, err := toDomainTransition(&row)
	if err != nil {
		return repairjob.TransitionRecord{}, false, err
	}
	return record, true, nil
}

// Save is the atomic append-and-update: the job row moves only if its
// stored state still equals record.From, the record is appended, and
// the events are staged. Run it inside one transaction.
func (r *PgJobRepository) Save(ctx context.Context, job repairjob.Job, record repairjob.TransitionRecord, events []repairjob.Event) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	row, err := toDBJob(job)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE repair_jobs
		   SET state = $2,
		       technician_id = $3,
		       payloads = $4,
		       entered_state_at = $5,
		       escalated_at = $6,
		       updated_at = $7
		 WHERE id = $1 AND state = $8`,
		row.ID, row.State, row.TechnicianID, row.Payloads,
		row.EnteredStateAt, row.EscalatedAt, row.UpdatedAt,
		string(record.From),
	)
	if err != nil {
		return gerrors.Wrap(err, "update job")
	}
	if tag.RowsAffected() == 0 {
		return r.conflictFor(ctx, tx, job.ID(), record.From)
	}

	tRow := toDBTransition(record)
	if _, err := tx.Exec(ctx, `
		INSERT INTO repair_transitions (id, job_id, from_state, to_state, reason, notes,
			attachments, actor_id, actor_role, idempotency_key, performed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		tRow.ID, tRow.JobID, tRow.FromState, tRow.ToState, tRow.Reason, tRow.Notes,
		tRow.Attachments, tRow.ActorID, tRow.ActorRole, tRow.IdempotencyKey, tRow.PerformedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repairjob.ErrDuplicateIdempotencyKey
		}
		return gerrors.Wrap(err, "append transition record")
	}

	return r.stageEvents(ctx, tx, job.ID(), events)
}

// conflictFor distinguishes a vanished job from a concurrent move.
func (r *PgJobRepository) conflictFor(ctx context.Context, tx repo.Tx, jobID uuid.UUID, expected repairjob.State) error {
	var actual string
	err := tx.QueryRow(ctx, `SELECT state FROM repair_jobs WHERE id = $1`, jobID).Scan(&actual)
	if errors.Is(err, pgx.ErrNoRows) {
		return repairjob.ErrJobNotFound
	}
	if err != nil {
		return gerrors.Wrap(err, "read job state")
	}
	return &repairjob.ConcurrencyConflictError{Expected: expected, Actual: repairjob.State(actual)}
}

func (r *PgJobRepository) MarkEscalated(ctx context.Context, jobID uuid.UUID, enteredStateAt, at time.Time) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE repair_jobs
		   SET escalated_at = $3
		 WHERE id = $1 AND entered_state_at = $2 AND escalated_at IS NULL`,
		jobID, enteredStateAt, at,
	)
	if err != nil {
		return false, gerrors.Wrap(err, "mark escalated")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgJobRepository) CountActiveByTechnician(ctx context.Context, states []repairjob.State) (map[uuid.UUID]int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT technician_id, COUNT(*) FROM repair_jobs
		WHERE technician_id IS NOT NULL AND state = ANY($1)
		GROUP BY technician_id`,
		stateStrings(states),
	)
	if err != nil {
		return nil, gerrors.Wrap(err, "count jobs by technician")
	}
	defer rows.Close()

	out := make(map[uuid.UUID]int64)
	for rows.Next() {
		var id string
		var count int64
		if err := rows.Scan(&id, &count); err != nil {
			return nil, gerrors.Wrap(err, "scan technician count")
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, gerrors.Wrap(err, "parse technician id")
		}
		out[parsed] = count
	}
	return out, rows.Err()
}

func (r *PgJobRepository) stageEvents(ctx context.Context, tx repo.Tx, jobID uuid.UUID, events []repairjob.Event) error {
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return gerrors.Wrap(err, "encode event")
		}
		if _, err := r.publisher.Enqueue(ctx, tx, outbox.DefaultTable, outbox.Message{
			JobID:   jobID,
			Topic:   event.EventTopic(),
			EventID: event.EventID(),
			Payload: payload,
		}); err != nil {
			return gerrors.Wrap(err, "stage event")
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner, out *models.RepairJob) error {
	return row.Scan(
		&out.ID, &out.Number, &out.CustomerID, &out.Device, &out.Issue, &out.Priority,
		&out.TechnicianID, &out.State, &out.Payloads, &out.EnteredStateAt, &out.EscalatedAt,
		&out.CreatedAt, &out.UpdatedAt,
	)
}

func scanTransition(row rowScanner, out *models.RepairTransition) error {
	return row.Scan(
		&out.Seq, &out.ID, &out.JobID, &out.FromState, &out.ToState, &out.Reason, &out.Notes,
		&out.Attachments, &out.ActorID, &out.ActorRole, &out.IdempotencyKey, &out.PerformedAt,
	)
}

func stateStrings(states []repairjob.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
