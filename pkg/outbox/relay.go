package outbox

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Relay drains staged transition events from an outbox table and hands
// them to a Dispatcher. Rows are claimed with SKIP LOCKED so multiple
// relays never fight over the same event; with SingleActive a Postgres
// advisory lock elects one draining replica per table instead.
type Relay struct {
	pool       *pgxpool.Pool
	table      pgx.Identifier
	dispatcher Dispatcher
	opts       RelayOptions

	leaseKey int64

	m          *metrics
	tableLabel string
}

func NewRelay(pool *pgxpool.Pool, table pgx.Identifier, dispatcher Dispatcher, opts RelayOptions) (*Relay, error) {
	if pool == nil {
		return nil, invalidConfig("pool is required")
	}
	if len(table) == 0 {
		return nil, invalidConfig("table is required")
	}
	if dispatcher == nil {
		return nil, invalidConfig("dispatcher is required")
	}

	opts.setDefaults()

	r := &Relay{
		pool:       pool,
		table:      table,
		dispatcher: dispatcher,
		opts:       opts,
		m:          getMetrics(),
		tableLabel: TableLabel(table),
		leaseKey:   advisoryLockKey("outbox:" + TableLabel(table)),
	}
	if r.opts.Logger == nil {
		r.opts.Logger = logrusNop()
	}
	return r, nil
}

// Run blocks until ctx is cancelled, polling for deliverable events.
func (r *Relay) Run(ctx context.Context) error {
	if ctx == nil {
		return invalidConfig("ctx is required")
	}

	if r.opts.SingleActive {
		return r.runElected(ctx)
	}

	r.m.relayLeader.WithLabelValues(r.tableLabel).Set(1)
	return r.poll(ctx, nil)
}

// runElected pins one pool connection and keeps trying for the
// advisory lock. Whoever holds it drains the table; everyone else
// waits a poll interval and retries.
func (r *Relay) runElected(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := r.pool.Acquire(ctx)
		if err != nil {
			r.opts.Logger.WithError(err).Warn("outbox: acquire connection for leader election")
			if err := r.pause(ctx); err != nil {
				return err
			}
			continue
		}

		elected, err := r.tryLease(ctx, conn)
		if err != nil {
			conn.Release()
			r.opts.Logger.WithError(err).Warn("outbox: advisory lock attempt failed")
			if err := r.pause(ctx); err != nil {
				return err
			}
			continue
		}
		if !elected {
			r.m.relayLeader.WithLabelValues(r.tableLabel).Set(0)
			conn.Release()
			if err := r.pause(ctx); err != nil {
				return err
			}
			continue
		}

		r.m.relayLeader.WithLabelValues(r.tableLabel).Set(1)
		r.opts.Logger.WithField("table", r.tableLabel).Info("outbox: relay elected for table")

		err = r.poll(ctx, conn)
		_ = r.releaseLease(context.Background(), conn)
		conn.Release()
		return err
	}
}

func (r *Relay) pause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.opts.PollInterval):
		return nil
	}
}

func (r *Relay) poll(ctx context.Context, conn *pgxpool.Conn) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	nextDepthAt := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if time.Now().After(nextDepthAt) {
			if err := r.refreshBacklogGauges(ctx, conn); err != nil {
				r.opts.Logger.WithError(err).Debug("outbox: backlog gauge refresh failed")
			}
			nextDepthAt = time.Now().Add(r.opts.ObserveQueueDepthEvery)
		}

		if err := r.deliverBatch(ctx, conn); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			r.opts.Logger.WithError(err).Warn("outbox: delivery pass failed")
		}
	}
}

type stagedEvent struct {
	ID        uuid.UUID
	JobID     uuid.UUID
	Topic     string
	Payload   []byte
	EventID   uuid.UUID
	Sequence  int64
	Attempts  int
	ClaimedAt time.Time
}

func (r *Relay) deliverBatch(ctx context.Context, conn *pgxpool.Conn) error {
	now := time.Now()
	staleLockCutoff := now.Add(-r.opts.LockTTL)

	batch, err := r.claimBatch(ctx, conn, now, staleLockCutoff)
	if err != nil {
		return err
	}

	for _, ev := range batch {
		deliverCtx := ctx
		var cancel func()
		if r.opts.DispatchTimeout > 0 {
			deliverCtx, cancel = context.WithTimeout(ctx, r.opts.DispatchTimeout)
		}

		start := time.Now()
		err := r.dispatcher.Dispatch(deliverCtx, DispatchedMessage{
			Meta: Meta{
				Table:    r.table,
				JobID:    ev.JobID,
				Topic:    ev.Topic,
				EventID:  ev.EventID,
				Sequence: ev.Sequence,
				Attempts: ev.Attempts,
			},
			Payload: ev.Payload,
		})
		if cancel != nil {
			cancel()
		}

		latency := time.Since(start)
		if err == nil {
			r.recordDelivery(ev.Topic, "success", latency)
			if ackErr := r.markPublished(ctx, conn, ev.ID); ackErr != nil {
				r.opts.Logger.WithError(ackErr).WithFields(eventFields(ev, r.tableLabel)).Warn("outbox: ack failed")
			}
			continue
		}

		r.recordDelivery(ev.Topic, "failure", latency)
		lastErr := truncateError(err, r.opts.LastErrorMaxLen)

		if ev.Attempts >= r.opts.MaxAttempts {
			r.m.dead.WithLabelValues(r.tableLabel, ev.Topic).Inc()
			if parkErr := r.park(ctx, conn, ev.ID, lastErr); parkErr != nil {
				r.opts.Logger.WithError(parkErr).WithFields(eventFields(ev, r.tableLabel)).Warn("outbox: park failed")
			}
			continue
		}

		retryAt := time.Now().Add(retryDelay(ev.Attempts, r.opts.MaxBackoff) + retryJitter(r.opts.Rand, r.opts.JitterMax))
		if nackErr := r.reschedule(ctx, conn, ev.ID, lastErr, retryAt); nackErr != nil {
			r.opts.Logger.WithError(nackErr).WithFields(eventFields(ev, r.tableLabel)).Warn("outbox: reschedule failed")
		}
	}

	return nil
}

// claimBatch selects deliverable rows oldest first, skipping rows
// another relay holds, and stamps them locked in the same transaction.
// Rows whose lock predates the TTL cutoff belong to a crashed relay
// and are claimable again.
func (r *Relay) claimBatch(ctx context.Context, conn *pgxpool.Conn, now, staleLockCutoff time.Time) ([]stagedEvent, error) {
	tx, err := r.begin(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tableName := r.table.Sanitize()
	q := fmt.Sprintf(
		`SELECT id, job_id, topic, payload, event_id, sequence, attempts
		   FROM %s
		  WHERE published_at IS NULL
		    AND available_at <= $1
		    AND attempts < $2
		    AND (locked_at IS NULL OR locked_at < $3)
		  ORDER BY available_at, sequence
		  LIMIT $4
		  FOR UPDATE SKIP LOCKED`,
		tableName,
	)
	rows, err := tx.Query(ctx, q, now, r.opts.MaxAttempts, staleLockCutoff, r.opts.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("outbox claim select: %w", err)
	}
	defer rows.Close()

	var batch []stagedEvent
	var ids []uuid.UUID
	for rows.Next() {
		var ev stagedEvent
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.Topic, &ev.Payload, &ev.EventID, &ev.Sequence, &ev.Attempts); err != nil {
			return nil, fmt.Errorf("outbox claim scan: %w", err)
		}
		ev.Attempts++
		ev.ClaimedAt = now
		batch = append(batch, ev)
		ids = append(ids, ev.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox claim rows: %w", err)
	}
	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}

	update := fmt.Sprintf(`UPDATE %s SET locked_at = $1, attempts = attempts + 1 WHERE id = ANY($2)`, tableName)
	if _, err := tx.Exec(ctx, update, now, pgtype.FlatArray[uuid.UUID](ids)); err != nil {
		return nil, fmt.Errorf("outbox claim update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return batch, nil
}

func (r *Relay) markPublished(ctx context.Context, conn *pgxpool.Conn, id uuid.UUID) error {
	q := fmt.Sprintf(
		`UPDATE %s
		    SET published_at = now(),
		        locked_at = NULL,
		        last_error = NULL
		  WHERE id = $1 AND published_at IS NULL`,
		r.table.Sanitize(),
	)
	return r.exec(ctx, conn, "outbox ack", q, id)
}

func (r *Relay) reschedule(ctx context.Context, conn *pgxpool.Conn, id uuid.UUID, lastError string, retryAt time.Time) error {
	q := fmt.Sprintf(
		`UPDATE %s
		    SET locked_at = NULL,
		        last_error = $2,
		        available_at = $3
		  WHERE id = $1 AND published_at IS NULL`,
		r.table.Sanitize(),
	)
	return r.exec(ctx, conn, "outbox reschedule", q, id, lastError, retryAt)
}

// park leaves an exhausted row unlocked and unpublished; the cleaner
// removes it once the dead retention elapses.
func (r *Relay) park(ctx context.Context, conn *pgxpool.Conn, id uuid.UUID, lastError string) error {
	q := fmt.Sprintf(
		`UPDATE %s
		    SET locked_at = NULL,
		        last_error = $2,
		        available_at = now()
		  WHERE id = $1 AND published_at IS NULL`,
		r.table.Sanitize(),
	)
	return r.exec(ctx, conn, "outbox park", q, id, lastError)
}

func (r *Relay) exec(ctx context.Context, conn *pgxpool.Conn, op, q string, args ...any) error {
	tx, err := r.begin(ctx, conn)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return tx.Commit(ctx)
}

func (r *Relay) begin(ctx context.Context, conn *pgxpool.Conn) (pgx.Tx, error) {
	if conn != nil {
		return conn.BeginTx(ctx, pgx.TxOptions{})
	}
	return r.pool.BeginTx(ctx, pgx.TxOptions{})
}

func (r *Relay) refreshBacklogGauges(ctx context.Context, conn *pgxpool.Conn) error {
	var db interface {
		QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	} = r.pool
	if conn != nil {
		db = conn
	}

	tableName := r.table.Sanitize()
	backlogQ := fmt.Sprintf(`SELECT count(*) FROM %s WHERE published_at IS NULL`, tableName)
	inFlightQ := fmt.Sprintf(`SELECT count(*) FROM %s WHERE published_at IS NULL AND locked_at IS NOT NULL`, tableName)

	var backlog, inFlight int64
	if err := db.QueryRow(ctx, backlogQ).Scan(&backlog); err != nil {
		return fmt.Errorf("outbox backlog count: %w", err)
	}
	if err := db.QueryRow(ctx, inFlightQ).Scan(&inFlight); err != nil {
		return fmt.Errorf("outbox in-flight count: %w", err)
	}

	r.m.backlog.WithLabelValues(r.tableLabel).Set(float64(backlog))
	r.m.inFlight.WithLabelValues(r.tableLabel).Set(float64(inFlight))
	return nil
}

func (r *Relay) recordDelivery(topic, result string, latency time.Duration) {
	r.m.delivered.WithLabelValues(r.tableLabel, topic, result).Inc()
	r.m.deliveryLatency.WithLabelValues(r.tableLabel, topic, result).Observe(latency.Seconds())
}

func (r *Relay) tryLease(ctx context.Context, conn *pgxpool.Conn) (bool, error) {
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1::bigint)`, r.leaseKey).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (r *Relay) releaseLease(ctx context.Context, conn *pgxpool.Conn) error {
	var ok bool
	return conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1::bigint)`, r.leaseKey).Scan(&ok)
}

func advisoryLockKey(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}

func eventFields(ev stagedEvent, table string) map[string]any {
	return map[string]any{
		"table":    table,
		"topic":    ev.Topic,
		"event_id": ev.EventID.String(),
		"job_id":   ev.JobID.String(),
		"sequence": ev.Sequence,
		"attempts": ev.Attempts,
	}
}
