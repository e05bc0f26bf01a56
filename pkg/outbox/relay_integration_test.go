//go:build integration

package outbox

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/repairhq/workshop/pkg/itf"
)

type recordingDispatcher struct {
	failTopic string
	calls     []DispatchedMessage
}

func (d *recordingDispatcher) Dispatch(_ context.Context, msg DispatchedMessage) error {
	d.calls = append(d.calls, msg)
	if msg.Meta.Topic == d.failTopic {
		return errors.New("poison")
	}
	return nil
}

// A failing event must not block delivery of the events behind it, and
// must carry its error and attempt count once parked.
func TestRelay_Integration_PoisonEventDoesNotBlockOthers(t *testing.T) {
	dsn := itf.RequireDSN(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool := itf.NewPool(t, dsn)

	tableName := "outbox_it_" + uuid.NewString()[:8]
	table, err := ParseIdentifier("public." + tableName)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS pgcrypto;`)
	require.NoError(t, err)

	createSQL := fmt.Sprintf(`
CREATE TABLE %s (
  id           UUID        NOT NULL DEFAULT gen_random_uuid(),
  job_id       UUID        NOT NULL,
  topic        TEXT        NOT NULL,
  payload      JSONB       NOT NULL,
  event_id     UUID        NOT NULL,
  sequence     BIGSERIAL   NOT NULL,
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
  published_at TIMESTAMPTZ NULL,
  attempts     INT         NOT NULL DEFAULT 0,
  available_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  locked_at    TIMESTAMPTZ NULL,
  last_error   TEXT        NULL,
  CONSTRAINT %s_pkey PRIMARY KEY (id),
  CONSTRAINT %s_event_id_key UNIQUE (event_id),
  CONSTRAINT %s_attempts_nonnegative CHECK (attempts >= 0)
);
`, table.Sanitize(), tableName, tableName, tableName)
	_, err = pool.Exec(ctx, createSQL)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), fmt.Sprintf("DROP TABLE IF EXISTS %s", table.Sanitize()))
	})

	publisher := NewPublisher()

	jobID := uuid.New()
	poisonTopic := "repairs.billing.v1"
	okTopic := "repairs.transitioned.v1"

	poisonEvent := uuid.New()
	okEvent := uuid.New()

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	_, err = publisher.Enqueue(ctx, tx, table, Message{JobID: jobID, Topic: poisonTopic, EventID: poisonEvent, Payload: []byte(`{"amount":100}`)})
	require.NoError(t, err)
	_, err = publisher.Enqueue(ctx, tx, table, Message{JobID: jobID, Topic: okTopic, EventID: okEvent, Payload: []byte(`{"to_state":"TESTING"}`)})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	t.Run("staging twice under one event_id keeps one row", func(t *testing.T) {
		tx, err := pool.Begin(ctx)
		require.NoError(t, err)
		defer func() { _ = tx.Rollback(ctx) }()

		evt := uuid.New()
		seq1, err := publisher.Enqueue(ctx, tx, table, Message{JobID: jobID, Topic: okTopic, EventID: evt, Payload: []byte(`{}`)})
		require.NoError(t, err)
		seq2, err := publisher.Enqueue(ctx, tx, table, Message{JobID: jobID, Topic: okTopic, EventID: evt, Payload: []byte(`{}`)})
		require.NoError(t, err)
		require.Equal(t, seq1, seq2)
	})

	dispatcher := &recordingDispatcher{failTopic: poisonTopic}
	relay, err := NewRelay(pool, table, dispatcher, RelayOptions{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    10,
		LockTTL:      1 * time.Second,
		// The poison event parks dead on its first failure.
		MaxAttempts:            1,
		SingleActive:           false,
		LastErrorMaxLen:        1024,
		ObserveQueueDepthEvery: 1 * time.Hour,
	})
	require.NoError(t, err)

	require.NoError(t, relay.deliverBatch(ctx, nil))
	require.Len(t, dispatcher.calls, 2)

	var delivered bool
	err = pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT published_at IS NOT NULL FROM %s WHERE event_id=$1`, table.Sanitize()), okEvent).Scan(&delivered)
	require.NoError(t, err)
	require.True(t, delivered, "healthy event behind the poison one must still deliver")

	var attempts int
	var lastErr *string
	err = pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT attempts, last_error FROM %s WHERE event_id=$1`, table.Sanitize()), poisonEvent).Scan(&attempts, &lastErr)
	require.NoError(t, err)
	require.Equal(t, 1, attempts)
	require.NotNil(t, lastErr)
	require.NotEmpty(t, *lastErr)
}
