package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stayforge/reservation-system/pkg/outbox"
)

// OutboxStore backs pkg/outbox with the outbox table written by the
// ledger repository.
type OutboxStore struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewOutboxStore(log *slog.Logger, pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{log: log, pool: pool}
}

func (s *OutboxStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	now := time.Now().UTC()
	rows, err := tx.Query(ctx, `
		UPDATE outbox SET status = 'in_progress', locked_by = $1, locked_at = $2
		WHERE id IN (
			SELECT id FROM outbox
			WHERE (status IN ('pending', 'failed') AND next_attempt_at <= $2)
			   OR (status = 'in_progress' AND locked_at < $3)
			ORDER BY id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, aggregate_type, aggregate_id, type, payload, traceparent, retry_count, created_at`,
		relayID, now, now.Add(-lease), batchSize)
	if err != nil {
		return nil, err
	}

	var events []outbox.Event
	for rows.Next() {
		var e outbox.Event
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.Type, &e.Payload,
			&e.Traceparent, &e.RetryCount, &e.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		events = append(events, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, tx.Commit(ctx)
}

func (s *OutboxStore) MarkSent(ctx context.Context, ids []int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox SET status = 'sent', locked_by = NULL, locked_at = NULL
		WHERE id = ANY($1)`, ids)
	return err
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id int64, errMsg string, nextAttemptAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox
		SET status = 'failed', retry_count = retry_count + 1,
		    last_error = $2, next_attempt_at = $3,
		    locked_by = NULL, locked_at = NULL
		WHERE id = $1`, id, errMsg, nextAttemptAt)
	return err
}
