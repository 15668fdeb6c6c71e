package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stayforge/reservation-system/internal/channel/domain"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

const connectionColumns = `id, platform, account_ref, api_key, webhook_secret, active,
	circuit_state, rate_per_minute, created_at`

func (r *Repository) GetConnection(ctx context.Context, id uuid.UUID) (domain.Connection, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+connectionColumns+` FROM channel_connections WHERE id = $1`, id)
	return scanConnection(row)
}

func (r *Repository) ConnectionByPlatform(ctx context.Context, platform string) (domain.Connection, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+connectionColumns+`
		FROM channel_connections
		WHERE platform = $1 AND active
		ORDER BY created_at
		LIMIT 1`, platform)
	return scanConnection(row)
}

func (r *Repository) ListConnections(ctx context.Context) ([]domain.Connection, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+connectionColumns+` FROM channel_connections ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectConnections(rows)
}

func (r *Repository) ActiveConnectionsForResource(ctx context.Context, resourceID uuid.UUID) ([]domain.Connection, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+prefixedConnectionColumns+`
		FROM channel_connections c
		JOIN connection_resources cr ON cr.connection_id = c.id
		WHERE cr.resource_id = $1 AND c.active
		ORDER BY c.created_at`, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectConnections(rows)
}

func (r *Repository) SetCircuitState(ctx context.Context, connectionID uuid.UUID, state domain.CircuitState) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE channel_connections SET circuit_state = $2 WHERE id = $1`,
		connectionID, state)
	return err
}

func (r *Repository) EnqueueAttempt(ctx context.Context, a domain.SyncAttempt) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO sync_attempts
			(connection_id, event_id, event_type, resource_id, payload, status, next_attempt_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (connection_id, event_id) DO NOTHING`,
		a.ConnectionID, a.EventID, a.EventType, a.ResourceID, a.Payload,
		a.Status, a.NextAttemptAt, a.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const attemptColumns = `id, connection_id, event_id, event_type, resource_id, payload,
	status, attempt_count, last_error, next_attempt_at, dead_lettered_at, created_at`

func (r *Repository) DueAttempts(ctx context.Context, now time.Time, limit int) ([]domain.SyncAttempt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+attemptColumns+`
		FROM sync_attempts
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY next_attempt_at
		LIMIT $3`,
		domain.AttemptPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func (r *Repository) MarkDelivered(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sync_attempts SET status = $2, last_error = NULL WHERE id = $1`,
		id, domain.AttemptDelivered)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, id int64, errMsg string, nextAttemptAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sync_attempts
		SET attempt_count = attempt_count + 1, last_error = $2, next_attempt_at = $3
		WHERE id = $1`,
		id, errMsg, nextAttemptAt)
	return err
}

func (r *Repository) Defer(ctx context.Context, id int64, nextAttemptAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sync_attempts SET next_attempt_at = $2 WHERE id = $1`,
		id, nextAttemptAt)
	return err
}

// MarkDeadLettered is conditional on the pending status so concurrent
// dispatchers cannot dead-letter the same attempt twice.
func (r *Repository) MarkDeadLettered(ctx context.Context, id int64, errMsg string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sync_attempts
		SET status = $2, attempt_count = attempt_count + 1, last_error = $3, dead_lettered_at = $4
		WHERE id = $1 AND status = $5`,
		id, domain.AttemptDeadLettered, errMsg, at, domain.AttemptPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) DeadLetters(ctx context.Context, limit int) ([]domain.SyncAttempt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+attemptColumns+`
		FROM sync_attempts
		WHERE status = $1
		ORDER BY dead_lettered_at DESC
		LIMIT $2`,
		domain.AttemptDeadLettered, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func (r *Repository) RequeueDeadLetter(ctx context.Context, id int64, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sync_attempts
		SET status = $2, attempt_count = 0, dead_lettered_at = NULL, next_attempt_at = $3
		WHERE id = $1 AND status = $4`,
		id, domain.AttemptPending, now, domain.AttemptDeadLettered)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAttemptNotFound
	}
	return nil
}

func (r *Repository) RecordInbound(ctx context.Context, connectionID uuid.UUID, externalID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO channel_bookings (connection_id, external_id)
		VALUES ($1,$2)
		ON CONFLICT (connection_id, external_id) DO NOTHING`,
		connectionID, externalID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) DeleteInbound(ctx context.Context, connectionID uuid.UUID, externalID string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM channel_bookings
		WHERE connection_id = $1 AND external_id = $2 AND booking_id IS NULL`,
		connectionID, externalID)
	return err
}

func (r *Repository) LinkInbound(ctx context.Context, connectionID uuid.UUID, externalID string, bookingID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE channel_bookings SET booking_id = $3
		WHERE connection_id = $1 AND external_id = $2`,
		connectionID, externalID, bookingID)
	return err
}

func (r *Repository) CreateConflict(ctx context.Context, c domain.Conflict) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reconciliation_conflicts
			(resource_id, connection_id, external_id, start_date, end_date,
			 conflicting_entry_id, conflicting_source, detail, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		c.ResourceID, c.ConnectionID, c.ExternalID, c.Start, c.End,
		c.ConflictingEntryID, c.ConflictingSource, c.Detail, c.Status, c.CreatedAt)
	return err
}

func (r *Repository) OpenConflicts(ctx context.Context, limit int) ([]domain.Conflict, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, resource_id, connection_id, external_id, start_date, end_date,
			conflicting_entry_id, conflicting_source, detail, status, created_at,
			resolved_at, COALESCE(resolved_by, '')
		FROM reconciliation_conflicts
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2`,
		domain.ConflictOpen, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []domain.Conflict
	for rows.Next() {
		var c domain.Conflict
		if err := rows.Scan(&c.ID, &c.ResourceID, &c.ConnectionID, &c.ExternalID,
			&c.Start, &c.End, &c.ConflictingEntryID, &c.ConflictingSource,
			&c.Detail, &c.Status, &c.CreatedAt, &c.ResolvedAt, &c.ResolvedBy); err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

func (r *Repository) ResolveConflict(ctx context.Context, id int64, resolvedBy string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reconciliation_conflicts
		SET status = $2, resolved_at = $3, resolved_by = $4
		WHERE id = $1 AND status = $5`,
		id, domain.ConflictResolved, at, resolvedBy, domain.ConflictOpen)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflictNotFound
	}
	return nil
}

const prefixedConnectionColumns = `c.id, c.platform, c.account_ref, c.api_key, c.webhook_secret,
	c.active, c.circuit_state, c.rate_per_minute, c.created_at`

func scanConnection(row pgx.Row) (domain.Connection, error) {
	var c domain.Connection
	err := row.Scan(&c.ID, &c.Platform, &c.AccountRef, &c.APIKey, &c.WebhookSecret,
		&c.Active, &c.CircuitState, &c.RatePerMinute, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Connection{}, domain.ErrConnectionNotFound
	}
	if err != nil {
		return domain.Connection{}, err
	}
	return c, nil
}

func collectConnections(rows pgx.Rows) ([]domain.Connection, error) {
	var conns []domain.Connection
	for rows.Next() {
		var c domain.Connection
		if err := rows.Scan(&c.ID, &c.Platform, &c.AccountRef, &c.APIKey, &c.WebhookSecret,
			&c.Active, &c.CircuitState, &c.RatePerMinute, &c.CreatedAt); err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

func collectAttempts(rows pgx.Rows) ([]domain.SyncAttempt, error) {
	var attempts []domain.SyncAttempt
	for rows.Next() {
		var a domain.SyncAttempt
		var lastErr *string
		if err := rows.Scan(&a.ID, &a.ConnectionID, &a.EventID, &a.EventType, &a.ResourceID,
			&a.Payload, &a.Status, &a.AttemptCount, &lastErr, &a.NextAttemptAt,
			&a.DeadLetteredAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		if lastErr != nil {
			a.LastError = *lastErr
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
