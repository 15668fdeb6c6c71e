package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stayforge/reservation-system/internal/inventory/domain"
)

// exclusionViolation is raised by the no-overlap EXCLUDE constraint,
// the final authority behind the advisory-lock check.
const exclusionViolation = "23P01"

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

// OccupyWithOutbox checks for overlap and inserts the entry in one
// transaction, serialized per resource with an advisory lock so two
// concurrent requests for the same resource cannot both pass the check.
func (r *Repository) OccupyWithOutbox(ctx context.Context, entry domain.Entry, eventType string, payload []byte) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, entry.ResourceID.String()); err != nil {
		return err
	}

	var conflictID uuid.UUID
	var conflictSource string
	err = tx.QueryRow(ctx, `
		SELECT id, source FROM inventory_entries
		WHERE resource_id = $1 AND NOT released
		  AND start_date < $3 AND $2 < end_date
		LIMIT 1`,
		entry.ResourceID, entry.Range.Start, entry.Range.End,
	).Scan(&conflictID, &conflictSource)
	switch {
	case err == nil:
		return &domain.OverlapError{
			ResourceID:         entry.ResourceID,
			ConflictingEntryID: conflictID,
			ConflictingSource:  conflictSource,
		}
	case !errors.Is(err, pgx.ErrNoRows):
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO inventory_entries (id, resource_id, start_date, end_date, kind, source, booking_id, block_reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		entry.ID, entry.ResourceID, entry.Range.Start, entry.Range.End,
		entry.Kind, entry.Source, entry.BookingID, entry.BlockReason, entry.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
			return &domain.OverlapError{ResourceID: entry.ResourceID}
		}
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, status)
		VALUES ('inventory', $1, $2, $3, 'pending')`,
		entry.ID.String(), eventType, payload)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) ReleaseWithOutbox(ctx context.Context, entryID uuid.UUID, eventType string, payload []byte) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE inventory_entries
		SET released = TRUE, released_at = $2
		WHERE id = $1 AND NOT released`,
		entryID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		// Already released: idempotent no-op, no event.
		return false, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, status)
		VALUES ('inventory', $1, $2, $3, 'pending')`,
		entryID.String(), eventType, payload)
	if err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (r *Repository) Query(ctx context.Context, resourceID uuid.UUID, rng domain.Range) ([]domain.Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, resource_id, start_date, end_date, kind, source, booking_id, block_reason, released, created_at, released_at
		FROM inventory_entries
		WHERE resource_id = $1 AND NOT released
		  AND start_date < $3 AND $2 < end_date
		ORDER BY start_date`,
		resourceID, rng.Start, rng.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) FindActiveByBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Entry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, resource_id, start_date, end_date, kind, source, booking_id, block_reason, released, created_at, released_at
		FROM inventory_entries
		WHERE booking_id = $1 AND NOT released`,
		bookingID)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *Repository) GetEntry(ctx context.Context, entryID uuid.UUID) (domain.Entry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, resource_id, start_date, end_date, kind, source, booking_id, block_reason, released, created_at, released_at
		FROM inventory_entries WHERE id = $1`,
		entryID)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Entry{}, domain.ErrEntryNotFound
	}
	return e, err
}

func (r *Repository) CreateResource(ctx context.Context, res domain.Resource) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO resources (id, name, max_guests, min_stay_nights, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		res.ID, res.Name, res.MaxGuests, res.MinStayNights, res.CreatedAt)
	return err
}

func (r *Repository) GetResource(ctx context.Context, id uuid.UUID) (domain.Resource, error) {
	var res domain.Resource
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, max_guests, min_stay_nights, created_at
		FROM resources WHERE id = $1`, id).
		Scan(&res.ID, &res.Name, &res.MaxGuests, &res.MinStayNights, &res.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Resource{}, domain.ErrResourceNotFound
	}
	return res, err
}

func scanEntry(row pgx.Row) (domain.Entry, error) {
	var e domain.Entry
	var blockReason *string
	err := row.Scan(&e.ID, &e.ResourceID, &e.Range.Start, &e.Range.End, &e.Kind, &e.Source,
		&e.BookingID, &blockReason, &e.Released, &e.CreatedAt, &e.ReleasedAt)
	if err != nil {
		return domain.Entry{}, err
	}
	if blockReason != nil {
		e.BlockReason = *blockReason
	}
	return e, nil
}
