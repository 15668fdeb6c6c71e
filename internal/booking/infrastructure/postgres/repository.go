package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stayforge/reservation-system/internal/booking/domain"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

const bookingColumns = `id, resource_id, start_date, end_date, guest_name, guest_email, guests,
	amount_cents, currency, status, payment_state, payment_intent_id, source, external_id,
	version, created_at, updated_at`

func (r *Repository) Create(ctx context.Context, b domain.Booking) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		b.ID, b.ResourceID, b.Range.Start, b.Range.End, b.GuestName, b.GuestEmail, b.Guests,
		b.AmountCents, b.Currency, b.Status, b.PaymentState, nullIfEmpty(b.PaymentIntentID),
		b.Source, b.ExternalID, b.Version, b.CreatedAt, b.UpdatedAt)
	return err
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

func (r *Repository) FindByPaymentIntent(ctx context.Context, intentID string) (domain.Booking, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE payment_intent_id = $1`, intentID)
	return scanBooking(row)
}

// UpdateStatus is the guarded state-machine transition.
func (r *Repository) UpdateStatus(ctx context.Context, t domain.Transition, version int64) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := applyTransition(ctx, tx, t, version); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ReserveWithHold takes the guarded transition and writes the hold in
// one transaction. Either both rows land or neither does.
func (r *Repository) ReserveWithHold(ctx context.Context, t domain.Transition, version int64, h domain.Hold) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := applyTransition(ctx, tx, t, version); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO reservation_holds (booking_id, expires_at, created_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (booking_id) DO UPDATE SET expires_at = $2`,
		h.BookingID, h.ExpiresAt, h.CreatedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) ConfirmReserved(ctx context.Context, id uuid.UUID, version int64, paymentRef string) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = $2, payment_state = $3, version = version + 1, updated_at = $4
		WHERE id = $1 AND status = $5 AND version = $6`,
		id, domain.StatusConfirmed, domain.PaymentPaid, now, domain.StatusReserved, version)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	t := domain.Transition{
		BookingID: id,
		From:      domain.StatusReserved,
		To:        domain.StatusConfirmed,
		Actor:     domain.ActorSystem,
		Reason:    "payment " + paymentRef,
		At:        now,
	}
	if err := insertTransition(ctx, tx, t); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (r *Repository) SetPaymentIntent(ctx context.Context, id uuid.UUID, intentID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE bookings SET payment_intent_id = $2, updated_at = $3 WHERE id = $1`,
		id, intentID, time.Now().UTC())
	return err
}

func (r *Repository) DeleteHold(ctx context.Context, bookingID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM reservation_holds WHERE booking_id = $1`, bookingID)
	return err
}

func (r *Repository) ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT h.booking_id, h.expires_at, h.created_at
		FROM reservation_holds h
		JOIN bookings b ON b.id = h.booking_id
		WHERE h.expires_at <= $1 AND b.status = $2 AND b.payment_state <> $3
		ORDER BY h.expires_at
		LIMIT $4`,
		now, domain.StatusReserved, domain.PaymentPaid, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holds []domain.Hold
	for rows.Next() {
		var h domain.Hold
		if err := rows.Scan(&h.BookingID, &h.ExpiresAt, &h.CreatedAt); err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}

// applyTransition re-checks status and version inside the caller's
// transaction; zero rows affected means a concurrent transition won.
func applyTransition(ctx context.Context, tx pgx.Tx, t domain.Transition, version int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = $3, version = version + 1, updated_at = $4
		WHERE id = $1 AND status = $2 AND version = $5`,
		t.BookingID, t.From, t.To, t.At, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	return insertTransition(ctx, tx, t)
}

func insertTransition(ctx context.Context, tx pgx.Tx, t domain.Transition) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO booking_transitions (booking_id, from_status, to_status, actor, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		t.BookingID, t.From, t.To, t.Actor, t.Reason, t.At)
	return err
}

func scanBooking(row pgx.Row) (domain.Booking, error) {
	var b domain.Booking
	var intentID *string
	err := row.Scan(&b.ID, &b.ResourceID, &b.Range.Start, &b.Range.End, &b.GuestName, &b.GuestEmail,
		&b.Guests, &b.AmountCents, &b.Currency, &b.Status, &b.PaymentState, &intentID,
		&b.Source, &b.ExternalID, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	if err != nil {
		return domain.Booking{}, err
	}
	if intentID != nil {
		b.PaymentIntentID = *intentID
	}
	return b, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
