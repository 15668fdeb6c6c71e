package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stayforge/reservation-system/internal/booking/domain"
	inventory "github.com/stayforge/reservation-system/internal/inventory/domain"
)

type BookingRepository interface {
	Create(ctx context.Context, b domain.Booking) error
	Get(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	// FindByPaymentIntent resolves provider notifications, which are
	// keyed by intent id rather than booking id.
	FindByPaymentIntent(ctx context.Context, intentID string) (domain.Booking, error)

	// UpdateStatus is the guarded transition: a conditional update on
	// (id, from-status, version) plus the audit row, in one
	// transaction. Zero rows affected returns ErrVersionConflict.
	UpdateStatus(ctx context.Context, t domain.Transition, version int64) error

	// ConfirmReserved atomically sets status=confirmed and
	// payment_state=paid while the booking is still reserved at the
	// given version. Returns false (no error) when zero rows matched.
	ConfirmReserved(ctx context.Context, id uuid.UUID, version int64, paymentRef string) (bool, error)

	SetPaymentIntent(ctx context.Context, id uuid.UUID, intentID string) error

	// ReserveWithHold applies the pending→reserved transition and
	// writes the hold row in the same transaction, so a reserved
	// booking can never exist without a hold for the sweep to find.
	ReserveWithHold(ctx context.Context, t domain.Transition, version int64, h domain.Hold) error
	// DeleteHold is idempotent: deleting a missing hold is a no-op.
	DeleteHold(ctx context.Context, bookingID uuid.UUID) error
	// ExpiredHolds lists holds past expiry whose booking is still
	// reserved and not paid.
	ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error)
}

// InventoryLedger is the slice of the ledger the booking flows need.
// Implemented by inventory/application.Ledger.
type InventoryLedger interface {
	OccupyBooking(ctx context.Context, resourceID uuid.UUID, rng inventory.Range, source string, bookingID uuid.UUID) (inventory.Entry, error)
	ReleaseByBooking(ctx context.Context, bookingID uuid.UUID) error
	GetResource(ctx context.Context, id uuid.UUID) (inventory.Resource, error)
}

// PaymentIntent is the provider-side handle for collecting payment.
type PaymentIntent struct {
	ID           string
	ClientSecret string
}

// PaymentClient talks to the payment provider. Never called while a
// database transaction or lock is held.
type PaymentClient interface {
	CreateIntent(ctx context.Context, amountCents int64, currency string, bookingID uuid.UUID) (PaymentIntent, error)
	CancelIntent(ctx context.Context, intentID string) error
}
