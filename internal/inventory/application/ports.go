package application

import (
	"context"

	"github.com/google/uuid"

	"github.com/stayforge/reservation-system/internal/inventory/domain"
)

// LedgerRepository persists entries. Occupy runs the overlap check and
// the insert in one atomic unit; the outbox row rides the same
// transaction.
type LedgerRepository interface {
	OccupyWithOutbox(ctx context.Context, entry domain.Entry, eventType string, payload []byte) error
	// ReleaseWithOutbox reports false when the entry was already
	// released; in that case no outbox row is written.
	ReleaseWithOutbox(ctx context.Context, entryID uuid.UUID, eventType string, payload []byte) (bool, error)
	Query(ctx context.Context, resourceID uuid.UUID, rng domain.Range) ([]domain.Entry, error)
	FindActiveByBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Entry, error)
	GetEntry(ctx context.Context, entryID uuid.UUID) (domain.Entry, error)

	CreateResource(ctx context.Context, r domain.Resource) error
	GetResource(ctx context.Context, id uuid.UUID) (domain.Resource, error)
}
