package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	bookingapp "github.com/stayforge/reservation-system/internal/booking/application"
	"github.com/stayforge/reservation-system/internal/booking/domain"
	channel "github.com/stayforge/reservation-system/internal/channel/domain"
)

// SyncRepository persists connections, attempts, inbound dedup rows and
// reconciliation conflicts.
type SyncRepository interface {
	GetConnection(ctx context.Context, id uuid.UUID) (channel.Connection, error)
	ConnectionByPlatform(ctx context.Context, platform string) (channel.Connection, error)
	ListConnections(ctx context.Context) ([]channel.Connection, error)
	ActiveConnectionsForResource(ctx context.Context, resourceID uuid.UUID) ([]channel.Connection, error)
	SetCircuitState(ctx context.Context, connectionID uuid.UUID, state channel.CircuitState) error

	// EnqueueAttempt conditionally inserts one attempt; it reports false
	// when (connection, event) already exists.
	EnqueueAttempt(ctx context.Context, a channel.SyncAttempt) (bool, error)
	DueAttempts(ctx context.Context, now time.Time, limit int) ([]channel.SyncAttempt, error)
	MarkDelivered(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string, nextAttemptAt time.Time) error
	// Defer pushes an attempt's due time forward without counting a
	// delivery failure against it.
	Defer(ctx context.Context, id int64, nextAttemptAt time.Time) error
	// MarkDeadLettered transitions pending→dead_lettered; it reports
	// false when the attempt was already dead-lettered.
	MarkDeadLettered(ctx context.Context, id int64, errMsg string, at time.Time) (bool, error)
	DeadLetters(ctx context.Context, limit int) ([]channel.SyncAttempt, error)
	RequeueDeadLetter(ctx context.Context, id int64, now time.Time) error

	// RecordInbound conditionally inserts the (connection, external id)
	// dedup row; it reports false on redelivery.
	RecordInbound(ctx context.Context, connectionID uuid.UUID, externalID string) (bool, error)
	// DeleteInbound rolls back an unlinked dedup row after a failed
	// import; rows already linked to a booking are left alone.
	DeleteInbound(ctx context.Context, connectionID uuid.UUID, externalID string) error
	LinkInbound(ctx context.Context, connectionID uuid.UUID, externalID string, bookingID uuid.UUID) error

	CreateConflict(ctx context.Context, c channel.Conflict) error
	OpenConflicts(ctx context.Context, limit int) ([]channel.Conflict, error)
	ResolveConflict(ctx context.Context, id int64, resolvedBy string, at time.Time) error
}

// BookingImporter is the slice of the booking service the ingestor
// needs: create a confirmed booking through the occupy path.
type BookingImporter interface {
	CreateConfirmed(ctx context.Context, in bookingapp.CreateInput, source string, externalID *string) (domain.Booking, error)
}
