package domain

import (
	"time"

	"github.com/google/uuid"
)

// InboundBooking is a platform booking normalized by its adapter.
// ExternalID is the platform's identifier and dedups redeliveries.
type InboundBooking struct {
	ExternalID  string
	ResourceID  uuid.UUID
	Start       time.Time
	End         time.Time
	GuestName   string
	GuestEmail  string
	Guests      int
	AmountCents int64
	Currency    string
}

type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "open"
	ConflictResolved ConflictStatus = "resolved"
)

// Conflict records an inbound booking that overlaps an existing entry.
// Both sides are preserved; an operator decides which one stands.
type Conflict struct {
	ID                 int64
	ResourceID         uuid.UUID
	ConnectionID       uuid.UUID
	ExternalID         string
	Start              time.Time
	End                time.Time
	ConflictingEntryID uuid.UUID
	ConflictingSource  string
	Detail             string
	Status             ConflictStatus
	CreatedAt          time.Time
	ResolvedAt         *time.Time
	ResolvedBy         string
}
