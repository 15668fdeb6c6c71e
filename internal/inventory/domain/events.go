package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventEntryOccupied = "EntryOccupied"
	EventEntryReleased = "EntryReleased"
)

// EntryEvent describes a ledger mutation for downstream channel sync.
// EventID is the dedup key for at-least-once delivery.
type EntryEvent struct {
	EventID    uuid.UUID  `json:"event_id"`
	EntryID    uuid.UUID  `json:"entry_id"`
	ResourceID uuid.UUID  `json:"resource_id"`
	Start      time.Time  `json:"start"`
	End        time.Time  `json:"end"`
	Kind       EntryKind  `json:"kind"`
	Source     string     `json:"source"`
	BookingID  *uuid.UUID `json:"booking_id,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}
