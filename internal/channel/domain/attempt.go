package domain

import (
	"time"

	"github.com/google/uuid"
)

type AttemptStatus string

const (
	AttemptPending      AttemptStatus = "pending"
	AttemptDelivered    AttemptStatus = "delivered"
	AttemptDeadLettered AttemptStatus = "dead_lettered"
)

// SyncAttempt is one pending delivery of a ledger mutation to one
// connection. (ConnectionID, EventID) is unique, so redelivered source
// events collapse into the existing row.
type SyncAttempt struct {
	ID             int64
	ConnectionID   uuid.UUID
	EventID        string
	EventType      string
	ResourceID     uuid.UUID
	Payload        []byte
	Status         AttemptStatus
	AttemptCount   int
	LastError      string
	NextAttemptAt  time.Time
	DeadLetteredAt *time.Time
	CreatedAt      time.Time
}
