package domain

import (
	"time"

	"github.com/google/uuid"

	inventory "github.com/stayforge/reservation-system/internal/inventory/domain"
)

type Status string

const (
	StatusInquiry    Status = "inquiry"
	StatusPending    Status = "pending"
	StatusReserved   Status = "reserved"
	StatusConfirmed  Status = "confirmed"
	StatusCheckedIn  Status = "checked_in"
	StatusCheckedOut Status = "checked_out"
	StatusCancelled  Status = "cancelled"
	StatusDeclined   Status = "declined"
	StatusNoShow     Status = "no_show"
	StatusExpired    Status = "expired"
)

// transitions is the allowed edge set for non-elevated actors.
var transitions = map[Status][]Status{
	StatusInquiry:   {StatusPending, StatusDeclined},
	StatusPending:   {StatusReserved, StatusDeclined, StatusCancelled},
	StatusReserved:  {StatusConfirmed, StatusExpired, StatusCancelled},
	StatusConfirmed: {StatusCheckedIn, StatusCancelled},
	StatusCheckedIn: {StatusCheckedOut, StatusNoShow},
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCheckedOut, StatusCancelled, StatusDeclined, StatusNoShow, StatusExpired:
		return true
	}
	return false
}

// IsOccupying reports whether the status reserves calendar inventory.
func (s Status) IsOccupying() bool {
	switch s {
	case StatusReserved, StatusConfirmed, StatusCheckedIn, StatusCheckedOut:
		return true
	}
	return false
}

// FreesInventory reports whether entering the status releases the
// booking's ledger entry.
func (s Status) FreesInventory() bool {
	switch s {
	case StatusCancelled, StatusDeclined, StatusExpired:
		return true
	}
	return false
}

// PreConfirmation states are the only ones a reservation hold may
// exist in.
func (s Status) PreConfirmation() bool {
	return s == StatusReserved
}

// CanTransition reports whether from→to is legal. Elevated actors may
// additionally cancel any non-terminal booking.
func CanTransition(from, to Status, actor Actor) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusCancelled && actor.Elevated() {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type Actor string

const (
	ActorGuest   Actor = "guest"
	ActorStaff   Actor = "staff"
	ActorSystem  Actor = "system"
	ActorChannel Actor = "channel"
)

func (a Actor) Elevated() bool {
	return a == ActorStaff || a == ActorSystem
}

type PaymentState string

const (
	PaymentUnpaid     PaymentState = "unpaid"
	PaymentAuthorized PaymentState = "authorized"
	PaymentPaid       PaymentState = "paid"
	PaymentRefunded   PaymentState = "refunded"
)

// Booking is the guest-facing reservation. Version is a monotonic
// counter guarding every status mutation.
type Booking struct {
	ID              uuid.UUID
	ResourceID      uuid.UUID
	Range           inventory.Range
	GuestName       string
	GuestEmail      string
	Guests          int
	AmountCents     int64
	Currency        string
	Status          Status
	PaymentState    PaymentState
	PaymentIntentID string
	Source          string
	ExternalID      *string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Hold is the time-boxed soft lock between reserving and paying.
// Expiry is wall-clock so it survives process restarts.
type Hold struct {
	BookingID uuid.UUID
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (h Hold) Expired(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

// Transition is one audit record of a status change.
type Transition struct {
	BookingID uuid.UUID
	From      Status
	To        Status
	Actor     Actor
	Reason    string
	At        time.Time
}
