package domain

import (
	"time"

	"github.com/google/uuid"
)

// Range is an end-exclusive span of nights: Start is occupied, End is
// the checkout day and is free.
type Range struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two ranges share at least one night.
// Back-to-back ranges (a.End == b.Start) do not overlap.
func (r Range) Overlaps(other Range) bool {
	return r.Start.Before(other.End) && other.Start.Before(r.End)
}

// Nights returns the number of occupied nights.
func (r Range) Nights() int {
	return int(r.End.Sub(r.Start).Hours() / 24)
}

func (r Range) Validate() error {
	if !r.Start.Before(r.End) {
		return ErrEmptyRange
	}
	return nil
}

// Days lists every occupied day of the range, End excluded.
func (r Range) Days() []time.Time {
	var days []time.Time
	for d := r.Start; d.Before(r.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

type EntryKind string

const (
	KindBooking EntryKind = "booking"
	KindBlock   EntryKind = "block"
)

const (
	SourceDirect = "direct"
	SourceManual = "manual"
)

// Entry is one occupying record in the ledger: either the inventory
// side of a booking or a manual block placed by staff.
type Entry struct {
	ID          uuid.UUID
	ResourceID  uuid.UUID
	Range       Range
	Kind        EntryKind
	Source      string
	BookingID   *uuid.UUID
	BlockReason string
	Released    bool
	CreatedAt   time.Time
	ReleasedAt  *time.Time
}

// Resource is a reservable lodging unit.
type Resource struct {
	ID            uuid.UUID
	Name          string
	MaxGuests     int
	MinStayNights int
	CreatedAt     time.Time
}

type DayState string

const (
	DayFree     DayState = "free"
	DayOccupied DayState = "occupied"
	DayBlocked  DayState = "blocked"
)

// DayAvailability classifies one calendar day of a resource.
type DayAvailability struct {
	Date  time.Time `json:"date"`
	State DayState  `json:"state"`
}
