package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrEmptyRange       = errors.New("range must span at least one night")
	ErrEntryNotFound    = errors.New("inventory entry not found")
	ErrResourceNotFound = errors.New("resource not found")
)

// OverlapError reports that a requested range collides with an
// occupying entry. It carries the conflicting entry so callers can
// surface "dates unavailable" along with which source holds the dates.
type OverlapError struct {
	ResourceID         uuid.UUID
	ConflictingEntryID uuid.UUID
	ConflictingSource  string
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("dates unavailable: resource %s already occupied by entry %s (source %s)",
		e.ResourceID, e.ConflictingEntryID, e.ConflictingSource)
}

// IsOverlap reports whether err is an OverlapError.
func IsOverlap(err error) bool {
	var oe *OverlapError
	return errors.As(err, &oe)
}
