package application

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/stayforge/reservation-system/internal/inventory/domain"
	"github.com/stayforge/reservation-system/pkg/clock"
)

// Ledger is the authoritative record of occupied date ranges. All
// occupy/release traffic, direct or channel-imported, goes through it.
type Ledger struct {
	log   *slog.Logger
	repo  LedgerRepository
	clock clock.Clock
}

func NewLedger(log *slog.Logger, repo LedgerRepository, clk clock.Clock) *Ledger {
	return &Ledger{log: log, repo: repo, clock: clk}
}

// OccupyBooking reserves the range for a booking. Returns
// *domain.OverlapError when the range collides with an occupying entry.
func (l *Ledger) OccupyBooking(ctx context.Context, resourceID uuid.UUID, rng domain.Range, source string, bookingID uuid.UUID) (domain.Entry, error) {
	entry := domain.Entry{
		ID:         uuid.New(),
		ResourceID: resourceID,
		Range:      rng,
		Kind:       domain.KindBooking,
		Source:     source,
		BookingID:  &bookingID,
		CreatedAt:  l.clock.Now(),
	}
	return l.occupy(ctx, entry)
}

// OccupyBlock places a manual block, e.g. for maintenance.
func (l *Ledger) OccupyBlock(ctx context.Context, resourceID uuid.UUID, rng domain.Range, reason string) (domain.Entry, error) {
	entry := domain.Entry{
		ID:          uuid.New(),
		ResourceID:  resourceID,
		Range:       rng,
		Kind:        domain.KindBlock,
		Source:      domain.SourceManual,
		BlockReason: reason,
		CreatedAt:   l.clock.Now(),
	}
	return l.occupy(ctx, entry)
}

func (l *Ledger) occupy(ctx context.Context, entry domain.Entry) (domain.Entry, error) {
	if err := entry.Range.Validate(); err != nil {
		return domain.Entry{}, err
	}
	payload, err := json.Marshal(l.entryEvent(entry))
	if err != nil {
		return domain.Entry{}, err
	}
	if err := l.repo.OccupyWithOutbox(ctx, entry, domain.EventEntryOccupied, payload); err != nil {
		return domain.Entry{}, err
	}
	l.log.Info("inventory occupied",
		"entry_id", entry.ID, "resource_id", entry.ResourceID,
		"kind", entry.Kind, "source", entry.Source)
	return entry, nil
}

// Release frees an entry. Releasing an already-released entry is a
// no-op and emits no event.
func (l *Ledger) Release(ctx context.Context, entryID uuid.UUID) error {
	entry, err := l.repo.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(l.entryEvent(entry))
	if err != nil {
		return err
	}
	released, err := l.repo.ReleaseWithOutbox(ctx, entryID, domain.EventEntryReleased, payload)
	if err != nil {
		return err
	}
	if released {
		l.log.Info("inventory released", "entry_id", entryID, "resource_id", entry.ResourceID)
	}
	return nil
}

// ReleaseByBooking frees the booking's active entry, if any.
func (l *Ledger) ReleaseByBooking(ctx context.Context, bookingID uuid.UUID) error {
	entry, err := l.repo.FindActiveByBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	return l.Release(ctx, entry.ID)
}

func (l *Ledger) Query(ctx context.Context, resourceID uuid.UUID, rng domain.Range) ([]domain.Entry, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	return l.repo.Query(ctx, resourceID, rng)
}

// Availability classifies each day of the range as free, occupied or
// blocked, reading the ledger transactionally.
func (l *Ledger) Availability(ctx context.Context, resourceID uuid.UUID, rng domain.Range) ([]domain.DayAvailability, error) {
	entries, err := l.Query(ctx, resourceID, rng)
	if err != nil {
		return nil, err
	}

	days := rng.Days()
	out := make([]domain.DayAvailability, 0, len(days))
	for _, day := range days {
		state := domain.DayFree
		for _, e := range entries {
			if e.Released {
				continue
			}
			if !day.Before(e.Range.Start) && day.Before(e.Range.End) {
				if e.Kind == domain.KindBlock {
					state = domain.DayBlocked
				} else {
					state = domain.DayOccupied
				}
				break
			}
		}
		out = append(out, domain.DayAvailability{Date: day, State: state})
	}
	return out, nil
}

func (l *Ledger) CreateResource(ctx context.Context, name string, maxGuests, minStayNights int) (domain.Resource, error) {
	r := domain.Resource{
		ID:            uuid.New(),
		Name:          name,
		MaxGuests:     maxGuests,
		MinStayNights: minStayNights,
		CreatedAt:     l.clock.Now(),
	}
	if err := l.repo.CreateResource(ctx, r); err != nil {
		return domain.Resource{}, err
	}
	return r, nil
}

func (l *Ledger) GetResource(ctx context.Context, id uuid.UUID) (domain.Resource, error) {
	return l.repo.GetResource(ctx, id)
}

func (l *Ledger) entryEvent(entry domain.Entry) domain.EntryEvent {
	return domain.EntryEvent{
		EventID:    uuid.New(),
		EntryID:    entry.ID,
		ResourceID: entry.ResourceID,
		Start:      entry.Range.Start,
		End:        entry.Range.End,
		Kind:       entry.Kind,
		Source:     entry.Source,
		BookingID:  entry.BookingID,
		OccurredAt: l.clock.Now(),
	}
}
