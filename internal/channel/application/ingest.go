package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	bookingapp "github.com/stayforge/reservation-system/internal/booking/application"
	"github.com/stayforge/reservation-system/internal/channel/adapter"
	channel "github.com/stayforge/reservation-system/internal/channel/domain"
	inventory "github.com/stayforge/reservation-system/internal/inventory/domain"
	"github.com/stayforge/reservation-system/pkg/clock"
)

type IngestOutcome string

const (
	IngestOutcomeImported  IngestOutcome = "imported"
	IngestOutcomeDuplicate IngestOutcome = "duplicate"
	IngestOutcomeConflict  IngestOutcome = "conflict"
)

// Ingestor turns platform webhooks and feed pulls into confirmed
// bookings. The (connection, external id) row is the dedup gate; the
// booking then goes through the same occupy path as every other
// booking, so an overlap surfaces here as a reconciliation conflict
// rather than a silent overwrite.
type Ingestor struct {
	log      *slog.Logger
	repo     SyncRepository
	adapters *adapter.Registry
	bookings BookingImporter
	clock    clock.Clock
}

func NewIngestor(log *slog.Logger, repo SyncRepository, adapters *adapter.Registry, bookings BookingImporter, clk clock.Clock) *Ingestor {
	return &Ingestor{log: log, repo: repo, adapters: adapters, bookings: bookings, clock: clk}
}

// Ingest validates, dedups and imports one webhook delivery.
func (i *Ingestor) Ingest(ctx context.Context, platform string, body []byte, signature string) (IngestOutcome, error) {
	ad, err := i.adapters.Get(platform)
	if err != nil {
		return "", err
	}
	conn, err := i.repo.ConnectionByPlatform(ctx, platform)
	if err != nil {
		return "", err
	}
	if err := ad.VerifySignature(conn, body, signature); err != nil {
		return "", err
	}

	inbound, err := ad.ParseBooking(body)
	if err != nil {
		return "", err
	}
	return i.importInbound(ctx, conn, inbound)
}

// importInbound is the shared import path for webhook deliveries and
// pulled feed entries. Whichever arrives first wins the dedup row; the
// other lands as a duplicate.
func (i *Ingestor) importInbound(ctx context.Context, conn channel.Connection, inbound channel.InboundBooking) (IngestOutcome, error) {
	if inbound.ExternalID == "" {
		return "", fmt.Errorf("inbound booking from %s has no external id", conn.Platform)
	}

	fresh, err := i.repo.RecordInbound(ctx, conn.ID, inbound.ExternalID)
	if err != nil {
		return "", err
	}
	if !fresh {
		i.log.Info("inbound booking redelivered",
			"connection_id", conn.ID, "external_id", inbound.ExternalID)
		return IngestOutcomeDuplicate, nil
	}

	externalID := inbound.ExternalID
	b, err := i.bookings.CreateConfirmed(ctx, bookingapp.CreateInput{
		ResourceID:  inbound.ResourceID,
		Range:       inventory.Range{Start: inbound.Start, End: inbound.End},
		GuestName:   inbound.GuestName,
		GuestEmail:  inbound.GuestEmail,
		Guests:      inbound.Guests,
		AmountCents: inbound.AmountCents,
		Currency:    inbound.Currency,
	}, conn.Platform, &externalID)
	if err != nil {
		var overlap *inventory.OverlapError
		if errors.As(err, &overlap) {
			return i.recordConflict(ctx, conn, inbound, overlap)
		}
		// Transient import failure: give the dedup row back so the
		// platform's redelivery is processed, not dropped.
		if delErr := i.repo.DeleteInbound(ctx, conn.ID, inbound.ExternalID); delErr != nil {
			i.log.Error("inbound dedup rollback failed",
				"connection_id", conn.ID, "external_id", inbound.ExternalID, "err", delErr)
		}
		return "", err
	}

	if err := i.repo.LinkInbound(ctx, conn.ID, inbound.ExternalID, b.ID); err != nil {
		i.log.Error("inbound link failed",
			"connection_id", conn.ID, "external_id", inbound.ExternalID, "err", err)
	}
	i.log.Info("channel booking imported",
		"booking_id", b.ID, "platform", conn.Platform, "external_id", inbound.ExternalID)
	return IngestOutcomeImported, nil
}

func (i *Ingestor) recordConflict(ctx context.Context, conn channel.Connection, inbound channel.InboundBooking, overlap *inventory.OverlapError) (IngestOutcome, error) {
	c := channel.Conflict{
		ResourceID:         inbound.ResourceID,
		ConnectionID:       conn.ID,
		ExternalID:         inbound.ExternalID,
		Start:              inbound.Start,
		End:                inbound.End,
		ConflictingEntryID: overlap.ConflictingEntryID,
		ConflictingSource:  overlap.ConflictingSource,
		Detail:             overlap.Error(),
		Status:             channel.ConflictOpen,
		CreatedAt:          i.clock.Now(),
	}
	if err := i.repo.CreateConflict(ctx, c); err != nil {
		return "", err
	}
	i.log.Warn("reconciliation conflict recorded",
		"connection_id", conn.ID, "external_id", inbound.ExternalID,
		"resource_id", inbound.ResourceID, "conflicting_entry", overlap.ConflictingEntryID)
	return IngestOutcomeConflict, channel.ErrReconciliationConflict
}
