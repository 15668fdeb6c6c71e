package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stayforge/reservation-system/internal/channel/adapter"
	channel "github.com/stayforge/reservation-system/internal/channel/domain"
	inventory "github.com/stayforge/reservation-system/internal/inventory/domain"
	"github.com/stayforge/reservation-system/pkg/clock"
)

func inboundBooking() channel.InboundBooking {
	return channel.InboundBooking{
		ExternalID:  "EXT-1001",
		ResourceID:  uuid.New(),
		Start:       time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2026, 4, 5, 0, 0, 0, 0, time.UTC),
		GuestName:   "Alex Chen",
		GuestEmail:  "alex@example.com",
		Guests:      2,
		AmountCents: 68000,
		Currency:    "EUR",
	}
}

func newIngestFixture(ad *fakeAdapter, importer *fakeImporter) (*Ingestor, *fakeSyncRepo) {
	repo := newFakeSyncRepo()
	repo.addConnection(channel.Connection{Platform: ad.platform, Active: true})
	ing := NewIngestor(discardLog(), repo, adapter.NewRegistry(ad), importer, clock.NewFixed(dispatchNow))
	return ing, repo
}

func TestIngestImportsBooking(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{platform: "testplat", parsed: inboundBooking()}
	importer := &fakeImporter{}
	ing, repo := newIngestFixture(ad, importer)

	outcome, err := ing.Ingest(context.Background(), "testplat", []byte(`{}`), "sig")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if outcome != IngestOutcomeImported {
		t.Errorf("outcome = %s, want imported", outcome)
	}
	if len(importer.created) != 1 {
		t.Fatalf("created %d bookings, want 1", len(importer.created))
	}
	if got := importer.created[0].Guests; got != 2 {
		t.Errorf("imported guests = %d, want 2", got)
	}

	// The dedup row now points at the created booking.
	for _, id := range repo.inbound {
		if id == uuid.Nil {
			t.Error("inbound row not linked to a booking")
		}
	}
}

func TestIngestRedeliveryIsNoOp(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{platform: "testplat", parsed: inboundBooking()}
	importer := &fakeImporter{}
	ing, _ := newIngestFixture(ad, importer)
	ctx := context.Background()

	if _, err := ing.Ingest(ctx, "testplat", []byte(`{}`), "sig"); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	outcome, err := ing.Ingest(ctx, "testplat", []byte(`{}`), "sig")
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if outcome != IngestOutcomeDuplicate {
		t.Errorf("outcome = %s, want duplicate", outcome)
	}
	if len(importer.created) != 1 {
		t.Errorf("created %d bookings after redelivery, want exactly 1", len(importer.created))
	}
}

func TestIngestRetryAfterTransientImportFailure(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{platform: "testplat", parsed: inboundBooking()}
	importer := &fakeImporter{createErr: errors.New("db down")}
	ing, _ := newIngestFixture(ad, importer)
	ctx := context.Background()

	if _, err := ing.Ingest(ctx, "testplat", []byte(`{}`), "sig"); err == nil {
		t.Fatal("expected import error")
	}

	// The platform redelivers after the outage; the dedup row was
	// rolled back, so this delivery must import, not land as a
	// duplicate.
	importer.createErr = nil
	outcome, err := ing.Ingest(ctx, "testplat", []byte(`{}`), "sig")
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if outcome != IngestOutcomeImported {
		t.Errorf("redelivery outcome = %s, want imported", outcome)
	}
	if len(importer.created) != 1 {
		t.Errorf("created %d bookings, want exactly 1", len(importer.created))
	}
}

func TestIngestOverlapRecordsConflict(t *testing.T) {
	t.Parallel()

	conflictingEntry := uuid.New()
	ad := &fakeAdapter{platform: "testplat", parsed: inboundBooking()}
	importer := &fakeImporter{createErr: &inventory.OverlapError{
		ResourceID:         uuid.New(),
		ConflictingEntryID: conflictingEntry,
		ConflictingSource:  inventory.SourceDirect,
	}}
	ing, repo := newIngestFixture(ad, importer)

	outcome, err := ing.Ingest(context.Background(), "testplat", []byte(`{}`), "sig")
	if !errors.Is(err, channel.ErrReconciliationConflict) {
		t.Fatalf("got %v, want ErrReconciliationConflict", err)
	}
	if outcome != IngestOutcomeConflict {
		t.Errorf("outcome = %s, want conflict", outcome)
	}
	if len(repo.conflicts) != 1 {
		t.Fatalf("recorded %d conflicts, want 1", len(repo.conflicts))
	}
	c := repo.conflicts[0]
	if c.ConflictingEntryID != conflictingEntry {
		t.Errorf("conflicting entry = %s, want %s", c.ConflictingEntryID, conflictingEntry)
	}
	if c.Status != channel.ConflictOpen {
		t.Errorf("conflict status = %s, want open", c.Status)
	}
	if c.ExternalID != "EXT-1001" {
		t.Errorf("conflict external id = %s, the channel side must be preserved", c.ExternalID)
	}
}

func TestIngestRejectsBadSignature(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{platform: "testplat", sigErr: channel.ErrBadSignature}
	importer := &fakeImporter{}
	ing, _ := newIngestFixture(ad, importer)

	if _, err := ing.Ingest(context.Background(), "testplat", []byte(`{}`), "bad"); !errors.Is(err, channel.ErrBadSignature) {
		t.Fatalf("got %v, want ErrBadSignature", err)
	}
	if len(importer.created) != 0 {
		t.Error("unauthenticated webhook must not create bookings")
	}
}

func TestIngestUnknownPlatform(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{platform: "testplat"}
	ing, _ := newIngestFixture(ad, &fakeImporter{})

	if _, err := ing.Ingest(context.Background(), "nosuch", []byte(`{}`), ""); !errors.Is(err, channel.ErrUnknownPlatform) {
		t.Fatalf("got %v, want ErrUnknownPlatform", err)
	}
}

func newPuller(repo *fakeSyncRepo, ad *fakeAdapter, ing *Ingestor) *Puller {
	return NewPuller(discardLog(), repo, adapter.NewRegistry(ad), ing, clock.NewFixed(dispatchNow), syncConfig())
}

func TestPullerRecoversMissedBooking(t *testing.T) {
	t.Parallel()

	booking := inboundBooking()
	ad := &fakeAdapter{platform: "testplat", pulled: []channel.InboundBooking{booking}}
	importer := &fakeImporter{}
	ing, repo := newIngestFixture(ad, importer)
	p := newPuller(repo, ad, ing)
	ctx := context.Background()

	if err := p.PullOnce(ctx); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(importer.created) != 1 {
		t.Fatalf("created %d bookings, want 1", len(importer.created))
	}

	// The next cycle sees the same feed entry again; the dedup row
	// makes it a no-op.
	if err := p.PullOnce(ctx); err != nil {
		t.Fatalf("second pull: %v", err)
	}
	if len(importer.created) != 1 {
		t.Errorf("created %d bookings after second pull, want exactly 1", len(importer.created))
	}
	if ad.pulls != 2 {
		t.Errorf("pulled %d times, want 2", ad.pulls)
	}
}

func TestPullerConvergesWithWebhook(t *testing.T) {
	t.Parallel()

	booking := inboundBooking()
	ad := &fakeAdapter{platform: "testplat", parsed: booking, pulled: []channel.InboundBooking{booking}}
	importer := &fakeImporter{}
	ing, repo := newIngestFixture(ad, importer)
	p := newPuller(repo, ad, ing)
	ctx := context.Background()

	// Webhook lands first, then the feed pull sees the same booking.
	if _, err := ing.Ingest(ctx, "testplat", []byte(`{}`), "sig"); err != nil {
		t.Fatalf("webhook ingest: %v", err)
	}
	if err := p.PullOnce(ctx); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(importer.created) != 1 {
		t.Errorf("created %d bookings, want exactly 1", len(importer.created))
	}
}

func TestPullerSkipsInactiveConnections(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{platform: "testplat", pulled: []channel.InboundBooking{inboundBooking()}}
	importer := &fakeImporter{}
	repo := newFakeSyncRepo()
	repo.addConnection(channel.Connection{Platform: "testplat", Active: false})
	ing := NewIngestor(discardLog(), repo, adapter.NewRegistry(ad), importer, clock.NewFixed(dispatchNow))
	p := newPuller(repo, ad, ing)

	if err := p.PullOnce(context.Background()); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if ad.pulls != 0 {
		t.Errorf("pulled %d times for an inactive connection, want 0", ad.pulls)
	}
	if len(importer.created) != 0 {
		t.Error("inactive connection must not import bookings")
	}
}

func TestIngestResolveConflictFlow(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{platform: "testplat", parsed: inboundBooking()}
	importer := &fakeImporter{createErr: &inventory.OverlapError{
		ResourceID:         uuid.New(),
		ConflictingEntryID: uuid.New(),
		ConflictingSource:  inventory.SourceManual,
	}}
	ing, repo := newIngestFixture(ad, importer)
	ctx := context.Background()

	_, _ = ing.Ingest(ctx, "testplat", []byte(`{}`), "sig")

	op := NewOperator(discardLog(), repo, clock.NewFixed(dispatchNow))
	open, err := op.OpenConflicts(ctx)
	if err != nil {
		t.Fatalf("open conflicts: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open conflicts = %d, want 1", len(open))
	}
}
