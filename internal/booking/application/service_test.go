package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stayforge/reservation-system/internal/booking/domain"
	inventory "github.com/stayforge/reservation-system/internal/inventory/domain"
	"github.com/stayforge/reservation-system/pkg/clock"
)

type fakeBookingRepo struct {
	bookings map[uuid.UUID]*domain.Booking
	holds    map[uuid.UUID]domain.Hold
	audit    []domain.Transition

	createErr       error
	updateStatusErr error
	reserveErr      error
}

func newFakeBookingRepo() *fakeBookingRepo {
	return &fakeBookingRepo{
		bookings: make(map[uuid.UUID]*domain.Booking),
		holds:    make(map[uuid.UUID]domain.Hold),
	}
}

func (f *fakeBookingRepo) Create(_ context.Context, b domain.Booking) error {
	if f.createErr != nil {
		return f.createErr
	}
	stored := b
	f.bookings[b.ID] = &stored
	return nil
}

func (f *fakeBookingRepo) Get(_ context.Context, id uuid.UUID) (domain.Booking, error) {
	b, ok := f.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	return *b, nil
}

func (f *fakeBookingRepo) FindByPaymentIntent(_ context.Context, intentID string) (domain.Booking, error) {
	for _, b := range f.bookings {
		if b.PaymentIntentID == intentID {
			return *b, nil
		}
	}
	return domain.Booking{}, domain.ErrBookingNotFound
}

func (f *fakeBookingRepo) UpdateStatus(_ context.Context, t domain.Transition, version int64) error {
	if f.updateStatusErr != nil {
		return f.updateStatusErr
	}
	b, ok := f.bookings[t.BookingID]
	if !ok {
		return domain.ErrBookingNotFound
	}
	if b.Status != t.From || b.Version != version {
		return domain.ErrVersionConflict
	}
	b.Status = t.To
	b.Version++
	b.UpdatedAt = t.At
	f.audit = append(f.audit, t)
	return nil
}

func (f *fakeBookingRepo) ConfirmReserved(_ context.Context, id uuid.UUID, version int64, paymentRef string) (bool, error) {
	b, ok := f.bookings[id]
	if !ok {
		return false, domain.ErrBookingNotFound
	}
	if b.Status != domain.StatusReserved || b.Version != version {
		return false, nil
	}
	b.Status = domain.StatusConfirmed
	b.PaymentState = domain.PaymentPaid
	b.Version++
	f.audit = append(f.audit, domain.Transition{
		BookingID: id,
		From:      domain.StatusReserved,
		To:        domain.StatusConfirmed,
		Actor:     domain.ActorSystem,
		Reason:    "payment " + paymentRef,
	})
	return true, nil
}

func (f *fakeBookingRepo) SetPaymentIntent(_ context.Context, id uuid.UUID, intentID string) error {
	b, ok := f.bookings[id]
	if !ok {
		return domain.ErrBookingNotFound
	}
	b.PaymentIntentID = intentID
	return nil
}

func (f *fakeBookingRepo) ReserveWithHold(ctx context.Context, t domain.Transition, version int64, h domain.Hold) error {
	if f.reserveErr != nil {
		return f.reserveErr
	}
	if err := f.UpdateStatus(ctx, t, version); err != nil {
		return err
	}
	f.holds[h.BookingID] = h
	return nil
}

func (f *fakeBookingRepo) DeleteHold(_ context.Context, bookingID uuid.UUID) error {
	delete(f.holds, bookingID)
	return nil
}

func (f *fakeBookingRepo) ExpiredHolds(_ context.Context, now time.Time, limit int) ([]domain.Hold, error) {
	var out []domain.Hold
	for _, h := range f.holds {
		b, ok := f.bookings[h.BookingID]
		if !ok {
			continue
		}
		if h.Expired(now) && b.Status == domain.StatusReserved && b.PaymentState != domain.PaymentPaid {
			out = append(out, h)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeLedger struct {
	resource  inventory.Resource
	occupied  map[uuid.UUID]bool
	released  []uuid.UUID
	occupyErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		resource: inventory.Resource{ID: uuid.New(), Name: "cabin", MaxGuests: 4, MinStayNights: 2},
		occupied: make(map[uuid.UUID]bool),
	}
}

func (f *fakeLedger) OccupyBooking(_ context.Context, _ uuid.UUID, _ inventory.Range, _ string, bookingID uuid.UUID) (inventory.Entry, error) {
	if f.occupyErr != nil {
		return inventory.Entry{}, f.occupyErr
	}
	f.occupied[bookingID] = true
	return inventory.Entry{ID: uuid.New(), BookingID: &bookingID}, nil
}

func (f *fakeLedger) ReleaseByBooking(_ context.Context, bookingID uuid.UUID) error {
	delete(f.occupied, bookingID)
	f.released = append(f.released, bookingID)
	return nil
}

func (f *fakeLedger) GetResource(_ context.Context, id uuid.UUID) (inventory.Resource, error) {
	if id != f.resource.ID {
		return inventory.Resource{}, inventory.ErrResourceNotFound
	}
	return f.resource, nil
}

type fakePayments struct {
	created   int
	cancelled []string
	createErr error
}

func (f *fakePayments) CreateIntent(_ context.Context, _ int64, _ string, bookingID uuid.UUID) (PaymentIntent, error) {
	if f.createErr != nil {
		return PaymentIntent{}, f.createErr
	}
	f.created++
	return PaymentIntent{
		ID:           fmt.Sprintf("pi_%s_%d", bookingID, f.created),
		ClientSecret: "secret",
	}, nil
}

func (f *fakePayments) CancelIntent(_ context.Context, intentID string) error {
	f.cancelled = append(f.cancelled, intentID)
	return nil
}

type fixture struct {
	svc      *Service
	repo     *fakeBookingRepo
	ledger   *fakeLedger
	payments *fakePayments
	clock    clock.Clock
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture() *fixture {
	repo := newFakeBookingRepo()
	ledger := newFakeLedger()
	payments := &fakePayments{}
	clk := clock.NewFixed(testNow)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		svc:      NewService(log, repo, ledger, payments, clk, 30*time.Minute),
		repo:     repo,
		ledger:   ledger,
		payments: payments,
		clock:    clk,
	}
}

func (fx *fixture) input() CreateInput {
	return CreateInput{
		ResourceID: fx.ledger.resource.ID,
		Range: inventory.Range{
			Start: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC),
		},
		GuestName:   "Robin Meyer",
		GuestEmail:  "robin@example.com",
		Guests:      2,
		AmountCents: 42000,
		Currency:    "EUR",
	}
}

func (fx *fixture) pendingBooking(t *testing.T) domain.Booking {
	t.Helper()
	b, err := fx.svc.CreateDirect(context.Background(), fx.input())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return b
}

func (fx *fixture) reservedBooking(t *testing.T) domain.Booking {
	t.Helper()
	b := fx.pendingBooking(t)
	res, err := fx.svc.Reserve(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	return res.Booking
}

func TestCreateDirectValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*CreateInput)
		want   error
	}{
		{"too many guests", func(in *CreateInput) { in.Guests = 5 }, ErrTooManyGuests},
		{"zero guests", func(in *CreateInput) { in.Guests = 0 }, ErrTooManyGuests},
		{"below minimum stay", func(in *CreateInput) { in.Range.End = in.Range.Start.AddDate(0, 0, 1) }, ErrStayTooShort},
		{"empty range", func(in *CreateInput) { in.Range.End = in.Range.Start }, inventory.ErrEmptyRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fx := newFixture()
			in := fx.input()
			tt.mutate(&in)
			if _, err := fx.svc.CreateDirect(context.Background(), in); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCreateDirectDoesNotOccupy(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	b := fx.pendingBooking(t)

	if b.Status != domain.StatusPending {
		t.Errorf("status = %s, want pending", b.Status)
	}
	if len(fx.ledger.occupied) != 0 {
		t.Error("pending booking must not occupy inventory")
	}
}

func TestReserve(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	b := fx.pendingBooking(t)

	res, err := fx.svc.Reserve(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Booking.Status != domain.StatusReserved {
		t.Errorf("status = %s, want reserved", res.Booking.Status)
	}
	if !fx.ledger.occupied[b.ID] {
		t.Error("reserve must occupy inventory")
	}
	hold, ok := fx.repo.holds[b.ID]
	if !ok {
		t.Fatal("reserve must create a hold")
	}
	if want := testNow.Add(30 * time.Minute); !hold.ExpiresAt.Equal(want) {
		t.Errorf("hold expires %v, want %v", hold.ExpiresAt, want)
	}
	if res.ClientSecret == "" {
		t.Error("reserve must return the intent client secret")
	}
	if res.Booking.PaymentIntentID == "" {
		t.Error("reserve must persist the intent id")
	}
}

func TestReserveRejectsNonPending(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	b := fx.reservedBooking(t)

	_, err := fx.svc.Reserve(context.Background(), b.ID)
	var invalid *domain.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("got %v, want InvalidTransitionError", err)
	}
}

func TestReserveReleasesOnLostTransition(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	b := fx.pendingBooking(t)
	fx.repo.updateStatusErr = domain.ErrVersionConflict

	if _, err := fx.svc.Reserve(context.Background(), b.ID); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("got %v, want ErrVersionConflict", err)
	}
	if fx.ledger.occupied[b.ID] {
		t.Error("lost transition must release the occupied range")
	}
}

func TestReserveReleasesOnHoldWriteFailure(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	b := fx.pendingBooking(t)
	fx.repo.reserveErr = errors.New("hold insert failed")

	if _, err := fx.svc.Reserve(context.Background(), b.ID); err == nil {
		t.Fatal("expected reserve error")
	}
	if fx.ledger.occupied[b.ID] {
		t.Error("failed reserve must release the occupied range")
	}
	if fx.repo.bookings[b.ID].Status != domain.StatusPending {
		t.Error("booking must stay pending when the reserve write fails")
	}
	if _, ok := fx.repo.holds[b.ID]; ok {
		t.Error("no hold row may survive a failed reserve write")
	}
}

func TestReserveRejectsOverlap(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	b := fx.pendingBooking(t)
	fx.ledger.occupyErr = &inventory.OverlapError{ResourceID: fx.ledger.resource.ID}

	_, err := fx.svc.Reserve(context.Background(), b.ID)
	if !inventory.IsOverlap(err) {
		t.Fatalf("got %v, want OverlapError", err)
	}
	if fx.repo.bookings[b.ID].Status != domain.StatusPending {
		t.Error("booking must stay pending after an overlap")
	}
}

func TestConfirmExactlyOnce(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	b := fx.reservedBooking(t)
	ctx := context.Background()

	outcome, err := fx.svc.Confirm(ctx, b.ID, "ch_123")
	if err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if outcome != ConfirmOutcomeConfirmed {
		t.Errorf("first confirm outcome = %s, want confirmed", outcome)
	}
	if _, ok := fx.repo.holds[b.ID]; ok {
		t.Error("confirm must delete the hold")
	}

	// The duplicate trigger, e.g. webhook racing the client call.
	outcome, err = fx.svc.Confirm(ctx, b.ID, "ch_123")
	if err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if outcome != ConfirmOutcomeAlreadyConfirmed {
		t.Errorf("second confirm outcome = %s, want already_confirmed", outcome)
	}

	confirmations := 0
	for _, tr := range fx.repo.audit {
		if tr.To == domain.StatusConfirmed {
			confirmations++
		}
	}
	if confirmations != 1 {
		t.Errorf("recorded %d confirmations, want exactly 1", confirmations)
	}
}

func TestConfirmAfterExpiry(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	b := fx.reservedBooking(t)
	ctx := context.Background()

	if _, err := fx.svc.Transition(ctx, b.ID, domain.StatusExpired, domain.ActorSystem, "hold expired"); err != nil {
		t.Fatalf("expire: %v", err)
	}

	_, err := fx.svc.Confirm(ctx, b.ID, "ch_123")
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("got %v, want ErrInvalidState", err)
	}
}

func TestConfirmByIntent(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	b := fx.reservedBooking(t)

	outcome, err := fx.svc.ConfirmByIntent(context.Background(), fx.repo.bookings[b.ID].PaymentIntentID, "ch_999")
	if err != nil {
		t.Fatalf("confirm by intent: %v", err)
	}
	if outcome != ConfirmOutcomeConfirmed {
		t.Errorf("outcome = %s, want confirmed", outcome)
	}
}

func TestCancelReleasesInventoryAndIntent(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	b := fx.reservedBooking(t)

	if _, err := fx.svc.Transition(context.Background(), b.ID, domain.StatusCancelled, domain.ActorGuest, "changed plans"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if fx.ledger.occupied[b.ID] {
		t.Error("cancel must release inventory")
	}
	if len(fx.payments.cancelled) != 1 {
		t.Errorf("cancelled %d intents, want 1", len(fx.payments.cancelled))
	}
	if _, ok := fx.repo.holds[b.ID]; ok {
		t.Error("cancel must delete the hold")
	}
}

func TestHandlePaymentFailure(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	b := fx.reservedBooking(t)
	ctx := context.Background()

	if err := fx.svc.HandlePaymentFailure(ctx, b.ID, "card declined"); err != nil {
		t.Fatalf("failure handling: %v", err)
	}
	if got := fx.repo.bookings[b.ID].Status; got != domain.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got)
	}
	if fx.ledger.occupied[b.ID] {
		t.Error("declined payment must release inventory")
	}

	// Redelivered failure notification: booking is no longer reserved.
	if err := fx.svc.HandlePaymentFailure(ctx, b.ID, "card declined"); err != nil {
		t.Fatalf("duplicate failure handling must be a no-op: %v", err)
	}
}

func TestCreateConfirmedCompensatesOnCreateFailure(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	fx.repo.createErr = errors.New("insert failed")

	_, err := fx.svc.CreateConfirmed(context.Background(), fx.input(), "stayhub", strPtr("SH-1"))
	if err == nil {
		t.Fatal("expected create error")
	}
	if len(fx.ledger.released) != 1 {
		t.Error("failed create must release the occupied range")
	}
}

func TestSweeperExpiresDueHolds(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	b := fx.reservedBooking(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	// A clock past the hold deadline.
	late := clock.NewFixed(testNow.Add(time.Hour))
	sweeper := NewSweeper(log, fx.svc, late, time.Minute)

	if err := sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := fx.repo.bookings[b.ID].Status; got != domain.StatusExpired {
		t.Errorf("status = %s, want expired", got)
	}
	if fx.ledger.occupied[b.ID] {
		t.Error("expiry must release inventory")
	}
	if len(fx.payments.cancelled) != 1 {
		t.Errorf("cancelled %d intents, want 1", len(fx.payments.cancelled))
	}

	// Second sweep sees nothing to do.
	if err := sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	expirations := 0
	for _, tr := range fx.repo.audit {
		if tr.To == domain.StatusExpired {
			expirations++
		}
	}
	if expirations != 1 {
		t.Errorf("recorded %d expirations, want exactly 1", expirations)
	}
}

func TestSweeperLeavesLiveHolds(t *testing.T) {
	t.Parallel()

	fx := newFixture()
	b := fx.reservedBooking(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	sweeper := NewSweeper(log, fx.svc, clock.NewFixed(testNow.Add(10*time.Minute)), time.Minute)
	if err := sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := fx.repo.bookings[b.ID].Status; got != domain.StatusReserved {
		t.Errorf("status = %s, want reserved", got)
	}
}

func strPtr(s string) *string { return &s }
