package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stayforge/reservation-system/internal/booking/domain"
	inventory "github.com/stayforge/reservation-system/internal/inventory/domain"
	"github.com/stayforge/reservation-system/pkg/clock"
)

var (
	ErrTooManyGuests = errors.New("guest count exceeds resource capacity")
	ErrStayTooShort  = errors.New("stay is shorter than the resource minimum")
)

type Service struct {
	log      *slog.Logger
	repo     BookingRepository
	ledger   InventoryLedger
	payments PaymentClient
	clock    clock.Clock
	holdTTL  time.Duration
}

func NewService(log *slog.Logger, repo BookingRepository, ledger InventoryLedger, payments PaymentClient, clk clock.Clock, holdTTL time.Duration) *Service {
	return &Service{
		log:      log,
		repo:     repo,
		ledger:   ledger,
		payments: payments,
		clock:    clk,
		holdTTL:  holdTTL,
	}
}

type CreateInput struct {
	ResourceID  uuid.UUID
	Range       inventory.Range
	GuestName   string
	GuestEmail  string
	Guests      int
	AmountCents int64
	Currency    string
	// Inquiry bookings need host approval before they can be paid.
	Inquiry bool
}

// CreateDirect records a guest-initiated booking in inquiry or pending
// state. No inventory is occupied yet; that happens on Reserve.
func (s *Service) CreateDirect(ctx context.Context, in CreateInput) (domain.Booking, error) {
	if err := s.validateStay(ctx, in); err != nil {
		return domain.Booking{}, err
	}

	now := s.clock.Now()
	status := domain.StatusPending
	if in.Inquiry {
		status = domain.StatusInquiry
	}
	b := domain.Booking{
		ID:           uuid.New(),
		ResourceID:   in.ResourceID,
		Range:        in.Range,
		GuestName:    in.GuestName,
		GuestEmail:   in.GuestEmail,
		Guests:       in.Guests,
		AmountCents:  in.AmountCents,
		Currency:     in.Currency,
		Status:       status,
		PaymentState: domain.PaymentUnpaid,
		Source:       inventory.SourceDirect,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return domain.Booking{}, err
	}
	s.log.Info("booking created", "booking_id", b.ID, "status", b.Status, "source", b.Source)
	return b, nil
}

// CreateConfirmed records an already-paid booking (staff-created or
// channel-imported) and occupies its range immediately. The overlap
// check runs before the booking row exists, so a conflict leaves no
// trace behind.
func (s *Service) CreateConfirmed(ctx context.Context, in CreateInput, source string, externalID *string) (domain.Booking, error) {
	if err := s.validateStay(ctx, in); err != nil {
		return domain.Booking{}, err
	}

	now := s.clock.Now()
	b := domain.Booking{
		ID:           uuid.New(),
		ResourceID:   in.ResourceID,
		Range:        in.Range,
		GuestName:    in.GuestName,
		GuestEmail:   in.GuestEmail,
		Guests:       in.Guests,
		AmountCents:  in.AmountCents,
		Currency:     in.Currency,
		Status:       domain.StatusConfirmed,
		PaymentState: domain.PaymentPaid,
		Source:       source,
		ExternalID:   externalID,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := s.ledger.OccupyBooking(ctx, b.ResourceID, b.Range, source, b.ID); err != nil {
		return domain.Booking{}, err
	}
	if err := s.repo.Create(ctx, b); err != nil {
		if relErr := s.ledger.ReleaseByBooking(ctx, b.ID); relErr != nil {
			s.log.Error("release after failed create errored", "booking_id", b.ID, "err", relErr)
		}
		return domain.Booking{}, err
	}
	s.log.Info("booking created", "booking_id", b.ID, "status", b.Status, "source", b.Source)
	return b, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return s.repo.Get(ctx, id)
}

// ReserveResult carries what the client needs to collect payment.
type ReserveResult struct {
	Booking      domain.Booking
	HoldExpires  time.Time
	ClientSecret string
}

// Reserve moves a pending booking to reserved: occupy the range, then
// take the guarded transition and record the hold in one write. The
// provider call happens last, outside any lock.
func (s *Service) Reserve(ctx context.Context, id uuid.UUID) (ReserveResult, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return ReserveResult{}, err
	}
	if b.Status != domain.StatusPending {
		return ReserveResult{}, &domain.InvalidTransitionError{From: b.Status, To: domain.StatusReserved}
	}

	if _, err := s.ledger.OccupyBooking(ctx, b.ResourceID, b.Range, b.Source, b.ID); err != nil {
		return ReserveResult{}, err
	}

	now := s.clock.Now()
	t := domain.Transition{
		BookingID: b.ID,
		From:      domain.StatusPending,
		To:        domain.StatusReserved,
		Actor:     domain.ActorGuest,
		Reason:    "reservation started",
		At:        now,
	}
	hold := domain.Hold{BookingID: b.ID, ExpiresAt: now.Add(s.holdTTL), CreatedAt: now}
	if err := s.repo.ReserveWithHold(ctx, t, b.Version, hold); err != nil {
		// Lost the race or the write failed; either way nothing was
		// persisted, so free the range again.
		if relErr := s.ledger.ReleaseByBooking(ctx, b.ID); relErr != nil {
			s.log.Error("release after failed reserve errored", "booking_id", b.ID, "err", relErr)
		}
		return ReserveResult{}, err
	}

	intent, err := s.payments.CreateIntent(ctx, b.AmountCents, b.Currency, b.ID)
	if err != nil {
		// The hold sweep will expire this reservation if the client
		// cannot retry; the booking stays reserved until then.
		s.log.Error("payment intent creation failed", "booking_id", b.ID, "err", err)
		return ReserveResult{}, err
	}
	if err := s.repo.SetPaymentIntent(ctx, b.ID, intent.ID); err != nil {
		return ReserveResult{}, err
	}

	b, err = s.repo.Get(ctx, b.ID)
	if err != nil {
		return ReserveResult{}, err
	}
	s.log.Info("booking reserved", "booking_id", b.ID, "hold_expires", hold.ExpiresAt)
	return ReserveResult{Booking: b, HoldExpires: hold.ExpiresAt, ClientSecret: intent.ClientSecret}, nil
}

// Transition applies a caller-requested status change through the
// state machine, releasing inventory and holds where the target status
// requires it.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to domain.Status, actor domain.Actor, reason string) (domain.Booking, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}
	if !domain.CanTransition(b.Status, to, actor) {
		return domain.Booking{}, &domain.InvalidTransitionError{From: b.Status, To: to}
	}

	t := domain.Transition{
		BookingID: b.ID,
		From:      b.Status,
		To:        to,
		Actor:     actor,
		Reason:    reason,
		At:        s.clock.Now(),
	}
	if err := s.repo.UpdateStatus(ctx, t, b.Version); err != nil {
		return domain.Booking{}, err
	}

	if b.Status.PreConfirmation() {
		if err := s.repo.DeleteHold(ctx, b.ID); err != nil {
			s.log.Error("hold delete failed", "booking_id", b.ID, "err", err)
		}
	}
	if to.FreesInventory() {
		if err := s.ledger.ReleaseByBooking(ctx, b.ID); err != nil {
			s.log.Error("inventory release failed", "booking_id", b.ID, "err", err)
		}
		s.cancelOutstandingIntent(ctx, b)
	}

	return s.repo.Get(ctx, b.ID)
}

// cancelOutstandingIntent voids an intent that never reached paid.
// Best-effort: the provider's own expiry is the backstop.
func (s *Service) cancelOutstandingIntent(ctx context.Context, b domain.Booking) {
	if b.PaymentIntentID == "" || b.PaymentState == domain.PaymentPaid {
		return
	}
	if err := s.payments.CancelIntent(ctx, b.PaymentIntentID); err != nil {
		s.log.Error("payment intent cancel failed",
			"booking_id", b.ID, "intent_id", b.PaymentIntentID, "err", err)
	}
}

func (s *Service) validateStay(ctx context.Context, in CreateInput) error {
	if err := in.Range.Validate(); err != nil {
		return err
	}
	res, err := s.ledger.GetResource(ctx, in.ResourceID)
	if err != nil {
		return err
	}
	if in.Guests < 1 || in.Guests > res.MaxGuests {
		return fmt.Errorf("%w: %d > %d", ErrTooManyGuests, in.Guests, res.MaxGuests)
	}
	if in.Range.Nights() < res.MinStayNights {
		return fmt.Errorf("%w: %d nights, minimum %d", ErrStayTooShort, in.Range.Nights(), res.MinStayNights)
	}
	return nil
}
