package application

import (
	"context"

	"github.com/google/uuid"

	"github.com/stayforge/reservation-system/internal/booking/domain"
)

type ConfirmOutcome string

const (
	ConfirmOutcomeConfirmed        ConfirmOutcome = "confirmed"
	ConfirmOutcomeAlreadyConfirmed ConfirmOutcome = "already_confirmed"
)

// Confirm promotes a reserved booking to confirmed exactly once. Two
// independent triggers race here: the synchronous client call after
// payment and the provider's asynchronous notification, in any order
// and with duplicates. The single conditional update is the
// serialization point; everything else is interpreting its result.
func (s *Service) Confirm(ctx context.Context, bookingID uuid.UUID, paymentRef string) (ConfirmOutcome, error) {
	b, err := s.repo.Get(ctx, bookingID)
	if err != nil {
		return "", err
	}

	if b.Status == domain.StatusReserved {
		ok, err := s.repo.ConfirmReserved(ctx, b.ID, b.Version, paymentRef)
		if err != nil {
			return "", err
		}
		if ok {
			if err := s.repo.DeleteHold(ctx, b.ID); err != nil {
				s.log.Error("hold delete failed", "booking_id", b.ID, "err", err)
			}
			s.log.Info("booking confirmed", "booking_id", b.ID, "payment_ref", paymentRef)
			return ConfirmOutcomeConfirmed, nil
		}
	}

	// Zero rows affected, or not reserved to begin with: re-read and
	// classify the race.
	b, err = s.repo.Get(ctx, bookingID)
	if err != nil {
		return "", err
	}
	if b.Status == domain.StatusConfirmed {
		return ConfirmOutcomeAlreadyConfirmed, nil
	}
	// A legitimate race, not a bug: e.g. the hold lapsed and the sweep
	// expired the booking before the confirmation arrived.
	return "", domain.ErrInvalidState
}

// ConfirmByIntent is the webhook-facing variant of Confirm: provider
// notifications carry the intent id, not the booking id.
func (s *Service) ConfirmByIntent(ctx context.Context, intentID, paymentRef string) (ConfirmOutcome, error) {
	b, err := s.repo.FindByPaymentIntent(ctx, intentID)
	if err != nil {
		return "", err
	}
	return s.Confirm(ctx, b.ID, paymentRef)
}

// FailByIntent routes a provider failure notification.
func (s *Service) FailByIntent(ctx context.Context, intentID, reason string) error {
	b, err := s.repo.FindByPaymentIntent(ctx, intentID)
	if err != nil {
		return err
	}
	return s.HandlePaymentFailure(ctx, b.ID, reason)
}

// HandlePaymentFailure cancels a reserved booking whose payment was
// declined and frees its range.
func (s *Service) HandlePaymentFailure(ctx context.Context, bookingID uuid.UUID, reason string) error {
	b, err := s.repo.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.Status != domain.StatusReserved {
		// Nothing to undo; the sweep or a prior notification got here
		// first.
		return nil
	}
	if _, err := s.Transition(ctx, b.ID, domain.StatusCancelled, domain.ActorSystem, reason); err != nil {
		return err
	}
	return nil
}
