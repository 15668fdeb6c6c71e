package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/stayforge/reservation-system/internal/booking/domain"
	"github.com/stayforge/reservation-system/pkg/clock"
)

const sweepBatchSize = 100

// Sweeper expires reservation holds whose payment never arrived. Safe
// to re-run, and safe to run concurrently with confirmations: the
// guarded transition re-checks the booking is still reserved, so a
// hold processed twice or confirmed mid-sweep is a no-op.
type Sweeper struct {
	log      *slog.Logger
	svc      *Service
	clock    clock.Clock
	interval time.Duration
}

func NewSweeper(log *slog.Logger, svc *Service, clk clock.Clock, interval time.Duration) *Sweeper {
	return &Sweeper{log: log, svc: svc, clock: clk, interval: interval}
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("hold sweeper stopping")
			return nil
		case <-t.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.log.Error("hold sweep failed", "err", err)
			}
		}
	}
}

// SweepOnce expires every due hold currently visible.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	now := s.clock.Now()
	holds, err := s.svc.repo.ExpiredHolds(ctx, now, sweepBatchSize)
	if err != nil {
		return err
	}

	for _, hold := range holds {
		if err := s.expire(ctx, hold); err != nil {
			s.log.Error("hold expiry failed", "booking_id", hold.BookingID, "err", err)
		}
	}
	return nil
}

func (s *Sweeper) expire(ctx context.Context, hold domain.Hold) error {
	b, err := s.svc.repo.Get(ctx, hold.BookingID)
	if err != nil {
		return err
	}
	if b.Status != domain.StatusReserved || b.PaymentState == domain.PaymentPaid {
		// Confirmed (or otherwise moved on) since the listing; just
		// drop the leftover hold.
		return s.svc.repo.DeleteHold(ctx, hold.BookingID)
	}

	_, err = s.svc.Transition(ctx, b.ID, domain.StatusExpired, domain.ActorSystem, "hold expired")
	if err != nil {
		var invalid *domain.InvalidTransitionError
		if errors.Is(err, domain.ErrVersionConflict) || errors.As(err, &invalid) {
			// A confirmation beat us to it; the next sweep cleans up
			// whatever remains.
			return nil
		}
		return err
	}
	s.log.Info("hold expired", "booking_id", b.ID)
	return nil
}
