package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/stayforge/reservation-system/internal/channel/adapter"
	channel "github.com/stayforge/reservation-system/internal/channel/domain"
	"github.com/stayforge/reservation-system/internal/config"
	"github.com/stayforge/reservation-system/pkg/clock"
)

// Puller periodically fetches each platform's booking feed. Webhooks
// are the fast path; the pull is the backstop for deliveries the
// platform dropped. Both feed the same import gate, so whichever
// arrives first wins and the other is a no-op.
type Puller struct {
	log      *slog.Logger
	repo     SyncRepository
	adapters *adapter.Registry
	ingestor *Ingestor
	clock    clock.Clock
	interval time.Duration
	window   time.Duration
}

func NewPuller(log *slog.Logger, repo SyncRepository, adapters *adapter.Registry, ingestor *Ingestor, clk clock.Clock, cfg config.SyncConfig) *Puller {
	return &Puller{
		log:      log,
		repo:     repo,
		adapters: adapters,
		ingestor: ingestor,
		clock:    clk,
		interval: cfg.PullInterval,
		window:   cfg.PullWindow,
	}
}

func (p *Puller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info("feed puller started", "interval", p.interval, "window", p.window)
	for {
		select {
		case <-ctx.Done():
			p.log.Info("feed puller stopped")
			return nil
		case <-ticker.C:
			if err := p.PullOnce(ctx); err != nil {
				p.log.Error("feed pull failed", "err", err)
			}
		}
	}
}

// PullOnce fetches every active connection's feed. Per-connection
// failures are logged and skipped; one broken platform must not stall
// the others.
func (p *Puller) PullOnce(ctx context.Context) error {
	conns, err := p.repo.ListConnections(ctx)
	if err != nil {
		return err
	}
	since := p.clock.Now().Add(-p.window)

	for _, conn := range conns {
		if !conn.Active {
			continue
		}
		ad, err := p.adapters.Get(conn.Platform)
		if err != nil {
			p.log.Warn("no adapter for connection", "connection_id", conn.ID, "platform", conn.Platform)
			continue
		}
		bookings, err := ad.PullBookings(ctx, conn, since)
		if err != nil {
			p.log.Error("feed pull failed", "connection_id", conn.ID, "platform", conn.Platform, "err", err)
			continue
		}
		p.importPulled(ctx, conn, bookings)
	}
	return nil
}

func (p *Puller) importPulled(ctx context.Context, conn channel.Connection, bookings []channel.InboundBooking) {
	for _, inbound := range bookings {
		outcome, err := p.ingestor.importInbound(ctx, conn, inbound)
		switch {
		case errors.Is(err, channel.ErrReconciliationConflict):
			// Recorded for the operator; nothing more to do here.
		case err != nil:
			p.log.Error("pulled booking import failed",
				"connection_id", conn.ID, "external_id", inbound.ExternalID, "err", err)
		case outcome == IngestOutcomeImported:
			p.log.Info("missed webhook recovered by pull",
				"connection_id", conn.ID, "external_id", inbound.ExternalID)
		}
	}
}
