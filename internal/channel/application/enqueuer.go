package application

import (
	"context"
	"log/slog"

	channel "github.com/stayforge/reservation-system/internal/channel/domain"
	inventory "github.com/stayforge/reservation-system/internal/inventory/domain"
	"github.com/stayforge/reservation-system/pkg/clock"
)

// Enqueuer fans one ledger mutation out to a sync attempt per active
// connection mapped to the resource. The conditional insert absorbs
// redelivered events, so this handler is safe under at-least-once
// consumption.
type Enqueuer struct {
	log   *slog.Logger
	repo  SyncRepository
	clock clock.Clock
}

func NewEnqueuer(log *slog.Logger, repo SyncRepository, clk clock.Clock) *Enqueuer {
	return &Enqueuer{log: log, repo: repo, clock: clk}
}

func (e *Enqueuer) HandleEntryEvent(ctx context.Context, eventType string, ev inventory.EntryEvent, payload []byte) error {
	conns, err := e.repo.ActiveConnectionsForResource(ctx, ev.ResourceID)
	if err != nil {
		return err
	}
	if len(conns) == 0 {
		return nil
	}

	now := e.clock.Now()
	for _, conn := range conns {
		inserted, err := e.repo.EnqueueAttempt(ctx, channel.SyncAttempt{
			ConnectionID:  conn.ID,
			EventID:       ev.EventID.String(),
			EventType:     eventType,
			ResourceID:    ev.ResourceID,
			Payload:       payload,
			Status:        channel.AttemptPending,
			NextAttemptAt: now,
			CreatedAt:     now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			e.log.Info("sync attempt already enqueued",
				"connection_id", conn.ID, "event_id", ev.EventID)
			continue
		}
		e.log.Info("sync attempt enqueued",
			"connection_id", conn.ID, "platform", conn.Platform,
			"event_id", ev.EventID, "resource_id", ev.ResourceID)
	}
	return nil
}
