package application

import (
	"context"
	"log/slog"

	channel "github.com/stayforge/reservation-system/internal/channel/domain"
	"github.com/stayforge/reservation-system/pkg/clock"
)

const operatorListLimit = 200

// Operator is the human-facing surface over the sync machinery:
// inspect dead letters and conflicts, requeue, resolve.
type Operator struct {
	log   *slog.Logger
	repo  SyncRepository
	clock clock.Clock
}

func NewOperator(log *slog.Logger, repo SyncRepository, clk clock.Clock) *Operator {
	return &Operator{log: log, repo: repo, clock: clk}
}

func (o *Operator) Connections(ctx context.Context) ([]channel.Connection, error) {
	return o.repo.ListConnections(ctx)
}

func (o *Operator) DeadLetters(ctx context.Context) ([]channel.SyncAttempt, error) {
	return o.repo.DeadLetters(ctx, operatorListLimit)
}

// Requeue puts a dead-lettered attempt back in the pending queue with a
// fresh retry budget.
func (o *Operator) Requeue(ctx context.Context, attemptID int64) error {
	if err := o.repo.RequeueDeadLetter(ctx, attemptID, o.clock.Now()); err != nil {
		return err
	}
	o.log.Info("dead letter requeued", "attempt_id", attemptID)
	return nil
}

func (o *Operator) OpenConflicts(ctx context.Context) ([]channel.Conflict, error) {
	return o.repo.OpenConflicts(ctx, operatorListLimit)
}

// ResolveConflict closes a conflict after an operator has reconciled
// the two sources out of band. It never mutates inventory itself.
func (o *Operator) ResolveConflict(ctx context.Context, conflictID int64, resolvedBy string) error {
	if err := o.repo.ResolveConflict(ctx, conflictID, resolvedBy, o.clock.Now()); err != nil {
		return err
	}
	o.log.Info("reconciliation conflict resolved", "conflict_id", conflictID, "by", resolvedBy)
	return nil
}
