package application

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/stayforge/reservation-system/internal/channel/adapter"
	channel "github.com/stayforge/reservation-system/internal/channel/domain"
	"github.com/stayforge/reservation-system/internal/config"
	inventory "github.com/stayforge/reservation-system/internal/inventory/domain"
	"github.com/stayforge/reservation-system/pkg/clock"
	"github.com/stayforge/reservation-system/pkg/outbox"
)

// Dispatcher drains due sync attempts and pushes them through each
// connection's adapter. Reliability is layered per connection: a token
// bucket paces calls, a circuit breaker sheds them while the platform
// is down, and failures reschedule with capped exponential backoff
// until the attempt dead-letters. One connection's outage never stalls
// another's queue.
type Dispatcher struct {
	log      *slog.Logger
	repo     SyncRepository
	adapters *adapter.Registry
	clock    clock.Clock
	cfg      config.SyncConfig
	retry    outbox.RetryPolicy

	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
	breakers map[uuid.UUID]*gobreaker.CircuitBreaker
}

func NewDispatcher(log *slog.Logger, repo SyncRepository, adapters *adapter.Registry, clk clock.Clock, cfg config.SyncConfig) *Dispatcher {
	return &Dispatcher{
		log:      log,
		repo:     repo,
		adapters: adapters,
		clock:    clk,
		cfg:      cfg,
		retry:    outbox.RetryPolicy{BaseDelay: cfg.BaseBackoff, MaxDelay: cfg.MaxBackoff},
		limiters: make(map[uuid.UUID]*rate.Limiter),
		breakers: make(map[uuid.UUID]*gobreaker.CircuitBreaker),
	}
}

func (d *Dispatcher) Run(ctx context.Context) error {
	t := time.NewTicker(d.cfg.DispatchInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("sync dispatcher stopping")
			return nil
		case <-t.C:
			if err := d.DispatchDue(ctx); err != nil {
				d.log.Error("dispatch pass failed", "err", err)
			}
		}
	}
}

// DispatchDue processes one batch of due attempts. Attempts abandoned
// mid-flight by a crash simply come due again; every outcome is
// persisted before the next attempt is picked up.
func (d *Dispatcher) DispatchDue(ctx context.Context) error {
	attempts, err := d.repo.DueAttempts(ctx, d.clock.Now(), d.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, a := range attempts {
		if err := d.dispatch(ctx, a); err != nil {
			d.log.Error("attempt dispatch errored", "attempt_id", a.ID, "err", err)
		}
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, a channel.SyncAttempt) error {
	conn, err := d.repo.GetConnection(ctx, a.ConnectionID)
	if err != nil {
		return err
	}
	if !conn.Active {
		// Suspended connections keep their backlog; re-activation picks
		// it up where it stopped.
		return d.repo.Defer(ctx, a.ID, d.clock.Now().Add(d.cfg.MaxBackoff))
	}

	if wait := d.limiter(conn).Reserve(); wait.Delay() > 0 {
		wait.Cancel()
		return d.repo.Defer(ctx, a.ID, d.clock.Now().Add(wait.Delay()))
	}

	update, err := d.buildUpdate(a)
	if err != nil {
		// Undecodable payloads never succeed; park them for an operator.
		_, dlErr := d.repo.MarkDeadLettered(ctx, a.ID, err.Error(), d.clock.Now())
		return dlErr
	}

	ad, err := d.adapters.Get(conn.Platform)
	if err != nil {
		_, dlErr := d.repo.MarkDeadLettered(ctx, a.ID, err.Error(), d.clock.Now())
		return dlErr
	}

	_, err = d.breaker(conn).Execute(func() (any, error) {
		return nil, ad.PushAvailability(ctx, conn, update)
	})
	switch {
	case err == nil:
		d.log.Info("sync attempt delivered",
			"attempt_id", a.ID, "connection_id", conn.ID, "platform", conn.Platform)
		return d.repo.MarkDelivered(ctx, a.ID)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		// Short-circuited, not attempted: defer past the cooldown
		// without burning a retry.
		return d.repo.Defer(ctx, a.ID, d.clock.Now().Add(d.cfg.BreakerCooldown))
	default:
		return d.recordFailure(ctx, a, err)
	}
}

func (d *Dispatcher) recordFailure(ctx context.Context, a channel.SyncAttempt, pushErr error) error {
	attempt := a.AttemptCount + 1
	if attempt >= d.cfg.MaxAttempts {
		moved, err := d.repo.MarkDeadLettered(ctx, a.ID, pushErr.Error(), d.clock.Now())
		if err != nil {
			return err
		}
		if moved {
			d.log.Warn("sync attempt dead-lettered",
				"attempt_id", a.ID, "connection_id", a.ConnectionID,
				"attempts", attempt, "err", pushErr)
		}
		return nil
	}

	next := d.clock.Now().Add(d.retry.Backoff(attempt))
	d.log.Warn("sync attempt failed",
		"attempt_id", a.ID, "connection_id", a.ConnectionID,
		"attempt", attempt, "next_attempt_at", next, "err", pushErr)
	return d.repo.MarkFailed(ctx, a.ID, pushErr.Error(), next)
}

func (d *Dispatcher) buildUpdate(a channel.SyncAttempt) (adapter.AvailabilityUpdate, error) {
	var ev inventory.EntryEvent
	if err := json.Unmarshal(a.Payload, &ev); err != nil {
		return adapter.AvailabilityUpdate{}, err
	}
	return adapter.AvailabilityUpdate{
		ResourceID: ev.ResourceID,
		Start:      ev.Start,
		End:        ev.End,
		Occupied:   a.EventType == inventory.EventEntryOccupied,
	}, nil
}

func (d *Dispatcher) limiter(conn channel.Connection) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	lim, ok := d.limiters[conn.ID]
	if !ok {
		perMinute := conn.RatePerMinute
		if perMinute < 1 {
			perMinute = 1
		}
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
		d.limiters[conn.ID] = lim
	}
	return lim
}

func (d *Dispatcher) breaker(conn channel.Connection) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.breakers[conn.ID]
	if !ok {
		connID := conn.ID
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        conn.Platform + "/" + connID.String(),
			MaxRequests: 1,
			Timeout:     d.cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= d.cfg.BreakerThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				d.log.Warn("circuit state changed", "breaker", name, "from", from, "to", to)
				// The column is operator visibility only; the breaker in
				// memory stays authoritative.
				if err := d.repo.SetCircuitState(context.Background(), connID, circuitState(to)); err != nil {
					d.log.Error("circuit state persist failed", "connection_id", connID, "err", err)
				}
			},
		})
		d.breakers[conn.ID] = cb
	}
	return cb
}

func circuitState(s gobreaker.State) channel.CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return channel.CircuitOpen
	case gobreaker.StateHalfOpen:
		return channel.CircuitHalfOpen
	default:
		return channel.CircuitClosed
	}
}
