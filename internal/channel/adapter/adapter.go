package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stayforge/reservation-system/internal/channel/domain"
)

// AvailabilityUpdate is the platform-neutral shape of one ledger
// mutation; each adapter translates it to its platform's wire format.
type AvailabilityUpdate struct {
	ResourceID uuid.UUID
	Start      time.Time
	End        time.Time
	// Occupied is true for an occupy event, false for a release.
	Occupied bool
}

// Adapter is the per-platform capability surface. Implementations are
// stateless; connection credentials arrive with every call.
type Adapter interface {
	Platform() string

	// PushAvailability delivers one update to the platform. Errors are
	// retried by the dispatcher under the connection's policy.
	PushAvailability(ctx context.Context, conn domain.Connection, update AvailabilityUpdate) error

	// PullBookings fetches bookings created or changed since the given
	// instant. The backstop for webhooks the platform failed to
	// deliver; pulled entries share the webhook path's dedup gate.
	PullBookings(ctx context.Context, conn domain.Connection, since time.Time) ([]domain.InboundBooking, error)

	// SignatureHeader names the HTTP header the platform signs its
	// webhooks with.
	SignatureHeader() string

	// VerifySignature authenticates an inbound webhook body.
	VerifySignature(conn domain.Connection, body []byte, signature string) error

	// ParseBooking normalizes an inbound webhook body.
	ParseBooking(body []byte) (domain.InboundBooking, error)
}

// Registry resolves adapters by platform name. It is populated once at
// startup and read-only afterwards.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Platform()] = a
	}
	return &Registry{adapters: m}
}

func (r *Registry) Get(platform string) (Adapter, error) {
	a, ok := r.adapters[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownPlatform, platform)
	}
	return a, nil
}

func (r *Registry) Platforms() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
