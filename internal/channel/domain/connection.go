package domain

import (
	"time"

	"github.com/google/uuid"
)

// CircuitState mirrors the in-memory breaker for operator visibility.
// The breaker itself is authoritative; this column only reports it.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// Connection is one account on an external booking platform. Every
// outbound push and inbound webhook is scoped to a connection.
type Connection struct {
	ID            uuid.UUID
	Platform      string
	AccountRef    string
	APIKey        string
	WebhookSecret string
	Active        bool
	CircuitState  CircuitState
	RatePerMinute int
	CreatedAt     time.Time
}
