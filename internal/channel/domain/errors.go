package domain

import "errors"

var (
	ErrConnectionNotFound = errors.New("channel connection not found")
	ErrAttemptNotFound    = errors.New("sync attempt not found")
	ErrConflictNotFound   = errors.New("reconciliation conflict not found")
	ErrUnknownPlatform    = errors.New("no adapter registered for platform")
	ErrBadSignature       = errors.New("webhook signature verification failed")

	// ErrReconciliationConflict marks an inbound booking parked for
	// operator review. It is never resolved automatically.
	ErrReconciliationConflict = errors.New("inbound booking conflicts with existing inventory")
)
