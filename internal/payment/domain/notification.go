package domain

import "fmt"

type NotificationType string

const (
	NotificationSucceeded NotificationType = "payment_succeeded"
	NotificationFailed    NotificationType = "payment_failed"
)

// Notification is one asynchronous message from the payment provider.
// NotificationID is provider-assigned and stable across redeliveries;
// it keys the dedup cache.
type Notification struct {
	NotificationID   string           `json:"notification_id"`
	IntentID         string           `json:"intent_id"`
	Type             NotificationType `json:"type"`
	PaymentReference string           `json:"payment_reference"`
	Reason           string           `json:"reason"`
}

// ProviderError distinguishes retryable transport/provider failures
// from terminal declines. Callers may retry the former; they must not
// retry the latter.
type ProviderError struct {
	Status    int
	Message   string
	Retryable bool
}

func (e *ProviderError) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("payment provider error (%s, status %d): %s", kind, e.Status, e.Message)
}
