package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	bookingapp "github.com/stayforge/reservation-system/internal/booking/application"
	bookingdom "github.com/stayforge/reservation-system/internal/booking/domain"
	"github.com/stayforge/reservation-system/internal/payment/domain"
)

const providerName = "payments"

// confirmCoordinator is the slice of the booking service notifications
// route to. Implemented by booking/application.Service.
type confirmCoordinator interface {
	ConfirmByIntent(ctx context.Context, intentID, paymentRef string) (bookingapp.ConfirmOutcome, error)
	FailByIntent(ctx context.Context, intentID, reason string) error
}

// dedupCache is the first-writer-wins notification cache. Implemented
// by idempotency.Store.
type dedupCache interface {
	NotificationKey(provider, notificationID string) string
	Seen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// WebhookHandler ingests asynchronous provider notifications. A
// notification may arrive before, after, instead of, or duplicated
// relative to the synchronous confirm call; the dedup cache plus the
// coordinator's conditional update make all orderings converge. The
// cache claim is released whenever the notification was not acted on,
// so the provider's redelivery gets a fresh attempt instead of being
// dropped as a duplicate.
type WebhookHandler struct {
	log      *slog.Logger
	bookings confirmCoordinator
	dedup    dedupCache
	tracer   trace.Tracer
}

func NewWebhookHandler(log *slog.Logger, bookings confirmCoordinator, dedup dedupCache) *WebhookHandler {
	return &WebhookHandler{
		log:      log,
		bookings: bookings,
		dedup:    dedup,
		tracer:   otel.Tracer("payment-webhook"),
	}
}

func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/webhooks/payments", h.handleNotification)
}

func (h *WebhookHandler) handleNotification(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "PaymentNotification")
	defer span.End()

	var n domain.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if n.NotificationID == "" || n.IntentID == "" {
		http.Error(w, "notification_id and intent_id are required", http.StatusBadRequest)
		return
	}

	key := h.dedup.NotificationKey(providerName, n.NotificationID)
	seen, err := h.dedup.Seen(ctx, key)
	if err != nil {
		h.log.Error("notification dedup check failed", "err", err)
		http.Error(w, "dedup unavailable", http.StatusServiceUnavailable)
		return
	}
	if seen {
		h.log.Info("duplicate payment notification skipped", "notification_id", n.NotificationID)
		writeOutcome(w, "duplicate")
		return
	}

	switch n.Type {
	case domain.NotificationSucceeded:
		outcome, err := h.bookings.ConfirmByIntent(ctx, n.IntentID, n.PaymentReference)
		switch {
		case err == nil:
			writeOutcome(w, string(outcome))
		case errors.Is(err, bookingdom.ErrInvalidState):
			// The hold lapsed before the notification arrived. Ack the
			// delivery; the money side is reconciled by the provider's
			// own cancel/refund flow.
			h.log.Warn("payment notification for non-reserved booking",
				"intent_id", n.IntentID, "notification_id", n.NotificationID)
			writeOutcome(w, "invalid_state")
		case errors.Is(err, bookingdom.ErrBookingNotFound):
			// The intent may not be linked yet; Reserve writes it after
			// the transition commits. Let the provider retry.
			h.releaseClaim(ctx, key)
			http.Error(w, "unknown intent", http.StatusNotFound)
		default:
			h.log.Error("notification confirm failed", "intent_id", n.IntentID, "err", err)
			h.releaseClaim(ctx, key)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	case domain.NotificationFailed:
		if err := h.bookings.FailByIntent(ctx, n.IntentID, "payment failed: "+n.Reason); err != nil {
			h.releaseClaim(ctx, key)
			if errors.Is(err, bookingdom.ErrBookingNotFound) {
				http.Error(w, "unknown intent", http.StatusNotFound)
				return
			}
			h.log.Error("notification failure handling errored", "intent_id", n.IntentID, "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeOutcome(w, "cancelled")
	default:
		h.releaseClaim(ctx, key)
		http.Error(w, "unknown notification type", http.StatusBadRequest)
	}
}

func (h *WebhookHandler) releaseClaim(ctx context.Context, key string) {
	if err := h.dedup.Forget(ctx, key); err != nil {
		h.log.Error("notification dedup release failed", "key", key, "err", err)
	}
}

func writeOutcome(w http.ResponseWriter, outcome string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"outcome": outcome})
}
