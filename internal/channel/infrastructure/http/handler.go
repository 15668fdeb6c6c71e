package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	bookingapp "github.com/stayforge/reservation-system/internal/booking/application"
	"github.com/stayforge/reservation-system/internal/channel/adapter"
	"github.com/stayforge/reservation-system/internal/channel/application"
	"github.com/stayforge/reservation-system/internal/channel/domain"
	inventory "github.com/stayforge/reservation-system/internal/inventory/domain"
)

const maxWebhookBody = 1 << 20

// Handler exposes platform webhooks and the sync operator surface.
type Handler struct {
	log      *slog.Logger
	ingestor *application.Ingestor
	operator *application.Operator
	adapters *adapter.Registry
	validate *validator.Validate
	tracer   trace.Tracer
}

func NewHandler(log *slog.Logger, ingestor *application.Ingestor, operator *application.Operator, adapters *adapter.Registry) *Handler {
	return &Handler{
		log:      log,
		ingestor: ingestor,
		operator: operator,
		adapters: adapters,
		validate: validator.New(),
		tracer:   otel.Tracer("channel-http"),
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/webhooks/channels/{name}", h.channelWebhook)
	r.Get("/channels", h.listConnections)
	r.Get("/sync/dead-letters", h.listDeadLetters)
	r.Post("/sync/dead-letters/{id}/requeue", h.requeueDeadLetter)
	r.Get("/sync/conflicts", h.listConflicts)
	r.Post("/sync/conflicts/{id}/resolve", h.resolveConflict)
}

func (h *Handler) channelWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ChannelWebhook")
	defer span.End()

	platform := chi.URLParam(r, "name")
	ad, err := h.adapters.Get(platform)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	outcome, err := h.ingestor.Ingest(ctx, platform, body, r.Header.Get(ad.SignatureHeader()))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"outcome": outcome})
	case errors.Is(err, domain.ErrReconciliationConflict):
		// Acknowledge the delivery; the booking is parked as a conflict
		// and retrying the webhook will not change that.
		writeJSON(w, http.StatusOK, map[string]any{"outcome": outcome})
	case errors.Is(err, domain.ErrBadSignature):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, domain.ErrConnectionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, bookingapp.ErrTooManyGuests),
		errors.Is(err, bookingapp.ErrStayTooShort),
		errors.Is(err, inventory.ErrEmptyRange):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.log.Error("channel webhook failed", "platform", platform, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *Handler) listConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.operator.Connections(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(conns))
	for _, c := range conns {
		out = append(out, map[string]any{
			"id":              c.ID,
			"platform":        c.Platform,
			"account_ref":     c.AccountRef,
			"active":          c.Active,
			"circuit_state":   c.CircuitState,
			"rate_per_minute": c.RatePerMinute,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": out})
}

func (h *Handler) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.operator.DeadLetters(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, map[string]any{
			"id":               a.ID,
			"connection_id":    a.ConnectionID,
			"event_id":         a.EventID,
			"event_type":       a.EventType,
			"resource_id":      a.ResourceID,
			"attempt_count":    a.AttemptCount,
			"last_error":       a.LastError,
			"dead_lettered_at": a.DeadLetteredAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": out})
}

func (h *Handler) requeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid attempt id", http.StatusBadRequest)
		return
	}
	if err := h.operator.Requeue(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requeued": id})
}

func (h *Handler) listConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := h.operator.OpenConflicts(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, map[string]any{
			"id":                   c.ID,
			"resource_id":          c.ResourceID,
			"connection_id":        c.ConnectionID,
			"external_id":          c.ExternalID,
			"start":                c.Start,
			"end":                  c.End,
			"conflicting_entry_id": c.ConflictingEntryID,
			"conflicting_source":   c.ConflictingSource,
			"detail":               c.Detail,
			"created_at":           c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": out})
}

type resolveConflictReq struct {
	ResolvedBy string `json:"resolved_by" validate:"required"`
}

func (h *Handler) resolveConflict(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid conflict id", http.StatusBadRequest)
		return
	}
	var req resolveConflictReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.operator.ResolveConflict(r.Context(), id, req.ResolvedBy); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolved": id})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrAttemptNotFound),
		errors.Is(err, domain.ErrConflictNotFound),
		errors.Is(err, domain.ErrConnectionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		h.log.Error("sync operator request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
