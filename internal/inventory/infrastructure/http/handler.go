package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/stayforge/reservation-system/internal/inventory/application"
	"github.com/stayforge/reservation-system/internal/inventory/domain"
)

const dateLayout = "2006-01-02"

type Handler struct {
	log      *slog.Logger
	ledger   *application.Ledger
	validate *validator.Validate
	tracer   trace.Tracer
}

func NewHandler(log *slog.Logger, ledger *application.Ledger) *Handler {
	return &Handler{
		log:      log,
		ledger:   ledger,
		validate: validator.New(),
		tracer:   otel.Tracer("inventory-http"),
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/resources", h.createResource)
	r.Get("/resources/{id}/availability", h.availability)
	r.Post("/blocks", h.createBlock)
	r.Delete("/blocks/{id}", h.releaseBlock)
}

type createResourceReq struct {
	Name          string `json:"name" validate:"required"`
	MaxGuests     int    `json:"max_guests" validate:"required,min=1"`
	MinStayNights int    `json:"min_stay_nights" validate:"min=0"`
}

func (h *Handler) createResource(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateResource")
	defer span.End()

	var req createResourceReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.MinStayNights == 0 {
		req.MinStayNights = 1
	}

	res, err := h.ledger.CreateResource(ctx, req.Name, req.MaxGuests, req.MinStayNights)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(res)
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetAvailability")
	defer span.End()

	resourceID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid resource id", http.StatusBadRequest)
		return
	}
	rng, err := parseRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	days, err := h.ledger.Availability(ctx, resourceID, rng)
	if err != nil {
		h.writeError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"resource_id": resourceID, "days": days})
}

type createBlockReq struct {
	ResourceID string `json:"resource_id" validate:"required,uuid"`
	Start      string `json:"start" validate:"required"`
	End        string `json:"end" validate:"required"`
	Reason     string `json:"reason"`
}

func (h *Handler) createBlock(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateBlock")
	defer span.End()

	var req createBlockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rng, err := parseRange(req.Start, req.End)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry, err := h.ledger.OccupyBlock(ctx, uuid.MustParse(req.ResourceID), rng, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"entry_id": entry.ID})
}

func (h *Handler) releaseBlock(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ReleaseBlock")
	defer span.End()

	entryID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid entry id", http.StatusBadRequest)
		return
	}
	if err := h.ledger.Release(ctx, entryID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var overlap *domain.OverlapError
	switch {
	case errors.As(err, &overlap):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":                "dates unavailable",
			"conflicting_entry_id": overlap.ConflictingEntryID,
			"conflicting_source":   overlap.ConflictingSource,
		})
	case errors.Is(err, domain.ErrEmptyRange):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrResourceNotFound), errors.Is(err, domain.ErrEntryNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		h.log.Error("inventory request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func parseRange(from, to string) (domain.Range, error) {
	start, err := time.Parse(dateLayout, from)
	if err != nil {
		return domain.Range{}, errors.New("invalid from date, want YYYY-MM-DD")
	}
	end, err := time.Parse(dateLayout, to)
	if err != nil {
		return domain.Range{}, errors.New("invalid to date, want YYYY-MM-DD")
	}
	rng := domain.Range{Start: start.UTC(), End: end.UTC()}
	if err := rng.Validate(); err != nil {
		return domain.Range{}, err
	}
	return rng, nil
}
