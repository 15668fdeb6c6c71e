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

	"github.com/stayforge/reservation-system/internal/booking/application"
	"github.com/stayforge/reservation-system/internal/booking/domain"
	inventory "github.com/stayforge/reservation-system/internal/inventory/domain"
)

const dateLayout = "2006-01-02"

type Handler struct {
	log      *slog.Logger
	service  *application.Service
	validate *validator.Validate
	tracer   trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
		tracer:   otel.Tracer("booking-http"),
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/bookings", h.createBooking)
	r.Get("/bookings/{id}", h.getBooking)
	r.Post("/bookings/{id}/reserve", h.reserve)
	r.Post("/bookings/{id}/confirm", h.confirm)
	r.Post("/bookings/{id}/transition", h.transition)
}

type createBookingReq struct {
	ResourceID  string `json:"resource_id" validate:"required,uuid"`
	Start       string `json:"start" validate:"required"`
	End         string `json:"end" validate:"required"`
	GuestName   string `json:"guest_name" validate:"required"`
	GuestEmail  string `json:"guest_email" validate:"required,email"`
	Guests      int    `json:"guests" validate:"required,min=1"`
	AmountCents int64  `json:"amount_cents" validate:"required,min=0"`
	Currency    string `json:"currency" validate:"required,len=3"`
	Inquiry     bool   `json:"inquiry"`
	// Staff may create already-paid bookings that occupy immediately.
	Confirmed bool `json:"confirmed"`
}

func (h *Handler) createBooking(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateBooking")
	defer span.End()

	var req createBookingReq
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

	in := application.CreateInput{
		ResourceID:  uuid.MustParse(req.ResourceID),
		Range:       rng,
		GuestName:   req.GuestName,
		GuestEmail:  req.GuestEmail,
		Guests:      req.Guests,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Inquiry:     req.Inquiry,
	}

	var b domain.Booking
	if req.Confirmed {
		b, err = h.service.CreateConfirmed(ctx, in, inventory.SourceManual, nil)
	} else {
		b, err = h.service.CreateDirect(ctx, in)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	h.writeBooking(w, b)
}

func (h *Handler) getBooking(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetBooking")
	defer span.End()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return
	}
	b, err := h.service.Get(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeBooking(w, b)
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ReserveBooking")
	defer span.End()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return
	}
	res, err := h.service.Reserve(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"booking_id":    res.Booking.ID,
		"status":        res.Booking.Status,
		"hold_expires":  res.HoldExpires,
		"client_secret": res.ClientSecret,
	})
}

type confirmReq struct {
	PaymentReference string `json:"payment_reference" validate:"required"`
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ConfirmBooking")
	defer span.End()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return
	}
	var req confirmReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	outcome, err := h.service.Confirm(ctx, id, req.PaymentReference)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"outcome": outcome})
}

type transitionReq struct {
	To     string `json:"to" validate:"required"`
	Actor  string `json:"actor" validate:"required,oneof=guest staff system channel"`
	Reason string `json:"reason"`
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "TransitionBooking")
	defer span.End()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return
	}
	var req transitionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b, err := h.service.Transition(ctx, id, domain.Status(req.To), domain.Actor(req.Actor), req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeBooking(w, b)
}

func (h *Handler) writeBooking(w http.ResponseWriter, b domain.Booking) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":            b.ID,
		"resource_id":   b.ResourceID,
		"start":         b.Range.Start.Format(dateLayout),
		"end":           b.Range.End.Format(dateLayout),
		"guest_name":    b.GuestName,
		"guests":        b.Guests,
		"amount_cents":  b.AmountCents,
		"currency":      b.Currency,
		"status":        b.Status,
		"payment_state": b.PaymentState,
		"source":        b.Source,
		"version":       b.Version,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var overlap *inventory.OverlapError
	var invalid *domain.InvalidTransitionError
	switch {
	case errors.As(err, &overlap):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":                "dates unavailable",
			"conflicting_entry_id": overlap.ConflictingEntryID,
			"conflicting_source":   overlap.ConflictingSource,
		})
	case errors.As(err, &invalid):
		http.Error(w, invalid.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrVersionConflict):
		http.Error(w, "booking changed concurrently, refetch and retry", http.StatusConflict)
	case errors.Is(err, domain.ErrInvalidState):
		http.Error(w, "booking can no longer be confirmed, restart the reservation", http.StatusConflict)
	case errors.Is(err, domain.ErrBookingNotFound), errors.Is(err, inventory.ErrResourceNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, application.ErrTooManyGuests),
		errors.Is(err, application.ErrStayTooShort),
		errors.Is(err, inventory.ErrEmptyRange):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.log.Error("booking request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func parseRange(from, to string) (inventory.Range, error) {
	start, err := time.Parse(dateLayout, from)
	if err != nil {
		return inventory.Range{}, errors.New("invalid start date, want YYYY-MM-DD")
	}
	end, err := time.Parse(dateLayout, to)
	if err != nil {
		return inventory.Range{}, errors.New("invalid end date, want YYYY-MM-DD")
	}
	return inventory.Range{Start: start.UTC(), End: end.UTC()}, nil
}
