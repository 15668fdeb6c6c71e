package adapter

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/stayforge/reservation-system/internal/channel/domain"
)

// Roomgrid integrates the RoomGrid marketplace. Its calendar API takes
// a PUT per date range, and webhooks authenticate with a shared token
// header rather than a body signature.
type Roomgrid struct {
	baseURL string
	http    *http.Client
}

func NewRoomgrid(baseURL string, timeout time.Duration) *Roomgrid {
	return &Roomgrid{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (r *Roomgrid) Platform() string { return "roomgrid" }

func (r *Roomgrid) SignatureHeader() string { return "X-Roomgrid-Token" }

type roomgridCalendar struct {
	PropertyRef string `json:"property_ref"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Status      string `json:"status"`
}

func (r *Roomgrid) PushAvailability(ctx context.Context, conn domain.Connection, u AvailabilityUpdate) error {
	status := "open"
	if u.Occupied {
		status = "closed"
	}
	body, err := json.Marshal(roomgridCalendar{
		PropertyRef: u.ResourceID.String(),
		StartDate:   u.Start.Format("2006-01-02"),
		EndDate:     u.End.Format("2006-01-02"),
		Status:      status,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/accounts/%s/calendar", r.baseURL, conn.AccountRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", conn.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("roomgrid push failed: status %d: %s", resp.StatusCode, msg)
	}
	return nil
}

func (r *Roomgrid) PullBookings(ctx context.Context, conn domain.Connection, since time.Time) ([]domain.InboundBooking, error) {
	url := fmt.Sprintf("%s/api/accounts/%s/bookings?from=%s",
		r.baseURL, conn.AccountRef, since.UTC().Format("2006-01-02"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", conn.APIKey)

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("roomgrid pull failed: status %d: %s", resp.StatusCode, msg)
	}

	var feed struct {
		Bookings []roomgridBooking `json:"bookings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("parse roomgrid feed: %w", err)
	}
	out := make([]domain.InboundBooking, 0, len(feed.Bookings))
	for _, b := range feed.Bookings {
		inbound, err := r.toInbound(b)
		if err != nil {
			return nil, err
		}
		out = append(out, inbound)
	}
	return out, nil
}

func (r *Roomgrid) VerifySignature(conn domain.Connection, _ []byte, signature string) error {
	if subtle.ConstantTimeCompare([]byte(conn.WebhookSecret), []byte(signature)) != 1 {
		return domain.ErrBadSignature
	}
	return nil
}

type roomgridBooking struct {
	BookingRef  string `json:"booking_ref"`
	PropertyRef string `json:"property_ref"`
	Arrival     string `json:"arrival"`
	Departure   string `json:"departure"`
	Lead        struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"lead"`
	Pax      int    `json:"pax"`
	Amount   int64  `json:"amount_cents"`
	Currency string `json:"currency"`
}

func (r *Roomgrid) ParseBooking(body []byte) (domain.InboundBooking, error) {
	var b roomgridBooking
	if err := json.Unmarshal(body, &b); err != nil {
		return domain.InboundBooking{}, fmt.Errorf("parse roomgrid booking: %w", err)
	}
	return r.toInbound(b)
}

func (r *Roomgrid) toInbound(b roomgridBooking) (domain.InboundBooking, error) {
	resourceID, err := uuid.Parse(b.PropertyRef)
	if err != nil {
		return domain.InboundBooking{}, fmt.Errorf("parse roomgrid property ref: %w", err)
	}
	start, err := time.Parse("2006-01-02", b.Arrival)
	if err != nil {
		return domain.InboundBooking{}, fmt.Errorf("parse roomgrid arrival: %w", err)
	}
	end, err := time.Parse("2006-01-02", b.Departure)
	if err != nil {
		return domain.InboundBooking{}, fmt.Errorf("parse roomgrid departure: %w", err)
	}
	return domain.InboundBooking{
		ExternalID:  b.BookingRef,
		ResourceID:  resourceID,
		Start:       start,
		End:         end,
		GuestName:   b.Lead.Name,
		GuestEmail:  b.Lead.Email,
		Guests:      b.Pax,
		AmountCents: b.Amount,
		Currency:    b.Currency,
	}, nil
}
