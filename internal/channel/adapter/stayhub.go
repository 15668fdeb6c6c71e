package adapter

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/stayforge/reservation-system/internal/channel/domain"
)

const stayhubDateLayout = "2006-01-02"

// Stayhub talks to the StayHub calendar API. Outbound pushes go to the
// v2 availability endpoint; inbound webhooks are authenticated with an
// HMAC-SHA256 signature over the raw body.
type Stayhub struct {
	baseURL string
	http    *http.Client
}

func NewStayhub(baseURL string, timeout time.Duration) *Stayhub {
	return &Stayhub{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (s *Stayhub) Platform() string { return "stayhub" }

func (s *Stayhub) SignatureHeader() string { return "X-Stayhub-Signature" }

type stayhubPush struct {
	AccountRef string `json:"account_ref"`
	ListingID  string `json:"listing_id"`
	From       string `json:"from"`
	To         string `json:"to"`
	Available  bool   `json:"available"`
}

func (s *Stayhub) PushAvailability(ctx context.Context, conn domain.Connection, u AvailabilityUpdate) error {
	body, err := json.Marshal(stayhubPush{
		AccountRef: conn.AccountRef,
		ListingID:  u.ResourceID.String(),
		From:       u.Start.Format(stayhubDateLayout),
		To:         u.End.Format(stayhubDateLayout),
		Available:  !u.Occupied,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v2/availability", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+conn.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("stayhub push failed: status %d: %s", resp.StatusCode, msg)
	}
	return nil
}

func (s *Stayhub) PullBookings(ctx context.Context, conn domain.Connection, since time.Time) ([]domain.InboundBooking, error) {
	url := fmt.Sprintf("%s/v2/reservations?since=%s", s.baseURL, since.UTC().Format(time.RFC3339))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+conn.APIKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("stayhub pull failed: status %d: %s", resp.StatusCode, msg)
	}

	var feed struct {
		Reservations []stayhubBooking `json:"reservations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("parse stayhub feed: %w", err)
	}
	out := make([]domain.InboundBooking, 0, len(feed.Reservations))
	for _, b := range feed.Reservations {
		inbound, err := s.toInbound(b)
		if err != nil {
			return nil, err
		}
		out = append(out, inbound)
	}
	return out, nil
}

func (s *Stayhub) VerifySignature(conn domain.Connection, body []byte, signature string) error {
	mac := hmac.New(sha256.New, []byte(conn.WebhookSecret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return domain.ErrBadSignature
	}
	return nil
}

type stayhubBooking struct {
	ReservationID string `json:"reservation_id"`
	ListingID     string `json:"listing_id"`
	CheckIn       string `json:"check_in"`
	CheckOut      string `json:"check_out"`
	GuestName     string `json:"guest_name"`
	GuestEmail    string `json:"guest_email"`
	GuestCount    int    `json:"guest_count"`
	TotalCents    int64  `json:"total_cents"`
	Currency      string `json:"currency"`
}

func (s *Stayhub) ParseBooking(body []byte) (domain.InboundBooking, error) {
	var b stayhubBooking
	if err := json.Unmarshal(body, &b); err != nil {
		return domain.InboundBooking{}, fmt.Errorf("parse stayhub booking: %w", err)
	}
	return s.toInbound(b)
}

func (s *Stayhub) toInbound(b stayhubBooking) (domain.InboundBooking, error) {
	resourceID, err := uuid.Parse(b.ListingID)
	if err != nil {
		return domain.InboundBooking{}, fmt.Errorf("parse stayhub listing id: %w", err)
	}
	start, err := time.Parse(stayhubDateLayout, b.CheckIn)
	if err != nil {
		return domain.InboundBooking{}, fmt.Errorf("parse stayhub check_in: %w", err)
	}
	end, err := time.Parse(stayhubDateLayout, b.CheckOut)
	if err != nil {
		return domain.InboundBooking{}, fmt.Errorf("parse stayhub check_out: %w", err)
	}
	return domain.InboundBooking{
		ExternalID:  b.ReservationID,
		ResourceID:  resourceID,
		Start:       start,
		End:         end,
		GuestName:   b.GuestName,
		GuestEmail:  b.GuestEmail,
		Guests:      b.GuestCount,
		AmountCents: b.TotalCents,
		Currency:    b.Currency,
	}, nil
}
