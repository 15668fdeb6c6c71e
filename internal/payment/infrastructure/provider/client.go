package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/stayforge/reservation-system/internal/booking/application"
	"github.com/stayforge/reservation-system/internal/config"
	"github.com/stayforge/reservation-system/internal/payment/domain"
)

// Client implements booking/application.PaymentClient over the
// provider's HTTP API.
type Client struct {
	log     *slog.Logger
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(log *slog.Logger, cfg config.PaymentConfig) *Client {
	return &Client{
		log:     log,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

type createIntentReq struct {
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	BookingID   string `json:"booking_id"`
}

type createIntentResp struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

func (c *Client) CreateIntent(ctx context.Context, amountCents int64, currency string, bookingID uuid.UUID) (application.PaymentIntent, error) {
	body, err := json.Marshal(createIntentReq{
		AmountCents: amountCents,
		Currency:    currency,
		BookingID:   bookingID.String(),
	})
	if err != nil {
		return application.PaymentIntent{}, err
	}

	var resp createIntentResp
	if err := c.do(ctx, http.MethodPost, "/v1/intents", body, &resp); err != nil {
		return application.PaymentIntent{}, err
	}
	return application.PaymentIntent{ID: resp.ID, ClientSecret: resp.ClientSecret}, nil
}

func (c *Client) CancelIntent(ctx context.Context, intentID string) error {
	return c.do(ctx, http.MethodPost, "/v1/intents/"+intentID+"/cancel", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Network failures are retryable by the caller; state in the
		// ledger is never mutated on this path.
		return &domain.ProviderError{Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &domain.ProviderError{
			Status:    resp.StatusCode,
			Message:   string(msg),
			Retryable: resp.StatusCode >= 500,
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}
