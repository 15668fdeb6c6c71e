package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	bookingapp "github.com/stayforge/reservation-system/internal/booking/application"
	bookingdom "github.com/stayforge/reservation-system/internal/booking/domain"
	"github.com/stayforge/reservation-system/internal/payment/domain"
)

type fakeCoordinator struct {
	outcome      bookingapp.ConfirmOutcome
	confirmErr   error
	confirmCalls int
	failErr      error
	failCalls    int
}

func (f *fakeCoordinator) ConfirmByIntent(_ context.Context, _, _ string) (bookingapp.ConfirmOutcome, error) {
	f.confirmCalls++
	if f.confirmErr != nil {
		return "", f.confirmErr
	}
	return f.outcome, nil
}

func (f *fakeCoordinator) FailByIntent(_ context.Context, _, _ string) error {
	f.failCalls++
	return f.failErr
}

type fakeDedup struct {
	seen map[string]bool
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{seen: make(map[string]bool)}
}

func (f *fakeDedup) NotificationKey(provider, notificationID string) string {
	return "notif:" + provider + ":" + notificationID
}

func (f *fakeDedup) Seen(_ context.Context, key string) (bool, error) {
	if f.seen[key] {
		return true, nil
	}
	f.seen[key] = true
	return false, nil
}

func (f *fakeDedup) Forget(_ context.Context, key string) error {
	delete(f.seen, key)
	return nil
}

func newWebhookFixture(coord *fakeCoordinator) (*chi.Mux, *fakeDedup) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dedup := newFakeDedup()
	r := chi.NewRouter()
	NewWebhookHandler(log, coord, dedup).Register(r)
	return r, dedup
}

func postNotification(t *testing.T, r http.Handler, n domain.Notification) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(n)
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
	r.ServeHTTP(rec, req)
	return rec
}

func succeededNotification() domain.Notification {
	return domain.Notification{
		NotificationID: "evt_1",
		IntentID:       "pi_1",
		Type:           domain.NotificationSucceeded,
	}
}

func TestWebhookRetryAfterUnknownIntent(t *testing.T) {
	t.Parallel()

	// The notification races Reserve's intent write and loses.
	coord := &fakeCoordinator{confirmErr: bookingdom.ErrBookingNotFound}
	r, _ := newWebhookFixture(coord)

	rec := postNotification(t, r, succeededNotification())
	if rec.Code != http.StatusNotFound {
		t.Fatalf("first delivery status = %d, want 404", rec.Code)
	}

	// The intent is linked by the time the provider redelivers; the
	// same notification id must now confirm, not land as a duplicate.
	coord.confirmErr = nil
	coord.outcome = bookingapp.ConfirmOutcomeConfirmed

	rec = postNotification(t, r, succeededNotification())
	if rec.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d, want 200", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["outcome"] != "confirmed" {
		t.Errorf("redelivery outcome = %q, want confirmed", resp["outcome"])
	}
	if coord.confirmCalls != 2 {
		t.Errorf("confirm called %d times, want 2", coord.confirmCalls)
	}
}

func TestWebhookRetryAfterInternalError(t *testing.T) {
	t.Parallel()

	coord := &fakeCoordinator{confirmErr: errors.New("db down")}
	r, dedup := newWebhookFixture(coord)

	rec := postNotification(t, r, succeededNotification())
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("first delivery status = %d, want 500", rec.Code)
	}
	if len(dedup.seen) != 0 {
		t.Error("failed delivery must release the notification claim")
	}

	coord.confirmErr = nil
	coord.outcome = bookingapp.ConfirmOutcomeConfirmed

	rec = postNotification(t, r, succeededNotification())
	if rec.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d, want 200", rec.Code)
	}
}

func TestWebhookDuplicateAfterSuccess(t *testing.T) {
	t.Parallel()

	coord := &fakeCoordinator{outcome: bookingapp.ConfirmOutcomeConfirmed}
	r, _ := newWebhookFixture(coord)

	if rec := postNotification(t, r, succeededNotification()); rec.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d, want 200", rec.Code)
	}
	rec := postNotification(t, r, succeededNotification())
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate status = %d, want 200", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["outcome"] != "duplicate" {
		t.Errorf("outcome = %q, want duplicate", resp["outcome"])
	}
	if coord.confirmCalls != 1 {
		t.Errorf("confirm called %d times, want exactly 1", coord.confirmCalls)
	}
}

func TestWebhookFailureRetryAfterError(t *testing.T) {
	t.Parallel()

	coord := &fakeCoordinator{failErr: errors.New("db down")}
	r, _ := newWebhookFixture(coord)

	n := domain.Notification{
		NotificationID: "evt_2",
		IntentID:       "pi_2",
		Type:           domain.NotificationFailed,
		Reason:         "card declined",
	}
	if rec := postNotification(t, r, n); rec.Code != http.StatusInternalServerError {
		t.Fatalf("first delivery status = %d, want 500", rec.Code)
	}

	coord.failErr = nil
	rec := postNotification(t, r, n)
	if rec.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d, want 200", rec.Code)
	}
	if coord.failCalls != 2 {
		t.Errorf("failure handler called %d times, want 2", coord.failCalls)
	}
}
