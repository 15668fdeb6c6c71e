package domain

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		from  Status
		to    Status
		actor Actor
		want  bool
	}{
		{"inquiry approved", StatusInquiry, StatusPending, ActorStaff, true},
		{"inquiry declined", StatusInquiry, StatusDeclined, ActorStaff, true},
		{"pending reserved", StatusPending, StatusReserved, ActorGuest, true},
		{"pending declined", StatusPending, StatusDeclined, ActorStaff, true},
		{"reserved confirmed", StatusReserved, StatusConfirmed, ActorSystem, true},
		{"reserved expired", StatusReserved, StatusExpired, ActorSystem, true},
		{"confirmed checked in", StatusConfirmed, StatusCheckedIn, ActorStaff, true},
		{"checked in checked out", StatusCheckedIn, StatusCheckedOut, ActorStaff, true},
		{"checked in no-show", StatusCheckedIn, StatusNoShow, ActorStaff, true},

		{"guest cancels pending", StatusPending, StatusCancelled, ActorGuest, true},
		{"guest cancels reserved", StatusReserved, StatusCancelled, ActorGuest, true},
		{"guest cancels confirmed", StatusConfirmed, StatusCancelled, ActorGuest, true},
		{"guest cannot cancel checked in", StatusCheckedIn, StatusCancelled, ActorGuest, false},
		{"staff cancels checked in", StatusCheckedIn, StatusCancelled, ActorStaff, true},
		{"system cancels checked in", StatusCheckedIn, StatusCancelled, ActorSystem, true},

		{"skip pending to confirmed", StatusPending, StatusConfirmed, ActorStaff, false},
		{"skip inquiry to reserved", StatusInquiry, StatusReserved, ActorGuest, false},
		{"backwards confirmed to reserved", StatusConfirmed, StatusReserved, ActorStaff, false},

		{"terminal cancelled", StatusCancelled, StatusPending, ActorStaff, false},
		{"terminal stays terminal even for staff cancel", StatusExpired, StatusCancelled, ActorStaff, false},
		{"terminal checked out", StatusCheckedOut, StatusCheckedIn, ActorSystem, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := CanTransition(tt.from, tt.to, tt.actor); got != tt.want {
				t.Errorf("CanTransition(%s, %s, %s) = %v, want %v",
					tt.from, tt.to, tt.actor, got, tt.want)
			}
		})
	}
}

func TestStatusClassification(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{StatusCheckedOut, StatusCancelled, StatusDeclined, StatusNoShow, StatusExpired} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusInquiry, StatusPending, StatusReserved, StatusConfirmed, StatusCheckedIn} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}

	for _, s := range []Status{StatusCancelled, StatusDeclined, StatusExpired} {
		if !s.FreesInventory() {
			t.Errorf("%s should free inventory", s)
		}
	}
	// No-show guests are still charged; the range stays occupied.
	if StatusNoShow.FreesInventory() {
		t.Error("no_show must not free inventory")
	}
	if StatusCheckedOut.FreesInventory() {
		t.Error("checked_out must not free inventory")
	}
}

func TestHoldExpired(t *testing.T) {
	t.Parallel()

	exp := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	h := Hold{ExpiresAt: exp}

	if h.Expired(exp.Add(-time.Second)) {
		t.Error("hold expired before its deadline")
	}
	if !h.Expired(exp) {
		t.Error("hold not expired at its deadline")
	}
	if !h.Expired(exp.Add(time.Hour)) {
		t.Error("hold not expired after its deadline")
	}
}
