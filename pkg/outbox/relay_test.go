package outbox

import (
	"testing"
	"time"
)

func TestRetryPolicyBackoff(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{BaseDelay: 2 * time.Second, MaxDelay: time.Minute}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 32 * time.Second},
		{6, time.Minute}, // 64s capped
		{10, time.Minute},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	// Attempts below one collapse to the base delay.
	if got := p.Backoff(0); got != 2*time.Second {
		t.Errorf("Backoff(0) = %v, want base delay", got)
	}
}
