package config

import (
	"testing"
	"time"
)

func TestOffsetDedupTTLIndependent(t *testing.T) {
	t.Setenv("NOTIFICATION_DEDUP_TTL", "1h")

	cfg := Load()
	if cfg.NotificationTTL != time.Hour {
		t.Errorf("NotificationTTL = %v, want 1h", cfg.NotificationTTL)
	}
	// Tuning the notification window must not move the offset cache.
	if cfg.DedupTTL != 24*time.Hour {
		t.Errorf("DedupTTL = %v, want the 24h default", cfg.DedupTTL)
	}

	t.Setenv("OFFSET_DEDUP_TTL", "30m")
	if got := Load().DedupTTL; got != 30*time.Minute {
		t.Errorf("DedupTTL = %v, want 30m", got)
	}
}

func TestPullDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Sync.PullInterval != 5*time.Minute {
		t.Errorf("PullInterval = %v, want 5m", cfg.Sync.PullInterval)
	}
	if cfg.Sync.PullWindow != 24*time.Hour {
		t.Errorf("PullWindow = %v, want 24h", cfg.Sync.PullWindow)
	}
}
