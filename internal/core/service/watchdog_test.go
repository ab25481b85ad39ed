package service

import (
	"testing"
	"time"

	"github.com/TeneoProtocolAI/walletscan/internal/core/domain"
)

func TestShouldRestart(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ago := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}

	tests := []struct {
		name      string
		status    domain.JobStatus
		heartbeat *time.Time
		expected  bool
	}{
		{"processing stale", domain.StatusProcessing, ago(121 * time.Second), true},
		{"processing fresh", domain.StatusProcessing, ago(119 * time.Second), false},
		{"processing exactly at threshold", domain.StatusProcessing, ago(120 * time.Second), false},
		{"completed long ago", domain.StatusCompleted, ago(1000 * time.Second), false},
		{"failed long ago", domain.StatusFailed, ago(1000 * time.Second), false},
		{"pending long ago", domain.StatusPending, ago(1000 * time.Second), false},
		{"processing without heartbeat", domain.StatusProcessing, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldRestart(tt.status, tt.heartbeat, now); got != tt.expected {
				t.Errorf("ShouldRestart() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestHeartbeatPolicy_CustomThreshold(t *testing.T) {
	now := time.Now()
	hb := now.Add(-11 * time.Second)
	policy := HeartbeatPolicy{Threshold: 10 * time.Second}

	if !policy.ShouldRestart(domain.StatusProcessing, &hb, now) {
		t.Error("expected restart with 10s threshold and 11s silence")
	}

	policy.Threshold = 0
	if policy.ShouldRestart(domain.StatusProcessing, &hb, now) {
		t.Error("zero threshold should fall back to the default")
	}
}
