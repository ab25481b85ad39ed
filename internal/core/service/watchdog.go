package service

import (
	"time"

	"github.com/TeneoProtocolAI/walletscan/internal/core/domain"
)

// DefaultHeartbeatThreshold is how long a processing job may go without a
// heartbeat before it is considered stalled.
const DefaultHeartbeatThreshold = 120 * time.Second

// HeartbeatPolicy evaluates job liveness.
type HeartbeatPolicy struct {
	Threshold time.Duration
}

// DefaultHeartbeatPolicy returns the policy with the default threshold.
func DefaultHeartbeatPolicy() HeartbeatPolicy {
	return HeartbeatPolicy{Threshold: DefaultHeartbeatThreshold}
}

// ShouldRestart reports whether a processing job has gone silent for longer
// than the threshold. A job without any heartbeat never qualifies.
func (p HeartbeatPolicy) ShouldRestart(status domain.JobStatus, lastHeartbeat *time.Time, now time.Time) bool {
	if status != domain.StatusProcessing || lastHeartbeat == nil {
		return false
	}
	threshold := p.Threshold
	if threshold <= 0 {
		threshold = DefaultHeartbeatThreshold
	}
	return now.Sub(*lastHeartbeat) > threshold
}

// ShouldRestart evaluates the default policy.
func ShouldRestart(status domain.JobStatus, lastHeartbeat *time.Time, now time.Time) bool {
	return DefaultHeartbeatPolicy().ShouldRestart(status, lastHeartbeat, now)
}
