package models

import (
	"time"
)

// Tier is a subscription level determining concurrency allowance.
type Tier string

const (
	TierFree     Tier = "free"
	TierLite     Tier = "lite"
	TierStandard Tier = "standard"
)

// MaxConcurrentForTier maps a tier to the maximum number of analyses a user
// of that tier may have processing at once. Unknown tiers are treated as
// free, never as unlimited.
func MaxConcurrentForTier(tier Tier) int {
	switch tier {
	case TierStandard:
		return 10
	case TierLite:
		return 3
	default:
		return 1
	}
}

// ParseTier normalizes a stored tier value, falling back to free.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierLite:
		return TierLite
	case TierStandard:
		return TierStandard
	default:
		return TierFree
	}
}

type AnalysisStatus string

const (
	StatusPending    AnalysisStatus = "pending"
	StatusProcessing AnalysisStatus = "processing"
	StatusCompleted  AnalysisStatus = "completed"
	StatusFailed     AnalysisStatus = "failed"
)

// IsTerminal reports whether the status allows no further transitions.
func (s AnalysisStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// QueueEntry is one live (pending or processing) analysis job in the
// in-memory queue. Terminal entries are removed by the completion and sweep
// paths, never kept.
type QueueEntry struct {
	ID       int64          `json:"id"`
	UserID   string         `json:"user_id"`
	RecordID string         `json:"record_id,omitempty"` // persisted analyses record
	Status   AnalysisStatus `json:"status"`
	IsQueued bool           `json:"is_queued"`

	// QueuePosition is the 1-based rank among this user's own queued
	// entries at insertion time; 0 once admitted.
	QueuePosition        int `json:"queue_position,omitempty"`
	EstimatedWaitSeconds int `json:"estimated_wait_seconds,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	QueuedAt  *time.Time `json:"queued_at,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// AdmissionResult is the outcome of a concurrency-limit check.
type AdmissionResult struct {
	CanProcess           bool `json:"can_process"`
	QueuePosition        int  `json:"queue_position,omitempty"`
	EstimatedWaitSeconds int  `json:"estimated_wait_seconds"`
}

// QueueStatus is the read-only aggregation served to polling clients.
type QueueStatus struct {
	QueueLength          int `json:"queue_length"`
	UserPosition         int `json:"user_position"`
	EstimatedWaitSeconds int `json:"estimated_wait_seconds"`
	CurrentProcessing    int `json:"current_processing"`
}
