package status

import (
	"errors"
	"time"
)

var (
	ErrDuplicateEntry        = errors.New("queue: duplicate entry id")
	ErrInsufficientCredits   = errors.New("credits: insufficient balance")
	ErrModerationRejected    = errors.New("moderation: content rejected")
	ErrProviderUnavailable   = errors.New("provider: vision provider unavailable")
	ErrAnalysisNotFound      = errors.New("analysis: analysis not found")
	ErrAnalysisNotCancelable = errors.New("analysis: analysis is not cancelable")
)

// AnalysisEvent is an async completion event pushed by a vision provider
// into the channel registered via SetResultChannel.
type AnalysisEvent struct {
	ProviderRef string    `json:"provider_ref"`
	Status      string    `json:"status"` // succeeded, failed
	Output      string    `json:"output,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
