package provider

import (
	"context"

	"style-analysis/internal/status"
)

// Provider identifies a vision backend.
type Provider string

const (
	ProviderReplicate Provider = "replicate"
	ProviderDashscope Provider = "dashscope"
)

// AnalysisRequest is a generic style-analysis request handed to a provider.
type AnalysisRequest struct {
	RequestID  string `json:"request_id"`
	ImageURL   string `json:"image_url"`
	Prompt     string `json:"prompt,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

// VisionProvider is the common interface for all vision backends.
type VisionProvider interface {
	// GetProvider returns the provider type.
	GetProvider() Provider

	// CreateAnalysis submits an analysis and returns the provider-side
	// reference id.
	CreateAnalysis(ctx context.Context, req *AnalysisRequest) (string, error)

	// CheckAnalysis fetches the current state of a submitted analysis.
	CheckAnalysis(ctx context.Context, ref string) (*status.AnalysisEvent, error)

	// SetResultChannel registers the channel receiving async completion
	// events.
	SetResultChannel(ch chan *status.AnalysisEvent)

	// Close gracefully closes provider connections.
	Close(ctx context.Context) error
}
