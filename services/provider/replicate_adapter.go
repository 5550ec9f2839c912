package provider

import (
	"context"
	"fmt"

	"style-analysis/internal/status"
	"style-analysis/services/provider/replicate"
)

// ReplicateAdapter adapts the Replicate client to the VisionProvider
// interface.
type ReplicateAdapter struct {
	replicate *replicate.Replicate
}

func NewReplicateAdapter(ctx context.Context, cfg *replicate.Config) (*ReplicateAdapter, error) {
	r, err := replicate.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create replicate provider: %w", err)
	}
	return &ReplicateAdapter{replicate: r}, nil
}

func (a *ReplicateAdapter) GetProvider() Provider {
	return ProviderReplicate
}

func (a *ReplicateAdapter) CreateAnalysis(ctx context.Context, req *AnalysisRequest) (string, error) {
	return a.replicate.CreateAnalysis(ctx, req.ImageURL, req.Prompt)
}

func (a *ReplicateAdapter) CheckAnalysis(ctx context.Context, ref string) (*status.AnalysisEvent, error) {
	return a.replicate.CheckAnalysis(ctx, ref)
}

// Forget drops a prediction from the fallback poller once its webhook
// delivered the result.
func (a *ReplicateAdapter) Forget(ref string) {
	a.replicate.Forget(ref)
}

func (a *ReplicateAdapter) SetResultChannel(ch chan *status.AnalysisEvent) {
	a.replicate.SetResultChannel(ch)
}

func (a *ReplicateAdapter) Close(ctx context.Context) error {
	return a.replicate.Close(ctx)
}
