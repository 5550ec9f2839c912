package provider

import (
	"context"
	"fmt"

	"style-analysis/internal/status"
	"style-analysis/services/provider/dashscope"
)

// DashscopeAdapter adapts the Dashscope client to the VisionProvider
// interface.
type DashscopeAdapter struct {
	dashscope *dashscope.Dashscope
}

func NewDashscopeAdapter(ctx context.Context, cfg *dashscope.Config) (*DashscopeAdapter, error) {
	d, err := dashscope.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dashscope provider: %w", err)
	}
	return &DashscopeAdapter{dashscope: d}, nil
}

func (a *DashscopeAdapter) GetProvider() Provider {
	return ProviderDashscope
}

func (a *DashscopeAdapter) CreateAnalysis(ctx context.Context, req *AnalysisRequest) (string, error) {
	return a.dashscope.CreateAnalysis(ctx, req.ImageURL, req.Prompt)
}

func (a *DashscopeAdapter) CheckAnalysis(ctx context.Context, ref string) (*status.AnalysisEvent, error) {
	return a.dashscope.CheckAnalysis(ctx, ref)
}

func (a *DashscopeAdapter) SetResultChannel(ch chan *status.AnalysisEvent) {
	a.dashscope.SetResultChannel(ch)
}

func (a *DashscopeAdapter) Close(ctx context.Context) error {
	return a.dashscope.Close(ctx)
}
