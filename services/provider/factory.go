package provider

import (
	"context"
	"fmt"
	"log/slog"

	"style-analysis/services/provider/dashscope"
	"style-analysis/services/provider/replicate"
)

// Factory creates vision provider instances by provider type.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

// CreateProvider creates a provider instance for the given type and config.
func (f *Factory) CreateProvider(ctx context.Context, p Provider, config interface{}) (VisionProvider, error) {
	switch p {
	case ProviderReplicate:
		cfg, ok := config.(*replicate.Config)
		if !ok {
			return nil, fmt.Errorf("invalid replicate config type, expected *replicate.Config")
		}
		return NewReplicateAdapter(ctx, cfg)

	case ProviderDashscope:
		cfg, ok := config.(*dashscope.Config)
		if !ok {
			return nil, fmt.Errorf("invalid dashscope config type, expected *dashscope.Config")
		}
		return NewDashscopeAdapter(ctx, cfg)

	default:
		return nil, fmt.Errorf("unsupported vision provider: %s", p)
	}
}

// Registry manages configured provider instances with one primary.
type Registry struct {
	providers map[Provider]VisionProvider
	factory   *Factory
	primary   Provider
}

func NewRegistry(factory *Factory) *Registry {
	return &Registry{
		providers: make(map[Provider]VisionProvider),
		factory:   factory,
	}
}

// Register creates and registers a provider. The first registered provider
// becomes primary.
func (r *Registry) Register(ctx context.Context, p Provider, config interface{}) error {
	instance, err := r.factory.CreateProvider(ctx, p, config)
	if err != nil {
		return fmt.Errorf("failed to create %s provider: %w", p, err)
	}

	r.providers[p] = instance
	if r.primary == "" {
		r.primary = p
	}
	return nil
}

func (r *Registry) Get(p Provider) (VisionProvider, error) {
	instance, exists := r.providers[p]
	if !exists {
		return nil, fmt.Errorf("vision provider %s not registered", p)
	}
	return instance, nil
}

func (r *Registry) Primary() (VisionProvider, error) {
	if r.primary == "" {
		return nil, fmt.Errorf("no primary vision provider configured")
	}
	return r.Get(r.primary)
}

// Close gracefully closes all registered providers.
func (r *Registry) Close(ctx context.Context) error {
	for p, instance := range r.providers {
		if err := instance.Close(ctx); err != nil {
			slog.Error("error closing vision provider", "provider", p, "error", err)
		}
	}
	return nil
}
