package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"style-analysis/config"
	"style-analysis/services"
	"style-analysis/services/provider"
	"style-analysis/services/provider/replicate"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
)

type WebhookHandler struct {
	app      *pocketbase.PocketBase
	cfg      *config.Config
	analysis *services.AnalysisService
	registry *provider.Registry
}

func NewWebhookHandler(app *pocketbase.PocketBase, cfg *config.Config, analysis *services.AnalysisService, registry *provider.Registry) *WebhookHandler {
	return &WebhookHandler{
		app:      app,
		cfg:      cfg,
		analysis: analysis,
		registry: registry,
	}
}

// HandleVisionWebhook receives signed completion callbacks from the vision
// provider. Unsigned or mis-signed deliveries are rejected before parsing.
func (h *WebhookHandler) HandleVisionWebhook(e *core.RequestEvent) error {
	body, err := io.ReadAll(io.LimitReader(e.Request.Body, 1<<20))
	if err != nil {
		return respondError(e, http.StatusBadRequest, "invalid_request", "Failed to read body")
	}

	sig := e.Request.Header.Get("X-Webhook-Signature")
	if !replicate.VerifyWebhookSignature(h.cfg.WebhookSecret, body, sig) {
		slog.Warn("rejected webhook with bad signature", "remote", e.Request.RemoteAddr)
		return respondError(e, http.StatusUnauthorized, "invalid_signature", "Signature verification failed")
	}

	event, err := replicate.ParseWebhook(body)
	if err != nil {
		return respondError(e, http.StatusBadRequest, "invalid_payload", "Failed to parse webhook payload")
	}
	if event == nil {
		// non-terminal delivery, nothing to apply
		return respondOK(e, http.StatusOK, map[string]any{"received": true})
	}

	if instance, regErr := h.registry.Get(provider.ProviderReplicate); regErr == nil {
		if forgetter, ok := instance.(interface{ Forget(string) }); ok {
			forgetter.Forget(event.ProviderRef)
		}
	}

	if err := h.analysis.HandleProviderEvent(event); err != nil {
		slog.Error("failed to apply webhook event", "ref", event.ProviderRef, "error", err)
		return respondError(e, http.StatusInternalServerError, "internal", "Failed to apply event")
	}

	return respondOK(e, http.StatusOK, map[string]any{"received": true})
}
