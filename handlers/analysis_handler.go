package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"style-analysis/internal/status"
	"style-analysis/models"
	"style-analysis/services"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
)

type AnalysisHandler struct {
	app      *pocketbase.PocketBase
	analysis *services.AnalysisService
}

func NewAnalysisHandler(app *pocketbase.PocketBase, analysis *services.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{app: app, analysis: analysis}
}

// Submit accepts a new style analysis request. Admitted requests start
// processing immediately; the rest are queued with a position and wait
// estimate in the response.
func (h *AnalysisHandler) Submit(e *core.RequestEvent) error {
	if e.Auth == nil {
		return respondError(e, http.StatusUnauthorized, "unauthorized", "Authentication required")
	}

	var req struct {
		ImageURL string `json:"image_url"`
		Prompt   string `json:"prompt"`
	}
	if err := e.BindBody(&req); err != nil {
		return respondError(e, http.StatusBadRequest, "invalid_request", "Invalid request body")
	}
	if strings.TrimSpace(req.ImageURL) == "" {
		return respondError(e, http.StatusBadRequest, "invalid_request", "image_url is required")
	}

	tier := models.ParseTier(e.Auth.GetString("tier"))

	result, err := h.analysis.Submit(e.Request.Context(), &services.SubmitRequest{
		UserID:   e.Auth.Id,
		Tier:     tier,
		ImageURL: req.ImageURL,
		Prompt:   req.Prompt,
	})
	if err != nil {
		switch {
		case errors.Is(err, status.ErrModerationRejected):
			return respondError(e, http.StatusUnprocessableEntity, "moderation_rejected", "Submission failed content screening")
		case errors.Is(err, status.ErrInsufficientCredits):
			return respondError(e, http.StatusPaymentRequired, "insufficient_credits", "Not enough credits for an analysis")
		case errors.Is(err, status.ErrProviderUnavailable):
			return respondError(e, http.StatusServiceUnavailable, "provider_unavailable", "Analysis provider is unavailable")
		default:
			slog.Error("analysis submission failed", "user", e.Auth.Id, "error", err)
			return respondError(e, http.StatusInternalServerError, "internal", "Failed to submit analysis")
		}
	}

	return respondOK(e, http.StatusAccepted, map[string]any{
		"analysis_id":       result.AnalysisID,
		"queued":            !result.Admission.CanProcess,
		"queuePosition":     result.Admission.QueuePosition,
		"estimatedWaitTime": result.Admission.EstimatedWaitSeconds,
	})
}

// Get returns a single analysis owned by the caller.
func (h *AnalysisHandler) Get(e *core.RequestEvent) error {
	if e.Auth == nil {
		return respondError(e, http.StatusUnauthorized, "unauthorized", "Authentication required")
	}

	analysis, queueView, err := h.analysis.Get(e.Auth.Id, e.Request.PathValue("id"))
	if err != nil {
		return respondError(e, http.StatusNotFound, "not_found", "Analysis not found")
	}

	data := map[string]any{"analysis": analysis}
	if queueView != nil {
		data["queue"] = queueView
	}
	return respondOK(e, http.StatusOK, data)
}

// Cancel withdraws a still-queued analysis and refunds its cost.
func (h *AnalysisHandler) Cancel(e *core.RequestEvent) error {
	if e.Auth == nil {
		return respondError(e, http.StatusUnauthorized, "unauthorized", "Authentication required")
	}

	err := h.analysis.Cancel(e.Auth.Id, e.Request.PathValue("id"))
	switch {
	case err == nil:
		return respondOK(e, http.StatusOK, map[string]any{"canceled": true})
	case errors.Is(err, status.ErrAnalysisNotFound):
		return respondError(e, http.StatusNotFound, "not_found", "Analysis not found")
	case errors.Is(err, status.ErrAnalysisNotCancelable):
		return respondError(e, http.StatusConflict, "not_cancelable", "Analysis is already processing or finished")
	default:
		slog.Error("analysis cancel failed", "user", e.Auth.Id, "error", err)
		return respondError(e, http.StatusInternalServerError, "internal", "Failed to cancel analysis")
	}
}
