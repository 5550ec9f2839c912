package handlers

import (
	"net/http"

	"style-analysis/config"
	"style-analysis/models"
	"style-analysis/services"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
)

type QueueHandler struct {
	app          *pocketbase.PocketBase
	cfg          *config.Config
	queueService *services.QueueService
	analysis     *services.AnalysisService
}

func NewQueueHandler(app *pocketbase.PocketBase, cfg *config.Config, queueService *services.QueueService, analysis *services.AnalysisService) *QueueHandler {
	return &QueueHandler{
		app:          app,
		cfg:          cfg,
		queueService: queueService,
		analysis:     analysis,
	}
}

// GetQueueStatus reports the caller's queue view. Anonymous callers get the
// overall queue depth with the default concurrency cap; authenticated callers
// additionally get their own position and tier cap.
func (h *QueueHandler) GetQueueStatus(e *core.RequestEvent) error {
	userID := ""
	maxConcurrent := h.cfg.MaxConcurrentDefault
	if e.Auth != nil {
		userID = e.Auth.Id
		maxConcurrent = models.MaxConcurrentForTier(h.analysis.TierOf(userID))
	}

	qs := h.queueService.GetQueueStatus(userID)

	return respondOK(e, http.StatusOK, map[string]any{
		"queueLength":       qs.QueueLength,
		"userPosition":      qs.UserPosition,
		"estimatedWaitTime": qs.EstimatedWaitSeconds,
		"currentProcessing": qs.CurrentProcessing,
		"maxConcurrent":     maxConcurrent,
	})
}
