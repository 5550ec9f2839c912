package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"style-analysis/services"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

type AdminHandler struct {
	app          *pocketbase.PocketBase
	queueService *services.QueueService
	analysis     *services.AnalysisService
	redis        *redis.Client
}

func NewAdminHandler(app *pocketbase.PocketBase, queueService *services.QueueService, analysis *services.AnalysisService, redisClient *redis.Client) *AdminHandler {
	return &AdminHandler{
		app:          app,
		queueService: queueService,
		analysis:     analysis,
		redis:        redisClient,
	}
}

func (h *AdminHandler) requireAdmin(e *core.RequestEvent) bool {
	return e.Auth != nil && e.Auth.IsSuperuser()
}

// GetQueueDashboard aggregates the advisory per-instance stats mirrors from
// Redis alongside this instance's live counts.
func (h *AdminHandler) GetQueueDashboard(e *core.RequestEvent) error {
	if !h.requireAdmin(e) {
		return respondError(e, http.StatusUnauthorized, "unauthorized", "Admin access required")
	}
	ctx := e.Request.Context()

	instances := []map[string]any{}
	iter := h.redis.Scan(ctx, 0, "queue:stats:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		stats, err := h.redis.HGetAll(ctx, key).Result()
		if err != nil {
			continue
		}

		queued, _ := strconv.Atoi(stats["queue_length"])
		processing, _ := strconv.Atoi(stats["processing"])
		instances = append(instances, map[string]any{
			"instance":     strings.TrimPrefix(key, "queue:stats:"),
			"queue_length": queued,
			"processing":   processing,
			"updated_at":   stats["updated_at"],
		})
	}
	if err := iter.Err(); err != nil {
		slog.Warn("failed to scan queue stats", "error", err)
	}

	local := h.queueService.GetQueueStatus("")
	return respondOK(e, http.StatusOK, map[string]any{
		"local": map[string]any{
			"queue_length": local.QueueLength,
			"processing":   local.CurrentProcessing,
		},
		"instances": instances,
	})
}

// GetQueueDetails lists every live queue entry with its owner's email.
func (h *AdminHandler) GetQueueDetails(e *core.RequestEvent) error {
	if !h.requireAdmin(e) {
		return respondError(e, http.StatusUnauthorized, "unauthorized", "Admin access required")
	}

	details := []map[string]any{}
	for _, entry := range h.queueService.QueueSnapshot() {
		detail := map[string]any{
			"entry_id":    entry.ID,
			"analysis_id": entry.RecordID,
			"user_id":     entry.UserID,
			"status":      string(entry.Status),
			"is_queued":   entry.IsQueued,
			"position":    entry.QueuePosition,
			"created_at":  entry.CreatedAt,
			"wait_time":   time.Since(entry.CreatedAt).Seconds(),
		}
		if user, err := h.app.FindRecordById("users", entry.UserID); err == nil {
			detail["user_email"] = user.GetString("email")
		}
		details = append(details, detail)
	}

	return respondOK(e, http.StatusOK, details)
}

// RemoveFromQueue evicts an entry on behalf of an admin, refunding the owner.
func (h *AdminHandler) RemoveFromQueue(e *core.RequestEvent) error {
	if !h.requireAdmin(e) {
		return respondError(e, http.StatusUnauthorized, "unauthorized", "Admin access required")
	}

	var req struct {
		EntryID int64  `json:"entry_id"`
		Reason  string `json:"reason"`
	}
	if err := e.BindBody(&req); err != nil {
		return respondError(e, http.StatusBadRequest, "invalid_request", "Invalid request body")
	}
	if req.Reason == "" {
		req.Reason = "removed by admin"
	}

	slog.Info("admin queue removal", "admin", e.Auth.Id, "entry", req.EntryID, "reason", req.Reason)

	if err := h.analysis.AdminRemove(req.EntryID, req.Reason); err != nil {
		return respondError(e, http.StatusNotFound, "not_found", "No live entry with that id")
	}

	return respondOK(e, http.StatusOK, map[string]any{"removed": true})
}

// ForcePromote re-runs admission over the queue, dispatching whatever fits.
func (h *AdminHandler) ForcePromote(e *core.RequestEvent) error {
	if !h.requireAdmin(e) {
		return respondError(e, http.StatusUnauthorized, "unauthorized", "Admin access required")
	}

	promoted := h.analysis.ForcePromote()
	return respondOK(e, http.StatusOK, map[string]any{"promoted": promoted})
}
