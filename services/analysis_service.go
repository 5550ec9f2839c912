package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"style-analysis/config"
	"style-analysis/internal/status"
	"style-analysis/models"
	"style-analysis/monitoring"
	"style-analysis/services/provider"
	"style-analysis/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

// AnalysisService owns the submission path: moderation, credits, admission,
// persistence, provider dispatch, and terminal cleanup. Every queue entry it
// adds is removed again on every terminal path, including provider errors.
type AnalysisService struct {
	app        *pocketbase.PocketBase
	cfg        *config.Config
	queue      *QueueService
	credits    *CreditService
	moderation *ModerationService
	notifier   *Notifier
	registry   *provider.Registry
	breaker    *utils.CircuitBreaker
	monitor    *monitoring.Monitor

	results chan *status.AnalysisEvent
}

func NewAnalysisService(
	app *pocketbase.PocketBase,
	cfg *config.Config,
	queue *QueueService,
	credits *CreditService,
	moderation *ModerationService,
	notifier *Notifier,
	registry *provider.Registry,
) *AnalysisService {
	return &AnalysisService{
		app:        app,
		cfg:        cfg,
		queue:      queue,
		credits:    credits,
		moderation: moderation,
		notifier:   notifier,
		registry:   registry,
		breaker:    utils.NewCircuitBreaker("vision-provider"),
		monitor:    monitoring.NewMonitor(),
		results:    make(chan *status.AnalysisEvent, 64),
	}
}

// Start wires the provider result stream and the queue background services.
func (s *AnalysisService) Start(ctx context.Context) {
	for _, p := range []provider.Provider{provider.ProviderReplicate, provider.ProviderDashscope} {
		if instance, err := s.registry.Get(p); err == nil {
			instance.SetResultChannel(s.results)
		}
	}

	s.queue.SetPromoteHandler(func(entry models.QueueEntry) {
		go s.dispatch(context.Background(), entry)
	})
	s.queue.SetEvictHandler(s.handleTimeout)
	s.queue.StartBackground(s.TierOf)

	go s.consumeResults(ctx)
}

func (s *AnalysisService) consumeResults(ctx context.Context) {
	for {
		select {
		case event := <-s.results:
			if err := s.HandleProviderEvent(event); err != nil {
				slog.Error("failed to handle provider event", "ref", event.ProviderRef, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// TierOf resolves a user's subscription tier; unknown users are free tier.
func (s *AnalysisService) TierOf(userID string) models.Tier {
	user, err := s.app.FindRecordById("users", userID)
	if err != nil {
		return models.TierFree
	}
	return models.ParseTier(user.GetString("tier"))
}

type SubmitRequest struct {
	UserID   string
	Tier     models.Tier
	ImageURL string
	Prompt   string
}

type SubmitResult struct {
	AnalysisID string                 `json:"analysis_id"`
	Admission  models.AdmissionResult `json:"admission"`
}

// Submit runs the full submission path. Moderation and credit failures
// reject the request before any queue state exists; the admission decision
// itself happens inside AdmitAndAdd, under the same lock as the insertion,
// so concurrent submissions by one user cannot both slip under the cap.
func (s *AnalysisService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	if err := s.moderation.CheckSubmission(req.ImageURL, req.Prompt); err != nil {
		return nil, err
	}

	entryID := s.queue.NextID()

	record, err := s.persistAnalysis(req, entryID)
	if err != nil {
		return nil, err
	}

	if err := s.credits.DebitForAnalysis(req.UserID, record.Id); err != nil {
		if delErr := s.app.Delete(record); delErr != nil {
			slog.Error("failed to delete unpaid analysis", "id", record.Id, "error", delErr)
		}
		return nil, err
	}

	entry := models.QueueEntry{
		ID:        entryID,
		UserID:    req.UserID,
		RecordID:  record.Id,
		Status:    models.StatusPending,
		CreatedAt: time.Now(),
	}

	admission, err := s.queue.AdmitAndAdd(entry, req.Tier)
	if err != nil {
		// id collision is a bug, surface it after undoing the charge
		if refundErr := s.credits.Refund(req.UserID, record.Id); refundErr != nil {
			slog.Error("failed to refund after enqueue error", "id", record.Id, "error", refundErr)
		}
		return nil, err
	}
	s.monitor.TrackAdmission(string(req.Tier), admission.CanProcess)

	result := &SubmitResult{AnalysisID: record.Id, Admission: admission}

	if admission.CanProcess {
		if err := s.dispatch(ctx, entry); err != nil {
			return nil, err
		}
		return result, nil
	}

	s.notifier.NotifyQueued(req.UserID, admission.QueuePosition, admission.EstimatedWaitSeconds)
	return result, nil
}

func (s *AnalysisService) persistAnalysis(req *SubmitRequest, entryID int64) (*core.Record, error) {
	collection, err := s.app.FindCollectionByNameOrId("analyses")
	if err != nil {
		return nil, fmt.Errorf("analysis: find collection: %w", err)
	}

	primary, err := s.registry.Primary()
	if err != nil {
		return nil, status.ErrProviderUnavailable
	}

	record := core.NewRecord(collection)
	record.Set("user", req.UserID)
	record.Set("image_url", req.ImageURL)
	record.Set("prompt", req.Prompt)
	record.Set("provider", string(primary.GetProvider()))
	record.Set("status", string(models.StatusPending))
	record.Set("cost", s.credits.Cost().InexactFloat64())
	record.Set("queue_id", entryID)

	if err := s.app.Save(record); err != nil {
		return nil, fmt.Errorf("analysis: save record: %w", err)
	}
	return record, nil
}

// dispatch promotes the entry to processing and submits it to the primary
// vision provider through the circuit breaker. A provider failure finalizes
// the analysis as failed and refunds the charge.
func (s *AnalysisService) dispatch(ctx context.Context, entry models.QueueEntry) error {
	s.queue.MarkProcessing(entry.ID)

	record, err := s.app.FindRecordById("analyses", entry.RecordID)
	if err != nil {
		s.queue.RemoveFromQueue(entry.ID)
		return fmt.Errorf("analysis: find record %s: %w", entry.RecordID, err)
	}

	record.Set("status", string(models.StatusProcessing))
	if err := s.app.Save(record); err != nil {
		s.queue.RemoveFromQueue(entry.ID)
		return fmt.Errorf("analysis: save record %s: %w", entry.RecordID, err)
	}

	instance, err := s.registry.Primary()
	if err != nil {
		s.finalize(record, entry.ID, models.StatusFailed, "", "no vision provider configured")
		return status.ErrProviderUnavailable
	}

	requestID, _ := utils.GenerateRequestID()
	var ref string
	err = s.breaker.Do(ctx, func() error {
		var callErr error
		ref, callErr = instance.CreateAnalysis(ctx, &provider.AnalysisRequest{
			RequestID: requestID,
			ImageURL:  record.GetString("image_url"),
			Prompt:    record.GetString("prompt"),
		})
		return callErr
	})
	if err != nil {
		slog.Error("vision provider submission failed", "analysis", record.Id, "error", err)
		s.finalize(record, entry.ID, models.StatusFailed, "", err.Error())
		return fmt.Errorf("analysis: provider submission: %w", err)
	}

	record.Set("provider_ref", ref)
	if err := s.app.Save(record); err != nil {
		slog.Error("failed to persist provider ref", "analysis", record.Id, "error", err)
	}

	s.notifier.NotifyProcessing(entry.UserID, record.Id)
	return nil
}

// HandleProviderEvent applies a terminal provider event: webhook delivery
// and the async result channel both land here.
func (s *AnalysisService) HandleProviderEvent(event *status.AnalysisEvent) error {
	record, err := s.app.FindFirstRecordByData("analyses", "provider_ref", event.ProviderRef)
	if err != nil {
		return fmt.Errorf("analysis: no record for provider ref %s: %w", event.ProviderRef, err)
	}

	if models.AnalysisStatus(record.GetString("status")).IsTerminal() {
		return nil // duplicate delivery
	}

	terminal := models.StatusFailed
	if event.Status == "succeeded" {
		terminal = models.StatusCompleted
	}

	entryID := int64(record.GetInt("queue_id"))
	s.finalize(record, entryID, terminal, event.Output, event.Error)
	return nil
}

// handleTimeout finalizes a job the stale sweep evicted: the record is
// marked failed and the charge refunded, the same as any other failure.
func (s *AnalysisService) handleTimeout(entry models.QueueEntry) {
	record, err := s.app.FindRecordById("analyses", entry.RecordID)
	if err != nil {
		slog.Error("no record for swept queue entry", "entry", entry.ID, "record", entry.RecordID, "error", err)
		return
	}

	if models.AnalysisStatus(record.GetString("status")).IsTerminal() {
		return // result arrived while the sweep ran
	}

	slog.Warn("analysis timed out in processing", "id", record.Id, "entry", entry.ID)
	s.finalize(record, entry.ID, models.StatusFailed, "", "analysis timed out")
}

// finalize is the single terminal path: persists the outcome, removes the
// queue entry, refunds failures, records duration, and promotes successors.
func (s *AnalysisService) finalize(record *core.Record, entryID int64, terminal models.AnalysisStatus, output, errMsg string) {
	now := time.Now()
	record.Set("status", string(terminal))
	record.Set("result", output)
	record.Set("error", errMsg)
	record.Set("completed", now)
	if err := s.app.Save(record); err != nil {
		slog.Error("failed to persist terminal analysis", "id", record.Id, "error", err)
	}

	s.queue.RemoveFromQueue(entryID)

	userID := record.GetString("user")
	if terminal == models.StatusFailed {
		if err := s.credits.Refund(userID, record.Id); err != nil {
			slog.Error("failed to refund analysis", "id", record.Id, "error", err)
		}
	}

	created := record.GetDateTime("created").Time()
	if !created.IsZero() {
		s.monitor.TrackAnalysisDuration(record.GetString("provider"), string(terminal), now.Sub(created))
	}

	s.notifier.NotifyCompleted(userID, record.Id, string(terminal))

	for _, promoted := range s.queue.PromoteAdmissible() {
		go s.dispatch(context.Background(), promoted)
	}
}

// Get returns an analysis owned by userID, with the owner's live queue view
// attached while the analysis is still pending.
func (s *AnalysisService) Get(userID, analysisID string) (*models.Analysis, *models.QueueStatus, error) {
	record, err := s.app.FindRecordById("analyses", analysisID)
	if err != nil || record.GetString("user") != userID {
		return nil, nil, status.ErrAnalysisNotFound
	}

	analysis := recordToAnalysis(record)

	var qs *models.QueueStatus
	if analysis.Status == models.StatusPending {
		view := s.queue.GetQueueStatus(userID)
		qs = &view
	}
	return analysis, qs, nil
}

// Cancel removes a still-queued analysis and refunds the charge. Entries
// already processing are not cancelable.
func (s *AnalysisService) Cancel(userID, analysisID string) error {
	record, err := s.app.FindRecordById("analyses", analysisID)
	if err != nil || record.GetString("user") != userID {
		return status.ErrAnalysisNotFound
	}

	if models.AnalysisStatus(record.GetString("status")) != models.StatusPending {
		return status.ErrAnalysisNotCancelable
	}

	entryID := int64(record.GetInt("queue_id"))
	s.queue.RemoveFromQueue(entryID)
	s.finalizeCanceled(record, userID)

	for _, promoted := range s.queue.PromoteAdmissible() {
		go s.dispatch(context.Background(), promoted)
	}
	return nil
}

// AdminRemove evicts a queue entry regardless of owner or state, refunds
// the charge, and promotes successors. Used by the admin queue tooling.
func (s *AnalysisService) AdminRemove(entryID int64, reason string) error {
	record, err := s.app.FindFirstRecordByData("analyses", "queue_id", entryID)
	if err != nil {
		return status.ErrAnalysisNotFound
	}

	if models.AnalysisStatus(record.GetString("status")).IsTerminal() {
		return status.ErrAnalysisNotCancelable
	}

	s.queue.RemoveFromQueue(entryID)

	userID := record.GetString("user")
	record.Set("status", string(models.StatusFailed))
	record.Set("error", "removed by admin: "+reason)
	record.Set("completed", time.Now())
	if err := s.app.Save(record); err != nil {
		slog.Error("failed to persist admin removal", "id", record.Id, "error", err)
	}

	if err := s.credits.Refund(userID, record.Id); err != nil {
		slog.Error("failed to refund removed analysis", "id", record.Id, "error", err)
	}
	s.notifier.NotifyRemoved(userID, reason)

	for _, promoted := range s.queue.PromoteAdmissible() {
		go s.dispatch(context.Background(), promoted)
	}
	return nil
}

// ForcePromote re-runs admission over the queue and dispatches whatever
// fits, returning the number of promoted entries.
func (s *AnalysisService) ForcePromote() int {
	promoted := s.queue.PromoteAdmissible()
	for _, entry := range promoted {
		go s.dispatch(context.Background(), entry)
	}
	return len(promoted)
}

func (s *AnalysisService) finalizeCanceled(record *core.Record, userID string) {
	record.Set("status", string(models.StatusFailed))
	record.Set("error", "canceled by user")
	record.Set("completed", time.Now())
	if err := s.app.Save(record); err != nil {
		slog.Error("failed to persist canceled analysis", "id", record.Id, "error", err)
	}

	if err := s.credits.Refund(userID, record.Id); err != nil {
		slog.Error("failed to refund canceled analysis", "id", record.Id, "error", err)
	}
	s.notifier.NotifyRemoved(userID, "canceled")
}

func recordToAnalysis(record *core.Record) *models.Analysis {
	a := &models.Analysis{
		ID:        record.Id,
		UserID:    record.GetString("user"),
		ImageURL:  record.GetString("image_url"),
		Prompt:    record.GetString("prompt"),
		Provider:  record.GetString("provider"),
		Status:    models.AnalysisStatus(record.GetString("status")),
		Result:    record.GetString("result"),
		Error:     record.GetString("error"),
		CreatedAt: record.GetDateTime("created").Time(),
	}
	a.ProviderRef = record.GetString("provider_ref")
	a.Cost = decimal.NewFromFloat(record.GetFloat("cost"))

	if completed := record.GetDateTime("completed").Time(); !completed.IsZero() {
		a.CompletedAt = &completed
	}
	return a
}
