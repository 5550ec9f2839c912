package services

import (
	"context"
	"log"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"style-analysis/config"
	"style-analysis/internal/status"
	"style-analysis/models"
	"style-analysis/monitoring"

	"github.com/redis/go-redis/v9"
)

// TierResolver resolves the subscription tier for a user id. Unknown users
// resolve to the free tier.
type TierResolver func(userID string) models.Tier

// QueueService tracks live analysis jobs and gates per-user concurrency.
//
// The store is process-local: admission decisions are only locally correct
// when the service is scaled horizontally. The Redis mirror published by
// statsMirror is advisory visibility for the admin dashboard, not a shared
// gate.
type QueueService struct {
	cfg     *config.Config
	Redis   *redis.Client
	monitor *monitoring.Monitor

	mu      sync.RWMutex
	entries []*models.QueueEntry // insertion order
	index   map[int64]*models.QueueEntry

	nextID atomic.Int64

	tierOf    TierResolver
	onPromote func(models.QueueEntry)
	onEvict   func(models.QueueEntry)

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewQueueService(cfg *config.Config, redisClient *redis.Client) *QueueService {
	return &QueueService{
		cfg:      cfg,
		Redis:    redisClient,
		monitor:  monitoring.NewMonitor(),
		index:    make(map[int64]*models.QueueEntry),
		stopChan: make(chan struct{}),
	}
}

// NextID allocates a unique id for a new queue entry.
func (s *QueueService) NextID() int64 {
	return s.nextID.Add(1)
}

// BumpNextID raises the id counter to at least seen, so entries restored
// from the database never collide with freshly allocated ids.
func (s *QueueService) BumpNextID(seen int64) {
	for {
		current := s.nextID.Load()
		if current >= seen || s.nextID.CompareAndSwap(current, seen) {
			return
		}
	}
}

// SetPromoteHandler registers the callback invoked for every queued entry
// that gets admitted by PromoteAdmissible or the stale sweep. Must be set
// before StartBackground.
func (s *QueueService) SetPromoteHandler(fn func(models.QueueEntry)) {
	s.onPromote = fn
}

// SetEvictHandler registers the callback invoked with a copy of every entry
// the stale sweep removes, so the owner can finalize and refund the backing
// job. Must be set before StartBackground.
func (s *QueueService) SetEvictHandler(fn func(models.QueueEntry)) {
	s.onEvict = fn
}

// AddToQueue inserts a new live entry. Inserting an id that is already
// present is a caller bug and is rejected, never silently overwritten.
func (s *QueueService) AddToQueue(entry models.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[entry.ID]; exists {
		return status.ErrDuplicateEntry
	}

	e := entry
	s.entries = append(s.entries, &e)
	s.index[e.ID] = &e

	if s.monitor != nil {
		s.monitor.TrackQueueOperation("add", string(e.Status))
	}
	return nil
}

// RemoveFromQueue removes the entry with the given id. Removing an absent id
// is a no-op so that completion and timeout handlers can race on cleanup.
func (s *QueueService) RemoveFromQueue(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

func (s *QueueService) removeLocked(id int64) bool {
	if _, exists := s.index[id]; !exists {
		return false
	}
	delete(s.index, id)

	for i, e := range s.entries {
		if e.ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}

	if s.monitor != nil {
		s.monitor.TrackQueueOperation("remove", "success")
	}
	return true
}

// QueueSnapshot returns defensive copies of all live entries in insertion
// order. Mutating the returned slice never touches the store.
func (s *QueueService) QueueSnapshot() []models.QueueEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make([]models.QueueEntry, 0, len(s.entries))
	for _, e := range s.entries {
		snapshot = append(snapshot, *e)
	}
	return snapshot
}

// CheckUserConcurrencyLimit decides whether userID may start a new analysis
// now or must wait. Pure read: the caller is responsible for AddToQueue
// afterwards, and for RemoveFromQueue on every terminal path.
//
// Counting is a single linear pass over the live entries. Cost is O(n) in
// store size regardless of how many entries one user owns.
func (s *QueueService) CheckUserConcurrencyLimit(userID string, tier models.Tier) models.AdmissionResult {
	limit := models.MaxConcurrentForTier(tier)
	avgSeconds := int(s.cfg.AverageAnalysisDuration.Seconds())

	s.mu.RLock()
	defer s.mu.RUnlock()

	activeCount, queuedCount := s.countLocked(userID)

	if activeCount < limit {
		return models.AdmissionResult{CanProcess: true}
	}

	position := queuedCount + 1
	return models.AdmissionResult{
		CanProcess:           false,
		QueuePosition:        position,
		EstimatedWaitSeconds: position * avgSeconds,
	}
}

// countLocked tallies userID's live entries. An admitted entry that the
// dispatcher has not marked processing yet still occupies its slot, so
// pending-unqueued entries count as active. Caller holds at least a read
// lock.
func (s *QueueService) countLocked(userID string) (active, queued int) {
	for _, e := range s.entries {
		if e.UserID != userID {
			continue
		}
		switch {
		case e.Status == models.StatusProcessing:
			active++
		case e.Status != models.StatusPending:
		case e.IsQueued:
			queued++
		default:
			active++
		}
	}
	return active, queued
}

// AdmitAndAdd re-runs the admission check and inserts the entry under the
// same write lock, so two concurrent submissions by one user can never both
// slip under the tier cap. The returned result reflects the entry as
// stored: admitted entries go in unqueued, the rest get their position and
// wait estimate assigned here.
func (s *QueueService) AdmitAndAdd(entry models.QueueEntry, tier models.Tier) (models.AdmissionResult, error) {
	limit := models.MaxConcurrentForTier(tier)
	avgSeconds := int(s.cfg.AverageAnalysisDuration.Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[entry.ID]; exists {
		return models.AdmissionResult{}, status.ErrDuplicateEntry
	}

	activeCount, queuedCount := s.countLocked(entry.UserID)

	result := models.AdmissionResult{CanProcess: activeCount < limit}
	if result.CanProcess {
		entry.IsQueued = false
		entry.QueuePosition = 0
		entry.EstimatedWaitSeconds = 0
	} else {
		result.QueuePosition = queuedCount + 1
		result.EstimatedWaitSeconds = result.QueuePosition * avgSeconds

		entry.IsQueued = true
		entry.QueuePosition = result.QueuePosition
		entry.EstimatedWaitSeconds = result.EstimatedWaitSeconds
		if entry.QueuedAt == nil {
			now := time.Now()
			entry.QueuedAt = &now
		}
	}

	e := entry
	s.entries = append(s.entries, &e)
	s.index[e.ID] = &e

	if s.monitor != nil {
		s.monitor.TrackQueueOperation("add", string(e.Status))
	}
	return result, nil
}

// GetQueueStatus aggregates the current queue for polling clients. An empty
// userID (anonymous caller) yields overall numbers with UserPosition 0.
// Counting rules are identical to CheckUserConcurrencyLimit so the
// submission response and a subsequent poll never contradict each other.
func (s *QueueService) GetQueueStatus(userID string) models.QueueStatus {
	avgSeconds := int(s.cfg.AverageAnalysisDuration.Seconds())

	s.mu.RLock()
	defer s.mu.RUnlock()

	queueLength := 0
	userPosition := 0
	processing := 0
	for _, e := range s.entries {
		switch {
		case e.Status == models.StatusProcessing:
			processing++
		case e.Status == models.StatusPending && e.IsQueued:
			queueLength++
			if userID != "" && e.UserID == userID && userPosition == 0 {
				// rank among the user's own queued entries, by insertion
				userPosition = s.userQueuedRankLocked(userID, e.ID)
			}
		}
	}

	estimated := queueLength * avgSeconds
	if userPosition > 0 {
		estimated = userPosition * avgSeconds
	}

	return models.QueueStatus{
		QueueLength:          queueLength,
		UserPosition:         userPosition,
		EstimatedWaitSeconds: estimated,
		CurrentProcessing:    processing,
	}
}

func (s *QueueService) userQueuedRankLocked(userID string, upToID int64) int {
	rank := 0
	for _, e := range s.entries {
		if e.UserID == userID && e.Status == models.StatusPending && e.IsQueued {
			rank++
			if e.ID == upToID {
				return rank
			}
		}
	}
	return rank
}

// MarkProcessing promotes a pending entry to processing. Transitions are
// forward-only; marking a processing or absent entry is a no-op.
func (s *QueueService) MarkProcessing(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markProcessingLocked(id)
}

func (s *QueueService) markProcessingLocked(id int64) bool {
	e, exists := s.index[id]
	if !exists || e.Status != models.StatusPending {
		return false
	}
	now := time.Now()
	e.Status = models.StatusProcessing
	e.IsQueued = false
	e.QueuePosition = 0
	e.EstimatedWaitSeconds = 0
	e.StartedAt = &now
	return true
}

// PromoteAdmissible walks the queue in insertion order and admits queued
// entries whose owner is under their tier limit. Remaining queued entries
// are re-ranked. Returns copies of the promoted entries; the caller
// dispatches them.
func (s *QueueService) PromoteAdmissible() []models.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	// pending-unqueued entries are admitted but not dispatched yet; they
	// hold their slot the same as processing ones
	active := make(map[string]int)
	for _, e := range s.entries {
		if e.Status == models.StatusProcessing || (e.Status == models.StatusPending && !e.IsQueued) {
			active[e.UserID]++
		}
	}

	avgSeconds := int(s.cfg.AverageAnalysisDuration.Seconds())
	var promoted []models.QueueEntry
	rank := make(map[string]int)

	for _, e := range s.entries {
		if e.Status != models.StatusPending || !e.IsQueued {
			continue
		}

		tier := models.TierFree
		if s.tierOf != nil {
			tier = s.tierOf(e.UserID)
		}

		if active[e.UserID] < models.MaxConcurrentForTier(tier) {
			s.markProcessingLocked(e.ID)
			active[e.UserID]++
			promoted = append(promoted, *e)
			continue
		}

		rank[e.UserID]++
		e.QueuePosition = rank[e.UserID]
		e.EstimatedWaitSeconds = e.QueuePosition * avgSeconds
	}

	if s.monitor != nil && len(promoted) > 0 {
		s.monitor.TrackPromotions(len(promoted))
	}
	return promoted
}

// StartBackground launches the stale sweep and the Redis stats mirror.
func (s *QueueService) StartBackground(tierOf TierResolver) {
	s.tierOf = tierOf

	s.wg.Add(1)
	go s.sweeper()

	if s.Redis != nil {
		s.wg.Add(1)
		go s.statsMirror()
	}

	log.Println("Queue background services started")
}

// sweeper evicts entries stuck in processing past ProcessingTimeout and
// promotes their successors. This is the safety net for jobs that crashed
// without reaching a terminal handler.
func (s *QueueService) sweeper() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepStale()
		case <-s.stopChan:
			slog.Info("queue sweeper stopping")
			return
		}
	}
}

func (s *QueueService) sweepStale() {
	cutoff := time.Now().Add(-s.cfg.ProcessingTimeout)

	s.mu.Lock()
	var stale []models.QueueEntry
	for _, e := range s.entries {
		if e.Status == models.StatusProcessing && e.StartedAt != nil && e.StartedAt.Before(cutoff) {
			stale = append(stale, *e)
		}
	}
	for _, entry := range stale {
		s.removeLocked(entry.ID)
	}
	s.mu.Unlock()

	if len(stale) == 0 {
		return
	}

	slog.Warn("swept stale processing entries", "count", len(stale))
	if s.monitor != nil {
		s.monitor.TrackQueueOperation("sweep", "stale")
	}

	// the evict handler finalizes and refunds the backing job; the entry
	// itself is already gone from the store
	for _, entry := range stale {
		if s.onEvict != nil {
			s.onEvict(entry)
		}
	}

	for _, entry := range s.PromoteAdmissible() {
		if s.onPromote != nil {
			s.onPromote(entry)
		}
	}
}

// statsMirror publishes this instance's queue gauges to Redis with a short
// TTL so the admin dashboard can aggregate across replicas. Advisory only.
func (s *QueueService) statsMirror() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.StatsMirrorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.publishStats(context.Background())
		case <-s.stopChan:
			slog.Info("queue stats mirror stopping")
			return
		}
	}
}

func (s *QueueService) publishStats(ctx context.Context) {
	st := s.GetQueueStatus("")

	key := "queue:stats:" + s.cfg.InstanceID
	if err := s.Redis.HSet(ctx, key, map[string]any{
		"queue_length": st.QueueLength,
		"processing":   st.CurrentProcessing,
		"updated_at":   time.Now().Unix(),
	}).Err(); err != nil {
		slog.Error("failed to publish queue stats", "error", err)
		return
	}
	s.Redis.Expire(ctx, key, s.cfg.StatsMirrorTTL)

	if s.monitor != nil {
		s.monitor.SetQueueGauges(st.QueueLength, st.CurrentProcessing)
	}
}

// Shutdown stops the background goroutines and waits for them to finish.
func (s *QueueService) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Queue service shutdown complete")
	case <-time.After(30 * time.Second):
		log.Println("Timeout waiting for queue goroutines to stop")
	}
}
