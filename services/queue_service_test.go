package services

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"style-analysis/config"
	"style-analysis/internal/status"
	"style-analysis/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestQueueService() *QueueService {
	cfg := &config.Config{
		AverageAnalysisDuration: 30 * time.Second,
		ProcessingTimeout:       5 * time.Minute,
		SweepInterval:           15 * time.Second,
	}
	return NewQueueService(cfg, nil)
}

func addProcessing(t *testing.T, s *QueueService, userID string) int64 {
	t.Helper()
	id := s.NextID()
	now := time.Now()
	err := s.AddToQueue(models.QueueEntry{
		ID:        id,
		UserID:    userID,
		Status:    models.StatusProcessing,
		CreatedAt: now,
		StartedAt: &now,
	})
	require.NoError(t, err)
	return id
}

func addQueued(t *testing.T, s *QueueService, userID string, position int) int64 {
	t.Helper()
	id := s.NextID()
	now := time.Now()
	err := s.AddToQueue(models.QueueEntry{
		ID:            id,
		UserID:        userID,
		Status:        models.StatusPending,
		IsQueued:      true,
		QueuePosition: position,
		CreatedAt:     now,
		QueuedAt:      &now,
	})
	require.NoError(t, err)
	return id
}

func TestMaxConcurrentForTier(t *testing.T) {
	tests := []struct {
		name     string
		tier     models.Tier
		expected int
	}{
		{"Free tier", models.TierFree, 1},
		{"Lite tier", models.TierLite, 3},
		{"Standard tier", models.TierStandard, 10},
		{"Unknown tier treated as free", models.Tier("enterprise"), 1},
		{"Empty tier treated as free", models.Tier(""), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, models.MaxConcurrentForTier(tt.tier))
		})
	}

	// limits are monotone in tier order
	assert.LessOrEqual(t, models.MaxConcurrentForTier(models.TierFree), models.MaxConcurrentForTier(models.TierLite))
	assert.LessOrEqual(t, models.MaxConcurrentForTier(models.TierLite), models.MaxConcurrentForTier(models.TierStandard))
}

func TestQueueService_Admission_BelowLimit(t *testing.T) {
	tiers := []models.Tier{models.TierFree, models.TierLite, models.TierStandard}

	for _, tier := range tiers {
		t.Run(string(tier), func(t *testing.T) {
			service := setupTestQueueService()
			for i := 0; i < models.MaxConcurrentForTier(tier)-1; i++ {
				addProcessing(t, service, "user-a")
			}

			result := service.CheckUserConcurrencyLimit("user-a", tier)

			assert.True(t, result.CanProcess)
			assert.Zero(t, result.QueuePosition)
		})
	}
}

func TestQueueService_Admission_Saturated(t *testing.T) {
	service := setupTestQueueService()
	for i := 0; i < models.MaxConcurrentForTier(models.TierLite); i++ {
		addProcessing(t, service, "user-a")
	}

	result := service.CheckUserConcurrencyLimit("user-a", models.TierLite)

	assert.False(t, result.CanProcess)
	assert.Equal(t, 1, result.QueuePosition)
	assert.Equal(t, 30, result.EstimatedWaitSeconds)
}

func TestQueueService_Admission_FIFOPositions(t *testing.T) {
	service := setupTestQueueService()
	addProcessing(t, service, "user-a")

	// another user's entries must not affect positions
	addProcessing(t, service, "user-b")
	addQueued(t, service, "user-b", 1)

	for want := 1; want <= 3; want++ {
		result := service.CheckUserConcurrencyLimit("user-a", models.TierFree)
		require.False(t, result.CanProcess)
		assert.Equal(t, want, result.QueuePosition)
		assert.Equal(t, want*30, result.EstimatedWaitSeconds)

		addQueued(t, service, "user-a", result.QueuePosition)
	}
}

func TestQueueService_Admission_UserIsolation(t *testing.T) {
	service := setupTestQueueService()

	// user-b holds a saturated queue
	for i := 0; i < 5; i++ {
		addProcessing(t, service, "user-b")
	}
	for i := 0; i < 7; i++ {
		addQueued(t, service, "user-b", i+1)
	}

	result := service.CheckUserConcurrencyLimit("user-a", models.TierFree)
	assert.True(t, result.CanProcess)

	status := service.GetQueueStatus("user-a")
	assert.Zero(t, status.UserPosition)
	assert.Equal(t, 7, status.QueueLength)
}

func TestQueueService_AddToQueue_DuplicateID(t *testing.T) {
	service := setupTestQueueService()
	id := addProcessing(t, service, "user-a")

	err := service.AddToQueue(models.QueueEntry{
		ID:     id,
		UserID: "user-b",
		Status: models.StatusPending,
	})

	require.ErrorIs(t, err, status.ErrDuplicateEntry)
	// the original entry survived
	snapshot := service.QueueSnapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "user-a", snapshot[0].UserID)
}

func TestQueueService_RemoveFromQueue_Idempotent(t *testing.T) {
	service := setupTestQueueService()
	addProcessing(t, service, "user-a")
	id := addProcessing(t, service, "user-a")

	assert.True(t, service.RemoveFromQueue(id))
	assert.False(t, service.RemoveFromQueue(id))
	assert.False(t, service.RemoveFromQueue(99999))

	assert.Len(t, service.QueueSnapshot(), 1)
}

func TestQueueService_Snapshot_IsACopy(t *testing.T) {
	service := setupTestQueueService()
	addProcessing(t, service, "user-a")

	snapshot := service.QueueSnapshot()
	require.Len(t, snapshot, 1)
	snapshot[0].UserID = "tampered"
	snapshot[0].Status = models.StatusFailed

	again := service.QueueSnapshot()
	assert.Equal(t, "user-a", again[0].UserID)
	assert.Equal(t, models.StatusProcessing, again[0].Status)
}

func TestQueueService_GetQueueStatus(t *testing.T) {
	service := setupTestQueueService()

	addProcessing(t, service, "user-a")
	addProcessing(t, service, "user-b")
	addQueued(t, service, "user-a", 1)
	addQueued(t, service, "user-b", 1)
	addQueued(t, service, "user-a", 2)

	st := service.GetQueueStatus("user-a")
	assert.Equal(t, 3, st.QueueLength)
	assert.Equal(t, 1, st.UserPosition)
	assert.Equal(t, 30, st.EstimatedWaitSeconds)
	assert.Equal(t, 2, st.CurrentProcessing)

	anon := service.GetQueueStatus("")
	assert.Equal(t, 3, anon.QueueLength)
	assert.Zero(t, anon.UserPosition)
	assert.Equal(t, 2, anon.CurrentProcessing)
	assert.Equal(t, 90, anon.EstimatedWaitSeconds)
}

// Regression: after restoring entries with persisted ids, freshly
// allocated ids must continue past the highest restored one.
func TestQueueService_BumpNextID(t *testing.T) {
	service := setupTestQueueService()

	require.NoError(t, service.AddToQueue(models.QueueEntry{
		ID:     42,
		UserID: "user-a",
		Status: models.StatusPending,
	}))
	service.BumpNextID(42)

	next := service.NextID()
	assert.EqualValues(t, 43, next)

	// bumping below the counter never rewinds it
	service.BumpNextID(7)
	assert.EqualValues(t, 44, service.NextID())

	require.NoError(t, service.AddToQueue(models.QueueEntry{
		ID:     next,
		UserID: "user-a",
		Status: models.StatusPending,
	}))
	assert.Len(t, service.QueueSnapshot(), 2)
}

func TestQueueService_AdmitAndAdd(t *testing.T) {
	service := setupTestQueueService()

	first, err := service.AdmitAndAdd(models.QueueEntry{
		ID:        service.NextID(),
		UserID:    "user-a",
		Status:    models.StatusPending,
		CreatedAt: time.Now(),
	}, models.TierFree)
	require.NoError(t, err)
	assert.True(t, first.CanProcess)

	// simulate the dispatcher starting the first job
	snapshot := service.QueueSnapshot()
	require.Len(t, snapshot, 1)
	require.True(t, service.MarkProcessing(snapshot[0].ID))

	second, err := service.AdmitAndAdd(models.QueueEntry{
		ID:        service.NextID(),
		UserID:    "user-a",
		Status:    models.StatusPending,
		CreatedAt: time.Now(),
	}, models.TierFree)
	require.NoError(t, err)
	assert.False(t, second.CanProcess)
	assert.Equal(t, 1, second.QueuePosition)
	assert.Equal(t, 30, second.EstimatedWaitSeconds)

	snapshot = service.QueueSnapshot()
	require.Len(t, snapshot, 2)
	assert.True(t, snapshot[1].IsQueued)
	assert.Equal(t, 1, snapshot[1].QueuePosition)
	require.NotNil(t, snapshot[1].QueuedAt)
}

func TestQueueService_AdmitAndAdd_DuplicateID(t *testing.T) {
	service := setupTestQueueService()
	id := addProcessing(t, service, "user-a")

	_, err := service.AdmitAndAdd(models.QueueEntry{
		ID:     id,
		UserID: "user-b",
		Status: models.StatusPending,
	}, models.TierFree)

	require.ErrorIs(t, err, status.ErrDuplicateEntry)
	assert.Len(t, service.QueueSnapshot(), 1)
}

// Regression: the admission decision and the insertion happen under one
// lock, so concurrent submissions by one free-tier user cannot both be
// admitted.
func TestQueueService_AdmitAndAdd_ConcurrentSameUser(t *testing.T) {
	service := setupTestQueueService()

	const workers = 8
	results := make([]models.AdmissionResult, workers)

	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer done.Done()
			entry := models.QueueEntry{
				ID:        service.NextID(),
				UserID:    "user-a",
				Status:    models.StatusPending,
				CreatedAt: time.Now(),
			}
			start.Wait()
			result, err := service.AdmitAndAdd(entry, models.TierFree)
			require.NoError(t, err)
			results[i] = result
		}(i)
	}
	start.Done()
	done.Wait()

	// every admitted entry is immediately marked processing by the
	// dispatcher, so AdmitAndAdd itself must treat direct admissions as
	// occupying the slot either way: exactly one may pass
	admitted := 0
	positions := map[int]bool{}
	for _, r := range results {
		if r.CanProcess {
			admitted++
			continue
		}
		assert.False(t, positions[r.QueuePosition], "queue position %d assigned twice", r.QueuePosition)
		positions[r.QueuePosition] = true
		assert.Equal(t, r.QueuePosition*30, r.EstimatedWaitSeconds)
	}
	assert.Equal(t, 1, admitted)
	assert.Len(t, service.QueueSnapshot(), workers)
}

// Regression: counting a user's queued entries must stay a linear scan. A
// store with 10k entries for one user has to be checked without stack
// growth and in reasonable time.
func TestQueueService_Admission_LargeStore(t *testing.T) {
	service := setupTestQueueService()
	addProcessing(t, service, "user-a")
	for i := 0; i < 10000; i++ {
		addQueued(t, service, "user-a", i+1)
	}

	done := make(chan models.AdmissionResult, 1)
	go func() {
		done <- service.CheckUserConcurrencyLimit("user-a", models.TierFree)
	}()

	select {
	case result := <-done:
		assert.False(t, result.CanProcess)
		assert.Equal(t, 10001, result.QueuePosition)
	case <-time.After(5 * time.Second):
		t.Fatal("admission check did not finish against a 10k-entry store")
	}
}

func TestQueueService_MarkProcessing(t *testing.T) {
	service := setupTestQueueService()
	id := addQueued(t, service, "user-a", 1)

	assert.True(t, service.MarkProcessing(id))
	// transitions are forward-only
	assert.False(t, service.MarkProcessing(id))
	assert.False(t, service.MarkProcessing(424242))

	snapshot := service.QueueSnapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, models.StatusProcessing, snapshot[0].Status)
	assert.False(t, snapshot[0].IsQueued)
	assert.Zero(t, snapshot[0].QueuePosition)
	require.NotNil(t, snapshot[0].StartedAt)
}

func TestQueueService_PromoteAdmissible(t *testing.T) {
	service := setupTestQueueService()
	service.tierOf = func(userID string) models.Tier {
		if userID == "lite-user" {
			return models.TierLite
		}
		return models.TierFree
	}

	freeActive := addProcessing(t, service, "free-user")
	freeQueued1 := addQueued(t, service, "free-user", 1)
	addQueued(t, service, "free-user", 2)
	liteQueued := addQueued(t, service, "lite-user", 1)

	// free-user is saturated, lite-user has room
	promoted := service.PromoteAdmissible()
	require.Len(t, promoted, 1)
	assert.Equal(t, liteQueued, promoted[0].ID)

	// capacity frees for free-user; only the oldest queued entry is admitted
	service.RemoveFromQueue(freeActive)
	promoted = service.PromoteAdmissible()
	require.Len(t, promoted, 1)
	assert.Equal(t, freeQueued1, promoted[0].ID)
	assert.Equal(t, models.StatusProcessing, promoted[0].Status)

	// the remaining queued entry got re-ranked to position 1
	st := service.GetQueueStatus("free-user")
	assert.Equal(t, 1, st.UserPosition)
	assert.Equal(t, 1, st.QueueLength)
}

func TestQueueService_SweepStale(t *testing.T) {
	service := setupTestQueueService()
	service.cfg.ProcessingTimeout = time.Minute
	service.tierOf = func(string) models.Tier { return models.TierFree }

	stale := time.Now().Add(-2 * time.Minute)
	id := service.NextID()
	require.NoError(t, service.AddToQueue(models.QueueEntry{
		ID:        id,
		UserID:    "user-a",
		Status:    models.StatusProcessing,
		CreatedAt: stale,
		StartedAt: &stale,
	}))
	queued := addQueued(t, service, "user-a", 1)

	var promotedIDs []int64
	service.SetPromoteHandler(func(e models.QueueEntry) {
		promotedIDs = append(promotedIDs, e.ID)
	})
	var evicted []models.QueueEntry
	service.SetEvictHandler(func(e models.QueueEntry) {
		evicted = append(evicted, e)
	})

	service.sweepStale()

	st := service.GetQueueStatus("user-a")
	assert.Zero(t, st.QueueLength)
	assert.Equal(t, 1, st.CurrentProcessing)
	assert.Equal(t, []int64{queued}, promotedIDs)

	// the evicted entry is handed to the owner for finalization
	require.Len(t, evicted, 1)
	assert.Equal(t, id, evicted[0].ID)
	assert.Equal(t, "user-a", evicted[0].UserID)
	assert.Equal(t, models.StatusProcessing, evicted[0].Status)
}

// The free-tier submission scenario: first job runs, second queues at
// position 1 with a 30s estimate, and is admittable once the first job is
// removed.
func TestQueueService_FreeTierScenario(t *testing.T) {
	service := setupTestQueueService()

	first := service.CheckUserConcurrencyLimit("user-a", models.TierFree)
	require.True(t, first.CanProcess)
	job1 := addProcessing(t, service, "user-a")

	second := service.CheckUserConcurrencyLimit("user-a", models.TierFree)
	require.False(t, second.CanProcess)
	assert.Equal(t, 1, second.QueuePosition)
	assert.Equal(t, 30, second.EstimatedWaitSeconds)

	service.RemoveFromQueue(job1)

	retry := service.CheckUserConcurrencyLimit("user-a", models.TierFree)
	assert.True(t, retry.CanProcess)
}

func BenchmarkQueueService_CheckUserConcurrencyLimit(b *testing.B) {
	service := setupTestQueueService()
	now := time.Now()
	for i := 0; i < 5000; i++ {
		service.AddToQueue(models.QueueEntry{
			ID:        service.NextID(),
			UserID:    fmt.Sprintf("user-%d", i%50),
			Status:    models.StatusPending,
			IsQueued:  true,
			CreatedAt: now,
			QueuedAt:  &now,
		})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		service.CheckUserConcurrencyLimit("user-25", models.TierStandard)
	}
}
