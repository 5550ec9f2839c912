package dashscope

import (
	"sync"
	"testing"
	"time"

	"style-analysis/internal/status"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadToEvent(t *testing.T) {
	t.Run("succeeded", func(t *testing.T) {
		p := payload{
			TaskID:      "task-1",
			TaskStatus:  "SUCCEEDED",
			Result:      `{"style":"impressionist"}`,
			CompletedAt: "2026-08-30 10:00:00",
		}

		event := p.toEvent()
		assert.Equal(t, "task-1", event.ProviderRef)
		assert.Equal(t, "succeeded", event.Status)
		assert.Equal(t, `{"style":"impressionist"}`, event.Output)
		want := time.Date(2026, 8, 30, 10, 0, 0, 0, time.Local)
		assert.True(t, event.CompletedAt.Equal(want))
	})

	t.Run("anything else fails", func(t *testing.T) {
		for _, st := range []string{"FAILED", "UNKNOWN", ""} {
			p := payload{TaskID: "task-2", TaskStatus: st, Message: "boom"}
			event := p.toEvent()
			assert.Equal(t, "failed", event.Status)
			assert.Equal(t, "boom", event.Error)
		}
	})

	t.Run("bad end_time falls back to now", func(t *testing.T) {
		p := payload{TaskID: "task-3", TaskStatus: "SUCCEEDED", CompletedAt: "not-a-time"}
		event := p.toEvent()
		assert.WithinDuration(t, time.Now(), event.CompletedAt, time.Minute)
	})
}

// Regression: swapping the result sink while the message loop is reading it
// must be safe. Run with -race.
func TestSubscribe_ResultChanConcurrentSwap(t *testing.T) {
	sub := &subscribe{}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			sub.setResultChan(make(chan *status.AnalysisEvent, 1))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if ch := sub.resultChan(); ch != nil {
				select {
				case ch <- &status.AnalysisEvent{ProviderRef: "task-x"}:
				default:
				}
			}
		}
	}()
	wg.Wait()

	ch := make(chan *status.AnalysisEvent, 1)
	sub.setResultChan(ch)
	require.NotNil(t, sub.resultChan())

	sub.resultChan() <- &status.AnalysisEvent{ProviderRef: "task-y"}
	got := <-ch
	assert.Equal(t, "task-y", got.ProviderRef)
}
