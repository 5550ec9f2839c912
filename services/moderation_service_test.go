package services

import (
	"testing"

	"style-analysis/internal/status"

	"github.com/stretchr/testify/assert"
)

func TestModerationService_CheckSubmission(t *testing.T) {
	svc := NewModerationService()

	t.Run("accepts valid submission", func(t *testing.T) {
		err := svc.CheckSubmission("https://cdn.example.com/photo.jpg", "analyze the colour palette")
		assert.NoError(t, err)
	})

	t.Run("accepts empty prompt", func(t *testing.T) {
		err := svc.CheckSubmission("http://images.example.com/a.png", "")
		assert.NoError(t, err)
	})

	t.Run("rejects bad URLs", func(t *testing.T) {
		bad := []string{
			"",
			"not a url",
			"ftp://example.com/file.jpg",
			"javascript:alert(1)",
			"https://",
		}
		for _, u := range bad {
			err := svc.CheckSubmission(u, "prompt")
			assert.ErrorIs(t, err, status.ErrModerationRejected, "url %q", u)
		}
	})

	t.Run("rejects blocked prompt terms", func(t *testing.T) {
		err := svc.CheckSubmission("https://cdn.example.com/photo.jpg", "make it NSFW please")
		assert.ErrorIs(t, err, status.ErrModerationRejected)
	})
}

func TestNotifier_ShouldNotifyPosition(t *testing.T) {
	n := NewNotifier(nil)

	for pos := 1; pos <= 5; pos++ {
		assert.True(t, n.ShouldNotifyPosition(pos), "position %d", pos)
	}

	assert.True(t, n.ShouldNotifyPosition(10))
	assert.False(t, n.ShouldNotifyPosition(7))
	assert.True(t, n.ShouldNotifyPosition(50))
	assert.False(t, n.ShouldNotifyPosition(55))
	assert.True(t, n.ShouldNotifyPosition(150))
	assert.False(t, n.ShouldNotifyPosition(149))
}

func TestNotifier_NilClientIsNoop(t *testing.T) {
	n := NewNotifier(nil)

	// must not panic without a configured PubNub client
	n.NotifyQueued("user-1", 3, 90)
	n.NotifyProcessing("user-1", "rec-1")
	n.NotifyCompleted("user-1", "rec-1", "completed")
	n.NotifyRemoved("user-1", "test")
}
