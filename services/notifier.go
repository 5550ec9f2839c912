package services

import (
	"fmt"

	pubnub "github.com/pubnub/go"
)

// Notifier pushes realtime queue events to per-user channels. A nil PubNub
// client turns every notification into a no-op.
type Notifier struct {
	pubnub *pubnub.PubNub
}

func NewNotifier(pn *pubnub.PubNub) *Notifier {
	return &Notifier{pubnub: pn}
}

func (n *Notifier) NotifyQueued(userID string, position, waitSeconds int) {
	message := fmt.Sprintf("You are #%d in line", position)
	if position == 1 {
		message = "You're next!"
	}

	n.publish(userID, map[string]any{
		"type":           "analysis_queued",
		"position":       position,
		"estimated_wait": waitSeconds,
		"message":        message,
	})
}

func (n *Notifier) NotifyProcessing(userID, analysisID string) {
	n.publish(userID, map[string]any{
		"type":        "analysis_status",
		"status":      "processing",
		"analysis_id": analysisID,
		"message":     "Your style analysis has started.",
	})
}

func (n *Notifier) NotifyCompleted(userID, analysisID, status string) {
	n.publish(userID, map[string]any{
		"type":        "analysis_status",
		"status":      status,
		"analysis_id": analysisID,
	})
}

func (n *Notifier) NotifyRemoved(userID, reason string) {
	n.publish(userID, map[string]any{
		"type":    "analysis_removed",
		"reason":  reason,
		"message": "Your analysis was removed from the queue.",
	})
}

// ShouldNotifyPosition throttles position pushes so the channel is not
// flooded for deep queues.
func (n *Notifier) ShouldNotifyPosition(position int) bool {
	switch {
	case position <= 5:
		return true
	case position <= 20:
		return position%2 == 0
	case position <= 100:
		return position%10 == 0
	}
	return position%50 == 0
}

func (n *Notifier) publish(userID string, message map[string]any) {
	if n.pubnub == nil {
		return
	}

	channel := fmt.Sprintf("user-%s", userID)
	n.pubnub.Publish().
		Channel(channel).
		Message(message).
		Execute()
}
