package events

import "time"

// Domain event types written to the outbox.
const (
	EventFollowCreated             = "follow.created"
	EventFollowDeleted             = "follow.deleted"
	EventSubscriptionStatusChanged = "subscription.status_changed"
)

type FollowPayload struct {
	FollowID    string    `json:"follow_id,omitempty"`
	FollowerID  string    `json:"follower_id"`
	FollowingID string    `json:"following_id"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (p FollowPayload) ToMap() map[string]any {
	out := map[string]any{
		"follower_id":  p.FollowerID,
		"following_id": p.FollowingID,
		"occurred_at":  p.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if p.FollowID != "" {
		out["follow_id"] = p.FollowID
	}
	return out
}

type SubscriptionStatusPayload struct {
	SubscriptionID string    `json:"subscription_id"`
	UserID         string    `json:"user_id,omitempty"`
	FromStatus     string    `json:"from_status,omitempty"`
	ToStatus       string    `json:"to_status"`
	EventAt        time.Time `json:"event_at"`
}

func (p SubscriptionStatusPayload) ToMap() map[string]any {
	out := map[string]any{
		"subscription_id": p.SubscriptionID,
		"to_status":       p.ToStatus,
		"event_at":        p.EventAt.UTC().Format(time.RFC3339Nano),
	}
	if p.UserID != "" {
		out["user_id"] = p.UserID
	}
	if p.FromStatus != "" {
		out["from_status"] = p.FromStatus
	}
	return out
}
