package tracing

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys carried on kinship spans. User and subscription ids are
// fine on spans (unlike metric labels); emails, secrets and signatures are not.
const (
	KeyFollowerID         = attribute.Key("kinship.follower_id")
	KeyFollowingID        = attribute.Key("kinship.following_id")
	KeyUserID             = attribute.Key("kinship.user_id")
	KeySubscriptionID     = attribute.Key("kinship.subscription_id")
	KeySubscriptionStatus = attribute.Key("kinship.subscription.status")
	KeyWebhookProvider    = attribute.Key("kinship.webhook.provider")
	KeyWebhookEventID     = attribute.Key("kinship.webhook.event_id")
	KeyWebhookType        = attribute.Key("kinship.webhook.event_type")
	KeyGatewayOp          = attribute.Key("kinship.gateway.operation")
	KeyEventType          = attribute.Key("kinship.event.type")
	KeyAggregateID        = attribute.Key("kinship.event.aggregate_id")
	KeyOutcome            = attribute.Key("kinship.outcome")
)

// FollowEdge describes a directed follow between two users.
func FollowEdge(followerID, followingID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		KeyFollowerID.String(followerID),
		KeyFollowingID.String(followingID),
	}
}

// Subscription identifies a subscription row and the status being written.
func Subscription(id, status string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{KeySubscriptionID.String(id)}
	if status != "" {
		attrs = append(attrs, KeySubscriptionStatus.String(status))
	}
	return attrs
}

// WebhookDelivery identifies one gateway notification.
func WebhookDelivery(provider, eventID, eventType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		KeyWebhookProvider.String(provider),
		KeyWebhookEventID.String(eventID),
		KeyWebhookType.String(eventType),
	}
}

var sensitiveKeyParts = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"signature",
	"authorization",
	"email",
}

// SafeAttributes drops attributes whose key names credential or contact data.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	kept := attrs[:0:0]
	for _, attr := range attrs {
		if sensitiveKey(attr.Key) {
			continue
		}
		kept = append(kept, attr)
	}
	return kept
}

func sensitiveKey(key attribute.Key) bool {
	lower := strings.ToLower(string(key))
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

// SafeError keeps only the error's type so span events never carry payload text.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%T", err)
}
