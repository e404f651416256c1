package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventRecord is one gateway delivery, kept so redeliveries are acknowledged once.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "webhook_events" }

// Canonical event kinds produced by adapters.
const (
	EventKindPaymentSucceeded    = "payment_succeeded"
	EventKindSubscriptionCreated = "subscription_created"
	EventKindSubscriptionUpdated = "subscription_updated"
	EventKindSubscriptionDeleted = "subscription_deleted"
	EventKindIgnored             = "ignored"
)

// WebhookEvent is the canonical event parsed by adapters. OccurredAt is the
// gateway's own event timestamp and orders updates to the same subscription.
type WebhookEvent struct {
	Provider        string
	ProviderEventID string
	ProviderType    string
	Kind            string
	OccurredAt      time.Time
	Subscription    *SubscriptionSnapshot
	Payment         *PaymentSnapshot
	RawPayload      []byte
}

// SubscriptionSnapshot carries the gateway status as reported, before mapping.
type SubscriptionSnapshot struct {
	ID                string
	CustomerID        string
	UserID            string
	PriceID           string
	Status            string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  *time.Time
}

type PaymentSnapshot struct {
	ID         string
	Type       string
	CustomerID string
	Amount     int64
	Currency   string
}
