package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*WebhookEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

type AdapterConfig struct {
	Provider      string
	WebhookSecret string
	Tolerance     time.Duration
	Now           func() time.Time
}

type Repository interface {
	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*EventRecord, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}

// IngestResult tells the caller what happened to an accepted delivery.
type IngestResult struct {
	EventID   string `json:"eventId"`
	Kind      string `json:"kind"`
	Duplicate bool   `json:"duplicate"`
	Applied   bool   `json:"applied"`
}

type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*IngestResult, error)
}
