package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event describes a domain event to store in the outbox.
type Event struct {
	Type        string
	AggregateID string
	Payload     map[string]any
	DedupeKey   string
}

// Outbox inserts domain events into the social_events table.
type Outbox struct {
	db    *gorm.DB
	genID *snowflake.Node
}

type OutboxParams struct {
	fx.In

	DB    *gorm.DB
	GenID *snowflake.Node
}

func NewOutbox(p OutboxParams) *Outbox {
	return &Outbox{db: p.DB, genID: p.GenID}
}

// Publish stores an event using the default database connection.
func (o *Outbox) Publish(ctx context.Context, event Event) error {
	return o.publish(ctx, o.db, event)
}

// PublishTx stores an event using an existing transaction.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	if tx == nil {
		return errors.New("missing_transaction")
	}
	return o.publish(ctx, tx, event)
}

func (o *Outbox) publish(ctx context.Context, db *gorm.DB, event Event) error {
	if o == nil || db == nil || o.genID == nil {
		return errors.New("outbox_unavailable")
	}
	name := strings.TrimSpace(event.Type)
	if name == "" {
		return errors.New("missing_event_type")
	}
	aggregateID := strings.TrimSpace(event.AggregateID)
	if aggregateID == "" {
		return errors.New("missing_aggregate_id")
	}

	payload := datatypes.JSONMap{}
	for key, value := range event.Payload {
		if strings.TrimSpace(key) == "" {
			continue
		}
		payload[key] = value
	}

	var dedupeValue any
	if dedupe := strings.TrimSpace(event.DedupeKey); dedupe != "" {
		dedupeValue = dedupe
	}

	return db.WithContext(ctx).Exec(
		`INSERT INTO social_events (id, event_type, aggregate_id, payload, dedupe_key, published, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, false, 0, ?)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		o.genID.Generate().Int64(),
		name,
		aggregateID,
		payload,
		dedupeValue,
		time.Now().UTC(),
	).Error
}
