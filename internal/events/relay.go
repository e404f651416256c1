package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/smallbiznis/kinship/internal/observability/metrics"
	"github.com/smallbiznis/kinship/internal/observability/tracing"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type pendingEvent struct {
	ID          int64
	EventType   string
	AggregateID string
	Payload     datatypes.JSON
}

// PassLocker serialises relay passes across replicas.
type PassLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

const relayLockKey = "events:relay:lock"

// Relay moves unpublished outbox rows to the Publisher. Delivery is at-least-once.
type Relay struct {
	db        *gorm.DB
	log       *zap.Logger
	publisher Publisher
	metrics   *metrics.Metrics
	interval  time.Duration
	batchSize int
	locker    PassLocker

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRelay(db *gorm.DB, log *zap.Logger, publisher Publisher, m *metrics.Metrics, interval time.Duration, batchSize int) *Relay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		db:        db,
		log:       log.Named("events.relay"),
		publisher: publisher,
		metrics:   m,
		interval:  interval,
		batchSize: batchSize,
	}
}

// WithLocker makes each pass hold a shared lock. Without one, postgres row locks
// still keep replicas from double-publishing.
func (r *Relay) WithLocker(locker PassLocker) *Relay {
	r.locker = locker
	return r
}

func (r *Relay) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.Tick(ctx); err != nil && ctx.Err() == nil {
					r.log.Warn("outbox relay pass failed", zap.Error(err))
				}
			}
		}
	}()
}

func (r *Relay) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick runs one pass, skipping it when another replica holds the relay lock.
func (r *Relay) Tick(ctx context.Context) (int, error) {
	if r.locker == nil {
		return r.RunOnce(ctx)
	}
	token, ok, err := r.locker.TryLock(ctx, relayLockKey, 2*r.interval+10*time.Second)
	if err != nil {
		r.log.Debug("relay lock unavailable, running unlocked", zap.Error(err))
		return r.RunOnce(ctx)
	}
	if !ok {
		return 0, nil
	}
	defer func() {
		if err := r.locker.Release(context.WithoutCancel(ctx), relayLockKey, token); err != nil {
			r.log.Warn("release relay lock failed", zap.Error(err))
		}
	}()
	return r.RunOnce(ctx)
}

// RunOnce publishes one batch and returns how many events were marked published.
// A publish failure stops the batch so per-aggregate order is kept.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	published := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := `SELECT id, event_type, aggregate_id, payload
			FROM social_events
			WHERE published = false
			ORDER BY id
			LIMIT ?`
		if tx.Dialector.Name() == "postgres" {
			query += ` FOR UPDATE SKIP LOCKED`
		}

		var rows []pendingEvent
		if err := tx.Raw(query, r.batchSize).Scan(&rows).Error; err != nil {
			return err
		}

		for _, row := range rows {
			msg := Message{
				ID:          row.ID,
				Type:        row.EventType,
				AggregateID: row.AggregateID,
				Payload:     json.RawMessage(row.Payload),
			}
			if err := r.publish(ctx, msg); err != nil {
				r.metrics.RecordOutboxPublished(ctx, row.EventType, "error")
				r.log.Warn("publish outbox event failed",
					zap.Int64("event_id", row.ID),
					zap.String("event_type", row.EventType),
					zap.Error(err),
				)
				return tx.Exec(`UPDATE social_events SET attempts = attempts + 1 WHERE id = ?`, row.ID).Error
			}
			if err := tx.Exec(
				`UPDATE social_events SET published = true, published_at = ?, attempts = attempts + 1 WHERE id = ?`,
				time.Now().UTC(), row.ID,
			).Error; err != nil {
				return err
			}
			r.metrics.RecordOutboxPublished(ctx, row.EventType, "ok")
			published++
		}
		return nil
	})
	return published, err
}

func (r *Relay) publish(ctx context.Context, msg Message) (err error) {
	ctx, span := tracing.Start(ctx, "events.publish",
		tracing.KeyEventType.String(msg.Type),
		tracing.KeyAggregateID.String(msg.AggregateID),
	)
	defer func() { tracing.End(span, err) }()
	return r.publisher.Publish(ctx, msg)
}
