package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/smallbiznis/kinship/internal/observability/tracing"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// Message is an outbox row on its way to the broker.
type Message struct {
	ID          int64
	Type        string
	AggregateID string
	Payload     json.RawMessage
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// NATSPublisher publishes each event on "<prefix>.<event type>".
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{nc: nc, prefix: strings.Trim(strings.TrimSpace(prefix), ".")}
}

func (p *NATSPublisher) Publish(ctx context.Context, msg Message) error {
	subject := msg.Type
	if p.prefix != "" {
		subject = p.prefix + "." + msg.Type
	}
	out := &nats.Msg{
		Subject: subject,
		Data:    msg.Payload,
		Header:  nats.Header{},
	}
	out.Header.Set("Nats-Msg-Id", fmt.Sprintf("%d", msg.ID))
	out.Header.Set("Aggregate-Id", msg.AggregateID)
	// nats.Header and http.Header share an underlying type
	tracing.InjectContext(ctx, propagation.HeaderCarrier(out.Header))

	if err := p.nc.PublishMsg(out); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// LogPublisher is used when no broker is configured; events are only logged.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log.Named("events.log_publisher")}
}

func (p *LogPublisher) Publish(_ context.Context, msg Message) error {
	p.log.Info("domain event",
		zap.Int64("event_id", msg.ID),
		zap.String("event_type", msg.Type),
		zap.String("aggregate_id", msg.AggregateID),
	)
	return nil
}
