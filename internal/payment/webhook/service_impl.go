package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kinship/internal/clock"
	"github.com/smallbiznis/kinship/internal/config"
	"github.com/smallbiznis/kinship/internal/observability/metrics"
	"github.com/smallbiznis/kinship/internal/observability/tracing"
	"github.com/smallbiznis/kinship/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/kinship/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/kinship/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Cfg           config.Config
	Adapters      *adapters.Registry
	Repo          paymentdomain.Repository
	Subscriptions subscriptiondomain.Service
	Metrics       *metrics.Metrics `optional:"true"`
}

// handler applies one canonical event kind. applied reports a stored change.
type handler func(ctx context.Context, event *paymentdomain.WebhookEvent) (applied bool, err error)

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	adapters      *adapters.Registry
	secrets       map[string]paymentdomain.AdapterConfig
	repo          paymentdomain.Repository
	subscriptions subscriptiondomain.Service
	metrics       *metrics.Metrics
	handlers      map[string]handler
}

func NewService(p Params) paymentdomain.Service {
	s := &Service{
		db:            p.DB,
		log:           p.Log.Named("payment.webhook"),
		genID:         p.GenID,
		clock:         p.Clock,
		adapters:      p.Adapters,
		repo:          p.Repo,
		subscriptions: p.Subscriptions,
		metrics:       p.Metrics,
		secrets: map[string]paymentdomain.AdapterConfig{
			"stripe": {
				WebhookSecret: p.Cfg.Stripe.WebhookSecret,
				Tolerance:     p.Cfg.Stripe.WebhookTolerance,
				Now:           p.Clock.Now,
			},
		},
	}
	s.handlers = map[string]handler{
		paymentdomain.EventKindPaymentSucceeded:    s.handlePaymentSucceeded,
		paymentdomain.EventKindSubscriptionCreated: s.handleSubscriptionChanged,
		paymentdomain.EventKindSubscriptionUpdated: s.handleSubscriptionChanged,
		paymentdomain.EventKindSubscriptionDeleted: s.handleSubscriptionDeleted,
	}
	return s
}

// IngestWebhook verifies, records and applies one gateway delivery. Redeliveries
// of a processed event are acknowledged without being applied again.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (_ *paymentdomain.IngestResult, err error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	ctx, span := tracing.Start(ctx, "payment.webhook.ingest", tracing.KeyWebhookProvider.String(provider))
	defer func() { tracing.End(span, err, paymentdomain.ErrInvalidSignature) }()

	if provider == "" {
		return nil, paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return nil, paymentdomain.ErrProviderNotFound
	}

	adapter, err := s.adapters.NewAdapter(provider, s.secrets[provider])
	if err != nil {
		s.log.Error("webhook adapter unavailable", zap.String("provider", provider), zap.Error(err))
		return nil, err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, "unknown", "signature_invalid")
		return nil, err
	}
	if !json.Valid(payload) {
		s.metrics.RecordWebhookEvent(ctx, provider, "unknown", "invalid_payload")
		return nil, paymentdomain.ErrInvalidPayload
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, "unknown", "invalid_payload")
		return nil, err
	}

	span.SetAttributes(tracing.SafeAttributes(tracing.WebhookDelivery(provider, event.ProviderEventID, event.ProviderType)...)...)
	result := &paymentdomain.IngestResult{EventID: event.ProviderEventID, Kind: event.Kind}

	record, duplicate, err := s.record(ctx, provider, event, payload)
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, event.Kind, "failed")
		return nil, err
	}
	if duplicate {
		result.Duplicate = true
		s.metrics.RecordWebhookEvent(ctx, provider, event.Kind, "duplicate")
		return result, nil
	}

	handle, ok := s.handlers[event.Kind]
	if !ok {
		s.log.Debug("webhook event ignored",
			zap.String("provider", provider),
			zap.String("event_id", event.ProviderEventID),
			zap.String("event_type", event.ProviderType),
		)
	} else {
		applied, err := handle(ctx, event)
		if err != nil {
			s.log.Error("webhook event failed",
				zap.String("provider", provider),
				zap.String("event_id", event.ProviderEventID),
				zap.String("event_type", event.ProviderType),
				zap.Error(err),
			)
			s.metrics.RecordWebhookEvent(ctx, provider, event.Kind, "failed")
			return nil, err
		}
		result.Applied = applied
	}

	if err := s.repo.MarkProcessed(ctx, s.db, record.ID, s.clock.Now()); err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, event.Kind, "failed")
		return nil, err
	}

	outcome := "processed"
	if !ok {
		outcome = "ignored"
	}
	s.metrics.RecordWebhookEvent(ctx, provider, event.Kind, outcome)
	return result, nil
}

// record stores the delivery, or finds an earlier one. An earlier delivery that
// never finished processing is handed back for another attempt.
func (s *Service) record(ctx context.Context, provider string, event *paymentdomain.WebhookEvent, payload []byte) (*paymentdomain.EventRecord, bool, error) {
	record := &paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.ProviderType,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      s.clock.Now(),
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return record, false, nil
	}

	existing, err := s.repo.FindEvent(ctx, s.db, provider, event.ProviderEventID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, errors.New("webhook_event_missing")
	}
	return existing, existing.ProcessedAt != nil, nil
}

func (s *Service) handlePaymentSucceeded(ctx context.Context, event *paymentdomain.WebhookEvent) (bool, error) {
	fields := []zap.Field{
		zap.String("event_id", event.ProviderEventID),
		zap.String("event_type", event.ProviderType),
	}
	if event.Payment != nil {
		fields = append(fields,
			zap.String("payment_id", event.Payment.ID),
			zap.String("customer_id", event.Payment.CustomerID),
			zap.Int64("amount", event.Payment.Amount),
			zap.String("currency", event.Payment.Currency),
		)
	}
	s.log.Info("payment succeeded", fields...)
	return false, nil
}

func (s *Service) handleSubscriptionChanged(ctx context.Context, event *paymentdomain.WebhookEvent) (bool, error) {
	snapshot := event.Subscription
	if snapshot == nil {
		return false, paymentdomain.ErrInvalidEvent
	}

	status, ok := subscriptiondomain.FromGatewayStatus(snapshot.Status, snapshot.CancelAtPeriodEnd)
	if !ok {
		s.log.Warn("unknown gateway subscription status",
			zap.String("event_id", event.ProviderEventID),
			zap.String("subscription_id", snapshot.ID),
			zap.String("gateway_status", snapshot.Status),
		)
		return false, nil
	}
	return s.apply(ctx, event, status)
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event *paymentdomain.WebhookEvent) (bool, error) {
	if event.Subscription == nil {
		return false, paymentdomain.ErrInvalidEvent
	}
	return s.apply(ctx, event, subscriptiondomain.StatusCanceled)
}

func (s *Service) apply(ctx context.Context, event *paymentdomain.WebhookEvent, status subscriptiondomain.SubscriptionStatus) (bool, error) {
	snapshot := event.Subscription
	sub := subscriptiondomain.Subscription{
		ID:                snapshot.ID,
		CustomerID:        snapshot.CustomerID,
		Status:            status,
		CurrentPeriodEnd:  snapshot.CurrentPeriodEnd,
		CancelAtPeriodEnd: snapshot.CancelAtPeriodEnd,
		EventAt:           event.OccurredAt,
	}
	if snapshot.UserID != "" {
		userID := snapshot.UserID
		sub.UserID = &userID
	}
	if snapshot.PriceID != "" {
		priceID := snapshot.PriceID
		sub.PriceID = &priceID
	}

	result, err := s.subscriptions.UpsertSubscription(ctx, sub)
	if err != nil {
		return false, err
	}
	if result.Applied {
		s.log.Info("subscription reconciled",
			zap.String("event_id", event.ProviderEventID),
			zap.String("subscription_id", sub.ID),
			zap.String("from_status", string(result.PreviousStatus)),
			zap.String("to_status", string(result.Subscription.Status)),
		)
	}
	return result.Applied, nil
}
