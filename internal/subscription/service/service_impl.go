package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/kinship/internal/clock"
	"github.com/smallbiznis/kinship/internal/events"
	"github.com/smallbiznis/kinship/internal/observability/metrics"
	"github.com/smallbiznis/kinship/internal/observability/tracing"
	"github.com/smallbiznis/kinship/internal/subscription/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxUpsertAttempts = 5

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    domain.Repository
	Outbox  *events.Outbox
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    domain.Repository
	outbox  *events.Outbox
	metrics *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("subscription.store"),
		clock:   p.Clock,
		repo:    p.Repo,
		outbox:  p.Outbox,
		metrics: p.Metrics,
	}
}

func (s *Service) GetAccount(ctx context.Context, userID string) (*domain.Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrMissingUserID
	}

	account, err := s.repo.FindAccount(ctx, s.db, userID)
	if err != nil {
		s.log.Error("failed to load subscription account", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	if account == nil {
		return nil, nil
	}

	subs, err := s.repo.ListOpenSubscriptions(ctx, s.db, userID)
	if err != nil {
		s.log.Error("failed to list open subscriptions", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	account.Subscriptions = subs
	return account, nil
}

func (s *Service) SetCustomerID(ctx context.Context, userID, customerID string) error {
	userID = strings.TrimSpace(userID)
	customerID = strings.TrimSpace(customerID)
	switch {
	case userID == "":
		return domain.ErrMissingUserID
	case customerID == "":
		return domain.ErrMissingCustomerID
	}

	linked, err := s.repo.LinkCustomer(ctx, s.db, userID, customerID, s.clock.Now())
	if err != nil {
		s.log.Error("failed to link payment customer",
			zap.String("user_id", userID),
			zap.String("customer_id", customerID),
			zap.Error(err),
		)
		return err
	}
	if !linked {
		return domain.ErrAlreadyLinked
	}
	return nil
}

func (s *Service) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrMissingSubscriptionID
	}
	sub, err := s.repo.FindSubscription(ctx, s.db, id)
	if err != nil {
		s.log.Error("failed to load subscription", zap.String("subscription_id", id), zap.Error(err))
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

// UpsertSubscription inserts the subscription or merges it into the stored row.
// Writers race through a revision compare-and-swap; the loser re-reads and re-merges.
func (s *Service) UpsertSubscription(ctx context.Context, sub domain.Subscription) (_ domain.UpsertResult, err error) {
	ctx, span := tracing.Start(ctx, "subscription.upsert", tracing.Subscription(sub.ID, string(sub.Status))...)
	defer func() { tracing.End(span, err) }()

	incoming, err := s.normalizeIncoming(sub)
	if err != nil {
		return domain.UpsertResult{}, err
	}

	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		result, retry, err := s.tryUpsert(ctx, incoming)
		if err != nil {
			s.log.Error("failed to write subscription",
				zap.String("subscription_id", incoming.ID),
				zap.String("status", string(incoming.Status)),
				zap.Error(err),
			)
			return domain.UpsertResult{}, err
		}
		if retry {
			s.log.Debug("subscription write lost race, retrying",
				zap.String("subscription_id", incoming.ID),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		if result.Applied && result.PreviousStatus != result.Subscription.Status {
			s.metrics.RecordStatusChange(ctx, string(result.PreviousStatus), string(result.Subscription.Status))
		}
		span.SetAttributes(
			tracing.KeySubscriptionStatus.String(string(result.Subscription.Status)),
			attribute.Bool("kinship.subscription.applied", result.Applied),
			attribute.Int("kinship.subscription.attempts", attempt+1),
		)
		return result, nil
	}

	return domain.UpsertResult{}, fmt.Errorf("%w: subscription %s", domain.ErrConcurrentUpdate, incoming.ID)
}

func (s *Service) tryUpsert(ctx context.Context, incoming domain.Subscription) (domain.UpsertResult, bool, error) {
	var (
		result domain.UpsertResult
		retry  bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if incoming.UserID == nil {
			account, err := s.repo.FindAccountByCustomerID(ctx, tx, incoming.CustomerID)
			if err != nil {
				return err
			}
			if account != nil {
				userID := account.UserID
				incoming.UserID = &userID
			}
		}

		current, err := s.repo.FindSubscription(ctx, tx, incoming.ID)
		if err != nil {
			return err
		}

		next, changed := domain.Merge(current, incoming)
		if current != nil {
			result.PreviousStatus = current.Status
		}
		if !changed {
			result.Subscription = next
			return nil
		}

		now := s.clock.Now()
		next.UpdatedAt = now
		if current == nil {
			next.Revision = 1
			next.CreatedAt = now
			inserted, err := s.repo.InsertSubscription(ctx, tx, &next)
			if err != nil {
				return err
			}
			if !inserted {
				retry = true
				return nil
			}
		} else {
			next.Revision = current.Revision + 1
			updated, err := s.repo.UpdateSubscription(ctx, tx, &next, current.Revision)
			if err != nil {
				return err
			}
			if !updated {
				retry = true
				return nil
			}
		}

		if current == nil || current.Status != next.Status {
			payload := events.SubscriptionStatusPayload{
				SubscriptionID: next.ID,
				FromStatus:     string(result.PreviousStatus),
				ToStatus:       string(next.Status),
				EventAt:        next.EventAt,
			}
			if next.UserID != nil {
				payload.UserID = *next.UserID
			}
			if err := s.outbox.PublishTx(ctx, tx, events.Event{
				Type:        events.EventSubscriptionStatusChanged,
				AggregateID: next.ID,
				DedupeKey:   fmt.Sprintf("%s:%s:%d", events.EventSubscriptionStatusChanged, next.ID, next.Revision),
				Payload:     payload.ToMap(),
			}); err != nil {
				return err
			}
		}

		result.Subscription = next
		result.Applied = true
		return nil
	})
	if err != nil {
		return domain.UpsertResult{}, false, err
	}
	return result, retry, nil
}

func (s *Service) normalizeIncoming(sub domain.Subscription) (domain.Subscription, error) {
	sub.ID = strings.TrimSpace(sub.ID)
	sub.CustomerID = strings.TrimSpace(sub.CustomerID)
	switch {
	case sub.ID == "":
		return sub, domain.ErrMissingSubscriptionID
	case sub.CustomerID == "":
		return sub, domain.ErrMissingCustomerID
	case !sub.Status.Valid():
		return sub, domain.ErrInvalidStatus
	}

	if sub.EventAt.IsZero() {
		sub.EventAt = s.clock.Now()
	}
	// postgres keeps microseconds; compare what will be stored
	sub.EventAt = sub.EventAt.UTC().Truncate(time.Microsecond)
	if sub.CurrentPeriodEnd != nil {
		end := sub.CurrentPeriodEnd.UTC().Truncate(time.Microsecond)
		sub.CurrentPeriodEnd = &end
	}
	if sub.UserID != nil && strings.TrimSpace(*sub.UserID) == "" {
		sub.UserID = nil
	}
	if sub.PriceID != nil && strings.TrimSpace(*sub.PriceID) == "" {
		sub.PriceID = nil
	}
	return sub, nil
}
