package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/kinship/internal/subscription/domain"
	"github.com/smallbiznis/kinship/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const subscriptionColumns = `id, user_id, customer_id, price_id, status, current_period_end,
	cancel_at_period_end, event_at, revision, created_at, updated_at`

func (r *repo) FindAccount(ctx context.Context, conn *gorm.DB, userID string) (*domain.Account, error) {
	var account domain.Account
	err := conn.WithContext(ctx).Raw(
		`SELECT user_id, payment_customer_id, created_at, updated_at
		 FROM subscription_accounts
		 WHERE user_id = ?`,
		userID,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.UserID == "" {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) FindAccountByCustomerID(ctx context.Context, conn *gorm.DB, customerID string) (*domain.Account, error) {
	var account domain.Account
	err := conn.WithContext(ctx).Raw(
		`SELECT user_id, payment_customer_id, created_at, updated_at
		 FROM subscription_accounts
		 WHERE payment_customer_id = ?`,
		customerID,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.UserID == "" {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) LinkCustomer(ctx context.Context, conn *gorm.DB, userID, customerID string, now time.Time) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`INSERT INTO subscription_accounts (user_id, payment_customer_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE
		 SET payment_customer_id = excluded.payment_customer_id,
		     updated_at = excluded.updated_at
		 WHERE subscription_accounts.payment_customer_id IS NULL`,
		userID,
		customerID,
		now,
		now,
	)
	if result.Error != nil {
		// the customer is already linked to another user
		if db.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindSubscription(ctx context.Context, conn *gorm.DB, id string) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := conn.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE id = ?`,
		id,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == "" {
		return nil, nil
	}
	return normalize(sub), nil
}

func (r *repo) ListOpenSubscriptions(ctx context.Context, conn *gorm.DB, userID string) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	err := conn.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE user_id = ? AND status <> ?
		 ORDER BY created_at DESC, id`,
		userID,
		string(domain.StatusCanceled),
	).Scan(&subs).Error
	if err != nil {
		return nil, err
	}
	for i := range subs {
		subs[i] = *normalize(subs[i])
	}
	return subs, nil
}

func (r *repo) InsertSubscription(ctx context.Context, conn *gorm.DB, sub *domain.Subscription) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		sub.ID,
		nullString(sub.UserID),
		sub.CustomerID,
		nullString(sub.PriceID),
		string(sub.Status),
		nullTime(sub.CurrentPeriodEnd),
		sub.CancelAtPeriodEnd,
		sub.EventAt,
		sub.Revision,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) UpdateSubscription(ctx context.Context, conn *gorm.DB, sub *domain.Subscription, expectedRevision int64) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET user_id = ?, customer_id = ?, price_id = ?, status = ?, current_period_end = ?,
		     cancel_at_period_end = ?, event_at = ?, revision = ?, updated_at = ?
		 WHERE id = ? AND revision = ?`,
		nullString(sub.UserID),
		sub.CustomerID,
		nullString(sub.PriceID),
		string(sub.Status),
		nullTime(sub.CurrentPeriodEnd),
		sub.CancelAtPeriodEnd,
		sub.EventAt,
		sub.Revision,
		sub.UpdatedAt,
		sub.ID,
		expectedRevision,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func normalize(sub domain.Subscription) *domain.Subscription {
	sub.EventAt = sub.EventAt.UTC()
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	if sub.CurrentPeriodEnd != nil {
		end := sub.CurrentPeriodEnd.UTC()
		sub.CurrentPeriodEnd = &end
	}
	return &sub
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC()
}
