package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	FindAccount(ctx context.Context, db *gorm.DB, userID string) (*Account, error)
	FindAccountByCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*Account, error)
	// LinkCustomer reports false when the account already carries a customer id.
	LinkCustomer(ctx context.Context, db *gorm.DB, userID, customerID string, now time.Time) (bool, error)

	FindSubscription(ctx context.Context, db *gorm.DB, id string) (*Subscription, error)
	ListOpenSubscriptions(ctx context.Context, db *gorm.DB, userID string) ([]Subscription, error)
	// InsertSubscription reports false when a row with the same id already exists.
	InsertSubscription(ctx context.Context, db *gorm.DB, sub *Subscription) (bool, error)
	// UpdateSubscription reports false when the stored revision no longer matches.
	UpdateSubscription(ctx context.Context, db *gorm.DB, sub *Subscription, expectedRevision int64) (bool, error)
}
