package domain

import "context"

// Service is the subscription record store used by billing and webhook reconciliation.
type Service interface {
	GetAccount(ctx context.Context, userID string) (*Account, error)
	SetCustomerID(ctx context.Context, userID, customerID string) error
	UpsertSubscription(ctx context.Context, sub Subscription) (UpsertResult, error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
}
