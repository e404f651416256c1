// Package domain holds the subscription record store models and the status lifecycle.
package domain

import (
	"time"
)

// SubscriptionStatus is the local view of a gateway subscription.
type SubscriptionStatus string

const (
	StatusIncomplete SubscriptionStatus = "incomplete"
	StatusActive     SubscriptionStatus = "active"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusCanceling  SubscriptionStatus = "canceling"
	StatusCanceled   SubscriptionStatus = "canceled"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusIncomplete, StatusActive, StatusPastDue, StatusCanceling, StatusCanceled:
		return true
	default:
		return false
	}
}

// Account links a user to a payment-gateway customer. PaymentCustomerID is written once.
type Account struct {
	UserID            string
	PaymentCustomerID *string
	CreatedAt         time.Time
	UpdatedAt         time.Time

	// Subscriptions lists every subscription that is not canceled.
	Subscriptions []Subscription `gorm:"-"`
}

func (a *Account) HasCustomer() bool {
	return a != nil && a.PaymentCustomerID != nil && *a.PaymentCustomerID != ""
}

// Subscription mirrors a gateway subscription. EventAt is the ordering stamp of the
// last applied change and Revision guards concurrent writers.
type Subscription struct {
	ID                string
	UserID            *string
	CustomerID        string
	PriceID           *string
	Status            SubscriptionStatus
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
	EventAt           time.Time
	Revision          int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// UpsertResult reports what UpsertSubscription stored.
type UpsertResult struct {
	Subscription   Subscription
	Applied        bool
	PreviousStatus SubscriptionStatus
}
