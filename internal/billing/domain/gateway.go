package domain

import (
	"context"
	"time"
)

// PaymentGateway is the outbound port to the card processor.
type PaymentGateway interface {
	CreateCustomer(ctx context.Context, input CreateCustomerInput) (*Customer, error)
	CreatePaymentIntent(ctx context.Context, input PaymentIntentInput) (*PaymentIntent, error)
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error
	CreateSubscription(ctx context.Context, input CreateSubscriptionInput) (*GatewaySubscription, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*GatewaySubscription, error)
	ListPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethod, error)
}

type CreateCustomerInput struct {
	UserID         string
	Email          string
	Name           string
	IdempotencyKey string
}

type Customer struct {
	ID string
}

// PaymentIntentInput carries the amount in minor units.
type PaymentIntentInput struct {
	UserID           string
	CustomerID       string
	Amount           int64
	Currency         string
	Description      string
	SubscriptionType string
}

type PaymentIntent struct {
	ID           string
	ClientSecret string
}

type CreateSubscriptionInput struct {
	UserID          string
	CustomerID      string
	PriceID         string
	PaymentMethodID string
	IdempotencyKey  string
}

// GatewaySubscription is the gateway's view of a subscription, status unmapped.
type GatewaySubscription struct {
	ID                string
	CustomerID        string
	PriceID           string
	Status            string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  *time.Time
	ClientSecret      string
	Created           time.Time
}

type PaymentMethod struct {
	ID       string `json:"id"`
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"expMonth"`
	ExpYear  int    `json:"expYear"`
}
