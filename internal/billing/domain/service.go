package domain

import (
	"context"
	"time"
)

type Service interface {
	CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*CustomerResponse, error)
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntentResponse, error)
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*SubscriptionResponse, error)
	CancelSubscription(ctx context.Context, userID, subscriptionID string) (*SubscriptionResponse, error)
	ListPaymentMethods(ctx context.Context, userID string) ([]PaymentMethod, error)
}

type CreateCustomerRequest struct {
	UserID string
	Email  string `json:"email"`
	Name   string `json:"name"`
}

type CustomerResponse struct {
	CustomerID string `json:"customerId"`
}

// PaymentIntentRequest carries the amount in major units, e.g. 9.99.
type PaymentIntentRequest struct {
	UserID           string
	Amount           *float64 `json:"amount"`
	Currency         string   `json:"currency"`
	SubscriptionType string   `json:"subscriptionType"`
}

type PaymentIntentResponse struct {
	PaymentIntentID string `json:"paymentIntentId"`
	ClientSecret    string `json:"clientSecret"`
}

type CreateSubscriptionRequest struct {
	UserID          string
	PriceID         string `json:"priceId"`
	PaymentMethodID string `json:"paymentMethodId"`
	IdempotencyKey  string
}

type SubscriptionResponse struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	PriceID           *string    `json:"priceId,omitempty"`
	CurrentPeriodEnd  *time.Time `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd"`
	ClientSecret      string     `json:"clientSecret,omitempty"`
}
