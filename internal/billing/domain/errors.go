package domain

import "errors"

var (
	ErrMissingUserID           = errors.New("missing_user_id")
	ErrMissingEmail            = errors.New("missing_email")
	ErrMissingAmount           = errors.New("missing_amount")
	ErrMissingSubscriptionType = errors.New("missing_subscription_type")
	ErrMissingPriceID          = errors.New("missing_price_id")
	ErrMissingPaymentMethodID  = errors.New("missing_payment_method_id")
	ErrMissingSubscriptionID   = errors.New("missing_subscription_id")
	ErrInvalidAmount           = errors.New("invalid_amount")
	ErrInvalidCurrency         = errors.New("invalid_currency")
	ErrSubscriptionCanceled    = errors.New("subscription_canceled")
	ErrCustomerRequired        = errors.New("customer_required")

	// ErrGatewayTimeout means the gateway did not answer in time. The call may still have taken effect.
	ErrGatewayTimeout  = errors.New("gateway_timeout")
	ErrGatewayRejected = errors.New("gateway_rejected")
	// ErrPartialFailure means the gateway accepted a change the local store could not record.
	ErrPartialFailure = errors.New("partial_failure")
)
