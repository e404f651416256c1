package domain

import "errors"

var (
	ErrAlreadyLinked         = errors.New("already_linked")
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrMissingUserID         = errors.New("missing_user_id")
	ErrMissingCustomerID     = errors.New("missing_customer_id")
	ErrMissingSubscriptionID = errors.New("missing_subscription_id")
	ErrInvalidStatus         = errors.New("invalid_status")
	ErrConcurrentUpdate      = errors.New("concurrent_update")
)
