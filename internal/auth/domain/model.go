// Package domain contains the identity types used to authenticate callers.
package domain

import (
	"context"
	"errors"
)

var (
	ErrMissingToken = errors.New("missing_token")
	ErrInvalidToken = errors.New("invalid_token")
	ErrExpiredToken = errors.New("expired_token")
)

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Email  string
}

// Verifier turns a bearer credential into a principal.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}
