// Package jwt verifies HS256 bearer tokens issued by the identity provider.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/kinship/internal/auth/domain"
	"github.com/smallbiznis/kinship/internal/config"
)

// Claims accepts the user id either as userId or as the registered subject.
type Claims struct {
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email,omitempty"`
	gojwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(cfg config.Config) (domain.Verifier, error) {
	secret := strings.TrimSpace(cfg.AuthJWTSecret)
	if secret == "" && cfg.IsProduction() {
		return nil, errors.New("AUTH_JWT_SECRET is required in production")
	}
	return &Verifier{secret: []byte(secret), now: time.Now}, nil
}

func (v *Verifier) Verify(ctx context.Context, token string) (*domain.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ErrMissingToken
	}
	if len(v.secret) == 0 {
		return nil, domain.ErrInvalidToken
	}

	claims := &Claims{}
	parsed, err := gojwt.ParseWithClaims(token, claims, func(t *gojwt.Token) (any, error) {
		if _, ok := t.Method.(*gojwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	},
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, gojwt.ErrTokenExpired) {
			return nil, domain.ErrExpiredToken
		}
		return nil, domain.ErrInvalidToken
	}
	if !parsed.Valid {
		return nil, domain.ErrInvalidToken
	}

	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		userID = strings.TrimSpace(claims.Subject)
	}
	if userID == "" {
		return nil, domain.ErrInvalidToken
	}
	return &domain.Principal{UserID: userID, Email: strings.TrimSpace(claims.Email)}, nil
}

// Sign issues an HS256 token for userID. It backs local tooling and tests.
func Sign(secret string, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
