package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	paymentdomain "github.com/smallbiznis/kinship/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newAdapter(t *testing.T, secret string) *Adapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{
		WebhookSecret: secret,
		Tolerance:     5 * time.Minute,
		Now:           func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return adapter.(*Adapter)
}

func TestNewAdapterRequiresSecret(t *testing.T) {
	_, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{WebhookSecret: " "})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)
}

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"customer.subscription.updated","data":{"object":{}}}`)
	adapter := newAdapter(t, secret)
	ctx := context.Background()

	header := http.Header{}
	header.Set("Stripe-Signature", buildStripeSignatureHeader(secret, payload, fixedNow.Unix()))
	assert.NoError(t, adapter.Verify(ctx, payload, header))

	header.Set("Stripe-Signature", buildStripeSignatureHeader("wrong", payload, fixedNow.Unix()))
	assert.ErrorIs(t, adapter.Verify(ctx, payload, header), paymentdomain.ErrInvalidSignature)

	header.Set("Stripe-Signature", buildStripeSignatureHeader(secret, []byte(`{"tampered":true}`), fixedNow.Unix()))
	assert.ErrorIs(t, adapter.Verify(ctx, payload, header), paymentdomain.ErrInvalidSignature)

	header.Set("Stripe-Signature", "garbage")
	assert.ErrorIs(t, adapter.Verify(ctx, payload, header), paymentdomain.ErrInvalidSignature)

	assert.ErrorIs(t, adapter.Verify(ctx, payload, http.Header{}), paymentdomain.ErrInvalidSignature)
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_1"}`)
	adapter := newAdapter(t, secret)

	header := http.Header{}
	header.Set("Stripe-Signature", buildStripeSignatureHeader(secret, payload, fixedNow.Add(-4*time.Minute).Unix()))
	assert.NoError(t, adapter.Verify(context.Background(), payload, header))

	header.Set("Stripe-Signature", buildStripeSignatureHeader(secret, payload, fixedNow.Add(-6*time.Minute).Unix()))
	assert.ErrorIs(t, adapter.Verify(context.Background(), payload, header), paymentdomain.ErrInvalidSignature)
}

func TestParseEvents(t *testing.T) {
	created := fixedNow.Add(-time.Minute).Unix()
	periodEnd := fixedNow.Add(30 * 24 * time.Hour).Unix()

	tests := []struct {
		name     string
		event    map[string]any
		wantKind string
		check    func(t *testing.T, event *paymentdomain.WebhookEvent)
	}{{
		name: "customer.subscription.updated",
		event: map[string]any{
			"id":      "evt_sub",
			"type":    "customer.subscription.updated",
			"created": created,
			"data": map[string]any{"object": map[string]any{
				"id":                   "sub_1",
				"customer":             "cus_1",
				"status":               "past_due",
				"cancel_at_period_end": false,
				"current_period_end":   periodEnd,
				"metadata":             map[string]any{"user_id": "u1"},
				"items": map[string]any{"data": []any{
					map[string]any{"price": map[string]any{"id": "price_basic"}},
				}},
			}},
		},
		wantKind: paymentdomain.EventKindSubscriptionUpdated,
		check: func(t *testing.T, event *paymentdomain.WebhookEvent) {
			require.NotNil(t, event.Subscription)
			assert.Equal(t, "sub_1", event.Subscription.ID)
			assert.Equal(t, "cus_1", event.Subscription.CustomerID)
			assert.Equal(t, "u1", event.Subscription.UserID)
			assert.Equal(t, "price_basic", event.Subscription.PriceID)
			assert.Equal(t, "past_due", event.Subscription.Status)
			require.NotNil(t, event.Subscription.CurrentPeriodEnd)
			assert.Equal(t, time.Unix(periodEnd, 0).UTC(), *event.Subscription.CurrentPeriodEnd)
			assert.Equal(t, time.Unix(created, 0).UTC(), event.OccurredAt)
		},
	}, {
		name: "customer.subscription.deleted",
		event: map[string]any{
			"id":      "evt_del",
			"type":    "customer.subscription.deleted",
			"created": created,
			"data":    map[string]any{"object": map[string]any{"id": "sub_1", "customer": "cus_1", "status": "canceled"}},
		},
		wantKind: paymentdomain.EventKindSubscriptionDeleted,
	}, {
		name: "payment_intent.succeeded",
		event: map[string]any{
			"id":      "evt_pi",
			"type":    "payment_intent.succeeded",
			"created": created,
			"data": map[string]any{"object": map[string]any{
				"id": "pi_1", "amount": 2500, "amount_received": 2500, "currency": "usd", "customer": "cus_1",
			}},
		},
		wantKind: paymentdomain.EventKindPaymentSucceeded,
		check: func(t *testing.T, event *paymentdomain.WebhookEvent) {
			require.NotNil(t, event.Payment)
			assert.Equal(t, int64(2500), event.Payment.Amount)
			assert.Equal(t, "USD", event.Payment.Currency)
		},
	}, {
		name: "invoice.payment_succeeded",
		event: map[string]any{
			"id":      "evt_inv",
			"type":    "invoice.payment_succeeded",
			"created": created,
			"data":    map[string]any{"object": map[string]any{"id": "in_1", "amount_paid": 999, "currency": "eur"}},
		},
		wantKind: paymentdomain.EventKindPaymentSucceeded,
	}, {
		name: "charge.refunded",
		event: map[string]any{
			"id":      "evt_other",
			"type":    "charge.refunded",
			"created": created,
			"data":    map[string]any{"object": map[string]any{"id": "ch_1"}},
		},
		wantKind: paymentdomain.EventKindIgnored,
	}}

	adapter := newAdapter(t, "whsec_test")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := json.Marshal(tt.event)
			require.NoError(t, err)

			event, err := adapter.Parse(context.Background(), payload)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, event.Kind)
			assert.Equal(t, tt.event["id"], event.ProviderEventID)
			if tt.check != nil {
				tt.check(t, event)
			}
		})
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	adapter := newAdapter(t, "whsec_test")
	ctx := context.Background()

	_, err := adapter.Parse(ctx, []byte(`{`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	_, err = adapter.Parse(ctx, []byte(`{"type":"customer.subscription.updated"}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)

	_, err = adapter.Parse(ctx, []byte(`{"id":"evt_1","type":"customer.subscription.updated","data":{"object":{"id":"sub_1"}}}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)
}

func buildStripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}
