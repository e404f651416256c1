package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/kinship/internal/payment/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "stripe"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Adapter{
		webhookSecret: secret,
		tolerance:     cfg.Tolerance,
		now:           now,
	}, nil
}

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
	now           func() time.Time
}

// Verify checks the Stripe-Signature header and rejects stale timestamps.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	if a.tolerance > 0 {
		unix, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return paymentdomain.ErrInvalidSignature
		}
		if a.now().Sub(time.Unix(unix, 0)) > a.tolerance {
			return paymentdomain.ErrInvalidSignature
		}
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

// Parse maps a Stripe event onto a canonical kind. Types outside the table
// come back as EventKindIgnored rather than an error.
func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.WebhookEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	event.Type = strings.TrimSpace(event.Type)
	if strings.TrimSpace(event.ID) == "" || event.Type == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	out := &paymentdomain.WebhookEvent{
		Provider:        "stripe",
		ProviderEventID: event.ID,
		ProviderType:    event.Type,
		OccurredAt:      eventTime(event.Created, a.now),
		RawPayload:      payload,
	}

	switch event.Type {
	case "payment_intent.succeeded":
		return a.parsePayment(out, event, "payment_intent")
	case "invoice.payment_succeeded":
		return a.parsePayment(out, event, "invoice")
	case "customer.subscription.created":
		out.Kind = paymentdomain.EventKindSubscriptionCreated
		return a.parseSubscription(out, event)
	case "customer.subscription.updated":
		out.Kind = paymentdomain.EventKindSubscriptionUpdated
		return a.parseSubscription(out, event)
	case "customer.subscription.deleted":
		out.Kind = paymentdomain.EventKindSubscriptionDeleted
		return a.parseSubscription(out, event)
	default:
		out.Kind = paymentdomain.EventKindIgnored
		return out, nil
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripePayment struct {
	ID             string         `json:"id"`
	Customer       string         `json:"customer"`
	Amount         int64          `json:"amount"`
	AmountReceived int64          `json:"amount_received"`
	AmountPaid     int64          `json:"amount_paid"`
	Currency       string         `json:"currency"`
	Metadata       map[string]any `json:"metadata"`
}

type stripeSubscription struct {
	ID                string         `json:"id"`
	Customer          string         `json:"customer"`
	Status            string         `json:"status"`
	CancelAtPeriodEnd bool           `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64          `json:"current_period_end"`
	Metadata          map[string]any `json:"metadata"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (a *Adapter) parsePayment(out *paymentdomain.WebhookEvent, event stripeEvent, paymentType string) (*paymentdomain.WebhookEvent, error) {
	var payment stripePayment
	if err := json.Unmarshal(event.Data.Object, &payment); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	amount := payment.AmountReceived
	if amount <= 0 {
		amount = payment.AmountPaid
	}
	if amount <= 0 {
		amount = payment.Amount
	}

	out.Kind = paymentdomain.EventKindPaymentSucceeded
	out.Payment = &paymentdomain.PaymentSnapshot{
		ID:         payment.ID,
		Type:       paymentType,
		CustomerID: strings.TrimSpace(payment.Customer),
		Amount:     amount,
		Currency:   strings.ToUpper(strings.TrimSpace(payment.Currency)),
	}
	return out, nil
}

func (a *Adapter) parseSubscription(out *paymentdomain.WebhookEvent, event stripeEvent) (*paymentdomain.WebhookEvent, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.ID) == "" || strings.TrimSpace(sub.Customer) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	snapshot := &paymentdomain.SubscriptionSnapshot{
		ID:                strings.TrimSpace(sub.ID),
		CustomerID:        strings.TrimSpace(sub.Customer),
		UserID:            readMetadataValue(sub.Metadata, "user_id"),
		Status:            strings.TrimSpace(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	periodEnd := sub.CurrentPeriodEnd
	if len(sub.Items.Data) > 0 {
		snapshot.PriceID = sub.Items.Data[0].Price.ID
		if periodEnd == 0 {
			periodEnd = sub.Items.Data[0].CurrentPeriodEnd
		}
	}
	if periodEnd > 0 {
		end := time.Unix(periodEnd, 0).UTC()
		snapshot.CurrentPeriodEnd = &end
	}

	out.Subscription = snapshot
	return out, nil
}

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func eventTime(created int64, now func() time.Time) time.Time {
	if created == 0 {
		return now().UTC()
	}
	return time.Unix(created, 0).UTC()
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	}
	return ""
}
