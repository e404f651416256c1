package webhook_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kinship/internal/clock"
	"github.com/smallbiznis/kinship/internal/config"
	"github.com/smallbiznis/kinship/internal/events"
	"github.com/smallbiznis/kinship/internal/observability/metrics"
	"github.com/smallbiznis/kinship/internal/observability/tracing"
	"github.com/smallbiznis/kinship/internal/payment/adapters"
	"github.com/smallbiznis/kinship/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/kinship/internal/payment/domain"
	"github.com/smallbiznis/kinship/internal/payment/repository"
	"github.com/smallbiznis/kinship/internal/payment/webhook"
	subscriptiondomain "github.com/smallbiznis/kinship/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/kinship/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/kinship/internal/subscription/service"
	"github.com/smallbiznis/kinship/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const secret = "whsec_test"

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// flakyStore fails the next upsert when armed.
type flakyStore struct {
	subscriptiondomain.Service
	failNext bool
}

func (f *flakyStore) UpsertSubscription(ctx context.Context, sub subscriptiondomain.Subscription) (subscriptiondomain.UpsertResult, error) {
	if f.failNext {
		f.failNext = false
		return subscriptiondomain.UpsertResult{}, errors.New("db unavailable")
	}
	return f.Service.UpsertSubscription(ctx, sub)
}

type fixture struct {
	db    *gorm.DB
	svc   paymentdomain.Service
	store *flakyStore
	clock *clock.FakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	db := testutil.NewDB(t)
	testutil.SeedUser(t, db, "u1", "u1@example.com", "")
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	clk := clock.NewFakeClock(t0)

	store := &flakyStore{Service: subscriptionservice.NewService(subscriptionservice.Params{
		DB:     db,
		Log:    zap.NewNop(),
		Clock:  clk,
		Repo:   subscriptionrepo.Provide(),
		Outbox: events.NewOutbox(events.OutboxParams{DB: db, GenID: node}),
	})}
	require.NoError(t, store.SetCustomerID(context.Background(), "u1", "cus_1"))

	cfg := config.Config{Stripe: config.StripeConfig{WebhookSecret: secret, WebhookTolerance: 5 * time.Minute}}
	svc := webhook.NewService(webhook.Params{
		DB:            db,
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         clk,
		Cfg:           cfg,
		Adapters:      adapters.NewRegistry(stripe.NewFactory()),
		Repo:          repository.Provide(),
		Subscriptions: store,
		Metrics:       metrics.NewNoop(),
	})
	return fixture{db: db, svc: svc, store: store, clock: clk}
}

func subscriptionEvent(id, eventType, status string, created time.Time, cancelAtPeriodEnd bool) []byte {
	payload, _ := json.Marshal(map[string]any{
		"id":      id,
		"type":    eventType,
		"created": created.Unix(),
		"data": map[string]any{"object": map[string]any{
			"id":                   "sub_1",
			"customer":             "cus_1",
			"status":               status,
			"cancel_at_period_end": cancelAtPeriodEnd,
			"current_period_end":   t0.Add(30 * 24 * time.Hour).Unix(),
		}},
	})
	return payload
}

func signed(payload []byte, at time.Time) http.Header {
	signedPayload := fmt.Sprintf("%d.%s", at.Unix(), string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	header := http.Header{}
	header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil))))
	return header
}

func (f fixture) deliver(t *testing.T, payload []byte) (*paymentdomain.IngestResult, error) {
	t.Helper()
	return f.svc.IngestWebhook(context.Background(), "stripe", payload, signed(payload, f.clock.Now()))
}

func (f fixture) stored(t *testing.T) *subscriptiondomain.Subscription {
	t.Helper()
	sub, err := f.store.GetSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	return sub
}

func countRows(t *testing.T, db *gorm.DB, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Table(table).Count(&n).Error)
	return n
}

func TestInvalidSignatureHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	payload := subscriptionEvent("evt_1", "customer.subscription.created", "active", t0, false)

	header := http.Header{}
	header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	_, err := f.svc.IngestWebhook(context.Background(), "stripe", payload, header)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	assert.Equal(t, int64(0), countRows(t, f.db, "webhook_events"))
	assert.Equal(t, int64(0), countRows(t, f.db, "subscriptions"))
}

func TestUnknownProvider(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.IngestWebhook(context.Background(), "paypal", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)
}

func TestSubscriptionEventAppliedOnce(t *testing.T) {
	f := newFixture(t)
	payload := subscriptionEvent("evt_1", "customer.subscription.updated", "past_due", t0, false)

	first, err := f.deliver(t, payload)
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.False(t, first.Duplicate)

	sub := f.stored(t)
	assert.Equal(t, subscriptiondomain.StatusPastDue, sub.Status)
	require.NotNil(t, sub.UserID)
	assert.Equal(t, "u1", *sub.UserID)

	second, err := f.deliver(t, payload)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.False(t, second.Applied)

	again := f.stored(t)
	assert.Equal(t, sub.Status, again.Status)
	assert.True(t, sub.CurrentPeriodEnd.Equal(*again.CurrentPeriodEnd))
	assert.Equal(t, sub.Revision, again.Revision)
	assert.Equal(t, int64(1), countRows(t, f.db, "webhook_events"))
}

func TestOutOfOrderDelivery(t *testing.T) {
	f := newFixture(t)

	_, err := f.deliver(t, subscriptionEvent("evt_new", "customer.subscription.updated", "past_due", t0.Add(time.Minute), false))
	require.NoError(t, err)

	stale, err := f.deliver(t, subscriptionEvent("evt_old", "customer.subscription.updated", "active", t0, false))
	require.NoError(t, err)
	assert.False(t, stale.Applied)
	assert.Equal(t, subscriptiondomain.StatusPastDue, f.stored(t).Status)

	fresh, err := f.deliver(t, subscriptionEvent("evt_newer", "customer.subscription.updated", "active", t0.Add(2*time.Minute), false))
	require.NoError(t, err)
	assert.True(t, fresh.Applied)
	assert.Equal(t, subscriptiondomain.StatusActive, f.stored(t).Status)
}

func TestCancelThenDelete(t *testing.T) {
	f := newFixture(t)

	_, err := f.deliver(t, subscriptionEvent("evt_1", "customer.subscription.created", "active", t0, false))
	require.NoError(t, err)

	_, err = f.deliver(t, subscriptionEvent("evt_2", "customer.subscription.updated", "active", t0.Add(time.Minute), true))
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusCanceling, f.stored(t).Status)

	_, err = f.deliver(t, subscriptionEvent("evt_3", "customer.subscription.deleted", "canceled", t0.Add(2*time.Minute), false))
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusCanceled, f.stored(t).Status)

	late, err := f.deliver(t, subscriptionEvent("evt_4", "customer.subscription.updated", "active", t0.Add(time.Hour), false))
	require.NoError(t, err)
	assert.False(t, late.Applied)
	assert.Equal(t, subscriptiondomain.StatusCanceled, f.stored(t).Status)
}

func TestUnknownEventIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	payload := []byte(`{"id":"evt_x","type":"charge.refunded","created":1748779200,"data":{"object":{"id":"ch_1"}}}`)

	result, err := f.deliver(t, payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.EventKindIgnored, result.Kind)
	assert.False(t, result.Applied)

	assert.Equal(t, int64(1), countRows(t, f.db, "webhook_events"))
	assert.Equal(t, int64(0), countRows(t, f.db, "subscriptions"))
}

func TestUnknownGatewayStatusIsNoop(t *testing.T) {
	f := newFixture(t)

	result, err := f.deliver(t, subscriptionEvent("evt_1", "customer.subscription.updated", "paused", t0, false))
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, int64(0), countRows(t, f.db, "subscriptions"))
}

func TestStoreFailureIsRetried(t *testing.T) {
	f := newFixture(t)
	payload := subscriptionEvent("evt_1", "customer.subscription.updated", "active", t0, false)

	f.store.failNext = true
	_, err := f.deliver(t, payload)
	require.Error(t, err)

	var processed int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM webhook_events WHERE processed_at IS NOT NULL`).Scan(&processed).Error)
	assert.Equal(t, int64(0), processed)

	result, err := f.deliver(t, payload)
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.False(t, result.Duplicate)
	assert.Equal(t, subscriptiondomain.StatusActive, f.stored(t).Status)
}

func TestConcurrentRedeliveriesApplyOnce(t *testing.T) {
	f := newFixture(t)
	payload := subscriptionEvent("evt_1", "customer.subscription.updated", "past_due", t0, false)
	header := signed(payload, f.clock.Now())

	const deliveries = 8
	results := make([]*paymentdomain.IngestResult, deliveries)
	errs := make([]error, deliveries)

	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.IngestWebhook(context.Background(), "stripe", payload, header.Clone())
		}(i)
	}
	wg.Wait()

	applied := 0
	for i := 0; i < deliveries; i++ {
		require.NoError(t, errs[i])
		if results[i].Applied {
			applied++
		}
	}
	assert.Equal(t, 1, applied)

	sub := f.stored(t)
	assert.Equal(t, subscriptiondomain.StatusPastDue, sub.Status)
	assert.Equal(t, int64(1), sub.Revision)
	assert.Equal(t, int64(1), countRows(t, f.db, "webhook_events"))

	var changes int64
	require.NoError(t, f.db.Raw(
		`SELECT COUNT(*) FROM social_events WHERE event_type = ? AND aggregate_id = ?`,
		events.EventSubscriptionStatusChanged, "sub_1",
	).Scan(&changes).Error)
	assert.Equal(t, int64(1), changes)
}

func TestIngestSpanCarriesDeliveryIdentifiers(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	f := newFixture(t)
	_, err := f.deliver(t, subscriptionEvent("evt_1", "customer.subscription.updated", "active", t0, false))
	require.NoError(t, err)

	var ingest sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		if span.Name() == "payment.webhook.ingest" {
			ingest = span
		}
	}
	require.NotNil(t, ingest)

	attrs := map[string]string{}
	for _, attr := range ingest.Attributes() {
		attrs[string(attr.Key)] = attr.Value.Emit()
	}
	assert.Equal(t, "stripe", attrs[string(tracing.KeyWebhookProvider)])
	assert.Equal(t, "evt_1", attrs[string(tracing.KeyWebhookEventID)])
	assert.Equal(t, "customer.subscription.updated", attrs[string(tracing.KeyWebhookType)])
	assert.Equal(t, "ok", attrs[string(tracing.KeyOutcome)])
}
