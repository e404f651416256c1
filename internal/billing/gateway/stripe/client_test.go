package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/kinship/internal/billing/domain"
	"github.com/smallbiznis/kinship/internal/config"
	"github.com/smallbiznis/kinship/internal/observability/metrics"
	"github.com/smallbiznis/kinship/internal/observability/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return newClient(config.StripeConfig{
		APIKey:  "sk_test_123",
		APIBase: server.URL + "/",
		Timeout: timeout,
	}, zap.NewNop(), metrics.NewNoop())
}

func TestCreateCustomerSendsIdempotencyKey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/customers", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		assert.Equal(t, "customer:u1", r.Header.Get("Idempotency-Key"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "u1@example.com", r.PostForm.Get("email"))
		assert.Equal(t, "u1", r.PostForm.Get("metadata[user_id]"))
		_, _ = w.Write([]byte(`{"id":"cus_123"}`))
	}, time.Second)

	customer, err := client.CreateCustomer(context.Background(), domain.CreateCustomerInput{
		UserID:         "u1",
		Email:          "u1@example.com",
		IdempotencyKey: "customer:u1",
	})
	require.NoError(t, err)
	assert.Equal(t, "cus_123", customer.ID)
}

func TestCreateSubscriptionParsesResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "cus_1", r.PostForm.Get("customer"))
		assert.Equal(t, "price_basic", r.PostForm.Get("items[0][price]"))
		assert.Equal(t, "pm_1", r.PostForm.Get("default_payment_method"))
		assert.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))
		_, _ = w.Write([]byte(`{
			"id": "sub_1",
			"customer": "cus_1",
			"status": "incomplete",
			"created": 1748779200,
			"cancel_at_period_end": false,
			"items": {"data": [{"current_period_end": 1751371200, "price": {"id": "price_basic"}}]},
			"latest_invoice": {"payment_intent": {"client_secret": "pi_secret"}}
		}`))
	}, time.Second)

	sub, err := client.CreateSubscription(context.Background(), domain.CreateSubscriptionInput{
		UserID:          "u1",
		CustomerID:      "cus_1",
		PriceID:         "price_basic",
		PaymentMethodID: "pm_1",
		IdempotencyKey:  "key-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "sub_1", sub.ID)
	assert.Equal(t, "incomplete", sub.Status)
	assert.Equal(t, "price_basic", sub.PriceID)
	assert.Equal(t, "pi_secret", sub.ClientSecret)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, time.Unix(1751371200, 0).UTC(), *sub.CurrentPeriodEnd)
	assert.Equal(t, time.Unix(1748779200, 0).UTC(), sub.Created)
}

func TestListPaymentMethodsSkipsNonCards(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "cus_1", r.URL.Query().Get("customer"))
		assert.Equal(t, "card", r.URL.Query().Get("type"))
		_, _ = w.Write([]byte(`{"data":[
			{"id":"pm_1","card":{"brand":"visa","last4":"4242","exp_month":12,"exp_year":2030}},
			{"id":"pm_2"}
		]}`))
	}, time.Second)

	methods, err := client.ListPaymentMethods(context.Background(), "cus_1")
	require.NoError(t, err)
	require.Len(t, methods, 1)
	assert.Equal(t, domain.PaymentMethod{ID: "pm_1", Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030}, methods[0])
}

func TestClientErrorIsRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`))
	}, time.Second)

	_, err := client.CreatePaymentIntent(context.Background(), domain.PaymentIntentInput{Amount: 999, Currency: "usd"})
	assert.ErrorIs(t, err, domain.ErrGatewayRejected)
	assert.NotErrorIs(t, err, domain.ErrGatewayTimeout)
}

func TestSlowGatewayIsTimeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, 50*time.Millisecond)

	_, err := client.ListPaymentMethods(context.Background(), "cus_1")
	assert.ErrorIs(t, err, domain.ErrGatewayTimeout)
}

func TestMalformedResponseIsRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}, time.Second)

	_, err := client.CreateCustomer(context.Background(), domain.CreateCustomerInput{UserID: "u1", Email: "a@b.c"})
	assert.ErrorIs(t, err, domain.ErrGatewayRejected)
}

func TestMissingAPIKeyIsRejected(t *testing.T) {
	client := newClient(config.StripeConfig{}, zap.NewNop(), nil)

	_, err := client.ListPaymentMethods(context.Background(), "cus_1")
	assert.ErrorIs(t, err, domain.ErrGatewayRejected)
}

func TestBreakerOpensOnServerErrorsOnly(t *testing.T) {
	var calls atomic.Int32
	status := atomic.Int32{}
	status.Store(http.StatusBadRequest)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
	}, time.Second)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := client.ListPaymentMethods(ctx, "cus_1")
		assert.ErrorIs(t, err, domain.ErrGatewayRejected)
	}
	assert.Equal(t, int32(8), calls.Load())

	status.Store(http.StatusServiceUnavailable)
	for i := 0; i < 5; i++ {
		_, _ = client.ListPaymentMethods(ctx, "cus_1")
	}
	assert.Equal(t, int32(13), calls.Load())

	_, err := client.ListPaymentMethods(ctx, "cus_1")
	assert.ErrorIs(t, err, domain.ErrGatewayRejected)
	assert.Equal(t, int32(13), calls.Load())
}

func TestGatewayCallsAreTracedPerOperation(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"code":"card_declined"}}`))
	}, time.Second)

	_, err := client.CreatePaymentIntent(context.Background(), domain.PaymentIntentInput{Amount: 999, Currency: "usd"})
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "stripe.create_payment_intent", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	var operation string
	for _, attr := range spans[0].Attributes() {
		if attr.Key == tracing.KeyGatewayOp {
			operation = attr.Value.AsString()
		}
	}
	assert.Equal(t, "create_payment_intent", operation)
}
