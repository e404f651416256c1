// Package stripe talks to the Stripe REST API for customers, payment intents,
// subscriptions and saved cards.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/kinship/internal/billing/domain"
	"github.com/smallbiznis/kinship/internal/config"
	"github.com/smallbiznis/kinship/internal/observability/metrics"
	"github.com/smallbiznis/kinship/internal/observability/tracing"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	providerName    = "stripe"
	defaultAPIBase  = "https://api.stripe.com"
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 1 << 20
)

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

type Client struct {
	apiKey  string
	apiBase string
	timeout time.Duration
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewClient(p Params) domain.PaymentGateway {
	return newClient(p.Config.Stripe, p.Log, p.Metrics)
}

func newClient(cfg config.StripeConfig, log *zap.Logger, m *metrics.Metrics) *Client {
	apiBase := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		apiBase: apiBase,
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
		log:     log.Named("billing.gateway.stripe"),
		metrics: m,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        providerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: countsAsSuccess,
	})
	return c
}

type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// statusError is a non-2xx answer from Stripe.
type statusError struct {
	status  int
	code    string
	message string
}

func (e *statusError) Error() string {
	if e.code != "" {
		return fmt.Sprintf("stripe status %d: %s", e.status, e.code)
	}
	return fmt.Sprintf("stripe status %d", e.status)
}

// countsAsSuccess keeps client errors out of the breaker: only timeouts,
// transport failures and 5xx answers trip it.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.status < http.StatusInternalServerError
	}
	return false
}

type stripeCustomer struct {
	ID string `json:"id"`
}

func (c *Client) CreateCustomer(ctx context.Context, input domain.CreateCustomerInput) (*domain.Customer, error) {
	values := url.Values{}
	values.Set("email", strings.TrimSpace(input.Email))
	if name := strings.TrimSpace(input.Name); name != "" {
		values.Set("name", name)
	}
	values.Set("metadata[user_id]", input.UserID)

	var customer stripeCustomer
	if err := c.do(ctx, "create_customer", http.MethodPost, "/v1/customers", values, input.IdempotencyKey, &customer); err != nil {
		return nil, err
	}
	if customer.ID == "" {
		return nil, c.malformed(ctx, "create_customer")
	}
	return &domain.Customer{ID: customer.ID}, nil
}

type stripePaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

func (c *Client) CreatePaymentIntent(ctx context.Context, input domain.PaymentIntentInput) (*domain.PaymentIntent, error) {
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(input.Amount, 10))
	values.Set("currency", strings.ToLower(input.Currency))
	values.Set("automatic_payment_methods[enabled]", "true")
	values.Set("metadata[user_id]", input.UserID)
	values.Set("metadata[subscription_type]", input.SubscriptionType)
	if input.CustomerID != "" {
		values.Set("customer", input.CustomerID)
	}
	if input.Description != "" {
		values.Set("description", input.Description)
	}

	var intent stripePaymentIntent
	if err := c.do(ctx, "create_payment_intent", http.MethodPost, "/v1/payment_intents", values, "", &intent); err != nil {
		return nil, err
	}
	if intent.ID == "" || intent.ClientSecret == "" {
		return nil, c.malformed(ctx, "create_payment_intent")
	}
	return &domain.PaymentIntent{ID: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

func (c *Client) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	values := url.Values{}
	values.Set("customer", customerID)

	var method stripePaymentMethod
	path := "/v1/payment_methods/" + url.PathEscape(paymentMethodID) + "/attach"
	return c.do(ctx, "attach_payment_method", http.MethodPost, path, values, "", &method)
}

type stripeSubscription struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
	Created           int64  `json:"created"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	LatestInvoice *struct {
		PaymentIntent *struct {
			ClientSecret string `json:"client_secret"`
		} `json:"payment_intent"`
	} `json:"latest_invoice"`
}

func (s stripeSubscription) toDomain() *domain.GatewaySubscription {
	out := &domain.GatewaySubscription{
		ID:                s.ID,
		CustomerID:        s.Customer,
		Status:            s.Status,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
	if s.Created > 0 {
		out.Created = time.Unix(s.Created, 0).UTC()
	}
	periodEnd := s.CurrentPeriodEnd
	if len(s.Items.Data) > 0 {
		out.PriceID = s.Items.Data[0].Price.ID
		if periodEnd == 0 {
			periodEnd = s.Items.Data[0].CurrentPeriodEnd
		}
	}
	if periodEnd > 0 {
		end := time.Unix(periodEnd, 0).UTC()
		out.CurrentPeriodEnd = &end
	}
	if s.LatestInvoice != nil && s.LatestInvoice.PaymentIntent != nil {
		out.ClientSecret = s.LatestInvoice.PaymentIntent.ClientSecret
	}
	return out
}

func (c *Client) CreateSubscription(ctx context.Context, input domain.CreateSubscriptionInput) (*domain.GatewaySubscription, error) {
	values := url.Values{}
	values.Set("customer", input.CustomerID)
	values.Set("items[0][price]", input.PriceID)
	values.Set("default_payment_method", input.PaymentMethodID)
	values.Set("payment_behavior", "default_incomplete")
	values.Set("metadata[user_id]", input.UserID)
	values.Add("expand[]", "latest_invoice.payment_intent")

	var sub stripeSubscription
	if err := c.do(ctx, "create_subscription", http.MethodPost, "/v1/subscriptions", values, input.IdempotencyKey, &sub); err != nil {
		return nil, err
	}
	if sub.ID == "" || sub.Status == "" {
		return nil, c.malformed(ctx, "create_subscription")
	}
	return sub.toDomain(), nil
}

func (c *Client) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*domain.GatewaySubscription, error) {
	values := url.Values{}
	values.Set("cancel_at_period_end", "true")

	var sub stripeSubscription
	path := "/v1/subscriptions/" + url.PathEscape(subscriptionID)
	if err := c.do(ctx, "cancel_subscription", http.MethodPost, path, values, "", &sub); err != nil {
		return nil, err
	}
	if sub.ID == "" || sub.Status == "" {
		return nil, c.malformed(ctx, "cancel_subscription")
	}
	return sub.toDomain(), nil
}

type stripePaymentMethod struct {
	ID   string `json:"id"`
	Card *struct {
		Brand    string `json:"brand"`
		Last4    string `json:"last4"`
		ExpMonth int    `json:"exp_month"`
		ExpYear  int    `json:"exp_year"`
	} `json:"card"`
}

type stripePaymentMethodList struct {
	Data []stripePaymentMethod `json:"data"`
}

func (c *Client) ListPaymentMethods(ctx context.Context, customerID string) ([]domain.PaymentMethod, error) {
	values := url.Values{}
	values.Set("customer", customerID)
	values.Set("type", "card")

	var list stripePaymentMethodList
	if err := c.do(ctx, "list_payment_methods", http.MethodGet, "/v1/payment_methods", values, "", &list); err != nil {
		return nil, err
	}

	methods := make([]domain.PaymentMethod, 0, len(list.Data))
	for _, item := range list.Data {
		if item.ID == "" || item.Card == nil {
			continue
		}
		methods = append(methods, domain.PaymentMethod{
			ID:       item.ID,
			Brand:    item.Card.Brand,
			Last4:    item.Card.Last4,
			ExpMonth: item.Card.ExpMonth,
			ExpYear:  item.Card.ExpYear,
		})
	}
	return methods, nil
}

func (c *Client) do(
	ctx context.Context,
	operation string,
	method string,
	path string,
	values url.Values,
	idempotencyKey string,
	out any,
) (err error) {
	ctx, span := tracing.Start(ctx, "stripe."+operation, tracing.KeyGatewayOp.String(operation))
	defer func() { tracing.End(span, err) }()

	if c.apiKey == "" {
		c.metrics.RecordGatewayCall(ctx, providerName, operation, "rejected")
		return fmt.Errorf("%w: stripe api key not configured", domain.ErrGatewayRejected)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, values, idempotencyKey)
	})
	if err != nil {
		err = classify(err)
		c.metrics.RecordGatewayCall(ctx, providerName, operation, resultLabel(err))
		c.log.Warn("stripe request failed",
			zap.String("operation", operation),
			zap.String("path", path),
			zap.Error(err),
		)
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return c.malformed(ctx, operation)
	}
	c.metrics.RecordGatewayCall(ctx, providerName, operation, "success")
	return nil
}

func (c *Client) roundTrip(
	ctx context.Context,
	method string,
	path string,
	values url.Values,
	idempotencyKey string,
) ([]byte, error) {
	endpoint := c.apiBase + path
	var bodyReader io.Reader
	if method == http.MethodGet {
		if len(values) > 0 {
			endpoint += "?" + values.Encode()
		}
	} else {
		bodyReader = strings.NewReader(values.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		se := &statusError{status: resp.StatusCode}
		var stripeErr stripeErrorResponse
		if json.Unmarshal(body, &stripeErr) == nil {
			se.code = strings.TrimSpace(stripeErr.Error.Code)
			se.message = strings.TrimSpace(stripeErr.Error.Message)
		}
		return nil, se
	}
	return body, nil
}

func (c *Client) malformed(ctx context.Context, operation string) error {
	c.log.Warn("stripe response malformed", zap.String("operation", operation))
	c.metrics.RecordGatewayCall(ctx, providerName, operation, "rejected")
	return fmt.Errorf("%w: malformed stripe response", domain.ErrGatewayRejected)
}

func classify(err error) error {
	var se *statusError
	var netErr net.Error
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %v", domain.ErrGatewayRejected, err)
	case errors.As(err, &se):
		return fmt.Errorf("%w: %v", domain.ErrGatewayRejected, se)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrGatewayTimeout, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %v", domain.ErrGatewayTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", domain.ErrGatewayRejected, err)
	}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrGatewayTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrGatewayRejected):
		return "rejected"
	default:
		return "error"
	}
}
