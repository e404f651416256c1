package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/kinship/internal/billing/domain"
	"github.com/smallbiznis/kinship/internal/clock"
	"github.com/smallbiznis/kinship/internal/config"
	subscriptiondomain "github.com/smallbiznis/kinship/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// zeroDecimalCurrencies are charged in whole units by the gateway.
var zeroDecimalCurrencies = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {}, "krw": {}, "mga": {},
	"pyg": {}, "rwf": {}, "ugx": {}, "vnd": {}, "vuv": {}, "xaf": {}, "xof": {}, "xpf": {},
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	Gateway domain.PaymentGateway
	Store   subscriptiondomain.Service
	Catalog *config.BillingCatalogHolder
}

type Service struct {
	log     *zap.Logger
	clock   clock.Clock
	gateway domain.PaymentGateway
	store   subscriptiondomain.Service
	catalog *config.BillingCatalogHolder
	methods *paymentMethodsCache
}

func NewService(p Params) domain.Service {
	return &Service{
		log:     p.Log.Named("billing.orchestrator"),
		clock:   p.Clock,
		gateway: p.Gateway,
		store:   p.Store,
		catalog: p.Catalog,
		methods: newPaymentMethodsCache(paymentMethodsTTL, p.Clock),
	}
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CreateCustomerRequest) (*domain.CustomerResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	email := strings.TrimSpace(req.Email)
	switch {
	case userID == "":
		return nil, domain.ErrMissingUserID
	case email == "":
		return nil, domain.ErrMissingEmail
	}

	account, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account.HasCustomer() {
		return nil, subscriptiondomain.ErrAlreadyLinked
	}

	customer, err := s.gateway.CreateCustomer(ctx, domain.CreateCustomerInput{
		UserID:         userID,
		Email:          email,
		Name:           strings.TrimSpace(req.Name),
		IdempotencyKey: "customer:" + userID,
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.SetCustomerID(ctx, userID, customer.ID); err != nil {
		if errors.Is(err, subscriptiondomain.ErrAlreadyLinked) {
			return nil, err
		}
		s.log.Error("customer created at gateway but not linked",
			zap.String("operation", "create_customer"),
			zap.String("user_id", userID),
			zap.String("customer_id", customer.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: link customer %s", domain.ErrPartialFailure, customer.ID)
	}

	return &domain.CustomerResponse{CustomerID: customer.ID}, nil
}

func (s *Service) CreatePaymentIntent(ctx context.Context, req domain.PaymentIntentRequest) (*domain.PaymentIntentResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	subscriptionType := strings.TrimSpace(req.SubscriptionType)
	switch {
	case userID == "":
		return nil, domain.ErrMissingUserID
	case req.Amount == nil:
		return nil, domain.ErrMissingAmount
	case subscriptionType == "":
		return nil, domain.ErrMissingSubscriptionType
	}

	catalog := s.catalogSnapshot()
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = catalog.DefaultCurrency
	}
	if len(currency) != 3 {
		return nil, domain.ErrInvalidCurrency
	}

	amount, err := toMinorUnits(*req.Amount, currency)
	if err != nil {
		return nil, err
	}

	input := domain.PaymentIntentInput{
		UserID:           userID,
		Amount:           amount,
		Currency:         currency,
		SubscriptionType: subscriptionType,
	}
	if description, ok := catalog.Describe(subscriptionType); ok {
		input.Description = description
	}
	// an intent without a customer is still chargeable, so a store failure only drops the link
	account, err := s.store.GetAccount(ctx, userID)
	switch {
	case err != nil:
		s.log.Warn("account lookup failed, creating intent without customer",
			zap.String("operation", "create_payment_intent"),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	case account.HasCustomer():
		input.CustomerID = *account.PaymentCustomerID
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, input)
	if err != nil {
		return nil, err
	}
	return &domain.PaymentIntentResponse{PaymentIntentID: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

func (s *Service) CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.SubscriptionResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	priceID := strings.TrimSpace(req.PriceID)
	paymentMethodID := strings.TrimSpace(req.PaymentMethodID)
	switch {
	case userID == "":
		return nil, domain.ErrMissingUserID
	case priceID == "":
		return nil, domain.ErrMissingPriceID
	case paymentMethodID == "":
		return nil, domain.ErrMissingPaymentMethodID
	}

	customerID, err := s.customerOf(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.gateway.AttachPaymentMethod(ctx, paymentMethodID, customerID); err != nil {
		return nil, err
	}
	s.methods.Invalidate(customerID)

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = ulid.Make().String()
	}
	created, err := s.gateway.CreateSubscription(ctx, domain.CreateSubscriptionInput{
		UserID:          userID,
		CustomerID:      customerID,
		PriceID:         priceID,
		PaymentMethodID: paymentMethodID,
		IdempotencyKey:  key,
	})
	if err != nil {
		return nil, err
	}

	status, ok := subscriptiondomain.FromGatewayStatus(created.Status, created.CancelAtPeriodEnd)
	if !ok {
		s.log.Warn("unknown gateway subscription status, storing as incomplete",
			zap.String("subscription_id", created.ID),
			zap.String("gateway_status", created.Status),
		)
		status = subscriptiondomain.StatusIncomplete
	}

	eventAt := created.Created
	if eventAt.IsZero() {
		eventAt = s.clock.Now()
	}
	storedPrice := priceID
	if created.PriceID != "" {
		storedPrice = created.PriceID
	}

	result, err := s.store.UpsertSubscription(ctx, subscriptiondomain.Subscription{
		ID:                created.ID,
		UserID:            &userID,
		CustomerID:        customerID,
		PriceID:           &storedPrice,
		Status:            status,
		CurrentPeriodEnd:  created.CurrentPeriodEnd,
		CancelAtPeriodEnd: created.CancelAtPeriodEnd,
		EventAt:           eventAt,
	})
	if err != nil {
		s.log.Error("subscription created at gateway but not stored",
			zap.String("operation", "create_subscription"),
			zap.String("user_id", userID),
			zap.String("customer_id", customerID),
			zap.String("subscription_id", created.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: store subscription %s", domain.ErrPartialFailure, created.ID)
	}

	resp := toResponse(result.Subscription)
	resp.ClientSecret = created.ClientSecret
	return resp, nil
}

func (s *Service) CancelSubscription(ctx context.Context, userID, subscriptionID string) (*domain.SubscriptionResponse, error) {
	userID = strings.TrimSpace(userID)
	subscriptionID = strings.TrimSpace(subscriptionID)
	switch {
	case userID == "":
		return nil, domain.ErrMissingUserID
	case subscriptionID == "":
		return nil, domain.ErrMissingSubscriptionID
	}

	current, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		if !errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			s.log.Error("failed to load subscription for cancel",
				zap.String("operation", "cancel_subscription"),
				zap.String("user_id", userID),
				zap.String("subscription_id", subscriptionID),
				zap.Error(err),
			)
		}
		return nil, err
	}
	// another user's subscription is reported as missing
	if current.UserID == nil || *current.UserID != userID {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	switch current.Status {
	case subscriptiondomain.StatusCanceled:
		return nil, domain.ErrSubscriptionCanceled
	case subscriptiondomain.StatusCanceling:
		return toResponse(*current), nil
	}

	updated, err := s.gateway.CancelAtPeriodEnd(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	status, ok := subscriptiondomain.FromGatewayStatus(updated.Status, true)
	if !ok || status != subscriptiondomain.StatusCanceled {
		status = subscriptiondomain.StatusCanceling
	}

	result, err := s.store.UpsertSubscription(ctx, subscriptiondomain.Subscription{
		ID:                subscriptionID,
		CustomerID:        current.CustomerID,
		Status:            status,
		CurrentPeriodEnd:  updated.CurrentPeriodEnd,
		CancelAtPeriodEnd: true,
		EventAt:           s.clock.Now(),
	})
	if err != nil {
		s.log.Error("subscription canceled at gateway but not stored",
			zap.String("operation", "cancel_subscription"),
			zap.String("user_id", userID),
			zap.String("subscription_id", subscriptionID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: store cancellation %s", domain.ErrPartialFailure, subscriptionID)
	}
	return toResponse(result.Subscription), nil
}

func (s *Service) ListPaymentMethods(ctx context.Context, userID string) ([]domain.PaymentMethod, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrMissingUserID
	}

	customerID, err := s.customerOf(ctx, userID)
	if err != nil {
		return nil, err
	}

	if cached, ok := s.methods.Get(customerID); ok {
		return cached, nil
	}
	methods, err := s.gateway.ListPaymentMethods(ctx, customerID)
	if err != nil {
		return nil, err
	}
	s.methods.Set(customerID, methods)
	return methods, nil
}

func (s *Service) customerOf(ctx context.Context, userID string) (string, error) {
	account, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return "", err
	}
	if !account.HasCustomer() {
		return "", domain.ErrCustomerRequired
	}
	return *account.PaymentCustomerID, nil
}

func (s *Service) catalogSnapshot() config.BillingCatalog {
	if s.catalog == nil {
		return config.DefaultBillingCatalog()
	}
	return s.catalog.Get()
}

// toMinorUnits converts a major-unit amount into what the gateway charges.
func toMinorUnits(amount float64, currency string) (int64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	multiplier := 100.0
	if _, ok := zeroDecimalCurrencies[currency]; ok {
		multiplier = 1
	}
	minor := math.Round(amount * multiplier)
	if minor < 1 || minor > math.MaxInt64/2 {
		return 0, domain.ErrInvalidAmount
	}
	return int64(minor), nil
}

func toResponse(sub subscriptiondomain.Subscription) *domain.SubscriptionResponse {
	return &domain.SubscriptionResponse{
		ID:                sub.ID,
		Status:            string(sub.Status),
		PriceID:           sub.PriceID,
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
}
