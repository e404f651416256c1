package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/kinship/internal/auth/domain"
	billingdomain "github.com/smallbiznis/kinship/internal/billing/domain"
	followdomain "github.com/smallbiznis/kinship/internal/followgraph/domain"
	paymentdomain "github.com/smallbiznis/kinship/internal/payment/domain"
	"github.com/smallbiznis/kinship/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/kinship/internal/subscription/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInternal        = errors.New("internal_error")
	ErrNotFound        = errors.New("not_found")
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrPayloadTooLarge = errors.New("payload_too_large")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, followdomain.ErrInvalidEdge):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_edge",
			Message: "a user cannot follow themselves",
		}
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusBadRequest, errorPayload{
			Type:    "signature_invalid",
			Message: "webhook signature verification failed",
		}
	case isUnauthorizedError(err):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, followdomain.ErrNotFollowing):
		return http.StatusNotFound, errorPayload{
			Type:    "not_following",
			Message: "not following this user",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, errorPayload{
			Type:    "payload_too_large",
			Message: "request body exceeds the size limit",
		}
	case errors.Is(err, followdomain.ErrAlreadyFollowing):
		return http.StatusConflict, errorPayload{
			Type:    "already_following",
			Message: "already following this user",
		}
	case errors.Is(err, subscriptiondomain.ErrAlreadyLinked):
		return http.StatusConflict, errorPayload{
			Type:    "already_linked",
			Message: "payment customer already linked",
		}
	case errors.Is(err, billingdomain.ErrCustomerRequired):
		return http.StatusConflict, errorPayload{
			Type:    "customer_required",
			Message: "create a payment customer first",
		}
	case errors.Is(err, followdomain.ErrAlreadyExists),
		errors.Is(err, subscriptiondomain.ErrConcurrentUpdate):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, billingdomain.ErrGatewayTimeout):
		return http.StatusGatewayTimeout, errorPayload{
			Type:    "gateway_timeout",
			Message: "payment gateway timed out",
		}
	case errors.Is(err, billingdomain.ErrGatewayRejected):
		return http.StatusBadGateway, errorPayload{
			Type:    "gateway_rejected",
			Message: "payment gateway rejected the request",
		}
	case errors.Is(err, billingdomain.ErrPartialFailure):
		return http.StatusInternalServerError, errorPayload{
			Type:    "partial_failure",
			Message: "payment gateway succeeded but the local record was not saved",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds error_type/error_code into the access log.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent),
		errors.Is(err, paymentdomain.ErrInvalidProvider):
		return true
	case isFollowValidationError(err),
		isBillingValidationError(err),
		isSubscriptionValidationError(err):
		return true
	default:
		return false
	}
}

func isFollowValidationError(err error) bool {
	return errors.Is(err, followdomain.ErrMissingFollowingID) ||
		errors.Is(err, followdomain.ErrMissingUserID)
}

func isBillingValidationError(err error) bool {
	switch {
	case errors.Is(err, billingdomain.ErrMissingUserID),
		errors.Is(err, billingdomain.ErrMissingEmail),
		errors.Is(err, billingdomain.ErrMissingAmount),
		errors.Is(err, billingdomain.ErrMissingSubscriptionType),
		errors.Is(err, billingdomain.ErrMissingPriceID),
		errors.Is(err, billingdomain.ErrMissingPaymentMethodID),
		errors.Is(err, billingdomain.ErrMissingSubscriptionID),
		errors.Is(err, billingdomain.ErrInvalidAmount),
		errors.Is(err, billingdomain.ErrInvalidCurrency),
		errors.Is(err, billingdomain.ErrSubscriptionCanceled):
		return true
	default:
		return false
	}
}

func isSubscriptionValidationError(err error) bool {
	switch {
	case errors.Is(err, subscriptiondomain.ErrMissingUserID),
		errors.Is(err, subscriptiondomain.ErrMissingCustomerID),
		errors.Is(err, subscriptiondomain.ErrMissingSubscriptionID),
		errors.Is(err, subscriptiondomain.ErrInvalidStatus):
		return true
	default:
		return false
	}
}

func isUnauthorizedError(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, authdomain.ErrMissingToken) ||
		errors.Is(err, authdomain.ErrInvalidToken) ||
		errors.Is(err, authdomain.ErrExpiredToken)
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, followdomain.ErrNotFound),
		errors.Is(err, followdomain.ErrUserNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

var validationSentinels = []error{
	followdomain.ErrMissingFollowingID,
	followdomain.ErrMissingUserID,
	billingdomain.ErrMissingUserID,
	billingdomain.ErrMissingEmail,
	billingdomain.ErrMissingAmount,
	billingdomain.ErrMissingSubscriptionType,
	billingdomain.ErrMissingPriceID,
	billingdomain.ErrMissingPaymentMethodID,
	billingdomain.ErrMissingSubscriptionID,
	billingdomain.ErrInvalidAmount,
	billingdomain.ErrInvalidCurrency,
	billingdomain.ErrSubscriptionCanceled,
	subscriptiondomain.ErrMissingUserID,
	subscriptiondomain.ErrMissingCustomerID,
	subscriptiondomain.ErrMissingSubscriptionID,
	subscriptiondomain.ErrInvalidStatus,
	paymentdomain.ErrInvalidPayload,
	paymentdomain.ErrInvalidEvent,
	paymentdomain.ErrInvalidProvider,
}

func validationErrorField(code string) string {
	switch {
	case code == "invalid_request":
		return "request"
	case code == "subscription_canceled":
		return "subscription"
	case strings.HasPrefix(code, "missing_"):
		return strings.TrimPrefix(code, "missing_")
	case strings.HasPrefix(code, "invalid_"):
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch {
	case code == "invalid_request":
		return "invalid request"
	case code == "subscription_canceled":
		return "subscription is already canceled"
	case strings.HasPrefix(code, "missing_"):
		return "field is required"
	default:
		return "invalid value"
	}
}
