package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/kinship/internal/billing/domain"
)

const headerIdempotencyKey = "Idempotency-Key"

func (s *Server) CreateCustomer(c *gin.Context) {
	var req billingdomain.CreateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.UserID = principalID(c)

	resp, err := s.billingSvc.CreateCustomer(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) CreatePaymentIntent(c *gin.Context) {
	var req billingdomain.PaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.UserID = principalID(c)

	resp, err := s.billingSvc.CreatePaymentIntent(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req billingdomain.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.UserID = principalID(c)
	req.IdempotencyKey = strings.TrimSpace(c.GetHeader(headerIdempotencyKey))

	resp, err := s.billingSvc.CreateSubscription(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	resp, err := s.billingSvc.CancelSubscription(c.Request.Context(), principalID(c), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListPaymentMethods(c *gin.Context) {
	methods, err := s.billingSvc.ListPaymentMethods(c.Request.Context(), principalID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if methods == nil {
		methods = []billingdomain.PaymentMethod{}
	}

	c.JSON(http.StatusOK, gin.H{"data": methods})
}
