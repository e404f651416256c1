package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	providerStripe      = "stripe"
	maxWebhookBodyBytes = 1 << 20
)

// HandleStripeWebhook is the legacy single-provider endpoint.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	s.ingestWebhook(c, providerStripe)
}

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	s.ingestWebhook(c, strings.TrimSpace(c.Param("provider")))
}

func (s *Server) ingestWebhook(c *gin.Context, provider string) {
	// the signature covers the whole body, so an oversized one is refused, never truncated
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.log.Warn("webhook body over limit",
				zap.String("provider", provider),
				zap.Int64("limit_bytes", tooLarge.Limit),
			)
			AbortWithError(c, ErrPayloadTooLarge)
			return
		}
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.webhookSvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
