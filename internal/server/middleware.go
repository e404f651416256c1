package server

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/kinship/internal/observability/context"
	"github.com/smallbiznis/kinship/internal/ratelimit"
	"go.uber.org/zap"
)

const contextUserIDKey = "user_id"

// AuthRequired resolves the bearer token into the request principal.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		principal, err := s.verifier.Verify(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextUserIDKey, principal.UserID)
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), principal.UserID))
		c.Next()
	}
}

// FollowRateLimit throttles graph mutations per principal. Must run after AuthRequired.
func (s *Server) FollowRateLimit(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.followLimiter.Enabled() {
			c.Next()
			return
		}

		result, err := s.followLimiter.Allow(c.Request.Context(), endpoint, principalID(c))
		if result != nil && result.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(max(result.Remaining, 0)))
		}
		if err != nil {
			if errors.Is(err, ratelimit.ErrRateLimited) && result != nil && result.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
			}
			s.log.Debug("follow rate limited", zap.String("endpoint", endpoint), zap.String("user_id", principalID(c)))
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func principalID(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(contextUserIDKey))
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
