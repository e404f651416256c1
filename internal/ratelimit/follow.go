package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/kinship/internal/config"
	"github.com/smallbiznis/kinship/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyFollowActor = "follow:actor:%s"

var ErrRateLimited = errors.New("rate_limited")

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Redis   *redis.Client    `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
}

// FollowLimiter caps graph mutations per principal. Without redis it allows everything.
type FollowLimiter struct {
	bucket  *Bucket
	rate    float64
	burst   int
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewFollowLimiter(p Params) *FollowLimiter {
	limiter := &FollowLimiter{
		rate:    p.Config.Follow.RatePerSecond,
		burst:   p.Config.Follow.Burst,
		log:     p.Log.Named("ratelimit.follow"),
		metrics: p.Metrics,
	}
	if p.Redis != nil && limiter.rate > 0 && limiter.burst > 0 {
		limiter.bucket = NewBucket(p.Redis)
	}
	return limiter
}

func (l *FollowLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow takes a token for actorID. Redis failures fail open and are logged.
func (l *FollowLimiter) Allow(ctx context.Context, endpoint, actorID string) (*Decision, error) {
	if !l.Enabled() {
		return &Decision{Allowed: true}, nil
	}

	key := fmt.Sprintf(keyFollowActor, strings.TrimSpace(actorID))
	result, err := l.bucket.Take(ctx, key, l.rate, l.burst)
	if err != nil {
		l.log.Warn("rate limiter unavailable, allowing request", zap.String("endpoint", endpoint), zap.Error(err))
		l.metrics.RecordRateLimitDenied(ctx, endpoint, "backend_error")
		return &Decision{Allowed: true}, nil
	}
	if !result.Allowed {
		l.metrics.RecordRateLimitDenied(ctx, endpoint, "actor_limit")
		return result, ErrRateLimited
	}
	l.metrics.RecordRateLimitAllowed(ctx, endpoint)
	return result, nil
}
