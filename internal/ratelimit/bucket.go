package ratelimit

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var (
	ErrBucketUnavailable = errors.New("rate_limit_backend_unavailable")
	ErrInvalidBucket     = errors.New("invalid_rate_limit_bucket")
)

// takeScript refills KEYS[1] from redis TIME, takes one token and replies with
// {allowed, whole tokens left, milliseconds until the next token}. Idle
// buckets expire once they would have refilled twice over.
const takeScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])

local clock = redis.call("TIME")
local now = tonumber(clock[1]) * 1000 + math.floor(tonumber(clock[2]) / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now
tokens = math.min(burst, tokens + math.max(0, now - last) * rate / 1000)

local allowed = 0
local wait = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  wait = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], math.ceil(burst * 2000 / rate))
return {allowed, math.floor(tokens), wait}
`

// Bucket is a token bucket shared by every replica through redis.
type Bucket struct {
	client *redis.Client
	script *redis.Script
}

// Decision is the outcome of one Take.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

func NewBucket(client *redis.Client) *Bucket {
	if client == nil {
		return nil
	}
	return &Bucket{client: client, script: redis.NewScript(takeScript)}
}

// Take spends one token from key, refilled at rate tokens per second up to burst.
func (b *Bucket) Take(ctx context.Context, key string, rate float64, burst int) (*Decision, error) {
	if b == nil || b.client == nil {
		return nil, ErrBucketUnavailable
	}
	if key == "" || rate <= 0 || burst <= 0 {
		return nil, ErrInvalidBucket
	}

	reply, err := b.script.Run(ctx, b.client, []string{key}, rate, burst).Int64Slice()
	if err != nil {
		return nil, err
	}
	if len(reply) != 3 {
		return nil, ErrInvalidBucket
	}

	return &Decision{
		Allowed:    reply[0] == 1,
		Limit:      burst,
		Remaining:  int(reply[1]),
		RetryAfter: time.Duration(reply[2]) * time.Millisecond,
	}, nil
}
