package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Tokens are tracked in thousandths so the script can reply with integers.
const milliTokens = 1000

// KEYS[1] bucket hash; ARGV rate (tokens/s), burst, ttl (ms).
// Reply: {allowed, remaining milli-tokens}.
const usageBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2]) * 1000
local ttl = tonumber(ARGV[3])

local clock = redis.call("TIME")
local nowMs = clock[1] * 1000 + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "mtokens", "updated_ms")
local mtokens = tonumber(state[1]) or burst
local updated = tonumber(state[2]) or nowMs

local elapsed = math.max(0, nowMs - updated)
mtokens = math.min(burst, mtokens + math.floor(elapsed * rate))

local allowed = 0
if mtokens >= 1000 then
  mtokens = mtokens - 1000
  allowed = 1
end

redis.call("HSET", KEYS[1], "mtokens", mtokens, "updated_ms", nowMs)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, mtokens}
`

// TokenBucket is the usage-record bucket shared by every replica through
// redis. Refill is computed from redis server time so replica clocks do not
// matter.
type TokenBucket struct {
	client redis.Scripter
	script *redis.Script
}

func NewTokenBucket(client redis.Scripter) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(usageBucketScript),
	}
}

func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (Result, error) {
	if t == nil || t.client == nil {
		return Result{}, errors.New("rate limiter not configured")
	}
	if key == "" {
		return Result{}, errors.New("rate limiter key is empty")
	}
	if rate <= 0 || burst <= 0 {
		return Result{}, ErrInvalidLimit
	}

	reply, err := t.script.Run(ctx, t.client, []string{key},
		rate, burst, bucketTTL(rate, burst).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, err
	}
	if len(reply) != 2 {
		return Result{}, fmt.Errorf("rate limit script returned %d values", len(reply))
	}

	allowed := reply[0] == 1
	remaining := float64(reply[1]) / milliTokens
	return Result{
		Allowed:    allowed,
		Limit:      burst,
		Remaining:  int(remaining),
		RetryAfter: retryAfter(allowed, remaining, rate),
	}, nil
}

// retryAfter is the wait until one whole token is available again.
func retryAfter(allowed bool, remaining, rate float64) time.Duration {
	if allowed || rate <= 0 || remaining >= 1 {
		return 0
	}
	return time.Duration((1 - remaining) / rate * float64(time.Second))
}

// bucketTTL keeps an idle bucket for twice its full refill time.
func bucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	return time.Duration(math.Max(1, math.Ceil(2*float64(burst)/rate))) * time.Second
}
