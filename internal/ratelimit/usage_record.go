package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/agentmarket/internal/callerctx"
	"github.com/smallbiznis/agentmarket/internal/clock"
	"github.com/smallbiznis/agentmarket/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyUsageRecordProvider = "usage:record:provider:%s"

var ErrInvalidLimit = errors.New("rate limit rate and burst must be positive")

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// UsageRecordLimiter throttles usage reports per compute provider. Limits
// come from the market policy on every call so reloads apply immediately.
type UsageRecordLimiter struct {
	log    *zap.Logger
	clock  clock.Clock
	policy *config.PolicyHolder
	bucket *TokenBucket
	local  *LocalLimiter
}

type Params struct {
	fx.In

	Lc     fx.Lifecycle
	Cfg    config.Config
	Log    *zap.Logger
	Clock  clock.Clock
	Policy *config.PolicyHolder
}

func NewUsageRecordLimiter(p Params) *UsageRecordLimiter {
	limiter := &UsageRecordLimiter{
		log:    p.Log.Named("ratelimit"),
		clock:  p.Clock,
		policy: p.Policy,
		local:  NewLocalLimiter(),
	}

	addr := strings.TrimSpace(p.Cfg.RedisAddr)
	if addr == "" {
		limiter.log.Info("usage record rate limit uses in-process buckets")
		return limiter
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(p.Cfg.RedisPassword),
		DB:       p.Cfg.RedisDB,
	})
	limiter.bucket = NewTokenBucket(client)
	if p.Lc != nil {
		p.Lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
	}
	return limiter
}

// Allow takes one token for provider. A zero capacity or refill rate
// disables the limit. A redis failure falls back to the
// in-process bucket rather than rejecting the report.
func (l *UsageRecordLimiter) Allow(ctx context.Context, provider string) (Result, error) {
	limit := l.policy.Get().UsageRateLimit
	if limit.Capacity == 0 || limit.RefillPerSec == 0 {
		return Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyUsageRecordProvider, callerctx.Normalize(provider))
	burst := int(limit.Capacity)

	if l.bucket != nil {
		result, err := l.bucket.Allow(ctx, key, limit.RefillPerSec, burst)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrInvalidLimit) {
			return Result{}, err
		}
		l.log.Warn("redis rate limit unavailable, using local bucket", zap.Error(err))
	}
	return l.local.Allow(key, limit.RefillPerSec, burst, l.clock.Now())
}
