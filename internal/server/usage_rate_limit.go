package server

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/agentmarket/internal/callerctx"
	"github.com/smallbiznis/agentmarket/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/agentmarket/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/agentmarket/internal/usage/domain"
	"go.uber.org/zap"
)

const rateLimitReasonProviderRate = "provider-rate"

// UsageRecordRateLimit throttles usage reports per registered compute provider.
// Requests from unknown callers pass through so the service rejects them with
// its own error and never occupy a bucket.
func (s *Server) UsageRecordRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.usageLimiter == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		provider, ok := callerctx.CallerFromContext(ctx)
		if !ok {
			c.Next()
			return
		}
		registered, err := s.isRegisteredProvider(ctx, provider)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !registered {
			c.Next()
			return
		}
		c.Set("compute_provider", provider)
		endpoint := normalizeRateLimitEndpoint(c)

		result, err := s.usageLimiter.Allow(ctx, provider)
		if err != nil {
			logger.FromContext(ctx).Warn("usage record rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if result.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		}
		if !result.Allowed {
			logger.FromContext(ctx).Warn("usage record rate limit exceeded",
				zap.String("reason", rateLimitReasonProviderRate),
				zap.String("endpoint", endpoint),
			)
			recordRateLimitDenied(ctx, endpoint, rateLimitReasonProviderRate, s.obsMetrics)

			retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.Header("X-Rate-Limited-Reason", rateLimitReasonProviderRate)
			AbortWithError(c, ErrRateLimited)
			return
		}

		recordRateLimitAllowed(ctx, endpoint, s.obsMetrics)
		c.Next()
	}
}

func (s *Server) isRegisteredProvider(ctx context.Context, address string) (bool, error) {
	provider, err := s.usageSvc.GetComputeProvider(ctx, address)
	if errors.Is(err, usagedomain.ErrProviderNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return provider.Registered, nil
}

func recordRateLimitAllowed(ctx context.Context, endpoint string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitAllowed(ctx, endpoint)
}

func recordRateLimitDenied(ctx context.Context, endpoint, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, endpoint, reason)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
