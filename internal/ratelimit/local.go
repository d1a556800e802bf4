package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const maxLocalLimiters = 10000

// LocalLimiter keeps one x/time/rate limiter per key in process memory. It
// serves single-replica deployments that run without redis. Past the size
// bound the least recently used key is evicted, never the whole set.
type LocalLimiter struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
}

func NewLocalLimiter() *LocalLimiter {
	return newLocalLimiter(maxLocalLimiters)
}

func newLocalLimiter(size int) *LocalLimiter {
	cache, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		panic(err)
	}
	return &LocalLimiter{limiters: cache}
}

func (l *LocalLimiter) Allow(key string, perSecond float64, burst int, now time.Time) (Result, error) {
	if perSecond <= 0 || burst <= 0 {
		return Result{}, ErrInvalidLimit
	}

	limiter := l.limiter(key, rate.Limit(perSecond), burst)
	allowed := limiter.AllowN(now, 1)
	remaining := limiter.TokensAt(now)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:    allowed,
		Limit:      burst,
		Remaining:  int(remaining),
		RetryAfter: retryAfter(allowed, remaining, perSecond),
	}, nil
}

func (l *LocalLimiter) limiter(key string, limit rate.Limit, burst int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(limit, burst)
		l.limiters.Add(key, limiter)
		return limiter
	}
	// policy may have been reloaded since the limiter was created
	if limiter.Limit() != limit {
		limiter.SetLimit(limit)
	}
	if limiter.Burst() != burst {
		limiter.SetBurst(burst)
	}
	return limiter
}
