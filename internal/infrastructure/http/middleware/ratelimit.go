package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// rateKey picks the limiting key for a request: tenant first (the unit
// this platform meters), then principal, then caller IP for anonymous
// traffic.
func rateKey(c echo.Context) string {
	if tenantID, ok := c.Get(ContextTenantID).(string); ok && tenantID != "" {
		return "tenant:" + tenantID
	}
	if principalID, ok := c.Get(ContextPrincipalID).(string); ok && principalID != "" {
		return "principal:" + principalID
	}
	return "ip:" + c.RealIP()
}

func skipRateLimit(c echo.Context) bool {
	return c.Path() == "/health" || c.Path() == "/metrics"
}

// SimpleLimiter keeps one token bucket per key in process memory — the
// single-node deployment's limiter.
type SimpleLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewSimpleLimiter creates a limiter handing out r tokens/sec with burst b
// per key.
func NewSimpleLimiter(r rate.Limit, b int) *SimpleLimiter {
	return &SimpleLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    b,
	}
}

// GetLimiter returns the bucket for a key, creating it on first sight.
func (l *SimpleLimiter) GetLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	return limiter
}

// CleanupRoutine periodically drops all buckets so idle keys don't
// accumulate; active callers just refill on their next request.
func (l *SimpleLimiter) CleanupRoutine(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			l.limiters = make(map[string]*rate.Limiter)
			l.mu.Unlock()
		}
	}
}

// SimpleRateLimit limits each tenant/principal/IP in process memory.
func SimpleRateLimit(requestsPerSecond float64, burst int) echo.MiddlewareFunc {
	limiter := NewSimpleLimiter(rate.Limit(requestsPerSecond), burst)
	go limiter.CleanupRoutine(context.Background(), 10*time.Minute)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipRateLimit(c) {
				return next(c)
			}

			if !limiter.GetLimiter(rateKey(c)).Allow() {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "rate_limit_exceeded",
					"message": "Too many requests. Please slow down.",
				})
			}
			return next(c)
		}
	}
}

// RedisRateLimiter counts a sliding window in Redis, shared across server
// replicas.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedisRateLimiter creates a limiter allowing limit requests per window.
func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, limit: limit, window: window}
}

// Allow records the request and reports whether it fits in the window.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now().Unix()
	windowStart := now - int64(r.window.Seconds())

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: fmt.Sprintf("%d", now)})
	pipe.Expire(ctx, key, r.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return int(countCmd.Val()) < r.limit, nil
}

// PerTenantRateLimit limits tenants against a shared Redis window, with
// optional per-tenant overrides for customers on bigger plans. A Redis
// failure fails open — throttling is protection, not an availability
// dependency.
func PerTenantRateLimit(redisClient *redis.Client, defaultLimit int, window time.Duration, tenantLimits map[string]int) echo.MiddlewareFunc {
	limiters := map[int]*RedisRateLimiter{
		defaultLimit: NewRedisRateLimiter(redisClient, defaultLimit, window),
	}
	for _, limit := range tenantLimits {
		if _, ok := limiters[limit]; !ok {
			limiters[limit] = NewRedisRateLimiter(redisClient, limit, window)
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipRateLimit(c) {
				return next(c)
			}

			limit := defaultLimit
			if tenantID, ok := c.Get(ContextTenantID).(string); ok {
				if override, ok := tenantLimits[tenantID]; ok {
					limit = override
				}
			}

			key := "ratelimit:" + rateKey(c)
			allowed, err := limiters[limit].Allow(c.Request().Context(), key)
			if err != nil {
				return next(c)
			}
			if !allowed {
				c.Response().Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
				c.Response().Header().Set("X-RateLimit-Window", window.String())
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "rate_limit_exceeded",
					"message": fmt.Sprintf("Rate limit exceeded. Maximum %d requests per %s.", limit, window),
					"limit":   limit,
					"window":  window.String(),
				})
			}
			return next(c)
		}
	}
}
