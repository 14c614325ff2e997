package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/staffchat/internal/metrics"
)

// RateLimiter implements sliding window rate limiting in Redis, keyed by
// the authenticated user.
type RateLimiter struct {
	client *redis.Client
	logger zerolog.Logger
	now    func() time.Time
}

// NewRateLimiter creates a new rate limiter. A nil client disables limiting.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger) *RateLimiter {
	if client == nil {
		return nil
	}
	return &RateLimiter{client: client, logger: logger, now: time.Now}
}

// userKey returns the rate limit key for the request's user, or its IP
// when unauthenticated.
func userKey(r *http.Request, name string) string {
	if user := GetUserFromContext(r.Context()); user != nil {
		return "ratelimit:" + name + ":user:" + user.ID
	}
	return "ratelimit:" + name + ":ip:" + RealIP(r)
}

// RealIP extracts the real client IP from headers or connection.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// CheckAndIncrement records a request against key.
// Returns (allowed, remaining, resetAt). Redis errors allow the request.
func (rl *RateLimiter) CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Time) {
	start := rl.now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()

	now := start
	windowStart := now.Add(-window)

	pipe := rl.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", windowStart.UnixMilli()))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.Warn().Err(err).Str("key", key).Msg("rate limit check failed")
		return true, limit, now.Add(window)
	}

	count := countCmd.Val()
	remaining := limit - int(count) - 1
	if remaining < 0 {
		remaining = 0
	}
	return count < int64(limit), remaining, now.Add(window)
}

// Limit returns middleware allowing requests per window for each user.
// name groups routes that share a budget. A nil limiter passes through.
func (rl *RateLimiter) Limit(name string, requests int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := userKey(r, name)
			allowed, remaining, resetAt := rl.CheckAndIncrement(r.Context(), key, requests, window)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !allowed {
				metrics.RateLimitHits.WithLabelValues(name).Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				rl.logger.Warn().
					Str("type", "security").
					Str("event", "rate_limit_exceeded").
					Str("endpoint", r.URL.Path).
					Str("key", key).
					Msg("rate limit exceeded")
				jsonError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
